// Package pvh builds the flat GDT a guest needs at kernel-entry time: one
// null descriptor plus flat code/data/TSS descriptors, matching the
// layout the Linux/PVH and xtoskrnl boot protocols both expect (spec.md
// §4.7, "an initial GDT with a fixed number of entries").
//
// The pack's retrieved tree carried this package's test
// (pvh_test.go) but not its source; the encode/decode below is
// reconstructed from the test's exact expected bit patterns, which are
// themselves the standard x86 segment-descriptor encoding used by
// rust-vmm/linux-loader and kvmtool for the same purpose.
package pvh

import "github.com/xtboot/xtkernel/kvm"

// GdtEntry packs a segment descriptor's access/flags byte, base and limit
// into the 8-byte GDT entry format.
func GdtEntry(flag uint16, base, limit uint32) uint64 {
	return (uint64(base) & 0xff000000 << (56 - 24)) |
		((uint64(flag) & 0x0000f0ff) << 40) |
		((uint64(limit) & 0x000f0000) << (48 - 16)) |
		((uint64(base) & 0x00ffffff) << 16) |
		(uint64(limit) & 0x0000ffff)
}

func gdtEntryBase(entry uint64) uint64 {
	return ((entry & 0xff00000000000000) >> 32) |
		((entry & 0x000000ff00000000) >> 16) |
		((entry & 0xffff0000) >> 16)
}

func gdtEntryLimit(entry uint64) uint32 {
	raw := uint32((entry&0x000f000000000000)>>32) | uint32(entry&0xffff)
	if gdtEntryG(entry) {
		return (raw << 12) | 0xfff
	}

	return raw
}

func gdtEntryG(entry uint64) bool      { return entry&0x0080000000000000 != 0 }
func gdtEntryDB(entry uint64) bool     { return entry&0x0040000000000000 != 0 }
func gdtEntryL(entry uint64) bool      { return entry&0x0020000000000000 != 0 }
func gdtEntryAVL(entry uint64) bool    { return entry&0x0010000000000000 != 0 }
func gdtEntryPresent(entry uint64) bool { return entry&0x0000800000000000 != 0 }
func gdtEntryDPL(entry uint64) uint8   { return uint8((entry >> 45) & 0x3) }
func gdtEntryS(entry uint64) bool      { return entry&0x0000100000000000 != 0 }
func gdtEntryType(entry uint64) uint8  { return uint8((entry >> 40) & 0xf) }

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

// SegmentFromGDT decodes a kvm.Segment (the shape KVM_SET_SREGS wants) from
// a raw GDT entry and its table index, which determines the selector.
func SegmentFromGDT(entry uint64, tableIndex uint8) kvm.Segment {
	present := gdtEntryPresent(entry)

	return kvm.Segment{
		Base:     gdtEntryBase(entry),
		Limit:    gdtEntryLimit(entry),
		Selector: uint16(tableIndex) * 8, //nolint:mnd
		Typ:      gdtEntryType(entry),
		Present:  boolToU8(present),
		DPL:      gdtEntryDPL(entry),
		DB:       boolToU8(gdtEntryDB(entry)),
		S:        boolToU8(gdtEntryS(entry)),
		L:        boolToU8(gdtEntryL(entry)),
		G:        boolToU8(gdtEntryG(entry)),
		AVL:      boolToU8(gdtEntryAVL(entry)),
		Unusable: boolToU8(!present),
	}
}

// GDT table indices for the flat boot-time layout CreateGDT builds.
const (
	NullSegment = 0
	CodeSegment = 1
	DataSegment = 2
	TSSSegment  = 3
)

// Flags for the four entries CreateGDT installs, matching the standard
// "flat, 4K-granular, long mode or protected mode" boot GDT.
const (
	flagCode64 = 0xa09b // present, DPL0, code, long-mode, granularity
	flagData   = 0xc093 // present, DPL0, data, 32-bit, granularity
	flagCode32 = 0xc09b // present, DPL0, code, 32-bit, granularity
	flagTSS    = 0x008b // present, DPL0, 32-bit TSS (busy), byte granular
)

// CreateGDT builds the four-entry flat GDT: null, code, data, TSS. Entry 1
// (code) uses 32-bit protected-mode flags by default; 64-bit long-mode
// bring-up overwrites it with flagCode64 once long mode is entered.
func CreateGDT() [4]uint64 {
	return [4]uint64{
		NullSegment: GdtEntry(0, 0, 0),
		CodeSegment: GdtEntry(flagCode32, 0, 0xffffffff),
		DataSegment: GdtEntry(flagData, 0, 0xffffffff),
		TSSSegment:  GdtEntry(flagTSS, 0, 0x67),
	}
}

// CreateLongModeGDT is CreateGDT with the code segment switched to
// long-mode flags (spec.md §4.7's GDT backing 64-bit kernel entry).
func CreateLongModeGDT() [4]uint64 {
	gdt := CreateGDT()
	gdt[CodeSegment] = GdtEntry(flagCode64, 0, 0xffffffff)

	return gdt
}
