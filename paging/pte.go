// Package paging implements spec.md §4.4: one interface over
// PML2/PML3/PML4/PML5 page-table walking and PTE set/clear/validate,
// selected at bring-up by inspecting CR4 (PAE on 32-bit, LA57 on
// 64-bit). The package issues no TLB flush; ioport.FlushTLB does that.
package paging

// PTE is a 64-bit hardware page-table entry. Modeled as a distinct type
// over uint64 (not a Go bitfield struct) because the bit layout is
// hardware-defined and must round-trip bit-exact; a host-compiler-chosen
// struct layout would not give that guarantee. Field positions mirror
// machine/constants.go's PDE64x* constants, generalized to the full set
// spec.md §3 names for a Hardware PTE.
type PTE uint64

const (
	pteValid        = 1 << 0
	pteWritable     = 1 << 1
	pteUser         = 1 << 2
	pteWriteThrough = 1 << 3
	pteCacheDisable = 1 << 4
	pteAccessed     = 1 << 5
	pteDirty        = 1 << 6
	pteLargePage    = 1 << 7
	pteGlobal       = 1 << 8
	pteCopyOnWrite  = 1 << 9
	ptePrototype    = 1 << 10

	pfnShift = 12
	pfnMask  = 0x000f_ffff_ffff_f000

	pteNoExecute = 1 << 63
)

// Valid reports the PTE's present/valid bit.
func (p PTE) Valid() bool { return p&pteValid != 0 }

// Writable reports the read/write bit.
func (p PTE) Writable() bool { return p&pteWritable != 0 }

// User reports the user/owner bit.
func (p PTE) User() bool { return p&pteUser != 0 }

// WriteThrough reports the PWT bit.
func (p PTE) WriteThrough() bool { return p&pteWriteThrough != 0 }

// CacheDisable reports the PCD bit.
func (p PTE) CacheDisable() bool { return p&pteCacheDisable != 0 }

// Accessed reports the accessed bit.
func (p PTE) Accessed() bool { return p&pteAccessed != 0 }

// Dirty reports the dirty bit.
func (p PTE) Dirty() bool { return p&pteDirty != 0 }

// Large reports the page-size (PS) bit.
func (p PTE) Large() bool { return p&pteLargePage != 0 }

// Global reports the global bit; only meaningful if CR4.PGE is set.
func (p PTE) Global() bool { return p&pteGlobal != 0 }

// NoExecute reports the NX bit; only meaningful with EFER.NXE set.
func (p PTE) NoExecute() bool { return p&pteNoExecute != 0 }

// PFN extracts the page-frame number (bits 12-51).
func (p PTE) PFN() uint64 { return (uint64(p) & pfnMask) >> pfnShift }

// SetPTE installs a present, accessed leaf PTE for pfn with the requested
// writable bit; it is the wire-level operation behind the PageMap
// interface's SetPTE.
func SetPTE(pfn uint64, writable, userAccessible, noExecute bool) PTE {
	v := PTE(pteValid | pteAccessed)
	v |= PTE(pfn<<pfnShift) & pfnMask

	if writable {
		v |= pteWritable
	}

	if userAccessible {
		v |= pteUser
	}

	if noExecute {
		v |= pteNoExecute
	}

	return v
}

// ClearPTE returns the zero PTE (not-present, PFN field reusable as a
// software index by a higher layer).
func ClearPTE() PTE { return 0 }

// SetCaching returns p with its cache-disable/write-through bits set as
// requested, leaving every other field untouched.
func (p PTE) SetCaching(cacheDisable, writeThrough bool) PTE {
	p &^= pteCacheDisable | pteWriteThrough

	if cacheDisable {
		p |= pteCacheDisable
	}

	if writeThrough {
		p |= pteWriteThrough
	}

	return p
}

// SetIntermediate returns a present, writable, non-leaf PTE pointing at
// pfn, used by the page-walker when it must allocate an intermediate
// table on demand (spec.md §4.4 step 4).
func SetIntermediate(pfn uint64) PTE {
	return SetPTE(pfn, true, false, false)
}
