// Package pfn implements spec.md §4.5: scanning the loader's memory
// descriptor list at bring-up, classifying each descriptor into the
// free/invisible/other buckets, picking the bootstrap allocator region,
// and building the per-physical-page PFN database with its six
// canonical list heads and per-color free lists.
//
// The PFN database's intrusive {flink, blink} lists are modeled as an
// arena of Record values addressed by stable PFN index rather than as
// raw pointers, per spec.md §9's note on cyclic lists in a language
// without unrestricted pointer arithmetic — the same "index instead of
// pointer" shape memory.MemorySlot already uses for guest memory
// offsets.
package pfn

import "fmt"

// MemoryType is spec.md §3's memory-descriptor type enum.
type MemoryType uint32

const (
	TypeFree MemoryType = iota
	TypeBad
	TypeFirmwareTemporary
	TypeFirmwarePermanent
	TypeLoadedProgram
	TypeLoaderOsloaderStack
	TypeLoaderHeap
	TypeLoaderSystemCode
	TypeHALCode
	TypeBootDriverCode
	TypeStartupDPCStack
	TypeStartupKernelStack
	TypeStartupPanicStack
	TypeStartupPCR
	TypeStartupPDR
	TypeRegistryData
	TypeNLSData
	TypeSpecialMemory
	TypeBBTMemory
	TypeReserve
	TypeXIPROM
	TypeHardwareCached
)

// Bucket is the three-way classification spec.md §4.5 drives the
// free-pool decision from.
type Bucket uint8

const (
	BucketOther Bucket = iota
	BucketFree
	BucketInvisible
)

// Classify buckets a descriptor type the way spec.md §4.5 enumerates:
// free/firmware-temporary/loaded-program/loader-osloader-stack count as
// free; firmware-permanent/special/BBT are invisible; everything else is
// "other" (it still counts toward the lowest/highest page range, but its
// pages are never added to a free list).
func Classify(t MemoryType) Bucket {
	switch t {
	case TypeFree, TypeFirmwareTemporary, TypeLoadedProgram, TypeLoaderOsloaderStack:
		return BucketFree
	case TypeFirmwarePermanent, TypeSpecialMemory, TypeBBTMemory:
		return BucketInvisible
	default:
		return BucketOther
	}
}

// Descriptor is one loader memory-descriptor list node.
type Descriptor struct {
	BasePage  uint64
	PageCount uint64
	Type      MemoryType
}

func (d Descriptor) lastPage() uint64 { return d.BasePage + d.PageCount - 1 }

// MinPhysicalPages64 and MinPhysicalPages32 are the bring-up panic
// thresholds of spec.md §4.5.
const (
	MinPhysicalPages64 = 2048
	MinPhysicalPages32 = 1100
)

// ErrInsufficientMemory is the Go-idiomatic stand-in for spec.md §4.5's
// "the kernel panics": the bring-up sequence treats it as fatal, but the
// package itself only ever returns an error.
var ErrInsufficientMemory = fmt.Errorf("physical memory below the minimum page count for this architecture")

// Summary is the result of scanning the descriptor list, before the
// per-page database is built.
type Summary struct {
	TotalFreePages uint64
	LowestPage     uint64
	HighestPage    uint64
	Bootstrap      Descriptor
}

// Scan walks descs once, summing free pages, tracking the lowest base
// page and highest last page across every non-invisible descriptor, and
// recording the single largest free descriptor as the bootstrap
// allocator region. is64Bit selects which of MinPhysicalPages64/32
// ErrInsufficientMemory is checked against.
func Scan(descs []Descriptor, is64Bit bool) (Summary, error) {
	var s Summary

	haveRange := false

	for _, d := range descs {
		switch Classify(d.Type) {
		case BucketFree:
			s.TotalFreePages += d.PageCount

			if d.PageCount > s.Bootstrap.PageCount {
				s.Bootstrap = d
			}

			fallthrough
		case BucketOther:
			if !haveRange || d.BasePage < s.LowestPage {
				s.LowestPage = d.BasePage
			}

			if !haveRange || d.lastPage() > s.HighestPage {
				s.HighestPage = d.lastPage()
			}

			haveRange = true
		}
	}

	min := uint64(MinPhysicalPages32)
	if is64Bit {
		min = MinPhysicalPages64
	}

	if s.TotalFreePages < min {
		return s, ErrInsufficientMemory
	}

	return s, nil
}
