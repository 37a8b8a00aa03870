// Package hwpool implements spec.md §4.6: the hardware-pool allocator
// managing the virtual window starting at MM_HARDWARE_VA_START + 1 MiB,
// built directly on paging.Builder's page-walker (MapPhys creates
// intermediate tables on demand exactly the way allocate/map hardware
// memory needs to).
package hwpool

import (
	"fmt"

	"github.com/xtboot/xtkernel/paging"
)

// MaxDescriptors is the fixed cap on coexisting hardware-allocation
// descriptors spec.md §4.6 gives.
const MaxDescriptors = 64

// ErrInsufficientResources is returned once MaxDescriptors descriptors
// already coexist.
var ErrInsufficientResources = fmt.Errorf("insufficient-resources: hardware-pool descriptor table full")

// ErrNotMapped is returned by UnmapHardwareMemory/MarkHardwareMemoryWriteThrough for a
// virtual address that does not currently carry a hardware mapping.
var ErrNotMapped = fmt.Errorf("hardware pool: address not mapped")

// descriptor is one allocate_hardware_memory record: the physical range
// it carved from the loader's free descriptors.
type descriptor struct {
	phys  uint64
	pages uint64
}

// FreePages is the seam the pool uses to carve physical pages from the
// loader's free descriptor list; pfn.Database's per-color lists sit
// behind it once wired into bring-up.
type FreePages interface {
	AllocContiguous(pages uint64) (phys uint64, err error)
}

// Pool is the hardware-pool allocator: a fixed virtual window,
// allocated through a PageMap/Builder pair, with its own watermark and
// bounded descriptor table.
type Pool struct {
	base      uint64
	size      uint64
	watermark uint64

	builder *paging.Builder
	free    FreePages

	descriptors []descriptor
	mapped      map[uint64]uint64 // virt -> phys, one entry per mapped page
}

// New returns a Pool over [base, base+size), base being
// MM_HARDWARE_VA_START + 1 MiB.
func New(base, size uint64, builder *paging.Builder, free FreePages) *Pool {
	return &Pool{
		base:    base,
		size:    size,
		builder: builder,
		free:    free,
		mapped:  map[uint64]uint64{},
	}
}

// AllocateHardwareMemory carves pages contiguous physical pages from the
// loader's free descriptors and records a hardware-cached-memory
// descriptor for them.
func (p *Pool) AllocateHardwareMemory(pages uint64) (uint64, error) {
	if len(p.descriptors) >= MaxDescriptors {
		return 0, ErrInsufficientResources
	}

	phys, err := p.free.AllocContiguous(pages)
	if err != nil {
		return 0, err
	}

	p.descriptors = append(p.descriptors, descriptor{phys: phys, pages: pages})

	return phys, nil
}

// MapHardwareMemory walks the hardware window looking for `pages`
// contiguous unmapped virtual pages, installs them pointing at phys,
// and returns the first of them. flushTLB is not used: no TLB flush is
// issued.
func (p *Pool) MapHardwareMemory(phys, pages uint64, flushTLB bool) (uint64, error) {
	run := uint64(0)
	start := p.base

	for va := p.base; va < p.base+p.size; va += paging.PageSize {
		if _, ok := p.mapped[va]; ok {
			run = 0
			start = va + paging.PageSize

			continue
		}

		if run == 0 {
			start = va
		}

		run++

		if run == pages {
			if err := p.builder.MapPhys(start, phys, pages*paging.PageSize, true); err != nil {
				return 0, err
			}

			for i := uint64(0); i < pages; i++ {
				p.mapped[start+i*paging.PageSize] = phys + i*paging.PageSize
			}

			return start, nil
		}
	}

	return 0, fmt.Errorf("hardware pool: no %d contiguous free pages in window", pages)
}

// MarkHardwareMemoryWriteThrough sets CD+WT on each of the pages pages
// starting at va.
func (p *Pool) MarkHardwareMemoryWriteThrough(va, pages uint64) error {
	for i := uint64(0); i < pages; i++ {
		addr := va + i*paging.PageSize

		if _, ok := p.mapped[addr]; !ok {
			return ErrNotMapped
		}

		if err := p.builder.SetCaching(addr, true, true); err != nil {
			return err
		}
	}

	return nil
}

// UnmapHardwareMemory drops the pool's record of pages pages starting at
// va, so MapHardwareMemory can hand those virtual pages out again. It
// does not clear their PTEs, and flushTLB is not used. The watermark is
// set to va when it is still zero or when va is below it.
func (p *Pool) UnmapHardwareMemory(va, pages uint64, flushTLB bool) error {
	for i := uint64(0); i < pages; i++ {
		addr := va + i*paging.PageSize
		if _, ok := p.mapped[addr]; !ok {
			return ErrNotMapped
		}

		delete(p.mapped, addr)
	}

	if va < p.watermark || p.watermark == 0 {
		p.watermark = va
	}

	return nil
}

// Watermark returns the current heap watermark.
func (p *Pool) Watermark() uint64 { return p.watermark }
