package loader

import (
	"fmt"
	"sync"

	"github.com/xtboot/xtkernel/paging"
	"github.com/xtboot/xtkernel/pfn"
)

const pageSize = 4096

// ErrOutOfMemory is returned when no contiguous run of the requested page
// count is free.
var ErrOutOfMemory = fmt.Errorf("loader: out of memory")

// PageAllocator wraps a pfn.Database as the loader's AllocatePages/
// FreePages boot service. A general-purpose allocator is out of scope
// (spec.md §1's Non-goals) for the kernel, but the loader's EFI-style
// page/pool services are explicitly named in §4.13 and are this narrow,
// fixed-granularity kind rather than the kernel heap.
type PageAllocator struct {
	mu sync.Mutex
	db *pfn.Database
}

// NewPageAllocator wraps db.
func NewPageAllocator(db *pfn.Database) *PageAllocator {
	return &PageAllocator{db: db}
}

// AllocatePages finds `count` contiguous free physical pages, marks them
// allocated, and returns the base physical address.
func (a *PageAllocator) AllocatePages(count uint64) (uint64, error) {
	if count == 0 {
		return 0, fmt.Errorf("loader: AllocatePages(0)")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for start := a.db.Lowest; start+count-1 <= a.db.Highest; start++ {
		run := true

		for p := start; p < start+count; p++ {
			if !a.db.IsFree(p) {
				run = false
				break
			}
		}

		if !run {
			continue
		}

		for p := start; p < start+count; p++ {
			if err := a.db.Take(p); err != nil {
				return 0, err
			}
		}

		return start * pageSize, nil
	}

	return 0, ErrOutOfMemory
}

// FreePages returns `count` pages starting at physical address base to
// the free pool.
func (a *PageAllocator) FreePages(base, count uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := base / pageSize

	for p := start; p < start+count; p++ {
		if err := a.db.PushFree(p); err != nil {
			return err
		}
	}

	return nil
}

// poolBlock is one outstanding AllocatePool allocation, tracked so
// FreePool can return its backing pages.
type poolBlock struct {
	base  uint64
	pages uint64
}

// PoolAllocator layers a byte-granularity AllocatePool/FreePool on top of
// a PageAllocator, rounding every request up to a whole number of pages;
// spec.md §4.13 lists AllocatePool/FreePool as a distinct pair from
// AllocatePages/FreePages, matching EFI's own split.
type PoolAllocator struct {
	mu     sync.Mutex
	pages  *PageAllocator
	blocks map[uint64]poolBlock
}

// NewPoolAllocator wraps pages.
func NewPoolAllocator(pages *PageAllocator) *PoolAllocator {
	return &PoolAllocator{pages: pages, blocks: make(map[uint64]poolBlock)}
}

// AllocatePool allocates at least size bytes and returns its base address.
func (p *PoolAllocator) AllocatePool(size uint64) (uint64, error) {
	pages := (size + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}

	base, err := p.pages.AllocatePages(pages)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.blocks[base] = poolBlock{base: base, pages: pages}
	p.mu.Unlock()

	return base, nil
}

// FreePool releases a prior AllocatePool allocation.
func (p *PoolAllocator) FreePool(base uint64) error {
	p.mu.Lock()
	block, ok := p.blocks[base]
	if ok {
		delete(p.blocks, base)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("loader: FreePool: unknown block %#x", base)
	}

	return p.pages.FreePages(block.base, block.pages)
}

// MappingRecord is a single loader-side page-mapping record, per
// spec.md §3 ("Page mapping (loader side)").
type MappingRecord struct {
	VA, PA    uint64
	PageCount uint64
	MemType   pfn.MemoryType
	Writable  bool
}

// PageMapBuilder accumulates mapping records via MapVirtualMemory and
// then installs them into a paging.Builder exactly once, per spec.md
// §4.13's "building the page map consumes the record list exactly once."
type PageMapBuilder struct {
	records  []MappingRecord
	consumed bool
}

// ErrPageMapAlreadyBuilt is returned by BuildPageMap on a second call.
var ErrPageMapAlreadyBuilt = fmt.Errorf("loader: page map already built")

// MapVirtualMemory appends a mapping record covering count pages starting
// at va/pa. It does not itself touch the page tables; BuildPageMap
// installs every accumulated record in one pass.
func (b *PageMapBuilder) MapVirtualMemory(va, pa, count uint64, memType pfn.MemoryType, writable bool) {
	b.records = append(b.records, MappingRecord{VA: va, PA: pa, PageCount: count, MemType: memType, Writable: writable})
}

// Records returns the accumulated mapping records, for inspection before
// BuildPageMap consumes them.
func (b *PageMapBuilder) Records() []MappingRecord {
	return b.records
}

// BuildPageMap installs every accumulated mapping record into builder via
// MapPhys, in the order MapVirtualMemory recorded them, then clears the
// record list. Calling it a second time is an error: the list is
// consumed exactly once.
func (b *PageMapBuilder) BuildPageMap(builder *paging.Builder) error {
	if b.consumed {
		return ErrPageMapAlreadyBuilt
	}

	for _, rec := range b.records {
		if err := builder.MapPhys(rec.VA, rec.PA, rec.PageCount*pageSize, rec.Writable); err != nil {
			return fmt.Errorf("loader: map_virtual_memory va=%#x pa=%#x count=%d: %w", rec.VA, rec.PA, rec.PageCount, err)
		}
	}

	b.consumed = true
	b.records = nil

	return nil
}
