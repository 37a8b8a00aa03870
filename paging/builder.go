package paging

import "fmt"

// PageSize is the architectural leaf page size this package builds maps
// with; large (PS-bit) pages are not produced by Builder.
const PageSize = 4096

// PageAllocator hands the builder zeroed physical pages on demand and
// lets it read/write 8-byte entries within a page by PFN and byte
// offset. It is the seam hwpool/pfn sit behind once wired into bring-up;
// Builder only needs the allocate/zero/read/write contract, not any
// particular free-list policy.
type PageAllocator interface {
	AllocPage() (pfn uint64, err error)
	Zero(pfn uint64)
	Write(pfn uint64, offset int, v uint64)
	Read(pfn uint64, offset int) uint64
}

// ErrMisaligned is returned by MapPhys when any of virt, phys or size is
// not page-aligned.
var ErrMisaligned = fmt.Errorf("address or size not page-aligned")

// Builder runs the architecture-specific page-map builder of spec.md
// §4.4 over one PageMap regime: allocate and zero the top-level table
// (and, on PAE, the four page directories), install the self-map, then
// let repeated MapPhys calls walk the in-progress mapping list, creating
// intermediate tables on demand.
type Builder struct {
	pm    PageMap
	alloc PageAllocator
	top   uint64
}

// NewBuilder performs steps 1-3 of the builder: allocate the top-level
// table (and PAE's four page directories), then install the self-map.
func NewBuilder(pm PageMap, alloc PageAllocator) (*Builder, error) {
	top, err := alloc.AllocPage()
	if err != nil {
		return nil, fmt.Errorf("allocate top-level table: %w", err)
	}

	alloc.Zero(top)

	b := &Builder{pm: pm, alloc: alloc, top: top}

	if pm.Info().Levels == 3 {
		for i := 0; i < 4; i++ {
			pdPFN, err := alloc.AllocPage()
			if err != nil {
				return nil, fmt.Errorf("allocate PAE page directory %d: %w", i, err)
			}

			alloc.Zero(pdPFN)
			alloc.Write(top, i*8, uint64(SetIntermediate(pdPFN)))
		}
	}

	b.installSelfMap()

	return b, nil
}

// CR3 returns the physical address to load into CR3 once the map is
// built: the top-level table's frame, shifted into the PFN's address
// position.
func (b *Builder) CR3() uint64 { return b.top << pfnShift }

// installSelfMap installs the one reserved top-level entry (PML4/PML5)
// or, on PML2, the single self-mapped PD slot, whose target frame is the
// top-level table's own frame. On PAE the four PDPT-to-PD pointers
// installed by NewBuilder already are the self-map (the PDPT has no
// spare slot to reserve), so there is nothing further to do there.
func (b *Builder) installSelfMap() {
	if b.pm.Info().Levels == 3 {
		return
	}

	idx := b.pm.SelfMapIndex()
	b.alloc.Write(b.top, int(idx*8), uint64(SetIntermediate(b.top)))
}

// tableIndex extracts the 9-bit index a table at the given level shift
// uses to select one of its 512 8-byte entries.
func (b *Builder) tableIndex(va uint64, shift uint) uint64 {
	return (va >> shift) & 0x1FF
}

// descend reads the entry at index idx of the table at tablePFN,
// allocating and installing a zeroed intermediate table there first if
// the slot is not yet valid, and returns the child table's PFN.
func (b *Builder) descend(tablePFN, idx uint64) (uint64, error) {
	off := int(idx * 8)

	entry := PTE(b.alloc.Read(tablePFN, off))
	if entry.Valid() {
		return entry.PFN(), nil
	}

	childPFN, err := b.alloc.AllocPage()
	if err != nil {
		return 0, fmt.Errorf("allocate intermediate table: %w", err)
	}

	b.alloc.Zero(childPFN)
	b.alloc.Write(tablePFN, off, uint64(SetIntermediate(childPFN)))

	return childPFN, nil
}

// MapPhys is step 4 (and, called for the loader/module/trampoline
// ranges, step 5) of the builder: map size bytes of physical memory
// starting at phys into the virtual range starting at virt, creating
// whatever intermediate tables the walk needs along the way.
func (b *Builder) MapPhys(virt, phys, size uint64, writable bool) error {
	if virt%PageSize != 0 || phys%PageSize != 0 || size%PageSize != 0 {
		return ErrMisaligned
	}

	info := b.pm.Info()

	for off := uint64(0); off < size; off += PageSize {
		va := virt + off
		pa := phys + off

		table := b.top

		var err error

		switch info.Levels {
		case 5:
			if table, err = b.descend(table, b.tableIndex(va, info.P5EShift)); err != nil {
				return err
			}

			fallthrough
		case 4:
			if table, err = b.descend(table, b.tableIndex(va, info.PXEShift)); err != nil {
				return err
			}

			if table, err = b.descend(table, b.tableIndex(va, info.PPEShift)); err != nil {
				return err
			}

			if table, err = b.descend(table, b.tableIndex(va, info.PDEShift)); err != nil {
				return err
			}
		case 3:
			if table, err = b.descend(table, (va>>30)&0x3); err != nil {
				return err
			}

			if table, err = b.descend(table, b.tableIndex(va, info.PDEShift)); err != nil {
				return err
			}
		case 2:
			if table, err = b.descend(table, b.tableIndex(va, info.PDEShift)); err != nil {
				return err
			}
		}

		leaf := SetPTE(pa>>pfnShift, writable, false, false)
		b.alloc.Write(table, int(b.tableIndex(va, info.PTEShift)*8), uint64(leaf))
	}

	return nil
}

// leafTable walks an already-mapped virtual address down to the table
// holding its leaf PTE, without creating anything; it is an error for
// any intermediate level to be not-present.
func (b *Builder) leafTable(va uint64) (uint64, error) {
	info := b.pm.Info()
	table := b.top

	var idxs []uint64

	switch info.Levels {
	case 5:
		idxs = append(idxs, b.tableIndex(va, info.P5EShift))

		fallthrough
	case 4:
		idxs = append(idxs, b.tableIndex(va, info.PXEShift), b.tableIndex(va, info.PPEShift), b.tableIndex(va, info.PDEShift))
	case 3:
		idxs = append(idxs, (va>>30)&0x3, b.tableIndex(va, info.PDEShift))
	case 2:
		idxs = append(idxs, b.tableIndex(va, info.PDEShift))
	}

	for _, idx := range idxs {
		entry := PTE(b.alloc.Read(table, int(idx*8)))
		if !entry.Valid() {
			return 0, fmt.Errorf("leaf table walk: entry %d not present for %#x", idx, va)
		}

		table = entry.PFN()
	}

	return table, nil
}

// SetCaching applies cache-disable/write-through to the already-mapped
// leaf PTE at va, leaving its PFN and writable bit untouched.
func (b *Builder) SetCaching(va uint64, cacheDisable, writeThrough bool) error {
	table, err := b.leafTable(va)
	if err != nil {
		return err
	}

	off := int(b.tableIndex(va, b.pm.Info().PTEShift) * 8)
	leaf := PTE(b.alloc.Read(table, off))
	b.alloc.Write(table, off, uint64(leaf.SetCaching(cacheDisable, writeThrough)))

	return nil
}
