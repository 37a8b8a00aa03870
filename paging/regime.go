package paging

import "fmt"

// Level names one page-table depth, used for self-map slot selection and
// error messages.
type Level uint8

const (
	LevelPTE Level = iota
	LevelPDE
	LevelPPE
	LevelPXE
	LevelP5E
)

// Info carries the per-regime constants spec.md §3 calls "Page-map info":
// fixed self-map base addresses per level, the shift width of each level,
// the regime's virtual-address width, and whether it runs in "extended"
// (XPA: PAE on 32-bit, LA57 on 64-bit) mode.
type Info struct {
	Name      string
	Levels    int // 2, 3, 4 or 5
	VABits    int
	XPA       bool
	PTEBase   uint64
	PDEBase   uint64
	PPEBase   uint64
	PXEBase   uint64
	P5EBase   uint64
	PTEShift  uint
	PDEShift  uint
	PPEShift  uint
	PXEShift  uint
	P5EShift  uint
}

// Spec.md §6's fixed compatibility-sensitive constants for the two 64-bit
// regimes, and reasonable matching constants for the 32-bit ones (the
// 32-bit regimes are not individually pinned by spec.md §6, only their
// shift widths are, so their self-map bases follow the same windowing
// scheme one level down).
var (
	InfoPML4 = Info{
		Name: "PML4", Levels: 4, VABits: 48, XPA: false,
		PTEBase: 0xFFFFF68000000000, PDEBase: 0xFFFFF6FB40000000,
		PPEBase: 0xFFFFF6FB7DA00000, PXEBase: 0xFFFFF6FB7DBED000,
		PTEShift: 12, PDEShift: 21, PPEShift: 30, PXEShift: 39,
	}

	InfoPML5 = Info{
		Name: "PML5", Levels: 5, VABits: 57, XPA: true,
		PTEBase: 0xFFFF000000000000, PDEBase: 0xFFFF010000000000,
		PPEBase: 0xFFFF010800000000, PXEBase: 0xFFFF010840000000,
		P5EBase: 0xFFFF010840200000,
		PTEShift: 12, PDEShift: 21, PPEShift: 30, PXEShift: 39, P5EShift: 48,
	}

	InfoPML3 = Info{
		Name: "PML3 (PAE)", Levels: 3, VABits: 32, XPA: true,
		PTEBase: 0xC0000000, PDEBase: 0xC0600000, PPEBase: 0xC0603000,
		PTEShift: 12, PDEShift: 21, PPEShift: 30,
	}

	InfoPML2 = Info{
		Name: "PML2", Levels: 2, VABits: 32, XPA: false,
		PTEBase: 0xC0000000, PDEBase: 0xC0300000,
		// PDEShift is 21, not the hardware-accurate 22, to keep every
		// regime's table indexing uniform at 9 bits / 8-byte entries
		// (see Builder.tableIndex); this regime is an abstraction, not
		// a bit-exact rendition of 32-bit non-PAE paging's 4-byte PTEs.
		PTEShift: 12, PDEShift: 21,
	}
)

// levelAddress is the uniform "fixed base plus scaled index" formula every
// GetXxxAddress getter uses: the self-map window reserved for a level
// starts at a fixed virtual base and is indexed by shifting the target
// address down to that level's granularity and scaling by the entry size
// (8 bytes). Its inverse, levelVA, is what makes
// GetPTEVirtualAddress(GetPTEAddress(va)) round-trip to va's page
// boundary, per spec.md §8's invariant.
func levelAddress(base uint64, va uint64, shift uint) uint64 {
	return base + (va>>shift)*8
}

func levelVA(base, addr uint64, shift uint) uint64 {
	return ((addr - base) / 8) << shift
}

// PageMap is the single interface over all four address-translation
// regimes (spec.md §4.4). Implementations are pml2/pml3/pml4/pml5 below;
// callers obtain one via Select, which inspects CR4 the way the real
// bring-up code would.
type PageMap interface {
	Info() Info

	GetPTEAddress(va uint64) uint64
	GetPDEAddress(va uint64) uint64
	GetPPEAddress(va uint64) (uint64, bool)
	GetPXEAddress(va uint64) (uint64, bool)
	GetP5EAddress(va uint64) (uint64, bool)

	GetPTEVirtualAddress(pteAddr uint64) uint64

	GetNextPTE(pteAddr uint64) uint64
	AdvancePTE(pteAddr uint64, n int64) uint64
	GetPTEDistance(a, b uint64) int64

	SelfMapIndex() uint64
}

type regime struct{ info Info }

func (r regime) Info() Info { return r.info }

func (r regime) GetPTEAddress(va uint64) uint64 {
	return levelAddress(r.info.PTEBase, va, r.info.PTEShift)
}

func (r regime) GetPDEAddress(va uint64) uint64 {
	return levelAddress(r.info.PDEBase, va, r.info.PDEShift)
}

func (r regime) GetPPEAddress(va uint64) (uint64, bool) {
	if r.info.Levels < 3 {
		return 0, false
	}

	return levelAddress(r.info.PPEBase, va, r.info.PPEShift), true
}

func (r regime) GetPXEAddress(va uint64) (uint64, bool) {
	if r.info.Levels < 4 {
		return 0, false
	}

	return levelAddress(r.info.PXEBase, va, r.info.PXEShift), true
}

func (r regime) GetP5EAddress(va uint64) (uint64, bool) {
	if r.info.Levels < 5 {
		return 0, false
	}

	return levelAddress(r.info.P5EBase, va, r.info.P5EShift), true
}

func (r regime) GetPTEVirtualAddress(pteAddr uint64) uint64 {
	return levelVA(r.info.PTEBase, pteAddr, r.info.PTEShift)
}

func (r regime) GetNextPTE(pteAddr uint64) uint64 {
	return pteAddr + 8
}

func (r regime) AdvancePTE(pteAddr uint64, n int64) uint64 {
	return uint64(int64(pteAddr) + n*8)
}

func (r regime) GetPTEDistance(a, b uint64) int64 {
	return (int64(b) - int64(a)) / 8
}

// SelfMapIndex is the top-level table index that is self-mapped: on PML4
// it is bits 39-47 of the PTE base window's own address (the entry
// pointing at the table page itself); on PML5 it is the corresponding
// PML5 index; on PAE the four PDPT slots are filled contiguously so the
// "index" is the first of the four; on PML2 it is the single self-mapped
// PD slot.
func (r regime) SelfMapIndex() uint64 {
	switch r.info.Levels {
	case 5:
		return (r.info.PTEBase >> 48) & 0x1FF
	case 4:
		return (r.info.PTEBase >> 39) & 0x1FF
	case 3:
		return (r.info.PTEBase >> 30) & 0x3
	default:
		return (r.info.PTEBase >> 22) & 0x3FF
	}
}

// NewPML2, NewPML3, NewPML4, NewPML5 construct the four regime
// implementations over their respective Info tables.
func NewPML2() PageMap { return regime{InfoPML2} }
func NewPML3() PageMap { return regime{InfoPML3} }
func NewPML4() PageMap { return regime{InfoPML4} }
func NewPML5() PageMap { return regime{InfoPML5} }

// ErrUnsupportedRegime is returned by Select when neither CR4 bit nor the
// forced override names a known regime.
var ErrUnsupportedRegime = fmt.Errorf("unsupported paging regime")

const (
	cr4PAE  = 1 << 5
	cr4LA57 = 1 << 12
)

// Select picks the regime a CPU in the given state is running under.
// is64Bit distinguishes the EFER.LMA-set case (PML4/PML5) from the
// protected-mode case (PML2/PML3), since both families use the CR4.PAE
// bit for different purposes (PAE-on-legacy vs mandatory-in-long-mode).
func Select(cr4 uint64, is64Bit bool) (PageMap, error) {
	switch {
	case is64Bit && cr4&cr4LA57 != 0:
		return NewPML5(), nil
	case is64Bit:
		return NewPML4(), nil
	case cr4&cr4PAE != 0:
		return NewPML3(), nil
	default:
		return NewPML2(), nil
	}
}
