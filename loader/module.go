package loader

import (
	"fmt"
	"strings"
)

// ModuleInfo records a loaded module's module-info section and hand-off
// placement, per spec.md §4.13's XTBL_MODULE_INFO.
type ModuleInfo struct {
	Name        string
	Description string
	Version     string
	Author      string
	License     string
	Base        uint64
	Size        uint64
}

// Volume resolves a module name to its image bytes on the boot volume.
// Reading the volume's filesystem format is out of loader-core scope
// (spec.md §1, "filesystem drivers"); callers supply whatever concrete
// Volume their boot medium needs.
type Volume interface {
	ReadModule(name string) ([]byte, error)
}

// PECOFFLoader relocates and links a raw PE/COFF image at base, returning
// its entry point offset from base. The PE/COFF image loader itself is
// explicitly out of scope (spec.md §1); this is the seam a real one plugs
// into.
type PECOFFLoader interface {
	Relocate(image []byte, base uint64) (entryOffset uint64, err error)
}

// ErrModuleLoadFailed wraps a per-module failure from LoadModules; per
// spec.md §7 band 2, a module load failure is surfaced, not fatal, and the
// caller decides whether a forward path remains.
type ErrModuleLoadFailed struct {
	Module string
	Err    error
}

func (e *ErrModuleLoadFailed) Error() string {
	return fmt.Sprintf("loader: module %q: %v", e.Module, e.Err)
}

func (e *ErrModuleLoadFailed) Unwrap() error { return e.Err }

// ModuleLoader loads modules named in a MODULES= config value onto a
// PageAllocator-backed address space and invokes each one's entry point.
type ModuleLoader struct {
	Volume Volume
	PECOFF PECOFFLoader
	Alloc  func(size uint64) (uint64, error)
	Invoke func(entry uint64) error
	Loaded []ModuleInfo
}

// NewModuleLoader returns a ModuleLoader wired to volume, pecoff, alloc
// (the physical/virtual allocator backing each loaded image) and invoke
// (the entry-point caller).
func NewModuleLoader(volume Volume, pecoff PECOFFLoader, alloc func(uint64) (uint64, error), invoke func(uint64) error) *ModuleLoader {
	return &ModuleLoader{Volume: volume, PECOFF: pecoff, Alloc: alloc, Invoke: invoke}
}

// LoadModules tokenizes list on space or semicolon and calls LoadModule for
// each token in order, per spec.md §4.13.
func (l *ModuleLoader) LoadModules(list string) error {
	for _, name := range strings.FieldsFunc(list, func(r rune) bool { return r == ' ' || r == ';' }) {
		if name == "" {
			continue
		}

		if err := l.LoadModule(name); err != nil {
			return &ErrModuleLoadFailed{Module: name, Err: err}
		}
	}

	return nil
}

// LoadModule resolves name under the boot volume, reads it, has the
// PE/COFF protocol relocate and link it at a freshly allocated base,
// records a ModuleInfo, and invokes its entry point.
func (l *ModuleLoader) LoadModule(name string) error {
	image, err := l.Volume.ReadModule(name)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	base, err := l.Alloc(uint64(len(image)))
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}

	entryOff, err := l.PECOFF.Relocate(image, base)
	if err != nil {
		return fmt.Errorf("relocate: %w", err)
	}

	l.Loaded = append(l.Loaded, ModuleInfo{Name: name, Base: base, Size: uint64(len(image))})

	if l.Invoke == nil {
		return nil
	}

	return l.Invoke(base + entryOff)
}
