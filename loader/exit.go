package loader

import "fmt"

// maxExitBootServicesRetries is spec.md §4.13's retry bound: the memory
// map can change between the fetch and the ExitBootServices call (another
// firmware agent allocates), which invalidates the map key and must be
// retried with a freshly fetched map.
const maxExitBootServicesRetries = 255

// ErrMapKeyInvalid is the sentinel error ExitServices implementations
// return for an invalid-parameter status: the caller's map key is stale
// and a fresh map must be fetched before retrying.
var ErrMapKeyInvalid = fmt.Errorf("loader: memory map key invalid")

// ErrExitBootServicesFailed is returned after the retry budget is
// exhausted; spec.md §7 band 3 treats this as fatal.
var ErrExitBootServicesFailed = fmt.Errorf("loader: ExitBootServices failed after retry budget exhausted")

// MemoryMap is a snapshot of the firmware's current memory map and the
// opaque key that must match at ExitBootServices time.
type MemoryMap struct {
	Key         uint64
	Descriptors []MappingRecord
}

// FirmwareServices is the subset of EFI boot services the exit sequence
// needs: fetching the current memory map, and attempting the actual
// firmware call to leave boot services.
type FirmwareServices interface {
	GetMemoryMap() (MemoryMap, error)
	ExitBootServices(mapKey uint64) error
}

// ExitBootServices implements spec.md §4.13's retry loop: fetch a fresh
// memory map, attempt ExitBootServices(map_key); on ErrMapKeyInvalid the
// map changed underneath the caller and must be re-fetched, up to
// maxExitBootServicesRetries times.
func ExitBootServices(fw FirmwareServices) error {
	for attempt := 0; attempt < maxExitBootServicesRetries; attempt++ {
		mm, err := fw.GetMemoryMap()
		if err != nil {
			return fmt.Errorf("loader: get memory map: %w", err)
		}

		err = fw.ExitBootServices(mm.Key)
		if err == nil {
			return nil
		}

		if err != ErrMapKeyInvalid {
			return fmt.Errorf("loader: exit boot services: %w", err)
		}
	}

	return ErrExitBootServicesFailed
}
