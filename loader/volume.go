package loader

import "fmt"

// BlockDevice is one enumerated boot volume. Reading its filesystem is out
// of loader-core scope (spec.md §1); enumeration here only records which
// devices firmware exposes and which one modules and the boot menu
// resolve against.
type BlockDevice struct {
	Name      string
	MediaID   uint32
	BlockSize uint32
	LastBlock uint64
	ReadOnly  bool
}

// BlockDeviceEnumerator lists the block devices firmware currently
// exposes (an EFI_BLOCK_IO_PROTOCOL handle scan, in a real loader).
type BlockDeviceEnumerator interface {
	Enumerate() ([]BlockDevice, error)
}

// ErrNoBootVolume is returned by SelectBootVolume when enumeration
// produces no devices at all.
var ErrNoBootVolume = fmt.Errorf("loader: no boot volume found")

// EnumerateBlockDevices runs enumerator and returns its device list, or
// ErrNoBootVolume if it came back empty.
func EnumerateBlockDevices(enumerator BlockDeviceEnumerator) ([]BlockDevice, error) {
	devices, err := enumerator.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("loader: enumerate block devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, ErrNoBootVolume
	}

	return devices, nil
}

// SelectBootVolume picks the first read-write device as the boot volume,
// matching the simple "first usable device" policy a loader falls back to
// before any user-driven volume selection.
func SelectBootVolume(devices []BlockDevice) (BlockDevice, error) {
	for _, d := range devices {
		if !d.ReadOnly {
			return d, nil
		}
	}

	return BlockDevice{}, ErrNoBootVolume
}
