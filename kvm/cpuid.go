package kvm

import (
	"unsafe"
)

// cpuidWire is the fixed-size on-the-wire shape the kernel expects: a
// flexible array member sized to whatever Nent entries were requested.
// CPUID below hides this behind a Go slice.
type cpuidWire struct {
	Nent    uint32
	Padding uint32
	Entries [100]CPUIDEntry2
}

// CPUID is the set of CPUID entries returned by GetSupportedCPUID or handed
// to SetCPUID2. Entries is capped at 100, matching the kernel's own limit.
type CPUID struct {
	Nent    uint32
	Padding uint32
	Entries []CPUIDEntry2
}

// CPUIDEntry2 is one entry for CPUID. It took 2 tries to get it right :-)
// Thanks x86 :-).
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

func toCPUIDWire(c *CPUID) cpuidWire {
	wire := cpuidWire{Nent: c.Nent}
	copy(wire.Entries[:], c.Entries)

	return wire
}

func fromCPUIDWire(c *CPUID, wire *cpuidWire) {
	c.Nent = wire.Nent
	if int(wire.Nent) > len(c.Entries) {
		c.Entries = make([]CPUIDEntry2, wire.Nent)
	}

	copy(c.Entries, wire.Entries[:wire.Nent])
}

// GetSupportedCPUID gets all supported CPUID entries for a vm.
func GetSupportedCPUID(kvmFd uintptr, kvmCPUID *CPUID) error {
	wire := toCPUIDWire(kvmCPUID)

	_, err := Ioctl(kvmFd,
		IIOWR(kvmGetSupportedCPUID, unsafe.Sizeof(wire)),
		uintptr(unsafe.Pointer(&wire)))

	fromCPUIDWire(kvmCPUID, &wire)

	return err
}

// GetEmulatedCPUID returns the CPUID entries KVM emulates in software on top
// of whatever the host CPU reports.
func GetEmulatedCPUID(kvmFd uintptr, kvmCPUID *CPUID) error {
	wire := toCPUIDWire(kvmCPUID)

	_, err := Ioctl(kvmFd,
		IIOWR(kvmGetEmulatedCPUID, unsafe.Sizeof(wire)),
		uintptr(unsafe.Pointer(&wire)))

	fromCPUIDWire(kvmCPUID, &wire)

	return err
}

// SetCPUID2 sets entries for a vCPU.
// The progression is, hence, get the CPUID entries for a vm, then set them into
// individual vCPUs. This seems odd, but in fact lets code tailor CPUID entries
// as needed.
func SetCPUID2(vcpuFd uintptr, kvmCPUID *CPUID) error {
	wire := toCPUIDWire(kvmCPUID)

	_, err := Ioctl(vcpuFd,
		IIOW(kvmSetCPUID2, unsafe.Sizeof(wire)),
		uintptr(unsafe.Pointer(&wire)))

	return err
}

// GetCPUID2 reads back the CPUID entries currently programmed into a vCPU.
func GetCPUID2(vcpuFd uintptr, kvmCPUID *CPUID) error {
	wire := toCPUIDWire(kvmCPUID)

	_, err := Ioctl(vcpuFd,
		IIOWR(kvmGetCPUID2, unsafe.Sizeof(wire)),
		uintptr(unsafe.Pointer(&wire)))

	fromCPUIDWire(kvmCPUID, &wire)

	return err
}
