package kvm

import (
	"unsafe"
)

type MSRList struct {
	NMSRs    uint32
	Indicies [100]uint32
}

// MSREntry is one model-specific register index/value pair, the shape
// KVM_GET_MSRS/KVM_SET_MSRS exchange per-entry.
type MSREntry struct {
	Index uint32
	_     uint32
	Data  uint64
}

// msrsWire is the fixed-size on-the-wire shape, mirroring cpuidWire's
// flexible-array-member handling in kvm/cpuid.go.
type msrsWire struct {
	Nmsrs   uint32
	Padding uint32
	Entries [32]MSREntry
}

// MSRs is the set of MSR entries exchanged with GetMSRs/SetMSRs.
type MSRs struct {
	Entries []MSREntry
}

func toMSRsWire(m *MSRs) msrsWire {
	wire := msrsWire{Nmsrs: uint32(len(m.Entries))}
	copy(wire.Entries[:], m.Entries)

	return wire
}

func fromMSRsWire(m *MSRs, wire *msrsWire) {
	if int(wire.Nmsrs) > len(m.Entries) {
		m.Entries = make([]MSREntry, wire.Nmsrs)
	}

	copy(m.Entries, wire.Entries[:wire.Nmsrs])
}

const (
	kvmGetMSRs = 0x88
	kvmSetMSRs = 0x89
)

// GetMSRs reads the MSRs named by m.Entries[i].Index from a vCPU, filling in Data.
func GetMSRs(vcpuFd uintptr, m *MSRs) error {
	wire := toMSRsWire(m)

	_, err := Ioctl(vcpuFd, IIOWR(kvmGetMSRs, unsafe.Sizeof(wire)), uintptr(unsafe.Pointer(&wire)))

	fromMSRsWire(m, &wire)

	return err
}

// SetMSRs writes the MSRs named by m.Entries to a vCPU.
func SetMSRs(vcpuFd uintptr, m *MSRs) error {
	wire := toMSRsWire(m)

	_, err := Ioctl(vcpuFd, IIOW(kvmSetMSRs, unsafe.Sizeof(wire)), uintptr(unsafe.Pointer(&wire)))

	return err
}

// Well-known MSR indices used by paging/runlevel/trap bring-up.
const (
	MSRIA32APICBase = 0x0000001b
	MSREFER         = 0xc0000080
	MSRSTAR         = 0xc0000081
	MSRLSTAR        = 0xc0000082
	MSRCSTAR        = 0xc0000083
	MSRFMASK        = 0xc0000084
	MSRKernelGSBase = 0xc0000102
)

// GetMSRIndexList returns the guest msrs that are supported.
// The list varies by kvm version and host processor, but does not change otherwise.
func GetMSRIndexList(kvmFd uintptr, list *MSRList) error {
	// This ugly hack is required to make the Ioctl work.
	// If tried like kvm.GetSupportedCPUID it doesn't work.
	// Maybe a difference in behavior on kernel side.
	tmp := struct {
		NMSRs uint32
	}{
		NMSRs: 100,
	}
	_, err := Ioctl(kvmFd,
		IIOWR(kvmGetMSRIndexList, unsafe.Sizeof(tmp)),
		uintptr(unsafe.Pointer(list)))

	return err
}
