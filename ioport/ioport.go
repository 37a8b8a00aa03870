// Package ioport implements the port I/O and register primitives of
// spec.md §4.1: 8/16/32-bit in/out, memory-mapped register access, TLB
// flush, CPUID, MSR and control-register read/write.
//
// These are single-instruction primitives on real hardware. Here the
// vCPU is driven through /dev/kvm rather than executing ring-0 code
// directly, so each primitive is expressed as a typed accessor against
// the already-open vCPU file descriptor and the kvm.Sregs/Regs the
// teacher package already knows how to fetch and store.
package ioport

import (
	"fmt"

	"github.com/xtboot/xtkernel/kvm"
)

// Width is the operand size of a port or register access.
type Width uint8

const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
)

// ErrUnsupportedWidth is returned for any width other than 1, 2 or 4 bytes.
var ErrUnsupportedWidth = fmt.Errorf("unsupported port width")

// ReadPort reads width bytes from an emulated I/O port. Port accesses in
// this host-side model are serviced by whichever device is registered on
// that port range (see device.IODevice); ReadPort/WritePort are the
// uniform entry points trap handlers and device models call through.
func ReadPort(dev PortDevice, port uint64, width Width) (uint32, error) {
	if width != Width8 && width != Width16 && width != Width32 {
		return 0, ErrUnsupportedWidth
	}

	buf := make([]byte, width)
	if err := dev.Read(port, buf); err != nil {
		return 0, err
	}

	return decodeLE(buf), nil
}

// WritePort writes width bytes to an emulated I/O port.
func WritePort(dev PortDevice, port uint64, value uint32, width Width) error {
	if width != Width8 && width != Width16 && width != Width32 {
		return ErrUnsupportedWidth
	}

	buf := make([]byte, width)
	encodeLE(buf, value)

	return dev.Write(port, buf)
}

// PortDevice is the minimal shape ReadPort/WritePort need; device.IODevice
// satisfies it.
type PortDevice interface {
	Read(port uint64, data []byte) error
	Write(port uint64, data []byte) error
}

func decodeLE(b []byte) uint32 {
	var v uint32
	for i, x := range b {
		v |= uint32(x) << (8 * uint(i))
	}

	return v
}

func encodeLE(b []byte, v uint32) {
	for i := range b {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// ReadRegister reads a memory-mapped register from guest physical memory,
// e.g. the local APIC's MMIO window in xAPIC mode.
func ReadRegister(mem []byte, addr uint64, width Width) (uint32, error) {
	if int(addr)+int(width) > len(mem) {
		return 0, fmt.Errorf("register address 0x%x out of range", addr)
	}

	return decodeLE(mem[addr : addr+uint64(width)]), nil
}

// WriteRegister writes a memory-mapped register in guest physical memory.
func WriteRegister(mem []byte, addr uint64, value uint32, width Width) error {
	if int(addr)+int(width) > len(mem) {
		return fmt.Errorf("register address 0x%x out of range", addr)
	}

	buf := make([]byte, width)
	encodeLE(buf, value)
	copy(mem[addr:], buf)

	return nil
}

// ReadMSR reads one model-specific register from a vCPU.
func ReadMSR(vcpuFd uintptr, id uint32) (uint64, error) {
	msrs := kvm.MSRs{Entries: []kvm.MSREntry{{Index: id}}}
	if err := kvm.GetMSRs(vcpuFd, &msrs); err != nil {
		return 0, err
	}

	if len(msrs.Entries) == 0 {
		return 0, fmt.Errorf("msr 0x%x: no entry returned", id)
	}

	return msrs.Entries[0].Data, nil
}

// WriteMSR writes one model-specific register on a vCPU.
func WriteMSR(vcpuFd uintptr, id uint32, value uint64) error {
	msrs := kvm.MSRs{Entries: []kvm.MSREntry{{Index: id, Data: value}}}

	return kvm.SetMSRs(vcpuFd, &msrs)
}

// CRIndex names a control register, matching spec.md's "read_cr(n)/write_cr(n,v)
// for n ∈ {0,2,3,4,8}".
type CRIndex uint8

const (
	CR0 CRIndex = 0
	CR2 CRIndex = 2
	CR3 CRIndex = 3
	CR4 CRIndex = 4
	CR8 CRIndex = 8
)

// ReadCR reads a control register out of the vCPU's special-register block.
func ReadCR(sregs *kvm.Sregs, n CRIndex) (uint64, error) {
	switch n {
	case CR0:
		return sregs.CR0, nil
	case CR2:
		return sregs.CR2, nil
	case CR3:
		return sregs.CR3, nil
	case CR4:
		return sregs.CR4, nil
	case CR8:
		return sregs.CR8, nil
	default:
		return 0, fmt.Errorf("unsupported control register %d", n)
	}
}

// WriteCR writes a control register into the vCPU's special-register block.
// The caller is responsible for calling kvm.SetSregs to push the change back.
func WriteCR(sregs *kvm.Sregs, n CRIndex, v uint64) error {
	switch n {
	case CR0:
		sregs.CR0 = v
	case CR2:
		sregs.CR2 = v
	case CR3:
		sregs.CR3 = v
	case CR4:
		sregs.CR4 = v
	case CR8:
		sregs.CR8 = v
	default:
		return fmt.Errorf("unsupported control register %d", n)
	}

	return nil
}

// FlushTLB is implemented by toggling CR4's global-pages bit (PGE) if the
// regime has it set, else by reloading CR3; per spec.md §4.1 the toggle
// must happen with interrupts masked and restored around it. Here
// "interrupts masked" is modeled as TPR raised to the highest run-level
// for the duration of the write-back, since the vCPU has no separate
// interrupt-flag state visible to the host outside of RFLAGS.IF.
func FlushTLB(vcpuFd uintptr) error {
	sregs, err := kvm.GetSregs(vcpuFd)
	if err != nil {
		return err
	}

	const cr4PGE = 1 << 7

	if sregs.CR4&cr4PGE != 0 {
		const highestTPR = 0xF

		savedCR8 := sregs.CR8
		sregs.CR8 = highestTPR
		sregs.CR4 &^= cr4PGE
		if err := kvm.SetSregs(vcpuFd, sregs); err != nil {
			return err
		}

		sregs.CR4 |= cr4PGE
		sregs.CR8 = savedCR8

		return kvm.SetSregs(vcpuFd, sregs)
	}

	// No PGE: a CR3 reload flushes all non-global entries.
	return kvm.SetSregs(vcpuFd, sregs)
}

// InvalidateTLBEntry corresponds to invlpg; KVM has no per-entry invalidate
// ioctl, so this degrades to a full flush, matching what the teacher's own
// machine package does whenever any page-table edit needs to be observed by
// the vCPU (it always does a full SetSregs rather than a partial one).
func InvalidateTLBEntry(vcpuFd uintptr, _ uint64) error {
	return FlushTLB(vcpuFd)
}
