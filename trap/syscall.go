package trap

import (
	"fmt"

	"github.com/xtboot/xtkernel/ioport"
	"github.com/xtboot/xtkernel/kvm"
)

// MSRAccess is the seam InitSyscall drives: read/write one model-
// specific register. vcpuMSR below is the real implementation over a
// live vCPU; tests substitute an in-memory fake the way intctl's
// Registers and runlevel's CR8 do.
type MSRAccess interface {
	ReadMSR(id uint32) (uint64, error)
	WriteMSR(id uint32, value uint64) error
}

// vcpuMSR reads and writes MSRs on a live vCPU via ioport.Read/WriteMSR.
type vcpuMSR struct {
	vcpuFd uintptr
}

// NewVCPUMSRAccess returns the MSRAccess for a live vCPU file descriptor.
func NewVCPUMSRAccess(vcpuFd uintptr) MSRAccess { return vcpuMSR{vcpuFd} }

func (m vcpuMSR) ReadMSR(id uint32) (uint64, error)      { return ioport.ReadMSR(m.vcpuFd, id) }
func (m vcpuMSR) WriteMSR(id uint32, value uint64) error { return ioport.WriteMSR(m.vcpuFd, id, value) }

// eferSyscallEnable is EFER.SCE, the bit that enables the SYSCALL/
// SYSRET instruction pair.
const eferSyscallEnable = 1 << 0

// StarValue packs STAR the way SYSCALL/SYSRET read it: bits 32-47 hold
// the CS selector SYSCALL loads (SS is that value + 8), bits 48-63 hold
// the CS selector SYSRET loads for a 64-bit return (SS is that value +
// 8, and the 32-bit-return CS is that value + 16, per the Intel/AMD
// SYSRET selector convention).
func StarValue(syscallCS, sysretCS uint16) uint64 {
	return uint64(sysretCS)<<48 | uint64(syscallCS)<<32
}

// InitSyscall programs the STAR/LSTAR/CSTAR/FMASK MSRs for the SYSCALL/
// SYSRET fast path and sets EFER.SCE, per spec.md §4.10's "handle_
// system_call_64/32" entries: STAR carries the selectors, LSTAR/CSTAR
// are the 64-bit and compatibility-mode entry RIPs, FMASK is the RFLAGS
// bits SYSCALL clears on entry (typically at least IF, to keep the
// entry point running with interrupts off until it raises run-level).
func InitSyscall(msr MSRAccess, star uint64, lstar64, cstar32 uint64, fmask uint64) error {
	if err := msr.WriteMSR(kvm.MSRSTAR, star); err != nil {
		return fmt.Errorf("STAR: %w", err)
	}

	if err := msr.WriteMSR(kvm.MSRLSTAR, lstar64); err != nil {
		return fmt.Errorf("LSTAR: %w", err)
	}

	if err := msr.WriteMSR(kvm.MSRCSTAR, cstar32); err != nil {
		return fmt.Errorf("CSTAR: %w", err)
	}

	if err := msr.WriteMSR(kvm.MSRFMASK, fmask); err != nil {
		return fmt.Errorf("FMASK: %w", err)
	}

	efer, err := msr.ReadMSR(kvm.MSREFER)
	if err != nil {
		return fmt.Errorf("read EFER: %w", err)
	}

	return msr.WriteMSR(kvm.MSREFER, efer|eferSyscallEnable)
}
