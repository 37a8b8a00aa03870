// Package gdt lays out spec.md §4.7's kernel boot stacks and per-CPU
// structures: the static initial GDT/IDT/TSS, the boot and fault stacks,
// and the processor-block region each AP's per-CPU buffer is carved from.
//
// The flat segment-descriptor encoding itself is pvh's (GdtEntry /
// CreateGDT); this package is the part of the teacher's "pvh" contract
// that spec.md generalizes beyond a single flat boot GDT into the full
// per-CPU KPROCESSOR_STRUCTURES_SIZE buffer layout of §4.7.
package gdt

import (
	"fmt"

	"github.com/xtboot/xtkernel/pvh"
)

const (
	// KernelStackSize is the size in bytes of the boot stack and the
	// fault stack (#DF/#NMI on 64-bit), per spec.md §4.7.
	KernelStackSize = 0x4000

	// StackAlignment is the required alignment of both stacks.
	StackAlignment = 16

	// GDTEntries is the fixed number of descriptor slots in the initial
	// GDT: null, code, data, TSS (pvh.CreateGDT's four), plus one spare
	// slot per additional TSS an AP's processor block needs.
	GDTEntries = 8

	// IDTEntries is the architectural count: 256 vectors (spec.md §4.10).
	IDTEntries = 256

	// descriptorSize is the width of one GDT/LDT/TSS descriptor in bytes.
	descriptorSize = 8

	// KProcessorStructuresSize is the size of the per-CPU buffer an AP's
	// boot stack, fault stack, GDT and processor block are carved from.
	KProcessorStructuresSize = 2*KernelStackSize + GDTEntries*descriptorSize + processorBlockSize

	processorBlockSize = 0x1000
)

// ErrBufferTooSmall is returned when the caller-supplied per-CPU buffer is
// smaller than KProcessorStructuresSize.
var ErrBufferTooSmall = fmt.Errorf("per-cpu buffer smaller than KProcessorStructuresSize (%#x)", KProcessorStructuresSize)

// ProcessorState is the save area for the control/debug registers and
// long-mode MSRs spec.md's Processor block carries (CR0-CR4, DR0-DR7,
// GSBase/KernelGSBase/CStar/LStar/Star/FMask, MXCSR).
type ProcessorState struct {
	CR0, CR2, CR3, CR4           uint64
	DR0, DR1, DR2, DR3, DR6, DR7 uint64
	GSBase, KernelGSBase         uint64
	Star, LStar, CStar, FMask    uint64
	MXCSR                        uint32
}

// ProcessorBlock is the per-CPU anchor of spec.md §3: reachable at a fixed
// offset via FS (32-bit) or GS (64-bit). SelfVA is that fixed virtual
// address so code that only has a segment-relative offset can still
// recover the containing block, matching the "self-pointer" field in the
// spec.
type ProcessorBlock struct {
	SelfVA        uint64
	CPUNumber     uint32
	CurrentThread uint64 // VA of the running thread, 0 if idle
	IdleThread    uint64 // VA of this CPU's idle thread
	State         ProcessorState
}

// PerCPU is everything NewPerCPU carves out of one KProcessorStructuresSize
// buffer: the boot stack, the fault stack, a private GDT and the
// processor block, laid out page-aligned in that order per spec.md §4.7.
type PerCPU struct {
	CPUNumber  uint32
	BootStack  []byte
	FaultStack []byte
	GDT        [GDTEntries]uint64
	Block      *ProcessorBlock
}

// NewPerCPU carves a PerCPU region out of buf, which must be at least
// KProcessorStructuresSize bytes and live at virtual address bufVA (used
// to compute the processor block's self-pointer).
func NewPerCPU(cpu uint32, buf []byte, bufVA uint64) (*PerCPU, error) {
	if len(buf) < KProcessorStructuresSize {
		return nil, ErrBufferTooSmall
	}

	bootStack := buf[0:KernelStackSize]
	faultStack := buf[KernelStackSize : 2*KernelStackSize]
	blockVA := bufVA + 2*KernelStackSize + GDTEntries*descriptorSize

	p := &PerCPU{
		CPUNumber:  cpu,
		BootStack:  bootStack,
		FaultStack: faultStack,
		Block: &ProcessorBlock{
			SelfVA:    blockVA,
			CPUNumber: cpu,
		},
	}

	flat := pvh.CreateLongModeGDT()
	copy(p.GDT[:], flat[:])

	return p, nil
}

// BootStackTop returns the initial stack pointer: stacks grow down, so the
// top is the highest address in the region, aligned per StackAlignment.
func (p *PerCPU) BootStackTop(bootStackVA uint64) uint64 {
	top := bootStackVA + uint64(len(p.BootStack))

	return top &^ (StackAlignment - 1)
}
