package gdt_test

import (
	"errors"
	"testing"

	"github.com/xtboot/xtkernel/gdt"
)

func TestNewPerCPUBufferTooSmall(t *testing.T) {
	t.Parallel()

	_, err := gdt.NewPerCPU(0, make([]byte, 16), 0)
	if !errors.Is(err, gdt.ErrBufferTooSmall) {
		t.Fatalf("got %v, want ErrBufferTooSmall", err)
	}
}

func TestNewPerCPULayout(t *testing.T) {
	t.Parallel()

	buf := make([]byte, gdt.KProcessorStructuresSize)

	const bufVA = 0xffff800000000000

	pc, err := gdt.NewPerCPU(3, buf, bufVA)
	if err != nil {
		t.Fatal(err)
	}

	if pc.CPUNumber != 3 {
		t.Fatalf("CPUNumber = %d, want 3", pc.CPUNumber)
	}

	if len(pc.BootStack) != gdt.KernelStackSize {
		t.Fatalf("len(BootStack) = %#x, want %#x", len(pc.BootStack), gdt.KernelStackSize)
	}

	if len(pc.FaultStack) != gdt.KernelStackSize {
		t.Fatalf("len(FaultStack) = %#x, want %#x", len(pc.FaultStack), gdt.KernelStackSize)
	}

	if pc.Block.CPUNumber != 3 {
		t.Fatalf("Block.CPUNumber = %d, want 3", pc.Block.CPUNumber)
	}

	wantBlockVA := uint64(bufVA) + 2*gdt.KernelStackSize + gdt.GDTEntries*8
	if pc.Block.SelfVA != wantBlockVA {
		t.Fatalf("Block.SelfVA = %#x, want %#x", pc.Block.SelfVA, wantBlockVA)
	}

	top := pc.BootStackTop(bufVA)
	if top%gdt.StackAlignment != 0 {
		t.Fatalf("BootStackTop() = %#x, not aligned to %d", top, gdt.StackAlignment)
	}
}
