package intctl_test

import (
	"testing"

	"github.com/xtboot/xtkernel/intctl"
)

type fakePIC struct {
	writes []byte
}

func (f *fakePIC) Read(port uint64, data []byte) error { return nil }

func (f *fakePIC) Write(port uint64, data []byte) error {
	f.writes = append(f.writes, data[0])

	return nil
}

func TestInitPICMasksBothControllers(t *testing.T) {
	t.Parallel()

	dev := &fakePIC{}
	if err := intctl.InitPIC(dev); err != nil {
		t.Fatal(err)
	}

	if len(dev.writes) != 10 {
		t.Fatalf("wrote %d bytes, want 10 (2x ICW1-4 + 2x OCW1)", len(dev.writes))
	}

	last, secondLast := dev.writes[9], dev.writes[8]
	if last != 0xFF || secondLast != 0xFF {
		t.Fatalf("final OCW1 writes = %#x, %#x, want 0xff, 0xff", secondLast, last)
	}
}

type fakeRegs struct {
	vals map[intctl.Register]uint64
}

func newFakeRegs() *fakeRegs { return &fakeRegs{vals: map[intctl.Register]uint64{}} }

func (f *fakeRegs) Read(reg intctl.Register) (uint64, error) { return f.vals[reg], nil }

func (f *fakeRegs) Write(reg intctl.Register, v uint64) error {
	f.vals[reg] = v

	return nil
}

func TestInitSequence(t *testing.T) {
	t.Parallel()

	regs := newFakeRegs()

	if err := intctl.Init(regs, intctl.ModeX2APIC, 0); err != nil {
		t.Fatal(err)
	}

	if got := regs.vals[intctl.RegTPR]; got != 0x00 {
		t.Fatalf("final TPR = %#x, want 0 (unmasked)", got)
	}

	if got := regs.vals[intctl.RegSIVR] & 0xFF; got != intctl.SpuriousVector {
		t.Fatalf("SIVR vector = %#x, want %#x", got, intctl.SpuriousVector)
	}

	if got := regs.vals[intctl.RegLVTError]; got != intctl.ErrorVector {
		t.Fatalf("error LVT = %#x, want %#x", got, intctl.ErrorVector)
	}
}

func TestSendIPIX2APIC(t *testing.T) {
	t.Parallel()

	regs := newFakeRegs()

	if err := intctl.SendIPI(regs, intctl.ModeX2APIC, 3, 0x40); err != nil {
		t.Fatal(err)
	}

	want := uint64(3)<<32 | 0x40
	if got := regs.vals[intctl.RegICR0]; got != want {
		t.Fatalf("ICR0 = %#x, want %#x", got, want)
	}
}

func TestSendIPIXAPIC(t *testing.T) {
	t.Parallel()

	regs := newFakeRegs()

	if err := intctl.SendIPI(regs, intctl.ModeXAPIC, 3, 0x40); err != nil {
		t.Fatal(err)
	}

	if got := regs.vals[intctl.RegICR1]; got != 3<<24 {
		t.Fatalf("ICR1 = %#x, want %#x", got, 3<<24)
	}

	if got := regs.vals[intctl.RegICR0]; got != 0x40 {
		t.Fatalf("ICR0 = %#x, want 0x40", got)
	}
}

func TestEOIWritesZero(t *testing.T) {
	t.Parallel()

	regs := newFakeRegs()
	regs.vals[intctl.RegEOI] = 1

	if err := intctl.EOI(regs); err != nil {
		t.Fatal(err)
	}

	if regs.vals[intctl.RegEOI] != 0 {
		t.Fatalf("EOI register = %d, want 0", regs.vals[intctl.RegEOI])
	}
}
