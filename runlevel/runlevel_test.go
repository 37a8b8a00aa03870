package runlevel_test

import (
	"errors"
	"testing"

	"github.com/xtboot/xtkernel/runlevel"
)

type fakeCR8 struct{ v uint8 }

func (f *fakeCR8) Read() (uint8, error) { return f.v, nil }

func (f *fakeCR8) Write(v uint8) error {
	f.v = v

	return nil
}

func TestRaiseRejectsLoweringLevel(t *testing.T) {
	t.Parallel()

	cr8 := &fakeCR8{}
	mgr := runlevel.NewManagerFor(cr8)

	if _, err := mgr.Raise(runlevel.Dispatch); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Raise(runlevel.Passive); !errors.Is(err, runlevel.ErrRunLevelOrder) {
		t.Fatalf("got %v, want ErrRunLevelOrder", err)
	}
}

func TestLowerRejectsRaisingLevel(t *testing.T) {
	t.Parallel()

	cr8 := &fakeCR8{}
	mgr := runlevel.NewManagerFor(cr8)

	if err := mgr.Lower(runlevel.Dispatch); !errors.Is(err, runlevel.ErrRunLevelOrder) {
		t.Fatalf("got %v, want ErrRunLevelOrder", err)
	}
}

func TestRaiseThenLower(t *testing.T) {
	t.Parallel()

	cr8 := &fakeCR8{}
	mgr := runlevel.NewManagerFor(cr8)

	old, err := mgr.Raise(runlevel.Dispatch)
	if err != nil {
		t.Fatal(err)
	}

	if old != runlevel.Passive {
		t.Fatalf("old level = %d, want Passive", old)
	}

	if err := mgr.Lower(runlevel.APC); err != nil {
		t.Fatal(err)
	}

	cur, err := mgr.Current()
	if err != nil {
		t.Fatal(err)
	}

	if cur != runlevel.APC {
		t.Fatalf("current = %d, want APC", cur)
	}
}

// TestRaiseLowerScenario reproduces spec.md §8 scenario 3 literally:
// starting from TPR 0, raise(dispatch_level) must return passive_level
// with TPR = 0x28, raise(clock_level) must then return dispatch_level
// with TPR = 0xD1, lower(passive_level) must leave TPR = 0x00, and a
// second lower(passive_level) at already-passive must not change TPR.
func TestRaiseLowerScenario(t *testing.T) {
	t.Parallel()

	cr8 := &fakeCR8{}
	mgr := runlevel.NewManagerFor(cr8)

	old, err := mgr.Raise(runlevel.Dispatch)
	if err != nil {
		t.Fatal(err)
	}

	if old != runlevel.Passive {
		t.Fatalf("raise(dispatch_level) old = %d, want Passive", old)
	}

	if cr8.v != 0x28 {
		t.Fatalf("raise(dispatch_level) TPR = %#x, want 0x28", cr8.v)
	}

	old, err = mgr.Raise(runlevel.Clock)
	if err != nil {
		t.Fatal(err)
	}

	if old != runlevel.Dispatch {
		t.Fatalf("raise(clock_level) old = %d, want Dispatch", old)
	}

	if cr8.v != 0xD1 {
		t.Fatalf("raise(clock_level) TPR = %#x, want 0xD1", cr8.v)
	}

	if err := mgr.Lower(runlevel.Passive); err != nil {
		t.Fatal(err)
	}

	if cr8.v != 0x00 {
		t.Fatalf("lower(passive_level) TPR = %#x, want 0x00", cr8.v)
	}

	if err := mgr.Lower(runlevel.Passive); err != nil {
		t.Fatal(err)
	}

	if cr8.v != 0x00 {
		t.Fatalf("second lower(passive_level) TPR = %#x, want unchanged 0x00", cr8.v)
	}
}

func TestEveryLevelRoundTripsThroughTPR(t *testing.T) {
	t.Parallel()

	levels := []runlevel.Level{
		runlevel.Passive, runlevel.APC, runlevel.Dispatch,
		runlevel.Device1, runlevel.Device2, runlevel.Device3, runlevel.Device4,
		runlevel.Device5, runlevel.Device6, runlevel.Device7,
		runlevel.Profile, runlevel.Clock, runlevel.IPI, runlevel.Power, runlevel.High,
	}

	for _, want := range levels {
		cr8 := &fakeCR8{}
		mgr := runlevel.NewManagerFor(cr8)

		if _, err := mgr.Raise(want); err != nil {
			t.Fatal(err)
		}

		got, err := mgr.Current()
		if err != nil {
			t.Fatal(err)
		}

		if got != want {
			t.Fatalf("round trip level %d got %d", want, got)
		}
	}
}
