package loader_test

import (
	"errors"
	"testing"

	"github.com/xtboot/xtkernel/loader"
)

func TestGetRandomValueAppliesFixedMultiplier(t *testing.T) {
	t.Parallel()

	r, err := loader.NewRNGFromSeed(1)
	if err != nil {
		t.Fatal(err)
	}

	x := uint64(1)
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17

	want := x * 0x2545F4914F6CDD1D

	if got := r.GetRandomValue(); got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestGetRandomValueAdvancesState(t *testing.T) {
	t.Parallel()

	r, err := loader.NewRNGFromSeed(0xdeadbeef)
	if err != nil {
		t.Fatal(err)
	}

	a := r.GetRandomValue()
	b := r.GetRandomValue()

	if a == b {
		t.Fatal("successive values must differ")
	}
}

func TestNewRNGFromSeedRejectsZero(t *testing.T) {
	t.Parallel()

	if _, err := loader.NewRNGFromSeed(0); err != loader.ErrZeroSeed {
		t.Fatalf("got %v, want ErrZeroSeed", err)
	}
}

type fakeSeedSource struct {
	seed uint64
	err  error
}

func (f fakeSeedSource) Seed() (uint64, error) { return f.seed, f.err }

func TestNewRNGPropagatesSourceError(t *testing.T) {
	t.Parallel()

	if _, err := loader.NewRNG(fakeSeedSource{err: errors.New("boom")}); err == nil {
		t.Fatal("expected error")
	}
}
