package loader_test

import (
	"errors"
	"testing"

	"github.com/xtboot/xtkernel/loader"
)

type fakeFirmware struct {
	mapKey       uint64
	failUntilKey uint64
	mapCalls     int
}

func (f *fakeFirmware) GetMemoryMap() (loader.MemoryMap, error) {
	f.mapCalls++
	f.mapKey++

	return loader.MemoryMap{Key: f.mapKey}, nil
}

func (f *fakeFirmware) ExitBootServices(mapKey uint64) error {
	if mapKey < f.failUntilKey {
		return loader.ErrMapKeyInvalid
	}

	return nil
}

func TestExitBootServicesRetriesOnInvalidMapKey(t *testing.T) {
	t.Parallel()

	fw := &fakeFirmware{failUntilKey: 3}

	if err := loader.ExitBootServices(fw); err != nil {
		t.Fatal(err)
	}

	if fw.mapCalls != 3 {
		t.Fatalf("mapCalls = %d, want 3", fw.mapCalls)
	}
}

func TestExitBootServicesGivesUpAfterBudget(t *testing.T) {
	t.Parallel()

	fw := &fakeFirmware{failUntilKey: 1000000}

	if err := loader.ExitBootServices(fw); err != loader.ErrExitBootServicesFailed {
		t.Fatalf("got %v, want ErrExitBootServicesFailed", err)
	}
}

type failingGetMap struct{}

func (failingGetMap) GetMemoryMap() (loader.MemoryMap, error) {
	return loader.MemoryMap{}, errors.New("no memory map")
}

func (failingGetMap) ExitBootServices(uint64) error { return nil }

func TestExitBootServicesPropagatesMapFetchError(t *testing.T) {
	t.Parallel()

	if err := loader.ExitBootServices(failingGetMap{}); err == nil {
		t.Fatal("expected error")
	}
}
