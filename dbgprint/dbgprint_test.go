package dbgprint_test

import (
	"testing"

	"github.com/xtboot/xtkernel/dbgprint"
)

func TestPrintfFansOutHeadToTail(t *testing.T) {
	t.Parallel()

	var d dbgprint.Dispatcher

	var first, second []rune

	d.Register(&dbgprint.Sink{Name: "a", Write: func(r rune) error { first = append(first, r); return nil }})
	d.Register(&dbgprint.Sink{Name: "b", Write: func(r rune) error { second = append(second, r); return nil }})

	if err := d.Printf("hi %d", 7); err != nil {
		t.Fatal(err)
	}

	// Register inserts at head, so the most-recently registered sink
	// ("b") runs first.
	sinks := d.Sinks()
	if len(sinks) != 2 || sinks[0].Name != "b" || sinks[1].Name != "a" {
		t.Fatalf("Sinks() order = %v", sinks)
	}

	if string(first) != "hi 7" || string(second) != "hi 7" {
		t.Fatalf("first=%q second=%q", string(first), string(second))
	}
}

func TestPrintfStopsAtFirstError(t *testing.T) {
	t.Parallel()

	var d dbgprint.Dispatcher

	d.Register(&dbgprint.Sink{Name: "broken", Write: func(r rune) error { return errWriteFailed }})

	if err := d.Printf("x"); err == nil {
		t.Fatal("expected error from broken sink")
	}
}

var errWriteFailed = &testError{"write failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
