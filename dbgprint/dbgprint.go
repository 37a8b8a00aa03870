// Package dbgprint implements spec.md §4.3: the debug print dispatcher
// multiplexing one formatted message across every registered sink
// (serial, framebuffer), grounded on migration/transport.go's pattern
// of one small registration/dispatch type per concern rather than a
// monolithic writer.
package dbgprint

import (
	"fmt"
)

// WriteChar writes one character to a sink, returning an error on
// failure the way a UART's put_byte would if the port ever times out.
type WriteChar func(r rune) error

// Sink is one registered dispatch table: a name for diagnostics and the
// per-character write callback. Sinks form an intrusive singly-linked
// list via next, inserted at head by Dispatcher.Register.
type Sink struct {
	Name  string
	Write WriteChar

	next *Sink
}

// Dispatcher is the list of dispatch tables debug_print iterates.
type Dispatcher struct {
	head *Sink
}

// Register inserts s at the head of the dispatch list.
func (d *Dispatcher) Register(s *Sink) {
	s.next = d.head
	d.head = s
}

// Sinks returns the currently registered sinks, head first.
func (d *Dispatcher) Sinks() []*Sink {
	var out []*Sink
	for s := d.head; s != nil; s = s.next {
		out = append(out, s)
	}

	return out
}

// Printf formats format/args the way Go's fmt already does — the wide-
// string formatter spec.md §4.3 describes (the usual conversions plus
// width/precision/flag modifiers) is exactly fmt's verb syntax, so no
// separate formatter is reimplemented here — then writes the result,
// rune by rune, through every registered sink in head-to-tail order.
// The first sink write error aborts the remaining sinks and is
// returned.
func (d *Dispatcher) Printf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)

	for s := d.head; s != nil; s = s.next {
		for _, r := range msg {
			if err := s.Write(r); err != nil {
				return fmt.Errorf("dbgprint: sink %q: %w", s.Name, err)
			}
		}
	}

	return nil
}
