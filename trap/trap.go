// Package trap implements spec.md §4.10: the 256-gate IDT's dispatch
// contract. Each gate's assembly stub is out of scope here (this is a
// Go host process, not ring-0 code); what this package models is the
// trap frame the stub would have built and the per-vector dispatcher it
// would have called, grounded on machine/debug_amd64.go's existing use
// of x86asm to decode the faulting instruction at a vCPU exit.
package trap

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Vector names one of the IDT's 256 gates.
type Vector uint8

// Architectural exception vectors, 0x00-0x13.
const (
	VectorDivideError               Vector = 0x00
	VectorDebug                     Vector = 0x01
	VectorNMI                       Vector = 0x02
	VectorBreakpoint                Vector = 0x03
	VectorOverflow                  Vector = 0x04
	VectorBoundRange                Vector = 0x05
	VectorInvalidOpcode             Vector = 0x06
	VectorDeviceNotAvailable        Vector = 0x07
	VectorDoubleFault               Vector = 0x08
	VectorCoprocessorSegmentOverrun Vector = 0x09
	VectorInvalidTSS                Vector = 0x0A
	VectorSegmentNotPresent         Vector = 0x0B
	VectorStackSegmentFault         Vector = 0x0C
	VectorGeneralProtection         Vector = 0x0D
	VectorPageFault                 Vector = 0x0E
	VectorReserved0F                Vector = 0x0F
	VectorX87FloatingPoint          Vector = 0x10
	VectorAlignmentCheck            Vector = 0x11
	VectorMachineCheck              Vector = 0x12
	VectorSIMDFloatingPoint         Vector = 0x13
)

// Software assertion / debug-service vectors.
const (
	VectorSoftwareAssertion Vector = 0x2C
	VectorDebugService      Vector = 0x2D
)

// Spurious / IPI / NMI vectors on 64-bit.
const (
	VectorSpurious64 Vector = 0x1F
	VectorIPI64      Vector = 0xE1
	VectorNMI64      Vector = 0xFF
)

// hasErrorCode is the set of vectors the CPU itself pushes an error
// code for; the gate stub synthesizes a zero for every other vector so
// the trap frame layout is uniform regardless of vector.
var hasErrorCode = map[Vector]bool{
	VectorDoubleFault:       true,
	VectorInvalidTSS:        true,
	VectorSegmentNotPresent: true,
	VectorStackSegmentFault: true,
	VectorGeneralProtection: true,
	VectorPageFault:         true,
	VectorAlignmentCheck:    true,
}

// HasErrorCode reports whether the CPU pushes a real error code for v.
func HasErrorCode(v Vector) bool { return hasErrorCode[v] }

// Frame is KTRAP_FRAME: the full machine register set the gate stub
// saves before calling the per-vector dispatcher. Segments are carried
// unconditionally even though 32-bit mode is the only one that needs
// all of them live; XMM/MXCSR/CR2/CR3/DR* are the 64-bit-only additions
// spec.md §4.10 calls out.
type Frame struct {
	Vector    Vector
	ErrorCode uint64

	RAX, RBX, RCX, RDX, RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64
	RIP, RFLAGS                            uint64

	CS, SS, DS, ES, FS, GS uint16

	CR2, CR3                     uint64
	DR0, DR1, DR2, DR3, DR6, DR7 uint64

	XMM   [16][2]uint64
	MXCSR uint32

	// Code is the raw bytes at RIP, when the caller had them handy
	// (e.g. already fetched to resolve an MMIO operand); nil disables
	// the default handler's diagnostic disassembly.
	Code []byte
}

// ErrUnhandledVector is returned by the stub default handler and by
// DispatchSyscall64/32 when a SYSCALL fast-path entry has no handler
// registered;
// per spec.md §8's fatal list, the kernel bring-up loop turns this into
// a panic rather than resuming.
var ErrUnhandledVector = fmt.Errorf("trap: unhandled vector")

// Handler is the dispatcher contract of spec.md §4.10: handle_0xNN(&mut
// KTRAP_FRAME). Returning nil resumes execution from the (possibly
// mutated) frame; a non-nil error is fatal.
type Handler func(*Frame) error

// Sink is the diagnostic line destination the default handler writes
// to; dbgprint.Dispatcher satisfies it once wired into bring-up.
type Sink interface {
	Printf(format string, args ...interface{})
}

type nopSink struct{}

func (nopSink) Printf(string, ...interface{}) {}

// Dispatcher holds one handler per vector, all wired to the default
// diagnostic-and-halt stub until Register upgrades a specific one (e.g.
// 0x0E page-fault to a VM fault resolver).
type Dispatcher struct {
	handlers  [256]Handler
	syscall64 SyscallHandler
	syscall32 SyscallHandler
	sink      Sink
}

// NewDispatcher returns a Dispatcher with every gate wired to the
// default stub. A nil sink discards diagnostic output.
func NewDispatcher(sink Sink) *Dispatcher {
	if sink == nil {
		sink = nopSink{}
	}

	d := &Dispatcher{sink: sink}
	for v := range d.handlers {
		d.handlers[v] = d.defaultHandler
	}

	return d
}

// Register installs h as the handler for vector v.
func (d *Dispatcher) Register(v Vector, h Handler) {
	d.handlers[v] = h
}

// Dispatch calls the handler currently registered for f.Vector.
func (d *Dispatcher) Dispatch(f *Frame) error {
	return d.handlers[f.Vector](f)
}

// defaultHandler is spec.md §4.10's "prints a diagnostic line and
// halts": every vector starts here, and stays here for any vector an
// implementation hasn't chosen to upgrade.
func (d *Dispatcher) defaultHandler(f *Frame) error {
	d.sink.Printf("trap: vector %#02x error=%#x rip=%#x cr2=%#x%s",
		uint8(f.Vector), f.ErrorCode, f.RIP, f.CR2, d.disasm(f))

	return fmt.Errorf("%w: %#02x at rip %#x", ErrUnhandledVector, uint8(f.Vector), f.RIP)
}

// disasm decodes f.Code at f.RIP for the diagnostic line, the way
// machine/debug_amd64.go's Inst/Asm decode and render the faulting
// instruction at a vCPU exit.
func (d *Dispatcher) disasm(f *Frame) string {
	if len(f.Code) == 0 {
		return ""
	}

	inst, err := x86asm.Decode(f.Code, 64)
	if err != nil {
		return fmt.Sprintf(" (decode: %v)", err)
	}

	return " \"" + x86asm.GNUSyntax(inst, f.RIP, nil) + "\""
}

// SyscallHandler is the SYSCALL fast-path entry point: handle_system_
// call_64 for a 64-bit caller, handle_system_call_32 for a compat-mode
// one. Unlike Handler, this path is never vectored through the IDT.
type SyscallHandler func(*Frame) error

// SetSyscallHandlers installs the fast-path entry points.
func (d *Dispatcher) SetSyscallHandlers(h64, h32 SyscallHandler) {
	d.syscall64 = h64
	d.syscall32 = h32
}

// DispatchSyscall64 invokes the 64-bit SYSCALL entry point.
func (d *Dispatcher) DispatchSyscall64(f *Frame) error {
	if d.syscall64 == nil {
		return fmt.Errorf("%w: syscall64 has no handler", ErrUnhandledVector)
	}

	return d.syscall64(f)
}

// DispatchSyscall32 invokes the compat-mode SYSCALL entry point.
func (d *Dispatcher) DispatchSyscall32(f *Frame) error {
	if d.syscall32 == nil {
		return fmt.Errorf("%w: syscall32 has no handler", ErrUnhandledVector)
	}

	return d.syscall32(f)
}
