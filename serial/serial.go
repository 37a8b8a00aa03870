// Package serial implements spec.md §4.2's serial console: a 16550-
// compatible UART emulated device (Serial, the teacher's original
// guest-facing IODevice) plus the Driver that programs one the way the
// kernel's own comport initialization code would — scratch-register
// probe, divisor/LCR/MCR/FCR setup, and a THRE-polling byte write.
package serial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
)

const (
	COM1Addr = 0x03f8
)

// Note that this identical interface is defined across
// multiple packages. It should be defined by the machine.

type IRQInjector interface {
	InjectSerialIRQ() error
}

type Serial struct {
	IER byte
	LCR byte
	MCR byte

	// Scratch is the 16550's general-purpose scratch register (port
	// base+7): initialize_comport's probe writes/reads it to confirm a
	// UART is actually present at the port.
	Scratch byte

	// CarrierDetect is reflected as MSR.DCD; a Driver with ModemControl
	// set watches it before transmitting.
	CarrierDetect bool

	inputChan chan byte

	irqInjector IRQInjector
	output      io.Writer
}

func New(irqInjector IRQInjector) (*Serial, error) {
	s := &Serial{
		IER: 0, LCR: 0,
		CarrierDetect: true,
		inputChan:     make(chan byte, 10000),
		irqInjector:   irqInjector,
		output:        os.Stdout,
	}

	return s, nil
}

func (s *Serial) SetOutput(w io.Writer) {
	s.output = w
}

func (s *Serial) GetInputChan() chan<- byte {
	return s.inputChan
}

func (s *Serial) dlab() bool {
	return s.LCR&0x80 != 0
}

func (s *Serial) In(port uint64, values []byte) error {
	port -= COM1Addr

	switch {
	case port == 0 && !s.dlab():
		// RBR
		if len(s.inputChan) > 0 {
			values[0] = <-s.inputChan
		}
	case port == 0 && s.dlab():
		// DLL
		values[0] = 0xc // baud rate 9600
	case port == 1 && !s.dlab():
		// IER
		values[0] = s.IER
	case port == 1 && s.dlab():
		// DLM
		values[0] = 0x0 // baud rate 9600
	case port == 2:
		// IIR
	case port == 3:
		// LCR
		values[0] = s.LCR
	case port == 4:
		// MCR
		values[0] = s.MCR
	case port == 5:
		// LSR
		values[0] |= 0x20 // Empty Transmitter Holding Register
		values[0] |= 0x40 // Empty Data Holding Registers

		if len(s.inputChan) > 0 {
			values[0] |= 0x1 // Data Ready
		}
	case port == 6:
		// MSR
		if s.CarrierDetect {
			values[0] |= 0x80 // DCD
		}
	case port == 7:
		// Scratch
		values[0] = s.Scratch
	}

	return nil
}

// Read and Write satisfy ioport.PortDevice, letting Driver exercise
// this emulated device directly in tests without a real UART.
func (s *Serial) Read(port uint64, values []byte) error  { return s.In(port, values) }
func (s *Serial) Write(port uint64, values []byte) error { return s.Out(port, values) }

func (s *Serial) Out(port uint64, values []byte) error {
	port -= COM1Addr

	var err error

	switch {
	case port == 0 && !s.dlab():
		// THR
		fmt.Fprintf(s.output, "%c", values[0])
	case port == 0 && s.dlab():
		// DLL
	case port == 1 && !s.dlab():
		// IER
		s.IER = values[0]
		if s.IER != 0 {
			err = s.irqInjector.InjectSerialIRQ()
		}
	case port == 1 && s.dlab():
		// DLM
	case port == 2:
		// FCR
	case port == 3:
		// LCR
		s.LCR = values[0]
	case port == 4:
		// MCR
		s.MCR = values[0]
	case port == 7:
		// Scratch
		s.Scratch = values[0]
	default:
		// factory test or not used
		break
	}

	return err
}

func (s *Serial) Start(in bufio.Reader, restoreMode func(), irqInject func() error) error {
	var before byte = 0

	for {
		b, err := in.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}

			break
		}
		s.GetInputChan() <- b

		if len(s.GetInputChan()) > 0 {
			if err := irqInject(); err != nil {
				log.Printf("InjectSerialIRQ: %v", err)
			}
		}

		if before == 0x1 && b == 'x' {
			restoreMode()

			break
		}

		before = b
	}

	return io.EOF
}
