package serial

import (
	"fmt"

	"github.com/xtboot/xtkernel/ioport"
)

// 16550 register offsets from the port base.
const (
	regData    = 0 // RBR/THR, !DLAB
	regIER     = 1 // !DLAB
	regDLL     = 0 // DLAB
	regDLM     = 1 // DLAB
	regFCR     = 2
	regLCR     = 3
	regMCR     = 4
	regLSR     = 5
	regMSR     = 6
	regScratch = 7
)

const (
	lcrDLAB = 0x80
	lcr8N1  = 0x03

	mcrDTR  = 0x01
	mcrRTS  = 0x02
	mcrOUT2 = 0x08

	fcrEnable  = 0x01
	fcrClearRX = 0x02
	fcrClearTX = 0x04

	lsrTHRE = 0x20
	msrDCD  = 0x80

	// baseClock is the 16550's standard input clock divided by 16,
	// the conventional 115200 "maximum" baud rate a divisor of 1 gives.
	baseClock = 115200

	// CommportWaitTimeout is the poll bound spec.md §4.2 gives for a
	// byte write to wait for THRE.
	CommportWaitTimeout = 204800
)

// ErrUARTNotFound is returned by InitializeComport when the scratch
// register probe fails: no 256-value round-trip means no UART is
// present at the port.
var ErrUARTNotFound = fmt.Errorf("serial: scratch register probe failed, no UART present")

// ErrWriteTimeout is returned by PutByte when THRE does not clear
// within CommportWaitTimeout iterations.
var ErrWriteTimeout = fmt.Errorf("serial: transmit holding register never emptied")

// Driver programs a 16550-compatible UART through an ioport.PortDevice
// the way the kernel's comport initialization code does, rather than
// emulating one (Serial, above, is the emulated device side).
type Driver struct {
	dev  ioport.PortDevice
	base uint64

	// ModemControl, once set by InitializeComport's caller, makes
	// PutByte honor CD: when CD is down, any pending RX byte is
	// discarded and the transmit is skipped.
	ModemControl bool
}

// NewDriver returns a Driver for the UART at base on dev.
func NewDriver(dev ioport.PortDevice, base uint64) *Driver {
	return &Driver{dev: dev, base: base}
}

func (d *Driver) out(offset uint64, v byte) error {
	return ioport.WritePort(d.dev, d.base+offset, uint32(v), ioport.Width8)
}

func (d *Driver) in(offset uint64) (byte, error) {
	v, err := ioport.ReadPort(d.dev, d.base+offset, ioport.Width8)

	return byte(v), err
}

// probeScratch writes and reads back all 256 distinct byte values on
// the scratch register, failing on the first mismatch.
func (d *Driver) probeScratch() error {
	for v := 0; v < 256; v++ {
		if err := d.out(regScratch, byte(v)); err != nil {
			return err
		}

		got, err := d.in(regScratch)
		if err != nil {
			return err
		}

		if got != byte(v) {
			return ErrUARTNotFound
		}
	}

	return nil
}

// InitializeComport probes the UART at base, then programs it to
// baud/8N1 with interrupts disabled, DTR+RTS+OUT2 asserted, and FIFOs
// enabled with receiver/transmitter reset, per spec.md §4.2.
func (d *Driver) InitializeComport(baud uint32) error {
	if err := d.probeScratch(); err != nil {
		return err
	}

	if err := d.out(regIER, 0); err != nil { // disable interrupts
		return err
	}

	if err := d.out(regLCR, lcrDLAB); err != nil {
		return err
	}

	divisor := baseClock / baud
	if err := d.out(regDLL, byte(divisor)); err != nil {
		return err
	}

	if err := d.out(regDLM, byte(divisor>>8)); err != nil {
		return err
	}

	if err := d.out(regLCR, lcr8N1); err != nil { // clears DLAB, sets 8N1
		return err
	}

	if err := d.out(regMCR, mcrDTR|mcrRTS|mcrOUT2); err != nil {
		return err
	}

	return d.out(regFCR, fcrEnable|fcrClearRX|fcrClearTX)
}

// PutByte waits up to CommportWaitTimeout iterations for THRE, then
// writes b. If ModemControl is set and CD is down, it instead discards
// any pending RX byte and returns without transmitting.
func (d *Driver) PutByte(b byte) error {
	if d.ModemControl {
		msr, err := d.in(regMSR)
		if err != nil {
			return err
		}

		if msr&msrDCD == 0 {
			if _, err := d.in(regData); err != nil {
				return err
			}

			return nil
		}
	}

	for i := 0; i < CommportWaitTimeout; i++ {
		lsr, err := d.in(regLSR)
		if err != nil {
			return err
		}

		if lsr&lsrTHRE != 0 {
			return d.out(regData, b)
		}
	}

	return ErrWriteTimeout
}
