package kvm

import "unsafe"

// irqLevel defines an IRQ as Level? Not sure.
type irqLevel struct {
	IRQ   uint32
	Level uint32
}

// IRQLine sets the interrupt line for an IRQ.
func IRQLine(vmFd uintptr, irq, level uint32) error {
	irqLev := irqLevel{
		IRQ:   irq,
		Level: level,
	}

	_, err := Ioctl(vmFd, IIOW(kvmIRQLine, unsafe.Sizeof(irqLev)), uintptr(unsafe.Pointer(&irqLev)))

	return err
}

// IRQLineStatus is IRQLine for chips that report back whether the line was
// actually asserted/deasserted.
func IRQLineStatus(vmFd uintptr, irq, level uint32) error {
	irqLev := irqLevel{
		IRQ:   irq,
		Level: level,
	}

	_, err := Ioctl(vmFd, IIOWR(kvmIRQLineStatus, unsafe.Sizeof(irqLev)), uintptr(unsafe.Pointer(&irqLev)))

	return err
}

// CreateIRQChip creates an IRQ device (chip) to which to attach interrupts?
func CreateIRQChip(vmFd uintptr) error {
	_, err := Ioctl(vmFd, IIO(kvmCreateIRQChip), 0)

	return err
}

// IRQChip is the state of an emulated PIC/IOAPIC chip.
type IRQChip struct {
	ChipID uint32
	_      uint32
	Chip   [512]byte
}

// GetIRQChip reads the state of one of the VM's emulated interrupt chips.
func GetIRQChip(vmFd uintptr, chip *IRQChip) error {
	_, err := Ioctl(vmFd, IIOWR(kvmGetIRQChip, unsafe.Sizeof(*chip)), uintptr(unsafe.Pointer(chip)))

	return err
}

// SetIRQChip writes the state of one of the VM's emulated interrupt chips,
// used to restore a saved migration snapshot.
func SetIRQChip(vmFd uintptr, chip *IRQChip) error {
	_, err := Ioctl(vmFd, IIOR(kvmSetIRQChip, unsafe.Sizeof(*chip)), uintptr(unsafe.Pointer(chip)))

	return err
}

// pitConfig defines properties of a programmable interrupt timer.
type pitConfig struct {
	Flags uint32
	_     [15]uint32
}

// CreatePIT2 creates a PIT type 2. Just having one was not enough.
func CreatePIT2(vmFd uintptr) error {
	pit := pitConfig{
		Flags: 0,
	}
	_, err := Ioctl(vmFd, IIOW(kvmCreatePIT2, unsafe.Sizeof(pit)), uintptr(unsafe.Pointer(&pit)))

	return err
}

// PITState2 is the saved state of the in-kernel PIT, used by live migration.
type PITState2 struct {
	ChannelState [3]pitChannelState
	Flags        uint32
	_            [9]uint32
}

type pitChannelState struct {
	Count         uint32
	LatchedCount  uint16
	CountLatched  uint8
	StatusLatched uint8
	Status        uint8
	ReadState     uint8
	WriteState    uint8
	WriteLatch    uint8
	RWMode        uint8
	Mode          uint8
	BCD           uint8
	Gate          uint8
	CountLoadTime int64
}

// GetPIT2 reads the current state of the in-kernel PIT.
func GetPIT2(vmFd uintptr, state *PITState2) error {
	_, err := Ioctl(vmFd, IIOR(kvmGetPIT2, unsafe.Sizeof(*state)), uintptr(unsafe.Pointer(state)))

	return err
}

// SetPIT2 restores the state of the in-kernel PIT.
func SetPIT2(vmFd uintptr, state *PITState2) error {
	_, err := Ioctl(vmFd, IIOW(kvmSetPIT2, unsafe.Sizeof(*state)), uintptr(unsafe.Pointer(state)))

	return err
}
