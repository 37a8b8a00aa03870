// Package pci implements a minimal Configuration Space Access Mechanism
// #1 host bridge: one address/data port pair routing into a slot-indexed
// registry of Device implementations, each exposing a DeviceHeader and an
// IO-port range. loader.Registry's {GUID -> interface} protocol table
// (spec.md §4.13) is grounded on this same "resolve by fixed-width index
// into a slot table" shape.
//
// refs
// https://wiki.osdev.org/PCI
// http://www2.comp.ufscar.br/~helio/boot-int/pci.html
package pci

import "encoding/binary"

// address is the Configuration Space Access Mechanism #1 address-port
// value: {enable bit, bus, device, function, register offset}.
type address uint32

func (a address) getRegisterOffset() uint32 {
	return uint32(a) & 0xfc
}

func (a address) getFunctionNumber() uint32 {
	return (uint32(a) >> 8) & 0x7
}

func (a address) getDeviceNumber() uint32 {
	return (uint32(a) >> 11) & 0x1f
}

func (a address) getBusNumber() uint32 {
	return (uint32(a) >> 16) & 0xff
}

func (a address) isEnable() bool {
	return uint32(a)>>31 == 1
}

// barBase and barLimit are the config-space byte offsets of BAR0 and one
// past BAR5, per the type-0 header layout DeviceHeader.Bytes encodes.
const (
	barBase  = 0x10
	barLimit = 0x28
)

func barIndex(offset uint32) (int, bool) {
	if offset < barBase || offset >= barLimit {
		return 0, false
	}

	return int((offset - barBase) / 4), true
}

// Device is one PCI function: a config-space header plus the IO-port
// handlers servicing the BAR0 window GetIORange describes.
type Device interface {
	GetDeviceHeader() DeviceHeader
	IOInHandler(port uint64, bytes []byte) error
	IOOutHandler(port uint64, bytes []byte) error
	GetIORange() (start, end uint64)
}

// DeviceHeader is a type-0 PCI configuration header, the fields a Device
// actually populates (everything else reads back zero).
type DeviceHeader struct {
	VendorID      uint16
	DeviceID      uint16
	Command       uint16
	HeaderType    uint8
	SubsystemID   uint16
	BAR           [6]uint32
	InterruptLine uint8
	InterruptPin  uint8
}

// configSpaceSize is one type-0 header: 0x00-0x3F.
const configSpaceSize = 0x40

// Bytes renders the header as a type-0 PCI configuration space image.
func (dh DeviceHeader) Bytes() ([]byte, error) {
	buf := make([]byte, configSpaceSize)

	binary.LittleEndian.PutUint16(buf[0x00:], dh.VendorID)
	binary.LittleEndian.PutUint16(buf[0x02:], dh.DeviceID)
	binary.LittleEndian.PutUint16(buf[0x04:], dh.Command)
	buf[0x0E] = dh.HeaderType

	for i, bar := range dh.BAR {
		binary.LittleEndian.PutUint32(buf[barBase+4*i:], bar)
	}

	binary.LittleEndian.PutUint16(buf[0x2E:], dh.SubsystemID)
	buf[0x3C] = dh.InterruptLine
	buf[0x3D] = dh.InterruptPin

	return buf, nil
}

// PCI is the host bridge: the current CF8 address latch, the slot-indexed
// device registry (slot == PCI device number), and per-(slot,BAR) probing
// state for the all-ones BAR-sizing protocol.
type PCI struct {
	addr    address
	Devices []Device
	probing map[int]bool
}

// New returns a host bridge with devices installed at sequential slots in
// the order given (slot 0 is conventionally the host bridge itself).
func New(devices ...Device) *PCI {
	return &PCI{
		addr:    0xaabbccdd,
		Devices: devices,
		probing: make(map[int]bool),
	}
}

func (p *PCI) deviceAt(a address) (Device, int, bool) {
	idx := int(a.getDeviceNumber())
	if idx < 0 || idx >= len(p.Devices) {
		return nil, 0, false
	}

	return p.Devices[idx], idx, true
}

// PciConfDataIn reads from the currently addressed device's config space,
// or from the BAR-sizing probe result if the addressed BAR is mid-probe.
func (p *PCI) PciConfDataIn(port uint64, values []byte) error {
	dev, idx, ok := p.deviceAt(p.addr)
	if !ok {
		return nil
	}

	offset := p.addr.getRegisterOffset()

	if bar, isBAR := barIndex(offset); isBAR && p.probing[idx*6+bar] {
		start, end := dev.GetIORange()
		bits := SizeToBits(end - start)

		b := NumToBytes(bits)
		copy(values, b)

		return nil
	}

	b, err := dev.GetDeviceHeader().Bytes()
	if err != nil {
		return err
	}

	if int(offset)+len(values) > len(b) {
		return nil
	}

	copy(values, b[offset:int(offset)+len(values)])

	return nil
}

// PciConfDataOut writes to the currently addressed device's BAR register;
// writing all-ones arms the BAR-sizing probe for the next
// PciConfDataIn at the same address, per the standard PCI BAR-sizing
// protocol (probe with all ones, read back the size mask).
func (p *PCI) PciConfDataOut(port uint64, values []byte) error {
	_, idx, ok := p.deviceAt(p.addr)
	if !ok {
		return nil
	}

	offset := p.addr.getRegisterOffset()

	bar, isBAR := barIndex(offset)
	if !isBAR {
		return nil
	}

	key := idx*6 + bar
	p.probing[key] = BytesToNum(values) == 0xFFFFFFFF

	return nil
}

// PciConfAddrIn reads back the current CF8 address latch.
func (p *PCI) PciConfAddrIn(port uint64, values []byte) error {
	if len(values) != 4 {
		return nil
	}

	copy(values, NumToBytes(uint32(p.addr)))

	return nil
}

// PciConfAddrOut latches a new CF8 address.
func (p *PCI) PciConfAddrOut(port uint64, values []byte) error {
	if len(values) != 4 {
		return nil
	}

	p.addr = address(BytesToNum(values))

	return nil
}

// NumToBytes renders an unsigned integer as little-endian bytes sized to
// its width; any other type (notably a negative int, which has no
// unsigned config-space representation) yields an empty slice.
func NumToBytes(v interface{}) []byte {
	switch n := v.(type) {
	case uint8:
		return []byte{n}
	case uint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, n)

		return b
	case uint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, n)

		return b
	case uint64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, n)

		return b
	default:
		return []byte{}
	}
}

// BytesToNum decodes up to 8 little-endian bytes into a uint64.
func BytesToNum(b []byte) uint64 {
	var v uint64

	for i, by := range b {
		if i >= 8 {
			break
		}

		v |= uint64(by) << (8 * i)
	}

	return v
}

// SizeToBits converts a BAR window size into the size-mask a probing
// guest reads back: for a power-of-two size, all ones from its set bit
// upward, truncated to 32 bits. A zero size (no window at all) reads back as zero.
func SizeToBits(size uint64) uint32 {
	if size == 0 {
		return 0
	}

	return uint32(^(size - 1))
}
