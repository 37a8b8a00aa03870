package virtio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/xtboot/xtkernel/pci"
)

const (
	BlkIOPortStart = 0x6300
	BlkIOPortSize  = 0x100

	sectorSize = 512

	blkReqTypeIn  = 0
	blkReqTypeOut = 1

	blkStatusOK    = 0
	blkStatusIOErr = 1

	isrPollInterval = 10 * time.Millisecond
)

// BlkReq is the 16-byte virtio-blk request header a guest places at the
// head of a request's descriptor chain.
type BlkReq struct {
	Type     uint32
	Reserved uint32
	Sector   uint64
}

// ErrNoRequest is returned by IO when the avail ring has nothing new for
// the device to service; IOThreadEntry's drain loop uses it to know when
// to go back to waiting on the kick channel.
var ErrNoRequest = errors.New("virtio-blk: no request pending")

type Blk struct {
	Hdr blkHdr

	VirtQueue    [1]*VirtQueue
	Mem          []byte
	LastAvailIdx [1]uint16

	kick chan struct{}
	done chan struct{}

	closeOnce sync.Once
	file      *os.File

	irq         uint8
	IRQInjector IRQInjector
}

type blkHdr struct {
	commonHeader commonHeader
	blkHeader    blkHeader
}

func (h blkHdr) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}

type blkHeader struct {
	capacity uint64
}

func (v Blk) GetDeviceHeader() pci.DeviceHeader {
	return pci.DeviceHeader{
		DeviceID:    0x1001,
		VendorID:    0x1AF4,
		HeaderType:  0,
		SubsystemID: 2, // Block Device
		Command:     1, // Enable IO port
		BAR: [6]uint32{
			BlkIOPortStart | 0x1,
		},
		// https://github.com/torvalds/linux/blob/fb3b0673b7d5b477ed104949450cd511337ba3c6/drivers/pci/setup-irq.c#L30-L55
		InterruptPin: 1,
		// https://www.webopedia.com/reference/irqnumbers/
		InterruptLine: v.irq,
	}
}

func (v Blk) GetIORange() (start, end uint64) {
	return BlkIOPortStart, BlkIOPortStart + BlkIOPortSize
}

// Size reports the width of the BAR0 IO window, not the backing disk's
// size; it exists for parity with the BAR-probing pci tests.
func (v Blk) Size() uint64 {
	return BlkIOPortSize
}

// Read services a guest IO-port read against the virtio-blk config space.
// Reading the ISR status register (offset 19) clears it, per the virtio
// legacy interrupt-status convention.
func (v *Blk) Read(port uint64, bytes []byte) error {
	offset := int(port - BlkIOPortStart)

	b, err := v.Hdr.Bytes()
	if err != nil {
		return err
	}

	l := len(bytes)
	if offset < 0 || offset+l > len(b) {
		return nil
	}

	copy(bytes[:l], b[offset:offset+l])

	if offset == 19 {
		v.Hdr.commonHeader.isr = 0
	}

	return nil
}

func (v *Blk) IOInHandler(port uint64, bytes []byte) error {
	return v.Read(port, bytes)
}

// Write services a guest IO-port write. Offset 16 (queue notify) wakes
// IOThreadEntry via a non-blocking send: a guest that kicks twice before
// the device drains the first kick must not stall waiting on us, and a
// Write after Close must not panic, so the kick channel is never closed.
func (v *Blk) Write(port uint64, bytes []byte) error {
	offset := int(port - BlkIOPortStart)

	switch offset {
	case 8:
		// Queue PFN is aligned to page (4096 bytes)
		physAddr := uint32(pci.BytesToNum(bytes) * 4096)
		v.VirtQueue[v.Hdr.commonHeader.queueSEL] = (*VirtQueue)(unsafe.Pointer(&v.Mem[physAddr]))
	case 14:
		v.Hdr.commonHeader.queueSEL = uint16(pci.BytesToNum(bytes))
	case 16:
		select {
		case v.kick <- struct{}{}:
		default:
		}
	default:
	}

	return nil
}

func (v *Blk) IOOutHandler(port uint64, bytes []byte) error {
	return v.Write(port, bytes)
}

// IO services one pending request from VirtQueue[0]: it reads the
// BlkReq header, performs the sector read or write against the backing
// file, writes the status byte, advances the used ring, sets ISR, and
// raises the configured IRQ. It returns ErrNoRequest once the avail ring
// is caught up.
func (v *Blk) IO() error {
	vq := v.VirtQueue[0]
	if vq == nil {
		return errors.New("virtio-blk: queue not initialized")
	}

	if v.LastAvailIdx[0] == vq.AvailRing.Idx {
		return ErrNoRequest
	}

	headID := vq.AvailRing.Ring[v.LastAvailIdx[0]%QueueSize]
	hdrDesc := vq.DescTable[headID]
	dataDesc := vq.DescTable[hdrDesc.Next]
	statusDesc := vq.DescTable[dataDesc.Next]

	req := (*BlkReq)(unsafe.Pointer(&v.Mem[hdrDesc.Addr]))
	data := v.Mem[dataDesc.Addr : dataDesc.Addr+uint64(dataDesc.Len)]
	off := int64(req.Sector) * sectorSize

	var ioErr error

	switch req.Type {
	case blkReqTypeIn:
		_, ioErr = v.file.ReadAt(data, off)
	case blkReqTypeOut:
		_, ioErr = v.file.WriteAt(data, off)
	default:
		ioErr = errors.New("virtio-blk: unsupported request type")
	}

	status := byte(blkStatusOK)
	if ioErr != nil {
		status = blkStatusIOErr
	}

	v.Mem[statusDesc.Addr] = status

	vq.UsedRing.Ring[vq.UsedRing.Idx%QueueSize].Idx = uint32(headID)
	vq.UsedRing.Ring[vq.UsedRing.Idx%QueueSize].Len = dataDesc.Len
	vq.UsedRing.Idx++
	v.LastAvailIdx[0]++

	v.Hdr.commonHeader.isr = 1

	if v.IRQInjector != nil {
		_ = v.IRQInjector.InjectVirtioBlkIRQ()
	}

	return nil
}

// IOThreadEntry drains kicks, processing requests until IO reports none
// pending, and periodically re-injects the IRQ while ISR remains set (a
// guest can miss an edge-triggered line). It returns once Close closes
// done.
func (v *Blk) IOThreadEntry() {
	ticker := time.NewTicker(isrPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return
		case <-v.kick:
			for v.IO() == nil {
			}
		case <-ticker.C:
			if v.Hdr.commonHeader.isr != 0 && v.IRQInjector != nil {
				_ = v.IRQInjector.InjectVirtioBlkIRQ()
			}
		}
	}
}

// Close stops IOThreadEntry and releases the backing file. Closing done
// more than once would panic, so only the first call does that; every
// call still closes the file, so a second Close reports the standard
// "file already closed" error.
func (v *Blk) Close() error {
	v.closeOnce.Do(func() { close(v.done) })

	return v.file.Close()
}

// NewBlk opens diskPath as the backing store for a virtio-blk device
// operating on mem as guest memory, wired to irq/injector for interrupt
// delivery.
func NewBlk(diskPath string, irq uint8, injector IRQInjector, mem []byte) (*Blk, error) {
	f, err := os.OpenFile(diskPath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, err
	}

	capacity := uint64(fi.Size()) / sectorSize

	return &Blk{
		Hdr: blkHdr{
			commonHeader: commonHeader{
				queueNUM: QueueSize,
				isr:      0x0,
			},
			blkHeader: blkHeader{
				capacity: capacity,
			},
		},
		irq:          irq,
		IRQInjector:  injector,
		kick:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		file:         f,
		Mem:          mem,
		VirtQueue:    [1]*VirtQueue{},
		LastAvailIdx: [1]uint16{0},
	}, nil
}
