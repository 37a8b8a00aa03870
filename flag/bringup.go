package flag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/xtboot/xtkernel/acpi"
	"github.com/xtboot/xtkernel/bootinfo"
	"github.com/xtboot/xtkernel/dbgprint"
	"github.com/xtboot/xtkernel/intctl"
	"github.com/xtboot/xtkernel/loader"
	"github.com/xtboot/xtkernel/machine"
	"github.com/xtboot/xtkernel/runlevel"
	"github.com/xtboot/xtkernel/serial"
)

// acpiMADTAddr is the guest-physical address buildACPITables places the
// MADT at, and acpiXSDTAddr the address it places the XSDT at — both in
// the BIOS read-only area (0xE0000-0xFFFFF) real firmware conventionally
// reserves for ACPI table discovery, just below memory's 1MB
// (highMemBase) boundary so they never collide with the loader's own
// placement of modules above it.
const (
	acpiMADTAddr = 0x000EA000
	acpiXSDTAddr = 0x000EB000
)

// buildACPITables assembles a real MADT (intctl.BuildMADT, one LocalAPIC
// per CPU brought up plus the IO-APIC) and wraps it in an XSDT (acpi
// package), copies both into guest memory, and returns the ResourceACPI
// handoff entry bootinfo.ResourceList.InitializeSystemResources expects
// — RSDPAddress points directly at the XSDT since this model, like the
// acpi package itself, does not separately construct an RSDP structure.
func buildACPITables(mem []byte, cpuCount int) (bootinfo.HandoffEntry, error) {
	madt, err := intctl.BuildMADT(cpuCount, 0, "XTBOOT", "XTKERNEL")
	if err != nil {
		return bootinfo.HandoffEntry{}, fmt.Errorf("bring-up: build MADT: %w", err)
	}

	if acpiXSDTAddr+len(madt) > len(mem) {
		return bootinfo.HandoffEntry{}, fmt.Errorf("bring-up: guest memory too small for ACPI tables")
	}

	copy(mem[acpiMADTAddr:], madt)

	xsdt := acpi.NewXSDT("XTBOOT", "XTKERNEL", "GACT")
	xsdt.AddEntry(acpiMADTAddr)
	xsdt.Header.Length = uint32(36 + 8*len(xsdt.Entries))

	if err := xsdt.Checksum(); err != nil {
		return bootinfo.HandoffEntry{}, fmt.Errorf("bring-up: checksum XSDT: %w", err)
	}

	xsdtBytes, err := xsdt.ToBytes()
	if err != nil {
		return bootinfo.HandoffEntry{}, fmt.Errorf("bring-up: encode XSDT: %w", err)
	}

	copy(mem[acpiXSDTAddr:], xsdtBytes)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, bootinfo.ACPIInfo{RSDPAddress: acpiXSDTAddr}); err != nil {
		return bootinfo.HandoffEntry{}, fmt.Errorf("bring-up: encode ACPI resource: %w", err)
	}

	return bootinfo.HandoffEntry{Type: bootinfo.ResourceACPI, Data: buf.Bytes()}, nil
}

// serialPortAdapter lets serial.Serial, whose In/Out methods predate
// ioport.PortDevice, satisfy it for serial.Driver's comport programming.
type serialPortAdapter struct {
	s *serial.Serial
}

func (a serialPortAdapter) Read(port uint64, data []byte) error  { return a.s.In(port, data) }
func (a serialPortAdapter) Write(port uint64, data []byte) error { return a.s.Out(port, data) }

// legacyPICRegisters is a register-file stand-in for the legacy 8259
// pair. CreateIRQChip gives the vCPU an in-kernel PIC that intercepts
// guest port I/O before it ever reaches userspace, so there is no real
// userspace-addressable 8259 left for InitPIC to program against in
// this host-side model. This stub exists so the ICW/OCW byte sequence
// still runs and is inspectable, the same stand-in role hostFirmware-
// Environment and legacyPICRegisters' neighbors fill for their own
// unavailable hardware seams.
type legacyPICRegisters struct {
	regs map[uint64]byte
}

func newLegacyPICRegisters() *legacyPICRegisters {
	return &legacyPICRegisters{regs: make(map[uint64]byte)}
}

func (p *legacyPICRegisters) Read(port uint64, data []byte) error {
	for i := range data {
		data[i] = p.regs[port+uint64(i)]
	}

	return nil
}

func (p *legacyPICRegisters) Write(port uint64, data []byte) error {
	for i, b := range data {
		p.regs[port+uint64(i)] = b
	}

	return nil
}

// hostFirmwareEnvironment is the minimal loader.Environment a host-side
// bring-up run provides in place of real UEFI firmware: a fixed command
// line and trivial loaded-image/SecureBoot/watchdog answers, the seam
// loader.Environment's own doc comment calls out as where "a real UEFI
// binding (or a test double)" plugs in.
type hostFirmwareEnvironment struct {
	cmdline string
}

func (e hostFirmwareEnvironment) ResetConsole() error { return nil }

func (e hostFirmwareEnvironment) LoadOptions() (string, error) { return e.cmdline, nil }

func (e hostFirmwareEnvironment) OpenLoadedImage() (base, size uint64, err error) {
	return 0, 0, nil
}

func (e hostFirmwareEnvironment) SecureBootStatus() (secureBoot, setupMode bool, err error) {
	return false, false, nil
}

func (e hostFirmwareEnvironment) DisableWatchdog() error { return nil }

// hostFirmwareServices is the ExitBootServices seam's stand-in: a
// single-entry memory map that always accepts the exit call on the
// first attempt, since a bring-up run never shares its memory map with
// another firmware agent the way real concurrent boot services would.
type hostFirmwareServices struct{}

func (hostFirmwareServices) GetMemoryMap() (loader.MemoryMap, error) {
	return loader.MemoryMap{Key: 1}, nil
}

func (hostFirmwareServices) ExitBootServices(mapKey uint64) error { return nil }

// noVolume and noPECOFF are the ModuleLoader seams for the filesystem
// driver and PE/COFF relocator, both explicitly out of loader-core
// scope (loader.Volume, loader.PECOFFLoader); BringUpCMD wires a
// ModuleLoader so loadModules runs end to end when the config file
// names no modules, and surfaces a clear error the moment one is named.
type noVolume struct{}

func (noVolume) ReadModule(name string) ([]byte, error) {
	return nil, fmt.Errorf("bring-up: no boot-volume filesystem driver wired for module %q", name)
}

type noPECOFF struct{}

func (noPECOFF) Relocate(image []byte, base uint64) (uint64, error) {
	return 0, errors.New("bring-up: no PE/COFF loader wired")
}

// Run drives the loader (spec.md §4.13) through module load and
// ExitBootServices, then the kernel bring-up sequence (§4.8 PIC/APIC
// init, §4.9 run-level lower) against CPU 0 — the loader-to-kernel
// handoff BootCMD.Run's vmm.VMM.Init/Setup/Boot sequence never exercises
// on its own, since that path boots a real Linux image instead.
func (b *BringUpCMD) Run() error {
	memSize, err := ParseSize(b.MemSize, "m")
	if err != nil {
		return err
	}

	m, err := machine.New(b.Dev, 1, "", "", memSize)
	if err != nil {
		return fmt.Errorf("bring-up: create machine: %w", err)
	}

	cfgFile, err := os.Open(b.Config)
	if err != nil {
		return fmt.Errorf("bring-up: open loader config: %w", err)
	}
	defer cfgFile.Close()

	modules := loader.NewModuleLoader(noVolume{}, noPECOFF{}, nil, nil)
	ld := loader.New(hostFirmwareEnvironment{cmdline: "console=ttyS0"}, bootinfo.FirmwareUEFI, modules)

	if err := ld.Init(); err != nil {
		return fmt.Errorf("bring-up: loader init: %w", err)
	}

	var serialDriver *serial.Driver

	initDebug := func(specs []dbgprint.SinkSpec) error {
		if !b.DebugSerial {
			return nil
		}

		if serialDriver != nil {
			return nil
		}

		ser, err := serial.New(m)
		if err != nil {
			return err
		}

		serialDriver = serial.NewDriver(serialPortAdapter{ser}, serial.COM1Addr)

		if err := serialDriver.InitializeComport(115200); err != nil {
			return fmt.Errorf("init COM1: %w", err)
		}

		driver := serialDriver
		ld.Debug.Register(&dbgprint.Sink{
			Name:  "COM1",
			Write: func(r rune) error { return driver.PutByte(byte(r)) },
		})

		return nil
	}

	if err := ld.Main(cfgFile, initDebug); err != nil {
		return fmt.Errorf("bring-up: loader main: %w", err)
	}

	if err := ld.ExitFirmware(hostFirmwareServices{}); err != nil {
		return fmt.Errorf("bring-up: exit firmware: %w", err)
	}

	_ = ld.Debug.Printf("xtkernel bring-up: %d module(s) loaded\n", len(ld.ModulesLoaded()))

	vcpuFd, err := m.CPUToFD(0)
	if err != nil {
		return fmt.Errorf("bring-up: vcpu fd: %w", err)
	}

	if err := intctl.InitPIC(newLegacyPICRegisters()); err != nil {
		return fmt.Errorf("bring-up: init PIC: %w", err)
	}

	mode := intctl.DetectMode()

	if err := intctl.Enable(vcpuFd, mode, 0); err != nil {
		return fmt.Errorf("bring-up: enable APIC: %w", err)
	}

	var regs intctl.Registers
	if mode == intctl.ModeX2APIC {
		regs = intctl.NewX2APICRegisters(vcpuFd)
	} else {
		regs = intctl.NewXAPICRegisters(m.Mem())
	}

	if err := intctl.Init(regs, mode, 0); err != nil {
		return fmt.Errorf("bring-up: init APIC: %w", err)
	}

	acpiEntry, err := buildACPITables(m.Mem(), 1)
	if err != nil {
		return err
	}

	if n := ld.Resources.InitializeSystemResources([]bootinfo.HandoffEntry{acpiEntry}); n != 1 {
		return fmt.Errorf("bring-up: ACPI handoff entry rejected")
	}

	rl := runlevel.NewManager(vcpuFd)

	if _, err := rl.Raise(runlevel.High); err != nil {
		return fmt.Errorf("bring-up: raise run-level: %w", err)
	}

	if err := rl.Lower(runlevel.Passive); err != nil {
		return fmt.Errorf("bring-up: lower run-level: %w", err)
	}

	return nil
}
