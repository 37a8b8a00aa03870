package intctl

import (
	"fmt"

	"github.com/xtboot/xtkernel/acpi"
	"github.com/xtboot/xtkernel/ebda"
)

// BuildMADT assembles spec.md §4.8's local-APIC/IO-APIC enumeration as a
// real ACPI MADT: one LocalAPIC record per CPU this package's Enable/
// Init sequence brings up, plus the single IO-APIC this host-side model
// exposes at ebda.IOAPICDefaultPhysBase. It is a thin caller of the
// acpi package's table encoder rather than a second ad hoc byte layout
// here — the bytes it returns are what a ResourceACPI handoff entry
// (bootinfo.ACPIInfo) ultimately points the kernel at.
func BuildMADT(cpuCount int, ioAPICID uint8, oemID, oemTableID string) ([]byte, error) {
	if cpuCount <= 0 {
		return nil, fmt.Errorf("intctl: BuildMADT: cpuCount must be positive, got %d", cpuCount)
	}

	m := &acpi.MADT{
		Header: acpi.Header{
			Signature:  acpi.SigAPIC.ToBytes(),
			Rev:        3,
			OEMId:      fixedID6(oemID),
			OEMTableID: fixedID8(oemTableID),
			CreatorID:  fixedID4("GACT"),
			CreatorRev: 1,
		},
	}

	for cpu := 0; cpu < cpuCount; cpu++ {
		m.AddAPIC(&acpi.LocalAPIC{
			Type:        acpi.TypeLocalAPIC,
			Length:      8,
			ProcessorID: uint8(cpu),
			APICId:      uint8(cpu),
			Flags:       1, // enabled
		})
	}

	m.AddAPIC(&acpi.IOAPIC{
		Type:        acpi.TypeIOAPIC,
		Length:      12,
		IOAPICID:    ioAPICID,
		APICAddress: uint32(ebda.IOAPICDefaultPhysBase),
	})

	b, err := m.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("intctl: BuildMADT: encode: %w", err)
	}

	m.Header.Length = uint32(len(b))

	if err := m.Checksum(); err != nil {
		return nil, fmt.Errorf("intctl: BuildMADT: checksum: %w", err)
	}

	return m.ToBytes()
}

// fixedID6/8/4 left-justify s into a fixed-size byte array the way
// acpi.Header's OEMId/OEMTableID/CreatorID fields are encoded, padding
// with NUL rather than panicking on a short string the way the
// package-private conversion helpers in acpi/header.go do.
func fixedID6(s string) [6]byte { var a [6]byte; copy(a[:], s); return a }
func fixedID8(s string) [8]byte { var a [8]byte; copy(a[:], s); return a }
func fixedID4(s string) [4]byte { var a [4]byte; copy(a[:], s); return a }
