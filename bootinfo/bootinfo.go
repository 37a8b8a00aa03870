// Package bootinfo implements spec.md §4.12: the kernel-side consumer
// of what the loader hands off at kernel entry — the command-line
// parameter search, the firmware type and debug-print callback the
// loader installed, and the handoff resource list (ACPI tables,
// framebuffer info) the kernel adopts into its own private list.
package bootinfo

import (
	"encoding/binary"
	"fmt"

	"github.com/xtboot/xtkernel/ksync"
)

// GetKernelParameter performs the case-insensitive token search of
// spec.md §4.12: a match must begin at string start or after a space,
// and end at string end, a space, or '='. It returns the substring of
// cmdline starting at the first character of the matched token — the
// Go analogue of the C contract's "pointer to the first character",
// letting the caller parse a '='-delimited value the same way.
func GetKernelParameter(cmdline, name string) (string, bool) {
	if name == "" {
		return "", false
	}

	lowerCmd := toLower(cmdline)
	lowerName := toLower(name)

	searchFrom := 0

	for {
		idx := indexOf(lowerCmd[searchFrom:], lowerName)
		if idx < 0 {
			return "", false
		}

		pos := searchFrom + idx
		end := pos + len(lowerName)

		startOK := pos == 0 || cmdline[pos-1] == ' '
		endOK := end == len(cmdline) || cmdline[end] == ' ' || cmdline[end] == '='

		if startOK && endOK {
			return cmdline[pos:], true
		}

		searchFrom = pos + 1
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}

	return string(b)
}

func indexOf(s, substr string) int {
	if len(substr) == 0 {
		return 0
	}

	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}

	return -1
}

// FirmwareType is the enum get_firmware_type returns.
type FirmwareType uint8

const (
	FirmwareBIOS FirmwareType = iota
	FirmwareUEFI
)

// DebugPrintFunc is the loader-provided debug print callback exposed by
// get_debug_print, used before the kernel's own dbgprint dispatcher is
// initialized.
type DebugPrintFunc func(format string, args ...interface{})

// ResourceType names one kind of handoff resource. Expected payload
// sizes are derived from the Go structs below via encoding/binary.Size,
// the header-validation spec.md §4.12 calls for without needing a
// separately maintained size table.
type ResourceType uint32

const (
	ResourceACPI ResourceType = iota + 1
	ResourceFramebuffer
)

// ACPIInfo is the payload of a ResourceACPI handoff entry. RSDPAddress
// points at the guest-physical XSDT flag.buildACPITables assembles from
// the acpi package's table encoder (intctl.BuildMADT's MADT wrapped in
// an acpi.XSDT) — this struct only carries the pointer the kernel-side
// table walk starts from, not the tables themselves.
type ACPIInfo struct {
	RSDPAddress uint64
}

// FramebufferInfo is the payload of a ResourceFramebuffer handoff
// entry; fbconsole consumes exactly this shape.
type FramebufferInfo struct {
	Base                      uint64
	Pitch, Width, Height, BPP uint32
}

var expectedSize = map[ResourceType]int{
	ResourceACPI:        binary.Size(ACPIInfo{}),
	ResourceFramebuffer: binary.Size(FramebufferInfo{}),
}

// HandoffEntry is one loader-owned resource before validation: raw
// bytes tagged with a declared type.
type HandoffEntry struct {
	Type ResourceType
	Data []byte
}

// Resource is one kernel-owned resource after it has been validated and
// moved into the kernel's private list.
type Resource struct {
	Type   ResourceType
	Data   []byte
	Locked bool
}

var (
	// ErrResourceNotFound is returned by AcquireResource/GetResource
	// when no resource of the requested type is present.
	ErrResourceNotFound = fmt.Errorf("bootinfo: resource not found")
	// ErrResourceLocked is returned by AcquireResource when a resource
	// of the requested type exists but every instance is already locked.
	ErrResourceLocked = fmt.Errorf("bootinfo: resource locked")
)

// ResourceList is the kernel's private resource list, guarded by the
// resources spinlock spec.md §4.12 requires around acquire/get/release.
type ResourceList struct {
	mu         ksync.Spinlock
	resources  []*Resource
	firmware   FirmwareType
	debugPrint DebugPrintFunc
}

// NewResourceList returns an empty list for the given firmware type.
func NewResourceList(firmware FirmwareType) *ResourceList {
	return &ResourceList{firmware: firmware}
}

// FirmwareType implements get_firmware_type().
func (l *ResourceList) FirmwareType() FirmwareType { return l.firmware }

// SetDebugPrint installs the loader-provided debug print callback.
func (l *ResourceList) SetDebugPrint(fn DebugPrintFunc) { l.debugPrint = fn }

// DebugPrint implements get_debug_print().
func (l *ResourceList) DebugPrint() DebugPrintFunc { return l.debugPrint }

// Resources implements get_system_resources(): the current list, as a
// snapshot slice rather than a mutable intrusive list head.
func (l *ResourceList) Resources() []*Resource {
	out := make([]*Resource, len(l.resources))
	copy(out, l.resources)

	return out
}

// InitializeSystemResources walks the loader's handoff entries; for
// each one, it validates the payload length against the size expected
// for the declared type and, if valid, appends it to the kernel's
// private list under the resources spinlock. It returns the number of
// entries accepted.
func (l *ResourceList) InitializeSystemResources(handoff []HandoffEntry) int {
	l.mu.Acquire()
	defer l.mu.Release()

	accepted := 0

	for _, e := range handoff {
		want, known := expectedSize[e.Type]
		if !known || len(e.Data) != want {
			continue
		}

		data := make([]byte, len(e.Data))
		copy(data, e.Data)

		l.resources = append(l.resources, &Resource{Type: e.Type, Data: data})
		accepted++
	}

	return accepted
}

// AcquireResource finds the first unlocked resource of type t, marks it
// locked and returns it. If every resource of that type is already
// locked it returns ErrResourceLocked; if none exist at all it returns
// ErrResourceNotFound.
func (l *ResourceList) AcquireResource(t ResourceType) (*Resource, error) {
	l.mu.Acquire()
	defer l.mu.Release()

	sawLocked := false

	for _, r := range l.resources {
		if r.Type != t {
			continue
		}

		if r.Locked {
			sawLocked = true

			continue
		}

		r.Locked = true

		return r, nil
	}

	if sawLocked {
		return nil, ErrResourceLocked
	}

	return nil, ErrResourceNotFound
}

// GetResource is AcquireResource without taking the lock on the result.
func (l *ResourceList) GetResource(t ResourceType) (*Resource, error) {
	l.mu.Acquire()
	defer l.mu.Release()

	for _, r := range l.resources {
		if r.Type == t {
			return r, nil
		}
	}

	return nil, ErrResourceNotFound
}

// ReleaseResource clears Locked under the resources spinlock.
func (l *ResourceList) ReleaseResource(r *Resource) {
	l.mu.Acquire()
	defer l.mu.Release()

	r.Locked = false
}
