// Package loader implements spec.md §4.13's UEFI boot loader core: the
// protocol registry, configuration-file parser, module loader, random-number
// service, memory allocator and page-map hand-off, and the boot-services
// exit retry loop. It mirrors vmm.VMM's Init/Setup/Boot phase split
// (loader.go), one phase per stage of the control flow in spec.md §2.
package loader

import (
	"container/list"
	"fmt"
)

// GUID identifies a protocol, matching the firmware's 128-bit protocol
// identifier. Represented as a plain string key (rather than a [16]byte)
// since every caller in this package spells GUIDs as literals.
type GUID string

// Protocol is {GUID, interface pointer} per spec.md §4.13.
type Protocol struct {
	ID        GUID
	Interface interface{}
}

var (
	// ErrProtocolNotFound is returned when no protocol is registered
	// under the requested GUID.
	ErrProtocolNotFound = fmt.Errorf("loader: protocol not found")
	// ErrAlreadyInstalled is returned by Install for a GUID that is
	// already registered.
	ErrAlreadyInstalled = fmt.Errorf("loader: protocol already installed")
	// ErrUnbalancedClose is returned by Close when the open count is
	// already zero.
	ErrUnbalancedClose = fmt.Errorf("loader: unbalanced protocol close")
	// ErrBootProtocolNotFound is returned by InvokeBootProtocol for an
	// unregistered short name.
	ErrBootProtocolNotFound = fmt.Errorf("loader: boot protocol not found")
)

type registryEntry struct {
	proto     Protocol
	openCount int
}

// BootProtocolHandler invokes a named boot protocol (e.g. "XTOS") with the
// options string captured from the boot-menu entry.
type BootProtocolHandler func(options string) error

// Registry is the loader's protocol registry: an intrusive doubly-linked
// list of installed protocols (container/list, the same list type
// ksync.Semaphore's wait queue already uses for this repo's intrusive
// lists), plus the boot-protocol short-name → GUID side table spec.md
// §4.13 describes for invoke_boot_protocol.
type Registry struct {
	entries *list.List // of *registryEntry
	byID    map[GUID]*list.Element

	bootProtocols map[string]GUID
	bootHandlers  map[GUID]BootProtocolHandler
}

// NewRegistry returns an empty protocol registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:       list.New(),
		byID:          make(map[GUID]*list.Element),
		bootProtocols: make(map[string]GUID),
		bootHandlers:  make(map[GUID]BootProtocolHandler),
	}
}

// Install publishes a protocol interface under id, mirroring
// EFI_BOOT_SERVICES.InstallProtocolInterface.
func (r *Registry) Install(id GUID, iface interface{}) error {
	if _, ok := r.byID[id]; ok {
		return ErrAlreadyInstalled
	}

	elem := r.entries.PushBack(&registryEntry{proto: Protocol{ID: id, Interface: iface}})
	r.byID[id] = elem

	return nil
}

// Open returns the interface registered under id and bumps its open
// count; every successful Open must be balanced by a Close.
func (r *Registry) Open(id GUID) (interface{}, error) {
	elem, ok := r.byID[id]
	if !ok {
		return nil, ErrProtocolNotFound
	}

	entry := elem.Value.(*registryEntry)
	entry.openCount++

	return entry.proto.Interface, nil
}

// Close balances a prior Open.
func (r *Registry) Close(id GUID) error {
	elem, ok := r.byID[id]
	if !ok {
		return ErrProtocolNotFound
	}

	entry := elem.Value.(*registryEntry)
	if entry.openCount <= 0 {
		return ErrUnbalancedClose
	}

	entry.openCount--

	return nil
}

// OpenCount reports id's current balance, for tests and diagnostics.
func (r *Registry) OpenCount(id GUID) (int, error) {
	elem, ok := r.byID[id]
	if !ok {
		return 0, ErrProtocolNotFound
	}

	return elem.Value.(*registryEntry).openCount, nil
}

// RegisterBootProtocol maps a short name (as it would appear in a boot-menu
// entry, e.g. "XTOS") to the GUID whose interface is a BootProtocolHandler.
func (r *Registry) RegisterBootProtocol(name string, id GUID, handler BootProtocolHandler) {
	r.bootProtocols[name] = id
	r.bootHandlers[id] = handler
}

// InvokeBootProtocol resolves name to its GUID and runs the handler with
// options, per spec.md §4.13's invoke_boot_protocol("XTOS", options).
func (r *Registry) InvokeBootProtocol(name, options string) error {
	id, ok := r.bootProtocols[name]
	if !ok {
		return ErrBootProtocolNotFound
	}

	handler, ok := r.bootHandlers[id]
	if !ok {
		return ErrBootProtocolNotFound
	}

	return handler(options)
}
