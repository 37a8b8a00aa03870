package loader

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/xtboot/xtkernel/bootinfo"
	"github.com/xtboot/xtkernel/dbgprint"
)

// loaderProtocolGUID identifies the public vtable of loader services
// installed during Main, per spec.md §4.13 ("install the loader protocol
// (the public vtable of all loader services)").
const loaderProtocolGUID GUID = "xtbl-loader-protocol"

// Environment is everything the loader core needs from firmware: console
// reset, the loaded image's command line and placement, SecureBoot state,
// and the watchdog disable call. Modeling EFI_SYSTEM_TABLE itself is out
// of scope; this is the seam a real UEFI binding (or a test double) fills
// in, the same pattern intctl.Registers and runlevel.CR8 use for their
// own hardware seams.
type Environment interface {
	ResetConsole() error
	LoadOptions() (string, error)
	OpenLoadedImage() (base, size uint64, err error)
	SecureBootStatus() (secureBoot, setupMode bool, err error)
	DisableWatchdog() error
}

// Loader is the loader-core's process-global state: image handle/system
// table analogues live behind Environment, and bootServicesAvailable
// tracks spec.md §4.13's "boot-services-available flag that is cleared
// before firmware exit."
type Loader struct {
	env Environment

	bootServicesAvailable bool

	Registry  *Registry
	Config    *Config
	Resources *bootinfo.ResourceList
	Debug     *dbgprint.Dispatcher
	Modules   *ModuleLoader

	ImageBase, ImageSize  uint64
	SecureBoot, SetupMode bool
	CommandLine           string
}

// New returns a Loader bound to env, with a fresh resource list tagged
// firmware.
func New(env Environment, firmware bootinfo.FirmwareType, modules *ModuleLoader) *Loader {
	return &Loader{
		env:       env,
		Registry:  NewRegistry(),
		Resources: bootinfo.NewResourceList(firmware),
		Debug:     &dbgprint.Dispatcher{},
		Modules:   modules,
	}
}

// Init runs spec.md §4.13's entry-point initialization sequence: console
// reset, protocol registry (already constructed by New), SecureBoot/
// SetupMode cross-check, and opening the loaded-image protocol to capture
// the loader's own base/size.
func (l *Loader) Init() error {
	l.bootServicesAvailable = true

	if err := l.env.ResetConsole(); err != nil {
		return fmt.Errorf("loader: reset console: %w", err)
	}

	secureBoot, setupMode, err := l.env.SecureBootStatus()
	if err != nil {
		return fmt.Errorf("loader: read SecureBoot status: %w", err)
	}

	l.SecureBoot, l.SetupMode = secureBoot, setupMode

	base, size, err := l.env.OpenLoadedImage()
	if err != nil {
		return fmt.Errorf("loader: open loaded image: %w", err)
	}

	l.ImageBase, l.ImageSize = base, size

	return nil
}

// Main runs spec.md §4.13's post-init sequence up through module load;
// block-device enumeration is EnumerateAndSelectBootVolume. cfg is the
// already-located configuration file; initDebug wires a DEBUG= selector
// into l.Debug. It is called exactly once: early with a nil selector when
// the command line carries DEBUG=1, otherwise after the config file is
// parsed, with the config's DEBUG= sinks.
func (l *Loader) Main(cfg io.Reader, initDebug func([]dbgprint.SinkSpec) error) error {
	cmdline, err := l.env.LoadOptions()
	if err != nil {
		return fmt.Errorf("loader: read load options: %w", err)
	}

	l.CommandLine = cmdline

	debugEarly := false
	if v, ok := bootinfo.GetKernelParameter(cmdline, "DEBUG"); ok && v == "1" {
		if err := initDebug(nil); err != nil {
			return fmt.Errorf("loader: early debug console init: %w", err)
		}

		debugEarly = true
	}

	config, err := ParseConfig(cfg)
	if err != nil {
		return fmt.Errorf("loader: parse config: %w", err)
	}

	l.Config = config

	if !debugEarly {
		if err := initDebug(config.Debug); err != nil {
			return fmt.Errorf("loader: debug console init: %w", err)
		}
	}

	if err := l.env.DisableWatchdog(); err != nil {
		return fmt.Errorf("loader: disable watchdog: %w", err)
	}

	if err := l.Registry.Install(loaderProtocolGUID, l); err != nil {
		return fmt.Errorf("loader: install loader protocol: %w", err)
	}

	if err := l.loadModules(config.Modules); err != nil {
		return err
	}

	return nil
}

// loadModules drives l.Modules over names, advancing a progress bar by
// one per loaded module. The bar writes to io.Discard, so no progress is
// displayed.
func (l *Loader) loadModules(names []string) error {
	if l.Modules == nil || len(names) == 0 {
		return nil
	}

	bar := progressbar.NewOptions(len(names),
		progressbar.OptionSetDescription("loading modules"),
		progressbar.OptionSetWriter(io.Discard),
	)

	for _, name := range names {
		if err := l.Modules.LoadModule(name); err != nil {
			return fmt.Errorf("loader: load module %q: %w", name, err)
		}

		_ = bar.Add(1)
	}

	return nil
}

// EnumerateAndSelectBootVolume runs block-device enumeration and picks
// the boot volume, the step spec.md §4.13 places between module loading
// and the boot-menu loop.
func (l *Loader) EnumerateAndSelectBootVolume(enumerator BlockDeviceEnumerator) (BlockDevice, error) {
	devices, err := EnumerateBlockDevices(enumerator)
	if err != nil {
		return BlockDevice{}, err
	}

	return SelectBootVolume(devices)
}

// RunBootMenu runs one iteration of spec.md §4.13's "infinite loop {show
// boot menu, fall through to shell}": invoke the selected entry's boot
// protocol. A real firmware binary wraps this call in its own forever
// loop; as a library call, one invocation is this package's testable
// unit, and a successful XTOS invocation never returns here anyway (it
// hands off to the kernel).
func (l *Loader) RunBootMenu(menu *Menu) error {
	return menu.Boot(l.Registry)
}

// ExitFirmware clears bootServicesAvailable and runs the boot-services
// exit retry loop, per spec.md §4.13 and §3's "boot-services-available
// flag that is cleared before firmware exit."
func (l *Loader) ExitFirmware(fw FirmwareServices) error {
	if err := ExitBootServices(fw); err != nil {
		return err
	}

	l.bootServicesAvailable = false

	return nil
}

// BootServicesAvailable reports whether firmware boot services are still
// callable.
func (l *Loader) BootServicesAvailable() bool {
	return l.bootServicesAvailable
}

// ModulesLoaded returns the module-info records loaded so far.
func (l *Loader) ModulesLoaded() []ModuleInfo {
	if l.Modules == nil {
		return nil
	}

	return l.Modules.Loaded
}
