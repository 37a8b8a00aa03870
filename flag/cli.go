package flag

// CLI is the kong root command. It is split out from flag.go's stdlib
// flag.FlagSet parser (ParseArgs, kept for callers that
// still want a bare []string parse) because Parse in runs.go drives
// subcommands through kong's struct-tag dispatch instead.
type CLI struct {
	Boot    BootCMD    `cmd:"" help:"boot a kernel image through the vCPU"`
	Probe   ProbeCMD   `cmd:"" help:"probe /dev/kvm capabilities"`
	BringUp BringUpCMD `cmd:"" help:"run the UEFI-style loader, then the kernel bring-up sequence, end to end"`
}

// BootCMD mirrors BootArgs with kong struct tags so the same flags are
// reachable from either parser.
type BootCMD struct {
	Dev        string `short:"D" default:"/dev/kvm" help:"path of kvm device"`
	Kernel     string `short:"k" default:"./bzImage" help:"kernel image path"`
	Initrd     string `short:"i" default:"" help:"initrd path"`
	Params     string `short:"p" default:"" help:"kernel command-line parameters"`
	TapIfName  string `short:"t" default:"" help:"name of tap interface; empty means none"`
	Disk       string `short:"d" default:"" help:"path of disk file (for /dev/vda)"`
	NCPUs      int    `short:"c" default:"1" help:"number of cpus"`
	MemSize    string `short:"m" default:"1G" help:"memory size: as number[gGmM], defaults to G"`
	TraceCount string `short:"T" default:"0" help:"instructions to skip between trace prints; 0 disables tracing"`
}

// ProbeCMD takes no flags; Run probes /dev/kvm capabilities.
type ProbeCMD struct{}

// BringUpCMD drives the loader (protocol registry, module load,
// exit-boot-services) and then the kernel bring-up sequence (PIC/APIC
// init, ACPI table hand-off, run-level raise and lower) against one vCPU,
// per spec.md's boot control-flow (§2). It does not build a page map and
// does not enter an idle loop.
type BringUpCMD struct {
	Dev         string `short:"D" default:"/dev/kvm" help:"path of kvm device"`
	Config      string `short:"f" default:"./loader.cfg" help:"loader configuration file"`
	MemSize     string `short:"m" default:"256M" help:"guest memory size: as number[gGmM]"`
	DebugSerial bool   `short:"s" help:"enable the DEBUG=COM1 debug-print sink"`
}
