package loader

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// MenuEntry is one boot-menu entry: a display name, the short boot
// protocol name to invoke (as registered via Registry.RegisterBootProtocol,
// e.g. "XTOS"), and the options string passed through to it. spec.md §4.13
// describes the boot-menu driver's behavior ("show boot menu, fall through
// to shell") but not its on-disk entry format, so this supplements the
// spec with a small YAML manifest in the teacher's config-file style
// rather than inventing an ad hoc text format.
type MenuEntry struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"`
	Options  string `yaml:"options"`
}

// Menu is an ordered list of boot-menu entries plus the index selected by
// default when nothing overrides it (e.g. a timeout firing).
type Menu struct {
	Entries []MenuEntry `yaml:"entries"`
	Default int         `yaml:"default"`
}

// ErrEmptyMenu is returned by ParseMenu for a manifest with no entries.
var ErrEmptyMenu = fmt.Errorf("loader: boot menu has no entries")

// ParseMenu reads a YAML boot-menu manifest.
func ParseMenu(r io.Reader) (*Menu, error) {
	var m Menu

	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("loader: parse boot menu: %w", err)
	}

	if len(m.Entries) == 0 {
		return nil, ErrEmptyMenu
	}

	if m.Default < 0 || m.Default >= len(m.Entries) {
		return nil, fmt.Errorf("loader: boot menu default index %d out of range [0,%d)", m.Default, len(m.Entries))
	}

	return &m, nil
}

// Selected returns the default entry. A real boot menu also accepts
// interactive selection from the console; that keyboard-driven UI is the
// loader-core's "shell" fallback spec.md §4.13 treats as the loop's other
// branch, not part of this package's tested surface.
func (m *Menu) Selected() MenuEntry {
	return m.Entries[m.Default]
}

// Boot invokes the selected entry's protocol through registry.
func (m *Menu) Boot(registry *Registry) error {
	entry := m.Selected()

	return registry.InvokeBootProtocol(entry.Protocol, entry.Options)
}
