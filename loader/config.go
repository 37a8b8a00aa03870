package loader

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xtboot/xtkernel/dbgprint"
)

// TuneEntry is one (tempo, pitch, duration) triplet from a TUNE= line, for
// the optional beep module spec.md §6 describes but treats as out of
// loader-core scope (§1); this package only parses the config value.
type TuneEntry struct {
	TempoMS    int
	PitchHz    int
	DurationMS int
}

// Config is the parsed form of the loader's KEY=VALUE configuration file.
type Config struct {
	Modules []string
	Debug   []dbgprint.SinkSpec
	Tune    []TuneEntry

	raw map[string]string
}

// Get returns the raw string value of an arbitrary KEY, for config
// directives this type does not otherwise model by name.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.raw[key]
	return v, ok
}

// ParseConfig reads a line-oriented loader configuration file: blank lines
// and lines starting with '#' are ignored, every other non-blank line must
// be KEY=VALUE. MODULES is space-separated, DEBUG is ';'-separated sink
// specifiers parsed the same way the kernel command line's DEBUG= value is
// (dbgprint.ParseDebugSelector), TUNE is a space-separated list of
// tempo/pitch/duration triplets.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := &Config{raw: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("loader: config line %d: missing '=': %q", lineNo, line)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		cfg.raw[key] = value

		switch key {
		case "MODULES":
			cfg.Modules = strings.Fields(value)
		case "DEBUG":
			specs, err := dbgprint.ParseDebugSelector(value)
			if err != nil {
				return nil, fmt.Errorf("loader: config line %d: %w", lineNo, err)
			}

			cfg.Debug = specs
		case "TUNE":
			tune, err := parseTune(value)
			if err != nil {
				return nil, fmt.Errorf("loader: config line %d: %w", lineNo, err)
			}

			cfg.Tune = tune
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseTune(value string) ([]TuneEntry, error) {
	fields := strings.Fields(value)
	if len(fields)%3 != 0 {
		return nil, fmt.Errorf("loader: TUNE value must be a multiple of 3 fields, got %d", len(fields))
	}

	entries := make([]TuneEntry, 0, len(fields)/3)

	for i := 0; i < len(fields); i += 3 {
		tempo, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("loader: TUNE tempo %q: %w", fields[i], err)
		}

		pitch, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("loader: TUNE pitch %q: %w", fields[i+1], err)
		}

		duration, err := strconv.Atoi(fields[i+2])
		if err != nil {
			return nil, fmt.Errorf("loader: TUNE duration %q: %w", fields[i+2], err)
		}

		entries = append(entries, TuneEntry{TempoMS: tempo, PitchHz: pitch, DurationMS: duration})
	}

	return entries, nil
}
