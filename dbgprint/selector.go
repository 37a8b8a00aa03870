package dbgprint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xtboot/xtkernel/bootinfo"
)

// SinkKind names the kind of sink a DEBUG= command-line token selects.
type SinkKind uint8

const (
	SinkCOM SinkKind = iota
	SinkScreen
)

// defaultBaud is used for a COMn token with no explicit baud.
const defaultBaud = 115200

// SinkSpec is one parsed DEBUG= token: `COMn[,baud]`, `COM0:0xADDR,baud`
// or `SCREEN`.
type SinkSpec struct {
	Kind SinkKind

	// ComIndex is the n in COMn (1-based); meaningless for SinkScreen.
	ComIndex int
	// Addr is the explicit I/O base from a COM0:0xADDR token; zero when
	// the token instead names a well-known COMn port.
	Addr uint64
	Baud uint32
}

// ParseDebugSelector parses the `;`-separated DEBUG= value (without the
// "DEBUG=" prefix) into one SinkSpec per token.
func ParseDebugSelector(value string) ([]SinkSpec, error) {
	var specs []SinkSpec

	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		spec, err := parseToken(part)
		if err != nil {
			return nil, err
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

func parseToken(tok string) (SinkSpec, error) {
	if strings.EqualFold(tok, "SCREEN") {
		return SinkSpec{Kind: SinkScreen}, nil
	}

	upper := strings.ToUpper(tok)
	if !strings.HasPrefix(upper, "COM") {
		return SinkSpec{}, fmt.Errorf("dbgprint: unrecognized DEBUG token %q", tok)
	}

	rest := tok[len("COM"):]

	var numPart, addrPart, baudPart string

	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		numPart, rest = rest[:idx], rest[idx+1:]

		if c := strings.IndexByte(rest, ','); c >= 0 {
			addrPart, baudPart = rest[:c], rest[c+1:]
		} else {
			addrPart = rest
		}
	} else if c := strings.IndexByte(rest, ','); c >= 0 {
		numPart, baudPart = rest[:c], rest[c+1:]
	} else {
		numPart = rest
	}

	n, err := strconv.Atoi(numPart)
	if err != nil {
		return SinkSpec{}, fmt.Errorf("dbgprint: bad COM index in %q: %w", tok, err)
	}

	spec := SinkSpec{Kind: SinkCOM, ComIndex: n, Baud: defaultBaud}

	if addrPart != "" {
		addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(addrPart), "0x"), 16, 64)
		if err != nil {
			return SinkSpec{}, fmt.Errorf("dbgprint: bad address in %q: %w", tok, err)
		}

		spec.Addr = addr
	}

	if baudPart != "" {
		baud, err := strconv.Atoi(baudPart)
		if err != nil {
			return SinkSpec{}, fmt.Errorf("dbgprint: bad baud in %q: %w", tok, err)
		}

		spec.Baud = uint32(baud)
	}

	return spec, nil
}

// SelectorFromCommandLine looks up DEBUG on cmdline via
// bootinfo.GetKernelParameter and parses its value. ok is false if
// DEBUG is absent or has no '=value'.
func SelectorFromCommandLine(cmdline string) (specs []SinkSpec, ok bool) {
	tok, found := bootinfo.GetKernelParameter(cmdline, "DEBUG")
	if !found {
		return nil, false
	}

	eq := strings.IndexByte(tok, '=')
	if eq < 0 {
		return nil, false
	}

	val := tok[eq+1:]
	if sp := strings.IndexByte(val, ' '); sp >= 0 {
		val = val[:sp]
	}

	parsed, err := ParseDebugSelector(val)
	if err != nil {
		return nil, false
	}

	return parsed, true
}
