// Package version provides the luahook version and the hook protocol
// compatibility check made when a front end attaches.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Version is the current version of luahook
	Version = "0.1.0"

	// ProtocolVersion is the hook protocol version reported to front ends.
	// Front ends send the version their adapter speaks in attach/launch.
	ProtocolVersion = "3.2.0"
)

// Compatibility is the result of comparing a front end's adapter version
// with ProtocolVersion
type Compatibility struct {
	Adapter    string `json:"adapterVersion"`
	Protocol   string `json:"protocolVersion"`
	Known      bool   `json:"known"`      // The adapter version could be parsed
	Compatible bool   `json:"compatible"` // Same major version
	Message    string `json:"message,omitempty"`
}

// CheckAdapter compares the adapter version announced by a front end with
// ProtocolVersion. An empty or unparseable version is reported as unknown
// and treated as compatible.
func CheckAdapter(adapter string) Compatibility {
	c := Compatibility{Adapter: adapter, Protocol: ProtocolVersion, Compatible: true}
	if strings.TrimSpace(adapter) == "" {
		return c
	}

	a, err := parse(adapter)
	if err != nil {
		c.Message = fmt.Sprintf("cannot check adapter version %q: %v", adapter, err)
		return c
	}
	p, _ := parse(ProtocolVersion)
	c.Known = true

	switch {
	case a[0] != p[0]:
		c.Compatible = false
		c.Message = fmt.Sprintf("adapter version %s is incompatible with hook protocol %s", adapter, ProtocolVersion)
	case compare(a, p) > 0:
		c.Message = fmt.Sprintf("adapter %s is newer than hook protocol %s; update luahook", adapter, ProtocolVersion)
	case compare(a, p) < 0:
		c.Message = fmt.Sprintf("adapter %s is older than hook protocol %s; update the adapter", adapter, ProtocolVersion)
	}
	return c
}

// parse reads a "major.minor.patch" version, with an optional "v" prefix
// and pre-release suffix
func parse(v string) ([3]int, error) {
	var out [3]int
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected major.minor.patch")
	}
	parts[2] = strings.SplitN(parts[2], "-", 2)[0]
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return out, fmt.Errorf("invalid component %q", part)
		}
		out[i] = n
	}
	return out, nil
}

func compare(a, b [3]int) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// GetVersion returns the current version
func GetVersion() string {
	return Version
}

// Banner is the one-line identification sent to front ends on initialize
func Banner() string {
	return fmt.Sprintf("luahook v%s (hook protocol %s)", Version, ProtocolVersion)
}
