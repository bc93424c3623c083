package hook

import (
	"sort"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/pkg/types"
)

// BreakpointTable maps normalized path -> line -> descriptor.
// It is only ever replaced wholesale.
type BreakpointTable struct {
	files map[string]map[int]types.BreakpointSpec
	total int
}

// NewBreakpointTable returns an empty table
func NewBreakpointTable() *BreakpointTable {
	return &BreakpointTable{files: make(map[string]map[int]types.BreakpointSpec)}
}

// ReplaceAll validates src completely and then swaps it in. On error the
// previous contents are kept.
func (t *BreakpointTable) ReplaceAll(src map[string]map[int]types.BreakpointSpec) error {
	next := make(map[string]map[int]types.BreakpointSpec, len(src))
	total := 0

	for path, lines := range src {
		if path == "" {
			return errors.BreakpointSyncInvalid(path, 0, "empty source path")
		}
		if len(lines) == 0 {
			continue
		}
		byLine := make(map[int]types.BreakpointSpec, len(lines))
		for line, spec := range lines {
			if line <= 0 {
				return errors.BreakpointSyncInvalid(path, line, "line must be positive")
			}
			spec = spec.Normalize()
			switch spec.Kind {
			case types.BreakpointLine:
			case types.BreakpointCondition:
				if spec.Condition == "" {
					return errors.BreakpointSyncInvalid(path, line, "condition breakpoint without expression")
				}
			case types.BreakpointLogPoint:
				if spec.LogMessage == "" {
					return errors.BreakpointSyncInvalid(path, line, "log point without message")
				}
			default:
				return errors.BreakpointSyncInvalid(path, line, "unknown kind "+string(spec.Kind))
			}
			spec.Line = line
			byLine[line] = spec
		}
		next[path] = byLine
		total += len(byLine)
	}

	t.files = next
	t.total = total
	return nil
}

// Lookup returns the breakpoint at (path, line)
func (t *BreakpointTable) Lookup(path string, line int) (types.BreakpointSpec, bool) {
	spec, ok := t.files[path][line]
	return spec, ok
}

// FileHasAny reports whether path has at least one breakpoint
func (t *BreakpointTable) FileHasAny(path string) bool {
	return len(t.files[path]) > 0
}

// AnyExists reports whether any breakpoint is set
func (t *BreakpointTable) AnyExists() bool {
	return t.total > 0
}

// HasLineInside reports whether path has a breakpoint strictly between lo and hi
func (t *BreakpointTable) HasLineInside(path string, lo, hi int) bool {
	for line := range t.files[path] {
		if line > lo && line < hi {
			return true
		}
	}
	return false
}

// Len returns the total number of breakpoints
func (t *BreakpointTable) Len() int {
	return t.total
}

// Clear removes every breakpoint
func (t *BreakpointTable) Clear() {
	t.files = make(map[string]map[int]types.BreakpointSpec)
	t.total = 0
}

// Lines returns the sorted breakpoint lines of path
func (t *BreakpointTable) Lines(path string) []int {
	lines := make([]int, 0, len(t.files[path]))
	for line := range t.files[path] {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}
