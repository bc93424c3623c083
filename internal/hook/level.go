package hook

import "github.com/ctagard/luahook/pkg/types"

// Location is the last frame observed by the pipeline
type Location struct {
	Source          string `json:"source"`
	ShortSource     string `json:"shortSource"`
	Line            int    `json:"line"`
	LineDefined     int    `json:"lineDefined"`
	LastLineDefined int    `json:"lastLineDefined"`
}

// SelectLevel picks the hook level for a frame at loc whose source resolved
// to path. The result depends only on its inputs.
func SelectLevel(table *BreakpointTable, path string, loc Location, ev types.EventKind) types.HookLevel {
	level := selectBase(table, path, loc)
	if level == types.HookLevelModerate && (ev == types.EventReturn || ev == types.EventTailReturn) {
		// the caller's frame must be fully observed once the callee exits
		return types.HookLevelFull
	}
	return level
}

func selectBase(table *BreakpointTable, path string, loc Location) types.HookLevel {
	if !table.AnyExists() {
		return types.HookLevelCoarse
	}
	if path == "" {
		return types.HookLevelFull
	}
	if !table.FileHasAny(path) {
		return types.HookLevelModerate
	}

	start, end := loc.LineDefined, loc.LastLineDefined
	if start <= 0 || end <= 0 || start >= end {
		return types.HookLevelFull
	}
	if loc.Line < start || loc.Line > end {
		return types.HookLevelFull
	}
	if table.HasLineInside(path, start, end) {
		return types.HookLevelFull
	}
	return types.HookLevelModerate
}
