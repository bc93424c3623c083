// Package replay drives a hook session from a recorded event trace.
//
// A trace is a JSON-lines file, one hook event per line:
//
//	{"event":"call","name":"fib","source":"@src/fib.lua","line":3,"defined":3,"last_defined":9,"what":"Lua"}
//	{"event":"line","source":"@src/fib.lua","line":4,"defined":3,"last_defined":9,"locals":{"n":10}}
//	{"event":"return","source":"@src/fib.lua","line":8,"defined":3,"last_defined":9}
//
// Blank lines and lines starting with '#' are ignored. The Replayer plays
// the interpreter's part: it keeps the call stack, honours the installed
// hook level as an event mask and answers frame and stack queries.
package replay

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/pkg/types"
)

// maxTraceLine bounds a single trace record
const maxTraceLine = 4 * 1024 * 1024

// Event is one recorded hook event
type Event struct {
	Kind      types.EventKind
	Frame     types.Frame
	Name      string         // Function name for call events
	Locals    map[string]any // Locals of the frame after the event, if recorded
	TraceLine int
}

// ParseFile reads a trace file
func ParseFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeTraceInvalid, "cannot open trace "+path,
			"Check the trace path; it must be readable by the luahook process.", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a trace from r
func Parse(r io.Reader) ([]Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxTraceLine)

	var events []Event
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := parseEvent(line, n)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.TraceInvalid(n+1, err.Error())
	}
	return events, nil
}

func parseEvent(line string, n int) (Event, error) {
	if !gjson.Valid(line) {
		return Event{}, errors.TraceInvalid(n, "not valid JSON")
	}
	rec := gjson.Parse(line)
	if !rec.IsObject() {
		return Event{}, errors.TraceInvalid(n, "record must be a JSON object")
	}

	name := rec.Get("event")
	if !name.Exists() {
		return Event{}, errors.TraceInvalid(n, `missing "event"`)
	}
	kind, err := types.ParseEventKind(name.String())
	if err != nil {
		return Event{}, errors.TraceInvalid(n, err.Error())
	}

	source := rec.Get("source").String()
	current := -1
	if l := rec.Get("line"); l.Exists() {
		current = int(l.Int())
	}
	what, err := frameKind(rec.Get("what").String(), source)
	if err != nil {
		return Event{}, errors.TraceInvalid(n, err.Error())
	}

	ev := Event{
		Kind: kind,
		Name: rec.Get("name").String(),
		Frame: types.Frame{
			Source:          source,
			ShortSource:     shortSource(rec.Get("short_src").String(), source),
			CurrentLine:     current,
			LineDefined:     int(rec.Get("defined").Int()),
			LastLineDefined: int(rec.Get("last_defined").Int()),
			Kind:            what,
			Event:           kind,
		},
		TraceLine: n,
	}
	if locals := rec.Get("locals"); locals.IsObject() {
		if m, ok := locals.Value().(map[string]interface{}); ok {
			ev.Locals = m
		}
	}
	return ev, nil
}

func frameKind(what, source string) (types.FrameKind, error) {
	switch what {
	case "":
		if source == "=[C]" {
			return types.FrameNative, nil
		}
		return types.FrameLua, nil
	case string(types.FrameLua):
		return types.FrameLua, nil
	case string(types.FrameMain):
		return types.FrameMain, nil
	case string(types.FrameNative):
		return types.FrameNative, nil
	}
	return "", errors.InvalidParameter("what", what, "Lua, main or C")
}

// shortSource derives the printable label the interpreter would report
func shortSource(short, source string) string {
	if short != "" {
		return short
	}
	switch {
	case strings.HasPrefix(source, "@"), strings.HasPrefix(source, "="):
		return source[1:]
	}
	first := source
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i] + "..."
	}
	return `[string "` + first + `"]`
}
