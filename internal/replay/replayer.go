package replay

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/pkg/types"
)

// DefaultSampleRate delivers one return event in a million at Disabled
const DefaultSampleRate = 1000000

// Sink receives the delivered events; *hook.Session implements it
type Sink interface {
	Start(ctx context.Context)
	OnEvent(ctx context.Context, ev types.EventKind)
}

// Stats counts what a replay did
type Stats struct {
	Events    int `json:"events"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
}

// Options configures a Replayer
type Options struct {
	SampleRate int         // Disabled-level sampling, one in SampleRate return events
	Logger     *zap.Logger
	Progress   func(Stats) // Called after every delivered event, on the replay goroutine
}

type frameState struct {
	name   string
	source string
	line   int
	locals map[string]any
}

// Replayer is the interpreter side of a replay. It is not safe for
// concurrent use; all calls happen on the goroutine running Run.
type Replayer struct {
	events []Event
	pos    int
	logger *zap.Logger

	level      types.HookLevel
	mask       types.EventMask
	sampleRate int
	sampled    int
	detached   bool

	current  types.Frame
	hasFrame bool
	stack    []frameState

	stats    Stats
	progress func(Stats)
}

// New creates a Replayer over events with the hook at Disabled
func New(events []Event, opts Options) *Replayer {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return &Replayer{
		events:     events,
		logger:     logging.OrNop(opts.Logger),
		level:      types.HookLevelDisabled,
		mask:       types.HookLevelDisabled.Mask(),
		sampleRate: rate,
		progress:   opts.Progress,
	}
}

// Run starts the sink and replays every remaining event
func (r *Replayer) Run(ctx context.Context, sink Sink) (Stats, error) {
	sink.Start(ctx)
	for r.pos < len(r.events) {
		if err := ctx.Err(); err != nil {
			return r.stats, err
		}
		ev := r.events[r.pos]
		r.pos++
		r.stats.Events++

		r.enter(ev)
		if r.deliverable(ev.Kind) {
			r.current = ev.Frame
			r.hasFrame = true
			sink.OnEvent(ctx, ev.Kind)
			r.hasFrame = false
			r.stats.Delivered++
			if r.progress != nil {
				r.progress(r.stats)
			}
		} else {
			r.stats.Skipped++
		}
		r.leave(ev)
	}
	r.logger.Debug("replay finished",
		zap.Int("events", r.stats.Events),
		zap.Int("delivered", r.stats.Delivered),
		zap.Int("skipped", r.stats.Skipped))
	return r.stats, nil
}

// Stats returns the counters so far
func (r *Replayer) Stats() Stats {
	return r.stats
}

// Level returns the installed hook level
func (r *Replayer) Level() types.HookLevel {
	return r.level
}

// Detached reports whether the hook was removed
func (r *Replayer) Detached() bool {
	return r.detached
}

// FrameInfo returns the frame of the event being delivered
func (r *Replayer) FrameInfo() (types.Frame, bool) {
	return r.current, r.hasFrame
}

// StackSnapshot returns the simulated call stack, innermost frame first
func (r *Replayer) StackSnapshot() []types.StackFrame {
	out := make([]types.StackFrame, 0, len(r.stack))
	for i := len(r.stack) - 1; i >= 0; i-- {
		f := r.stack[i]
		out = append(out, types.StackFrame{
			Index:  len(out),
			Name:   f.name,
			Source: strings.TrimPrefix(f.source, "@"),
			Line:   f.line,
			Locals: f.locals,
		})
	}
	return out
}

// SetHookLevel installs the event mask of level
func (r *Replayer) SetHookLevel(level types.HookLevel) {
	if level != r.level {
		r.logger.Debug("hook level changed", zap.Stringer("from", r.level), zap.Stringer("to", level))
	}
	r.level = level
	r.mask = level.Mask()
	r.sampled = 0
}

// DetachHook stops event delivery for the rest of the replay
func (r *Replayer) DetachHook() {
	r.detached = true
}

// deliverable applies the installed mask and the Disabled sampling
func (r *Replayer) deliverable(kind types.EventKind) bool {
	if r.detached || !r.mask.Has(kind) {
		return false
	}
	if r.level == types.HookLevelDisabled {
		r.sampled++
		if r.sampled < r.sampleRate {
			return false
		}
		r.sampled = 0
	}
	return true
}

// enter updates the call stack before the event is delivered
func (r *Replayer) enter(ev Event) {
	switch ev.Kind {
	case types.EventCall:
		name := ev.Name
		if name == "" {
			name = "?"
		}
		r.stack = append(r.stack, frameState{
			name:   name,
			source: ev.Frame.Source,
			line:   ev.Frame.CurrentLine,
			locals: ev.Locals,
		})
	case types.EventLine:
		if len(r.stack) == 0 {
			r.stack = append(r.stack, frameState{name: "main chunk"})
		}
		top := &r.stack[len(r.stack)-1]
		top.source = ev.Frame.Source
		top.line = ev.Frame.CurrentLine
		if ev.Locals != nil {
			top.locals = ev.Locals
		}
	}
}

// leave pops the frame a return event closed
func (r *Replayer) leave(ev Event) {
	if ev.Kind == types.EventReturn || ev.Kind == types.EventTailReturn {
		if len(r.stack) > 0 {
			r.stack = r.stack[:len(r.stack)-1]
		}
	}
}
