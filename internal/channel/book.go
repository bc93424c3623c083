// Package channel provides the control-channel collaborators of a hook
// session: Peer speaks DAP to a front end over TCP or WebSocket, Scripted
// drives a session headlessly from a list of resume actions.
//
// Both share a Book, which owns the breakpoints as the front end sent them,
// resolves chunk names, confirms tentative hits against the full file
// identity and evaluates conditions, log points and hit conditions.
package channel

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/internal/eval"
	"github.com/ctagard/luahook/internal/hook"
	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/internal/pathmap"
	"github.com/ctagard/luahook/pkg/types"
)

// StackSource supplies the live call stack of the hooked interpreter
type StackSource interface {
	StackSnapshot() []types.StackFrame
}

// OutputFunc receives rendered log-point messages
type OutputFunc func(ctx context.Context, msg string)

type bookKey struct {
	identity string
	line     int
}

// pendingHit is a confirmed hit whose hit condition is checked once the
// stop has been committed
type pendingHit struct {
	key       bookKey
	condition string
	count     int
}

// Book is the collaborator-side breakpoint store
type Book struct {
	norm   pathmap.Normalizer
	eval   *eval.Evaluator
	logger *zap.Logger

	mu      sync.Mutex
	files   map[string]map[int]types.BreakpointSpec // identity -> line -> spec
	hits    map[bookKey]int
	pending *pendingHit
	stack   StackSource
	output  OutputFunc
}

// NewBook creates an empty book
func NewBook(norm pathmap.Normalizer, ev *eval.Evaluator, logger *zap.Logger) *Book {
	if ev == nil {
		ev = eval.New(0)
	}
	return &Book{
		norm:   norm,
		eval:   ev,
		logger: logging.OrNop(logger),
		files:  make(map[string]map[int]types.BreakpointSpec),
		hits:   make(map[bookKey]int),
	}
}

// SetStackSource sets where condition locals come from
func (b *Book) SetStackSource(src StackSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stack = src
}

// SetOutput sets the sink for log-point messages
func (b *Book) SetOutput(fn OutputFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = fn
}

// SetCaseSensitive changes path case folding for later lookups
func (b *Book) SetCaseSensitive(cs bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.norm.CaseSensitive = cs
}

// CaseSensitive reports the current path case folding
func (b *Book) CaseSensitive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.norm.CaseSensitive
}

// Set replaces the breakpoints of one front-end file and resets its hit
// counters. It returns the normalized identity of the file.
func (b *Book) Set(file string, specs []types.BreakpointSpec) (string, error) {
	if file == "" {
		return "", errors.MissingParameter("path", "the source file the breakpoints belong to")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	identity := b.norm.Clean(file)
	lines := make(map[int]types.BreakpointSpec, len(specs))
	for _, spec := range specs {
		spec = spec.Normalize()
		if spec.Line <= 0 {
			return "", errors.BreakpointSyncInvalid(file, spec.Line, "line must be positive")
		}
		lines[spec.Line] = spec
	}

	for k := range b.hits {
		if k.identity == identity {
			delete(b.hits, k)
		}
	}
	if len(lines) == 0 {
		delete(b.files, identity)
	} else {
		b.files[identity] = lines
	}
	return identity, nil
}

// Clear drops every breakpoint and counter
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = make(map[string]map[int]types.BreakpointSpec)
	b.hits = make(map[bookKey]int)
	b.pending = nil
}

// Table builds the full table for a SyncBreakpoints command. In basename
// mode colliding files merge under one key; the first identity in sort
// order wins a shared line.
func (b *Book) Table() map[string]map[int]types.BreakpointSpec {
	b.mu.Lock()
	defer b.mu.Unlock()

	identities := make([]string, 0, len(b.files))
	for id := range b.files {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	out := make(map[string]map[int]types.BreakpointSpec)
	for _, id := range identities {
		key := b.keyOf(id)
		if out[key] == nil {
			out[key] = make(map[int]types.BreakpointSpec)
		}
		for line, spec := range b.files[id] {
			if _, taken := out[key][line]; !taken {
				out[key][line] = spec
			}
		}
	}
	return out
}

// Count returns the number of breakpoints in the book
func (b *Book) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, lines := range b.files {
		n += len(lines)
	}
	return n
}

// Hits returns how often the breakpoint at file:line was reached
func (b *Book) Hits(file string, line int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[bookKey{b.norm.Clean(file), line}]
}

// Resolve maps a raw chunk name to its breakpoint key
func (b *Book) Resolve(raw string) (string, error) {
	b.mu.Lock()
	norm := b.norm
	b.mu.Unlock()
	return norm.Normalize(raw)
}

// Confirm is the collaborator half of hit resolution. It rejects a hit whose
// full identity has no breakpoint (a basename collision), evaluates a
// condition against the top frame's locals, emits a log point and never
// stops for it, and counts hits for the hit condition check.
func (b *Book) Confirm(ctx context.Context, hit hook.Hit) (bool, error) {
	b.mu.Lock()
	identity, err := b.norm.Identity(hit.Source)
	if err != nil {
		b.mu.Unlock()
		return false, err
	}
	spec, ok := b.files[identity][hit.Line]
	stack, output := b.stack, b.output
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("tentative hit rejected by identity",
			zap.String("identity", identity), zap.String("key", hit.Path), zap.Int("line", hit.Line))
		return false, nil
	}

	switch spec.Kind {
	case types.BreakpointCondition:
		met, err := b.eval.Condition(ctx, spec.Condition, topLocals(stack))
		if err != nil {
			return false, err
		}
		if !met {
			return false, nil
		}
	case types.BreakpointLogPoint:
		msg, err := b.eval.Interpolate(ctx, spec.LogMessage, topLocals(stack))
		if err != nil {
			msg = fmt.Sprintf("[log point %s:%d] %v", identity, hit.Line, err)
		}
		if output != nil {
			output(ctx, msg)
		}
		return false, nil
	}

	key := bookKey{identity, hit.Line}
	b.mu.Lock()
	b.hits[key]++
	b.pending = nil
	if spec.HitCondition != "" {
		b.pending = &pendingHit{key: key, condition: spec.HitCondition, count: b.hits[key]}
	}
	b.mu.Unlock()
	return true, nil
}

// Stopped runs the hit condition check for the stop just committed. It
// reports true when the stop must be vetoed.
func (b *Book) Stopped(reason types.StopReason) bool {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if pending == nil || reason != types.StopOnBreakpoint {
		return false
	}
	met, err := HitConditionMet(pending.condition, pending.count)
	if err != nil {
		b.logger.Warn("invalid hit condition, stopping anyway",
			zap.String("condition", pending.condition), zap.Error(err))
		return false
	}
	return !met
}

// Evaluate renders expr against the locals of the given stack frame
func (b *Book) Evaluate(ctx context.Context, expr string, frame int) (string, error) {
	b.mu.Lock()
	stack := b.stack
	b.mu.Unlock()

	var locals map[string]any
	if stack != nil {
		frames := stack.StackSnapshot()
		if frame >= 0 && frame < len(frames) {
			locals = frames[frame].Locals
		}
	}
	return b.eval.Eval(ctx, expr, locals)
}

func (b *Book) keyOf(identity string) string {
	if b.norm.Basename {
		return identity[strings.LastIndex(identity, "/")+1:]
	}
	return identity
}

func topLocals(src StackSource) map[string]any {
	if src == nil {
		return nil
	}
	frames := src.StackSnapshot()
	if len(frames) == 0 {
		return nil
	}
	return frames[0].Locals
}

// HitConditionMet evaluates a hit condition such as "5", ">= 3" or "% 2"
// against the hit count. A bare number means the count has reached it.
func HitConditionMet(cond string, count int) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}

	op := ">="
	for _, candidate := range []string{">=", "<=", "==", "!=", ">", "<", "%"} {
		if strings.HasPrefix(cond, candidate) {
			op = candidate
			cond = strings.TrimSpace(cond[len(candidate):])
			break
		}
	}
	n, err := strconv.Atoi(cond)
	if err != nil {
		return false, errors.InvalidParameter("hitCondition", cond, "a count optionally prefixed by >=, <=, ==, !=, >, < or %")
	}

	switch op {
	case ">=":
		return count >= n, nil
	case "<=":
		return count <= n, nil
	case "==":
		return count == n, nil
	case "!=":
		return count != n, nil
	case ">":
		return count > n, nil
	case "<":
		return count < n, nil
	}
	if n <= 0 {
		return false, errors.InvalidParameter("hitCondition", n, "a positive modulus")
	}
	return count%n == 0, nil
}
