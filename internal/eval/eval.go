// Package eval evaluates breakpoint conditions, log-point messages and
// front-end expressions in a sandboxed Lua state.
//
// Each evaluation runs in a fresh gopher-lua state with only the base,
// table, string and math libraries opened. The frame's locals are exposed
// as globals. Evaluation is bounded by a timeout and never panics.
package eval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ctagard/luahook/internal/errors"
)

// DefaultTimeout bounds a single evaluation
const DefaultTimeout = time.Second

// Evaluator runs Lua expressions against a set of locals
type Evaluator struct {
	timeout time.Duration
}

// New creates an Evaluator; a non-positive timeout uses DefaultTimeout
func New(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{timeout: timeout}
}

// Condition evaluates expr and reports its Lua truth value
func (e *Evaluator) Condition(ctx context.Context, expr string, locals map[string]any) (bool, error) {
	v, err := e.eval(ctx, expr, locals)
	if err != nil {
		return false, err
	}
	return lua.LVAsBool(v), nil
}

// Eval evaluates expr and renders the result for display
func (e *Evaluator) Eval(ctx context.Context, expr string, locals map[string]any) (string, error) {
	v, err := e.eval(ctx, expr, locals)
	if err != nil {
		return "", err
	}
	return render(v), nil
}

// Interpolate replaces every {expr} in msg with its evaluated value.
// "{{" and "}}" produce literal braces.
func (e *Evaluator) Interpolate(ctx context.Context, msg string, locals map[string]any) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		switch {
		case c == '{' && i+1 < len(msg) && msg[i+1] == '{':
			sb.WriteByte('{')
			i++
		case c == '}' && i+1 < len(msg) && msg[i+1] == '}':
			sb.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(msg[i+1:], '}')
			if end < 0 {
				return "", errors.ConditionFailed(msg, fmt.Errorf("unterminated '{' at offset %d", i))
			}
			out, err := e.Eval(ctx, msg[i+1:i+1+end], locals)
			if err != nil {
				return "", err
			}
			sb.WriteString(out)
			i += end + 1
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

func (e *Evaluator) eval(ctx context.Context, expr string, locals map[string]any) (result lua.LValue, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return lua.LNil, errors.ConditionFailed(expr, fmt.Errorf("empty expression"))
	}

	L := newState()
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	L.SetContext(ctx)

	for name, value := range locals {
		L.SetGlobal(name, toLua(L, value))
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.ConditionFailed(expr, fmt.Errorf("lua panic: %v", r))
		}
	}()

	if err := L.DoString("return " + expr); err != nil {
		return lua.LNil, errors.ConditionFailed(expr, err)
	}
	result = L.Get(-1)
	L.Pop(1)
	return result, nil
}

// newState opens only side-effect free libraries
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// toLua converts a Go value from a stack snapshot into a Lua value
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case lua.LValue:
		return val
	}
	return lua.LString(fmt.Sprint(v))
}

// render formats a Lua value the way the front end shows it
func render(v lua.LValue) string {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case *lua.LTable:
		keys := make([]string, 0)
		fields := make(map[string]string)
		val.ForEach(func(k, item lua.LValue) {
			key := k.String()
			keys = append(keys, key)
			fields[key] = item.String()
		})
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + fields[k]
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return v.String()
}
