package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/internal/hook"
	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/internal/version"
	"github.com/ctagard/luahook/pkg/types"
)

// threadID is the single thread a hooked interpreter runs on
const threadID = 1

// DialFunc establishes the connection to the front end
type DialFunc func(ctx context.Context) (*Transport, error)

// PeerOptions configures a Peer
type PeerOptions struct {
	Address     string
	WebSocket   bool
	DialTimeout time.Duration
	StopOnEntry bool
	LogLevel    types.LogLevel
	Logger      *zap.Logger
	Dial        DialFunc // Overrides Address/WebSocket when set
}

// Peer is a DAP control channel. The runtime dials the front end; requests
// are read by a goroutine and buffered until the session polls, so every
// request is handled on the interpreter thread.
type Peer struct {
	book   *Book
	logger *zap.Logger
	dial   DialFunc

	mu        sync.Mutex
	transport *Transport
	inbox     chan dap.Message
	done      chan struct{}
	quit      chan struct{}
	lost      bool
	pending   []hook.Command // Generated by the peer itself, drained first

	stopOnEntry bool
	logLevel    types.LogLevel
	stack       []types.StackFrame
}

// NewPeer creates a disconnected peer
func NewPeer(book *Book, opts PeerOptions) *Peer {
	p := &Peer{
		book:        book,
		logger:      logging.OrNop(opts.Logger),
		dial:        opts.Dial,
		stopOnEntry: opts.StopOnEntry,
		logLevel:    opts.LogLevel,
	}
	if p.dial == nil {
		addr, timeout, ws := opts.Address, opts.DialTimeout, opts.WebSocket
		p.dial = func(ctx context.Context) (*Transport, error) {
			if ws {
				return DialWebSocket(ctx, addr, timeout)
			}
			return DialTCP(ctx, addr, timeout)
		}
	}
	book.SetOutput(func(ctx context.Context, msg string) {
		p.output("console", msg+"\n")
	})
	return p
}

// Connected reports whether a front end is attached
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport != nil && !p.lost
}

// Reconnect dials the front end and starts reading its requests
func (p *Peer) Reconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.transport != nil && !p.lost {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	t, err := p.dial(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.transport = t
	p.inbox = make(chan dap.Message, 64)
	p.done = make(chan struct{})
	p.quit = make(chan struct{})
	p.lost = false
	p.pending = nil
	inbox, done, quit := p.inbox, p.done, p.quit
	p.mu.Unlock()

	go p.readLoop(t, inbox, done, quit)
	return nil
}

// Close drops the connection
func (p *Peer) Close() error {
	t := p.detach()
	if t == nil {
		return nil
	}
	return t.Close()
}

// detach forgets the transport and releases its reader
func (p *Peer) detach() *Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.transport
	p.transport = nil
	if p.quit != nil {
		close(p.quit)
		p.quit = nil
	}
	return t
}

// readLoop feeds incoming messages to the inbox until the stream fails or
// the connection is dropped
func (p *Peer) readLoop(t *Transport, inbox chan<- dap.Message, done, quit chan struct{}) {
	defer close(done)
	for {
		msg, err := t.Receive()
		if err != nil {
			p.logger.Debug("front end stream ended", zap.Error(err))
			return
		}
		select {
		case inbox <- msg:
		case <-quit:
			return
		}
	}
}

// PollCommands handles the buffered requests and returns the commands
// they produce. A lost connection is reported once as a Disconnected
// run state.
func (p *Peer) PollCommands(ctx context.Context, block bool) ([]hook.Command, error) {
	p.mu.Lock()
	inbox, done, lost, connected := p.inbox, p.done, p.lost, p.transport != nil
	cmds := p.pending
	p.pending = nil
	p.mu.Unlock()
	if !connected || lost {
		return nil, errors.PeerClosed()
	}

	for {
		select {
		case msg := <-inbox:
			cmds = append(cmds, p.handle(ctx, msg)...)
			continue
		default:
		}
		if len(cmds) > 0 || !block {
			break
		}
		select {
		case msg := <-inbox:
			cmds = append(cmds, p.handle(ctx, msg)...)
		case <-done:
			return p.connectionLost(cmds), nil
		case <-ctx.Done():
			return cmds, ctx.Err()
		}
	}

	if len(cmds) == 0 {
		select {
		case <-done:
			return p.connectionLost(nil), nil
		default:
		}
	}
	return cmds, nil
}

func (p *Peer) connectionLost(cmds []hook.Command) []hook.Command {
	p.mu.Lock()
	p.lost = true
	p.mu.Unlock()
	if t := p.detach(); t != nil {
		_ = t.Close()
	}
	p.logger.Info("front end connection lost")
	return append(cmds, hook.SetRunStateCommand(types.RunStateDisconnected))
}

// ResolvePath maps a chunk name to its breakpoint key
func (p *Peer) ResolvePath(ctx context.Context, raw string) (string, error) {
	return p.book.Resolve(raw)
}

// ConfirmBreakpoint confirms a tentative hit through the book
func (p *Peer) ConfirmBreakpoint(ctx context.Context, hit hook.Hit) (bool, error) {
	return p.book.Confirm(ctx, hit)
}

// NotifyStopped sends a stopped event. A breakpoint stop whose hit
// condition is not met is vetoed instead of reported.
func (p *Peer) NotifyStopped(ctx context.Context, reason types.StopReason, stack []types.StackFrame) error {
	p.mu.Lock()
	p.stack = stack
	t := p.transport
	p.mu.Unlock()

	if p.book.Stopped(reason) {
		p.logger.Debug("hit condition not met, vetoing stop")
		p.requeue(hook.VetoHitCommand())
		return nil
	}
	if t == nil {
		return errors.PeerClosed()
	}

	return t.Send(&dap.StoppedEvent{
		Event: p.event(t, "stopped"),
		Body: dap.StoppedEventBody{
			Reason:            dapStopReason(reason),
			Description:       string(reason),
			ThreadId:          threadID,
			AllThreadsStopped: true,
		},
	})
}

// Log sends an output event
func (p *Peer) Log(ctx context.Context, msg string, level types.LogLevel) error {
	category := "console"
	if level >= types.LogLevelError {
		category = "stderr"
	}
	return p.output(category, msg+"\n")
}

// requeue hands a command to the next poll, ahead of any buffered request
func (p *Peer) requeue(cmd hook.Command) {
	p.mu.Lock()
	p.pending = append(p.pending, cmd)
	p.mu.Unlock()
}

func (p *Peer) output(category, text string) error {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t == nil {
		return errors.PeerClosed()
	}
	return t.Send(&dap.OutputEvent{
		Event: p.event(t, "output"),
		Body:  dap.OutputEventBody{Category: category, Output: text},
	})
}

// attachArguments are the Lua-specific attach/launch arguments
type attachArguments struct {
	StopOnEntry         *bool  `json:"stopOnEntry"`
	LogLevel            *int   `json:"logLevel"`
	PathCaseSensitivity *bool  `json:"pathCaseSensitivity"`
	AdapterVersion      string `json:"adapterVersion"`
}

// handle answers one request and returns the commands it implies
func (p *Peer) handle(ctx context.Context, msg dap.Message) []hook.Command {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t == nil {
		return nil
	}

	switch req := msg.(type) {
	case *dap.InitializeRequest:
		p.send(t, &dap.InitializeResponse{
			Response: p.response(t, &req.Request),
			Body: dap.Capabilities{
				SupportsConfigurationDoneRequest:  true,
				SupportsConditionalBreakpoints:    true,
				SupportsHitConditionalBreakpoints: true,
				SupportsLogPoints:                 true,
				SupportsEvaluateForHovers:         true,
			},
		})
		p.send(t, &dap.InitializedEvent{Event: p.event(t, "initialized")})
		_ = p.output("console", version.Banner()+"\n")
		return nil

	case *dap.AttachRequest:
		cmd, compat, err := p.configure(req.Arguments)
		if err != nil {
			p.fail(t, &req.Request, err)
			return nil
		}
		p.send(t, &dap.AttachResponse{Response: p.response(t, &req.Request)})
		p.reportAdapter(ctx, compat)
		return []hook.Command{cmd}

	case *dap.LaunchRequest:
		cmd, compat, err := p.configure(req.Arguments)
		if err != nil {
			p.fail(t, &req.Request, err)
			return nil
		}
		p.send(t, &dap.LaunchResponse{Response: p.response(t, &req.Request)})
		p.reportAdapter(ctx, compat)
		return []hook.Command{cmd}

	case *dap.SetBreakpointsRequest:
		return p.setBreakpoints(t, req)

	case *dap.ConfigurationDoneRequest:
		p.send(t, &dap.ConfigurationDoneResponse{Response: p.response(t, &req.Request)})
		state := types.RunStateRunning
		p.mu.Lock()
		if p.stopOnEntry {
			state = types.RunStateStopOnEntry
		}
		p.mu.Unlock()
		return []hook.Command{hook.SetRunStateCommand(state)}

	case *dap.ContinueRequest:
		p.send(t, &dap.ContinueResponse{
			Response: p.response(t, &req.Request),
			Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
		})
		return []hook.Command{hook.SetRunStateCommand(types.RunStateRunning)}

	case *dap.NextRequest:
		p.send(t, &dap.NextResponse{Response: p.response(t, &req.Request)})
		return []hook.Command{hook.SetRunStateCommand(types.RunStateSteppingOver)}

	case *dap.StepInRequest:
		p.send(t, &dap.StepInResponse{Response: p.response(t, &req.Request)})
		return []hook.Command{hook.SetRunStateCommand(types.RunStateSteppingIn)}

	case *dap.StepOutRequest:
		p.send(t, &dap.StepOutResponse{Response: p.response(t, &req.Request)})
		return []hook.Command{hook.SetRunStateCommand(types.RunStateSteppingOut)}

	case *dap.PauseRequest:
		p.send(t, &dap.PauseResponse{Response: p.response(t, &req.Request)})
		return []hook.Command{hook.SetRunStateCommand(types.RunStateSteppingIn)}

	case *dap.DisconnectRequest:
		p.send(t, &dap.DisconnectResponse{Response: p.response(t, &req.Request)})
		p.book.Clear()
		p.mu.Lock()
		p.lost = true
		p.mu.Unlock()
		if t := p.detach(); t != nil {
			_ = t.Close()
		}
		return []hook.Command{hook.SetRunStateCommand(types.RunStateDisconnected)}

	case *dap.ThreadsRequest:
		p.send(t, &dap.ThreadsResponse{
			Response: p.response(t, &req.Request),
			Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: threadID, Name: "main"}}},
		})

	case *dap.StackTraceRequest:
		p.send(t, p.stackTrace(t, req))

	case *dap.ScopesRequest:
		p.send(t, &dap.ScopesResponse{
			Response: p.response(t, &req.Request),
			Body: dap.ScopesResponseBody{Scopes: []dap.Scope{{
				Name:               "Locals",
				VariablesReference: req.Arguments.FrameId + 1,
			}}},
		})

	case *dap.VariablesRequest:
		p.send(t, p.variables(t, req))

	case *dap.EvaluateRequest:
		result, err := p.book.Evaluate(ctx, req.Arguments.Expression, req.Arguments.FrameId)
		if err != nil {
			p.fail(t, &req.Request, err)
			return nil
		}
		p.send(t, &dap.EvaluateResponse{
			Response: p.response(t, &req.Request),
			Body:     dap.EvaluateResponseBody{Result: result},
		})

	case dap.RequestMessage:
		r := req.GetRequest()
		p.fail(t, r, fmt.Errorf("unsupported request %q", r.Command))

	default:
		p.logger.Debug("ignoring non-request message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
	return nil
}

// configure applies attach/launch arguments and checks the announced
// adapter version
func (p *Peer) configure(raw json.RawMessage) (hook.Command, version.Compatibility, error) {
	var args attachArguments
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return hook.Command{}, version.Compatibility{}, errors.InvalidJSON("arguments", err, `{"stopOnEntry": true, "logLevel": 1}`)
		}
	}
	compat := version.CheckAdapter(args.AdapterVersion)

	p.mu.Lock()
	defer p.mu.Unlock()
	if args.StopOnEntry != nil {
		p.stopOnEntry = *args.StopOnEntry
	}
	if args.LogLevel != nil {
		level := types.LogLevel(*args.LogLevel)
		if level < types.LogLevelVerbose || level > types.LogLevelError {
			return hook.Command{}, compat, errors.InvalidParameter("logLevel", *args.LogLevel, "0 (verbose), 1 (info) or 2 (error)")
		}
		p.logLevel = level
	}
	if args.PathCaseSensitivity != nil {
		p.book.SetCaseSensitive(*args.PathCaseSensitivity)
	}
	return hook.SetConfigCommand(p.logLevel, p.book.CaseSensitive()), compat, nil
}

// reportAdapter tells the front end about a protocol version mismatch
func (p *Peer) reportAdapter(ctx context.Context, compat version.Compatibility) {
	if compat.Message == "" {
		return
	}
	level := types.LogLevelInfo
	if !compat.Compatible {
		level = types.LogLevelError
	}
	p.logger.Warn("adapter version check",
		zap.String("adapter", compat.Adapter),
		zap.String("protocol", compat.Protocol),
		zap.Bool("compatible", compat.Compatible))
	if err := p.Log(ctx, "[luahook] "+compat.Message, level); err != nil {
		p.logger.Debug("cannot report adapter version", zap.Error(err))
	}
}

func (p *Peer) setBreakpoints(t *Transport, req *dap.SetBreakpointsRequest) []hook.Command {
	file := req.Arguments.Source.Path
	specs := make([]types.BreakpointSpec, 0, len(req.Arguments.Breakpoints))
	for _, bp := range req.Arguments.Breakpoints {
		specs = append(specs, types.BreakpointSpec{
			Line:         bp.Line,
			Condition:    bp.Condition,
			LogMessage:   bp.LogMessage,
			HitCondition: bp.HitCondition,
		})
	}

	if _, err := p.book.Set(file, specs); err != nil {
		p.fail(t, &req.Request, err)
		return nil
	}

	verified := make([]dap.Breakpoint, len(specs))
	for i, spec := range specs {
		verified[i] = dap.Breakpoint{
			Id:       i + 1,
			Verified: true,
			Line:     spec.Line,
			Source:   &dap.Source{Name: path.Base(file), Path: file},
		}
	}
	p.send(t, &dap.SetBreakpointsResponse{
		Response: p.response(t, &req.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: verified},
	})
	return []hook.Command{hook.SyncBreakpointsCommand(p.book.Table())}
}

func (p *Peer) stackTrace(t *Transport, req *dap.StackTraceRequest) *dap.StackTraceResponse {
	p.mu.Lock()
	stack := p.stack
	p.mu.Unlock()

	start := req.Arguments.StartFrame
	if start < 0 || start > len(stack) {
		start = len(stack)
	}
	end := len(stack)
	if req.Arguments.Levels > 0 && start+req.Arguments.Levels < end {
		end = start + req.Arguments.Levels
	}

	frames := make([]dap.StackFrame, 0, end-start)
	for _, f := range stack[start:end] {
		frames = append(frames, dap.StackFrame{
			Id:     f.Index,
			Name:   f.Name,
			Source: &dap.Source{Name: path.Base(f.Source), Path: f.Source},
			Line:   f.Line,
			Column: 1,
		})
	}
	return &dap.StackTraceResponse{
		Response: p.response(t, &req.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: frames, TotalFrames: len(stack)},
	}
}

func (p *Peer) variables(t *Transport, req *dap.VariablesRequest) *dap.VariablesResponse {
	p.mu.Lock()
	stack := p.stack
	p.mu.Unlock()

	vars := []dap.Variable{}
	idx := req.Arguments.VariablesReference - 1
	if idx >= 0 && idx < len(stack) {
		locals := stack[idx].Locals
		names := make([]string, 0, len(locals))
		for name := range locals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := locals[name]
			vars = append(vars, dap.Variable{Name: name, Value: fmt.Sprint(v), Type: luaType(v)})
		}
	}
	return &dap.VariablesResponse{
		Response: p.response(t, &req.Request),
		Body:     dap.VariablesResponseBody{Variables: vars},
	}
}

func (p *Peer) response(t *Transport, req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: t.NextSeq(), Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func (p *Peer) event(t *Transport, name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: t.NextSeq(), Type: "event"},
		Event:           name,
	}
}

func (p *Peer) fail(t *Transport, req *dap.Request, err error) {
	resp := p.response(t, req)
	resp.Success = false
	resp.Message = err.Error()
	p.send(t, &dap.ErrorResponse{Response: resp})
}

func (p *Peer) send(t *Transport, msg dap.Message) {
	if err := t.Send(msg); err != nil {
		p.logger.Warn("failed to send to front end", zap.Error(err))
	}
}

func dapStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopOnBreakpoint, types.StopOnCodeBreakpoint:
		return "breakpoint"
	case types.StopOnEntry:
		return "entry"
	}
	return "step"
}

func luaType(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int32, int64, uint, float32, float64:
		return "number"
	case []any, map[string]any:
		return "table"
	}
	return "userdata"
}
