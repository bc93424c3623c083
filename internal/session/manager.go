// Package session manages headless replay sessions: a recorded trace driven
// through a hook session against a scripted front end, one goroutine each.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/channel"
	"github.com/ctagard/luahook/internal/config"
	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/internal/eval"
	"github.com/ctagard/luahook/internal/hook"
	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/internal/pathmap"
	"github.com/ctagard/luahook/internal/replay"
	"github.com/ctagard/luahook/pkg/types"
)

// Request describes a replay to start
type Request struct {
	Trace       string                            // Trace file, used when Events is nil
	Events      []replay.Event                    // Pre-parsed events
	Actions     []channel.Action                  // Answers to the stops, in order
	Breakpoints map[string][]types.BreakpointSpec // File -> breakpoints
	StopOnEntry bool                              // Stop on the first line even if the config does not
	Config      *config.Config                    // Overrides the manager's configuration
}

// Session is one running or finished replay
type Session struct {
	ID        string
	Trace     string
	CreatedAt time.Time

	scripted *channel.Scripted
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.RWMutex
	info   types.SessionInfo
	stats  replay.Stats
	runErr error
}

// Manager owns the replay sessions
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	sessions map[string]*Session
	mu       sync.RWMutex

	maxSessions    int
	sessionTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager with the limits from cfg
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:            cfg,
		logger:         logging.OrNop(logger),
		sessions:       make(map[string]*Session),
		maxSessions:    cfg.MaxSessions,
		sessionTimeout: cfg.SessionTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	go m.cleanupLoop()

	return m
}

// cleanupLoop periodically ends expired sessions
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have exceeded the timeout
func (m *Manager) cleanupExpiredSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionTimeout <= 0 {
		return
	}
	now := time.Now()
	for id, s := range m.sessions {
		if now.Sub(s.CreatedAt) > m.sessionTimeout {
			m.logger.Info("replay session expired", zap.String("session", id))
			m.terminateLocked(id)
		}
	}
}

// Start parses the trace, wires the session and starts replaying it
func (m *Manager) Start(req Request) (*Session, error) {
	events := req.Events
	if events == nil {
		if req.Trace == "" {
			return nil, errors.MissingParameter("trace", "path of the JSON-lines trace to replay")
		}
		parsed, err := replay.ParseFile(req.Trace)
		if err != nil {
			return nil, err
		}
		events = parsed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, errors.SessionLimitReached(m.maxSessions)
	}

	cfg := m.cfg
	if req.Config != nil {
		cfg = req.Config
	}
	id := uuid.New().String()
	logger := m.logger.With(zap.String("session", id))

	book := channel.NewBook(normalizer(cfg), eval.New(cfg.ConditionTimeout), logger)
	scripted, err := channel.NewScripted(book, channel.ScriptedOptions{
		Actions:     req.Actions,
		Breakpoints: req.Breakpoints,
		StopOnEntry: req.StopOnEntry || cfg.StopOnEntry,
		LogLevel:    cfg.LogLevel,
		OutputSize:  cfg.OutputBufferSize,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		ID:        id,
		Trace:     req.Trace,
		CreatedAt: time.Now(),
		scripted:  scripted,
		cancel:    cancel,
		done:      make(chan struct{}),
		info: types.SessionInfo{
			SessionID: id,
			Trace:     req.Trace,
			Status:    types.SessionStatusInitializing,
			RunState:  types.RunStateDisconnected.String(),
			HookLevel: types.HookLevelDisabled.String(),
		},
	}

	var hs *hook.Session
	player := replay.New(events, replay.Options{
		SampleRate: cfg.DisabledSampleRate,
		Logger:     logger,
		Progress:   func(st replay.Stats) { s.snapshot(hs, st, types.SessionStatusRunning) },
	})
	book.SetStackSource(player)
	hs = hook.NewSession(scripted, player, hook.Options{
		Logger:         logger,
		IgnoredSources: cfg.IgnoredSources,
		PollInterval:   cfg.PollInterval,
		LogLevel:       cfg.LogLevel,
		CaseSensitive:  cfg.PathCaseSensitive,
	})

	m.sessions[id] = s
	logger.Info("replay session started", zap.String("trace", req.Trace), zap.Int("events", len(events)))

	go func() {
		defer close(s.done)
		stats, err := player.Run(ctx, hs)
		status := types.SessionStatusCompleted
		if err != nil {
			status = types.SessionStatusTerminated
		}
		s.snapshot(hs, stats, status)
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
		logger.Info("replay session finished",
			zap.String("status", string(status)),
			zap.Int("stops", hs.Stops()))
	}()

	return s, nil
}

// normalizer builds the path rules of cfg
func normalizer(cfg *config.Config) pathmap.Normalizer {
	return pathmap.Normalizer{
		Cwd:           cfg.Cwd,
		Ext:           cfg.FileExtension,
		CaseSensitive: cfg.PathCaseSensitive,
		Basename:      cfg.PathMode == config.PathModeBasename,
	}
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return s, nil
}

// List returns every session
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Terminate stops a session and forgets it
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return errors.SessionNotFound(id)
	}
	m.terminateLocked(id)
	return nil
}

// terminateLocked ends a session (must be called with lock held)
func (m *Manager) terminateLocked(id string) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.cancel()
	<-s.done
	delete(m.sessions, id)
}

// Close shuts down the manager and all sessions
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.sessions {
		m.terminateLocked(id)
	}
}

// snapshot records the hook session state. Called on the replay goroutine.
func (s *Session) snapshot(hs *hook.Session, st replay.Stats, status types.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats = st
	s.info.Status = status
	s.info.RunState = hs.RunState().String()
	s.info.HookLevel = hs.HookLevel().String()
	s.info.LastSource = hs.LastSource()
	s.info.Stops = hs.Stops()
	s.info.Events = hs.Events()
}

// Info returns the latest snapshot of the session
func (s *Session) Info() types.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Stats returns the replay counters of the latest snapshot
func (s *Session) Stats() replay.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Stops returns the stops the scripted front end answered
func (s *Session) Stops() []types.StopRecord {
	return s.scripted.Stops()
}

// Output returns the captured debugger output
func (s *Session) Output() []string {
	return s.scripted.Output().Lines()
}

// SelectLevel asks the running replay to install level until the next
// re-selection
func (s *Session) SelectLevel(level types.HookLevel) error {
	if !level.Valid() {
		return errors.InvalidParameter("level", int(level), "0 (disabled) to 3 (full)")
	}
	s.scripted.Inject(hook.SetHookLevelCommand(level))
	return nil
}

// Done is closed when the replay has finished
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the replay finishes or ctx is done
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
