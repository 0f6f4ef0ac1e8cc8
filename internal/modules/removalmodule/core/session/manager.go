package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// progressPersistStep is the smallest progress advance written to history.
const progressPersistStep = 0.1

// Config contains configuration for the session manager
type Config struct {
	// Maximum number of live sessions
	MaxSessions int

	// Sessions not touched for SessionTTL are closed by the reaper. A
	// session with a run in flight is never reaped.
	SessionTTL      time.Duration
	CleanupInterval time.Duration

	// PersistQueue is the capacity of the history write queue.
	PersistQueue int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxSessions:     16,
		SessionTTL:      30 * time.Minute,
		CleanupInterval: time.Minute,
		PersistQueue:    256,
	}
}

// Manager owns the live sessions and their history.
type Manager struct {
	deps   Deps
	store  *Store
	config Config
	logger hclog.Logger

	sessions     map[string]*Session
	sessionMutex sync.RWMutex
	closed       bool

	persist     chan types.Snapshot
	persistDone chan struct{}
	stopCh      chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a session manager. store may be nil to run without
// history.
func NewManager(deps Deps, store *Store, config Config, logger hclog.Logger) *Manager {
	def := DefaultConfig()
	if config.MaxSessions <= 0 {
		config.MaxSessions = def.MaxSessions
	}
	if config.PersistQueue <= 0 {
		config.PersistQueue = def.PersistQueue
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m := &Manager{
		store:       store,
		config:      config,
		logger:      logger.Named("session-manager"),
		sessions:    make(map[string]*Session),
		persist:     make(chan types.Snapshot, config.PersistQueue),
		persistDone: make(chan struct{}),
		stopCh:      make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	userHook := deps.Hooks.OnChange
	deps.Hooks.OnChange = func(snap types.Snapshot) {
		m.enqueue(snap)
		if userHook != nil {
			userHook(snap)
		}
	}
	m.deps = deps

	if store != nil {
		if _, err := store.MarkInterrupted(deps.Now()); err != nil {
			m.logger.Error("failed to reconcile session history", "error", err)
		}
	}

	go m.runPersistLoop()
	if config.CleanupInterval > 0 && config.SessionTTL > 0 {
		go m.runCleanupLoop()
	} else {
		close(m.cleanupDone)
	}
	return m
}

// Create starts a new Idle session.
func (m *Manager) Create() (*Session, error) {
	m.sessionMutex.Lock()
	defer m.sessionMutex.Unlock()

	if m.closed {
		return nil, rerrors.StateError("create_session", fmt.Errorf("%w: manager shut down", rerrors.ErrInvalidState))
	}
	if len(m.sessions) >= m.config.MaxSessions {
		return nil, rerrors.StateError("create_session", rerrors.ErrSessionLimit).
			WithDetail("max_sessions", m.config.MaxSessions)
	}

	id := uuid.New().String()
	s := New(id, m.deps, m.logger)
	if m.store != nil {
		if err := m.store.Create(s.Snapshot()); err != nil {
			return nil, rerrors.InternalError("create_session", err)
		}
	}
	m.sessions[id] = s

	m.logger.Info("session created", "session_id", id, "active", len(m.sessions))
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.sessionMutex.RLock()
	defer m.sessionMutex.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, rerrors.NotFoundError("get_session", rerrors.ErrSessionNotFound).WithSession(id)
	}
	return s, nil
}

// List returns snapshots of all live sessions, oldest first.
func (m *Manager) List() []types.Snapshot {
	m.sessionMutex.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessionMutex.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt().Before(sessions[j].CreatedAt())
	})
	out := make([]types.Snapshot, len(sessions))
	for i, s := range sessions {
		out[i] = s.Snapshot()
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.sessionMutex.RLock()
	defer m.sessionMutex.RUnlock()
	return len(m.sessions)
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	m.sessionMutex.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.sessionMutex.Unlock()

	if !ok {
		return rerrors.NotFoundError("delete_session", rerrors.ErrSessionNotFound).WithSession(id)
	}
	s.Close()
	m.logger.Info("session deleted", "session_id", id)
	return nil
}

// Store returns the history store, or nil.
func (m *Manager) Store() *Store { return m.store }

// Reap closes sessions idle for longer than the TTL and returns how many
// were removed.
func (m *Manager) Reap(now time.Time) int {
	m.sessionMutex.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.Busy() {
			continue
		}
		if now.Sub(s.LastActive()) > m.config.SessionTTL {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.sessionMutex.Unlock()

	for _, s := range stale {
		s.Close()
		m.logger.Info("reaped idle session", "session_id", s.ID())
	}
	return len(stale)
}

func (m *Manager) runCleanupLoop() {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Reap(m.deps.Now()); n > 0 {
				m.logger.Debug("cleanup pass", "reaped", n)
			}
		case <-m.stopCh:
			return
		}
	}
}

// enqueue hands a snapshot to the history writer without blocking the
// session.
func (m *Manager) enqueue(snap types.Snapshot) {
	if m.store == nil {
		return
	}
	select {
	case m.persist <- snap:
	default:
		m.logger.Warn("history queue full, dropping snapshot", "session_id", snap.SessionID, "state", snap.State.Kind)
	}
}

type persisted struct {
	kind      types.StateKind
	progress  float64
	maskCount int
	hasSource bool
}

func (m *Manager) runPersistLoop() {
	defer close(m.persistDone)
	last := make(map[string]persisted)

	for {
		select {
		case snap := <-m.persist:
			m.write(last, snap)
		case <-m.stopCh:
			// drain what the closing sessions published
			for {
				select {
				case snap := <-m.persist:
					m.write(last, snap)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) write(last map[string]persisted, snap types.Snapshot) {
	if m.store == nil {
		return
	}
	cur := persisted{
		kind:      snap.State.Kind,
		progress:  snap.State.Progress,
		maskCount: snap.MaskCount,
		hasSource: snap.Source != nil,
	}
	prev, seen := last[snap.SessionID]
	if seen && prev.kind == cur.kind && prev.maskCount == cur.maskCount && prev.hasSource == cur.hasSource {
		if cur.kind != types.StateProcessing || cur.progress-prev.progress < progressPersistStep {
			return
		}
	}

	if cur.kind == types.StateProcessing && (!seen || prev.kind != types.StateProcessing) {
		if err := m.store.IncrementRuns(snap.SessionID); err != nil {
			m.logger.Warn("failed to count run", "session_id", snap.SessionID, "error", err)
		}
	}
	if err := m.store.Record(snap); err != nil {
		m.logger.Warn("failed to record session", "session_id", snap.SessionID, "error", err)
		return
	}
	last[snap.SessionID] = cur
}

// Shutdown closes every session, cancelling runs, and flushes history.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.sessionMutex.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.sessionMutex.Unlock()

	closed := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				s.Close()
			}(s)
		}
		wg.Wait()
		close(closed)
	}()

	select {
	case <-closed:
	case <-ctx.Done():
		return fmt.Errorf("session shutdown: %w", ctx.Err())
	}

	m.stopOnce.Do(func() { close(m.stopCh) })
	select {
	case <-m.persistDone:
	case <-ctx.Done():
		return fmt.Errorf("history flush: %w", ctx.Err())
	}
	<-m.cleanupDone

	m.logger.Info("session manager stopped", "closed", len(sessions))
	return nil
}
