// Package session implements the session manager: the process-wide map
// from session_id to session state, TTL eviction, per-session
// serialization, and the observe/learn/predict/config operations each
// session exposes over its knowledge base.
package session

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevakavakians/kato/internal/canon"
	"github.com/sevakavakians/kato/internal/config"
	"github.com/sevakavakians/kato/internal/kerrors"
	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/predict"
	"github.com/sevakavakians/kato/internal/storage"
	"github.com/sevakavakians/kato/internal/writer"
)

// DefaultTTL is used for sessions created without a client-supplied TTL.
const DefaultTTL = 30 * time.Minute

// entry pairs a session with the lock that serializes every operation
// against it, per spec's "operations on a single session_id are
// serialized" requirement.
type entry struct {
	mu      sync.Mutex
	session *models.Session
}

// Manager owns every live session for one process. Map access (create,
// lookup, delete) is guarded by mu; each entry's own mutex then
// serializes the operations within that session, modeled on
// internal/agent/orchestrator.go's mutex-guarded agent map.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	maxSessions int

	defaults config.Config
	tiers    storage.Tiers
	writer   *writer.Writer
}

// New builds a session Manager. maxSessions <= 0 means unbounded. registry
// receives every kb_id the manager's writer learns into, so the
// background repair sweep (internal/storage.RepairTask) can discover
// which kb_ids actually exist; the caller passes the same registry
// instance to both.
func New(tiers storage.Tiers, defaults config.Config, maxSessions int, registry *storage.KBRegistry) *Manager {
	return &Manager{
		sessions:    map[string]*entry{},
		maxSessions: maxSessions,
		defaults:    defaults,
		tiers:       tiers,
		writer:      writer.New(tiers, defaults.Persistence, registry),
	}
}

// KBIDFromNodeID derives a session's knowledge-base identity from its
// node_id: sessions sharing a node_id share all stored patterns and
// counters (spec invariant 8).
func KBIDFromNodeID(nodeID string) string {
	sum := sha1.Sum([]byte(nodeID))
	return "KB|" + hex.EncodeToString(sum[:])
}

// CreateSession allocates a new session for nodeID. ttl <= 0 uses
// DefaultTTL.
func (m *Manager) CreateSession(ctx context.Context, nodeID string, ttl time.Duration, overrides map[string]interface{}) (*models.Session, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, kerrors.NewSessionLimitExceeded(len(m.sessions), m.maxSessions)
	}

	if len(overrides) > 0 {
		if _, err := config.Merge(m.defaults, overrides); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	sess := &models.Session{
		ID:              uuid.NewString(),
		NodeID:          nodeID,
		KBID:            KBIDFromNodeID(nodeID),
		ConfigOverrides: overrides,
		CreatedAt:       now,
		LastAccess:      now,
		TTL:             ttl,
	}
	m.sessions[sess.ID] = &entry{session: sess}
	return cloneSession(sess), nil
}

// lookup returns the live entry for sessionID, evicting and returning
// SessionExpired if its TTL has elapsed, or SessionNotFound if it was
// never created or already deleted.
func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, kerrors.NewSessionNotFound(sessionID)
	}

	e.mu.Lock()
	expiredAt := e.session.LastAccess.Add(e.session.TTL)
	expired := time.Now().After(expiredAt)
	e.mu.Unlock()

	if expired {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		return nil, kerrors.NewSessionExpired(sessionID, expiredAt)
	}
	return e, nil
}

// GetSession returns a snapshot of sessionID's state, refreshing its
// last-access time.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccess = time.Now()
	return cloneSession(e.session), nil
}

// DeleteSession removes sessionID immediately.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return kerrors.NewSessionNotFound(sessionID)
	}
	delete(m.sessions, sessionID)
	return nil
}

// ClearSTM empties sessionID's short-term memory and pending side-channel
// buffers without affecting stored patterns or counters.
func (m *Manager) ClearSTM(ctx context.Context, sessionID string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.STM = nil
	e.session.PendingEmotives = nil
	e.session.PendingMetadata = nil
	e.session.LastAccess = time.Now()
	return nil
}

// Observe canonicalizes obs into sessionID's STM, firing auto-learn if
// configured. The session lock is held for the whole call, including any
// auto-learn write to storage; the lock is not released before that write.
func (m *Manager) Observe(ctx context.Context, sessionID string, obs models.Observation) (canon.ObserveResult, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return canon.ObserveResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccess = time.Now()

	cfg, err := config.Merge(m.defaults, e.session.ConfigOverrides)
	if err != nil {
		return canon.ObserveResult{}, err
	}

	result, err := canon.Observe(ctx, e.session, obs, cfg.MaxPatternLength, cfg.STMMode, learnerFor(e.session, m.writer))
	if err != nil {
		return canon.ObserveResult{}, err
	}
	return result, nil
}

// learnerFor wraps the session's pending side-channel buffers at the
// moment auto-learn may fire; canon.Observe truncates STM (and canon does
// not touch pending buffers), so the caller clears them itself once the
// learn succeeds.
func learnerFor(sess *models.Session, w *writer.Writer) canon.Learner {
	return autoLearner{sess: sess, w: w}
}

type autoLearner struct {
	sess *models.Session
	w    *writer.Writer
}

// Learn hands the writer every pending per-observation emotive dict
// gathered since the last learn, unaveraged — spec.md's rolling emotive
// window stores one entry per observation encountered during the learn
// event, not a single collapsed mean.
func (a autoLearner) Learn(ctx context.Context, kbID string, stm []models.Event) (string, error) {
	res, err := a.w.Learn(ctx, kbID, stm, a.sess.PendingEmotives, a.sess.PendingMetadata)
	if err != nil {
		return "", err
	}
	a.sess.PendingEmotives = nil
	a.sess.PendingMetadata = nil
	return res.Name, nil
}

// Learn explicitly learns sessionID's current STM regardless of length,
// then truncates STM per the session's stm_mode (mirroring auto-learn).
func (m *Manager) Learn(ctx context.Context, sessionID string) (string, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccess = time.Now()

	if len(e.session.STM) == 0 {
		return "", nil
	}

	cfg, err := config.Merge(m.defaults, e.session.ConfigOverrides)
	if err != nil {
		return "", err
	}

	snapshot := append([]models.Event(nil), e.session.STM...)
	name, err := learnerFor(e.session, m.writer).Learn(ctx, e.session.KBID, snapshot)
	if err != nil {
		return "", err
	}

	applySTMMode(e.session, cfg.STMMode, cfg.MaxPatternLength)
	return name, nil
}

func applySTMMode(sess *models.Session, mode models.STMMode, maxPatternLength int) {
	if mode == models.STMModeRolling && maxPatternLength > 1 {
		keep := maxPatternLength - 1
		if len(sess.STM) > keep {
			sess.STM = append([]models.Event(nil), sess.STM[len(sess.STM)-keep:]...)
		}
		return
	}
	sess.STM = nil
}

// GetPredictions snapshots sessionID's STM and effective config, releases
// the session lock, then runs the full prediction pipeline against
// storage. Per invariant 7, STM shorter than two events yields no
// predictions without touching storage.
func (m *Manager) GetPredictions(ctx context.Context, sessionID string) ([]models.Prediction, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.session.LastAccess = time.Now()
	if len(e.session.STM) < 2 {
		e.mu.Unlock()
		return nil, nil
	}
	stm := append([]models.Event(nil), e.session.STM...)
	kbID := e.session.KBID
	cfg, err := config.Merge(m.defaults, e.session.ConfigOverrides)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return predict.Predict(ctx, m.tiers, kbID, stm, cfg)
}

// UpdateConfig merges overrides into sessionID's existing config
// overrides and validates the effective result; on validation failure
// the session's overrides are left unchanged.
func (m *Manager) UpdateConfig(ctx context.Context, sessionID string, overrides map[string]interface{}) (config.Config, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return config.Config{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccess = time.Now()

	merged := map[string]interface{}{}
	for k, v := range e.session.ConfigOverrides {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	effective, err := config.Merge(m.defaults, merged)
	if err != nil {
		return config.Config{}, err
	}

	e.session.ConfigOverrides = merged
	return effective, nil
}

// GetConfig returns sessionID's effective configuration.
func (m *Manager) GetConfig(ctx context.Context, sessionID string) (config.Config, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return config.Config{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccess = time.Now()
	return config.Merge(m.defaults, e.session.ConfigOverrides)
}

// GetSTM returns a copy of sessionID's current short-term memory.
func (m *Manager) GetSTM(ctx context.Context, sessionID string) ([]models.Event, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastAccess = time.Now()
	return append([]models.Event(nil), e.session.STM...), nil
}

// GetPattern fetches a stored pattern by kbID and name directly from the
// index tier, bypassing the session table entirely (spec's /pattern/{name}
// endpoint is looked up by kb_id, not by session_id).
func (m *Manager) GetPattern(ctx context.Context, kbID, name string) (models.Pattern, error) {
	pattern, ok, err := m.tiers.Index.Get(ctx, kbID, name)
	if err != nil {
		return models.Pattern{}, err
	}
	if !ok {
		return models.Pattern{}, kerrors.NewPatternNotFound(kbID, name)
	}
	return pattern, nil
}

// Sweep evicts every session whose TTL has elapsed; intended to run
// periodically from a cron schedule (see NewTTLSweep), mirroring
// internal/agent/routing_cache.go's background cleanup goroutine.
func (m *Manager) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.sessions {
		e.mu.Lock()
		expired := now.After(e.session.LastAccess.Add(e.session.TTL))
		e.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Count returns the number of live sessions (including any not yet swept
// past their TTL).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func cloneSession(sess *models.Session) *models.Session {
	cp := *sess
	cp.STM = append([]models.Event(nil), sess.STM...)
	return &cp
}
