package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxhound/voxhound/internal/observability"
)

// State is a session's lifecycle state.
type State string

const (
	StateActive     State = "ACTIVE"
	StateFinalizing State = "FINALIZING"
	StateFinalized  State = "FINALIZED"
	StateFailed     State = "FAILED"
)

// ErrUnknownSession is returned for operations on a session the registry has
// never seen or has already released.
var ErrUnknownSession = errors.New("unknown session")

// ErrLateArrival is returned when telemetry arrives for a session no longer
// accepting appends. The record is dropped and counted, never silently lost.
var ErrLateArrival = errors.New("late arrival: session no longer accepts telemetry")

// FailureRecord retains why a session failed to finalize, for operator
// inspection until process restart.
type FailureRecord struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

type registryEntry struct {
	buf   *Buffer
	state State
}

// Registry tracks the lifecycle state of every session known to the process
// and routes incoming telemetry to the correct buffer. The map lock is
// narrow: held for insert/lookup/remove only, never across storage I/O.
//
// FINALIZED and FAILED are terminal: both ids are retained until process
// restart so a reappearing id can never resurrect a session whose bundle is
// already durable.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*registryEntry
	finalized map[string]struct{}
	failed    map[string]FailureRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()
	return &Registry{
		sessions:  make(map[string]*registryEntry),
		finalized: make(map[string]struct{}),
		failed:    make(map[string]FailureRecord),
	}
}

// Append routes a record to the session's buffer, creating the session on
// first telemetry. An empty sessionID gets a generated one; the resolved id
// and whether the session was newly created are returned.
//
// Appends to a FINALIZING session are accepted while the drain has not yet
// frozen the buffer, and otherwise rejected as late arrivals. Appends for a
// FINALIZED or FAILED session are always rejected.
func (r *Registry) Append(sessionID string, rec Record) (string, bool, error) {
	if err := rec.Validate(); err != nil {
		return sessionID, false, err
	}

	buf, id, created, state, err := r.lookupOrCreate(sessionID)
	if err != nil {
		return id, false, err
	}

	if err := buf.Append(rec); err != nil {
		if errors.Is(err, ErrBufferFrozen) {
			observability.RecordLateArrival("drained")
			log.Warn().Str("session_id", id).Str("type", string(rec.Type)).Msg("Dropped late-arriving record for draining session")
			return id, false, fmt.Errorf("%w: %s", ErrLateArrival, id)
		}
		return id, false, err
	}
	if state == StateFinalizing {
		r.noteAcceptedLate(id, string(rec.Type))
	}

	observability.RecordAppend(string(rec.Type))
	return id, created, nil
}

// noteAcceptedLate logs a record that landed after the end signal but before
// the drain froze the buffer. The record is kept; only the anomaly is noted.
func (r *Registry) noteAcceptedLate(sessionID, recType string) {
	observability.RecordLateArrival("finalizing")
	log.Warn().Str("session_id", sessionID).Str("type", recType).Msg("Accepted late-arriving record for finalizing session")
}

// SetEnvironment stores the session's environment snapshot, creating the
// session if it is the first telemetry seen for the id.
func (r *Registry) SetEnvironment(sessionID string, doc json.RawMessage) (string, bool, error) {
	buf, id, created, state, err := r.lookupOrCreate(sessionID)
	if err != nil {
		return id, false, err
	}

	if err := buf.SetEnvironment(doc); err != nil {
		if errors.Is(err, ErrBufferFrozen) {
			observability.RecordLateArrival("drained")
			return id, false, fmt.Errorf("%w: %s", ErrLateArrival, id)
		}
		return id, false, err
	}
	if state == StateFinalizing {
		r.noteAcceptedLate(id, "environment")
	}
	return id, created, nil
}

// AttachAudio stores the session's audio blob, creating the session if it is
// the first telemetry seen for the id.
func (r *Registry) AttachAudio(sessionID string, data []byte) (string, bool, error) {
	buf, id, created, state, err := r.lookupOrCreate(sessionID)
	if err != nil {
		return id, false, err
	}

	if err := buf.AttachAudio(data); err != nil {
		if errors.Is(err, ErrBufferFrozen) {
			observability.RecordLateArrival("drained")
			return id, false, fmt.Errorf("%w: %s", ErrLateArrival, id)
		}
		return id, false, err
	}
	if state == StateFinalizing {
		r.noteAcceptedLate(id, "audio")
	}
	return id, created, nil
}

func (r *Registry) lookupOrCreate(sessionID string) (*Buffer, string, bool, State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != "" {
		if _, done := r.finalized[sessionID]; done {
			observability.RecordLateArrival("finalized")
			log.Warn().Str("session_id", sessionID).Msg("Dropped telemetry for finalized session")
			return nil, sessionID, false, StateFinalized, fmt.Errorf("%w: %s", ErrLateArrival, sessionID)
		}
		if _, failed := r.failed[sessionID]; failed {
			observability.RecordLateArrival("failed")
			return nil, sessionID, false, StateFailed, fmt.Errorf("%w: %s", ErrLateArrival, sessionID)
		}
		if e, ok := r.sessions[sessionID]; ok {
			return e.buf, sessionID, false, e.state, nil
		}
	}

	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}

	buf := NewBuffer(id)
	r.sessions[id] = &registryEntry{buf: buf, state: StateActive}
	observability.SetActiveSessions(len(r.sessions))
	log.Info().Str("session_id", id).Msg("Session created")
	return buf, id, true, StateActive, nil
}

// Claim transitions a session into FINALIZING and hands its buffer to the
// caller. Exactly one claim succeeds per session; concurrent claims and
// claims of already-finalizing sessions return false.
func (r *Registry) Claim(sessionID string) (*Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok || e.state != StateActive {
		return nil, false
	}
	e.state = StateFinalizing
	e.buf.MarkEnded()
	return e.buf, true
}

// State returns the in-memory lifecycle state of a session.
func (r *Registry) State(sessionID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.finalized[sessionID]; ok {
		return StateFinalized, true
	}
	if _, ok := r.failed[sessionID]; ok {
		return StateFailed, true
	}
	if e, ok := r.sessions[sessionID]; ok {
		return e.state, true
	}
	return "", false
}

// IdleSessions returns a snapshot of ACTIVE session ids whose last append is
// older than threshold. The snapshot tolerates concurrent mutation; callers
// act on it without holding the registry lock.
func (r *Registry) IdleSessions(threshold time.Duration) []string {
	r.mu.Lock()
	type candidate struct {
		id  string
		buf *Buffer
	}
	candidates := make([]candidate, 0, len(r.sessions))
	for id, e := range r.sessions {
		if e.state == StateActive {
			candidates = append(candidates, candidate{id: id, buf: e.buf})
		}
	}
	r.mu.Unlock()

	cutoff := time.Now().Add(-threshold)
	var idle []string
	for _, c := range candidates {
		if c.buf.LastAppend().Before(cutoff) {
			idle = append(idle, c.id)
		}
	}
	return idle
}

// CompleteFinalize marks a FINALIZING session FINALIZED and releases its
// buffer. The id is tombstoned so later telemetry for it cannot start a new
// session over the durable bundle.
func (r *Registry) CompleteFinalize(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	r.finalized[sessionID] = struct{}{}
	observability.SetActiveSessions(len(r.sessions))
	observability.RecordFinalization("finalized")
	log.Info().Str("session_id", sessionID).Msg("Session finalized")
}

// FailFinalize marks a FINALIZING session FAILED, releasing its buffer but
// retaining the failure reason for diagnostics.
func (r *Registry) FailFinalize(sessionID string, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	r.failed[sessionID] = FailureRecord{
		SessionID: sessionID,
		Reason:    reason.Error(),
		FailedAt:  time.Now(),
	}
	observability.SetActiveSessions(len(r.sessions))
	observability.RecordFinalization("failed")
	log.Error().Str("session_id", sessionID).Err(reason).Msg("Session finalization failed")
}

// FailureReason returns the retained failure record for a FAILED session.
func (r *Registry) FailureReason(sessionID string) (FailureRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.failed[sessionID]
	return rec, ok
}

// FailedSessions returns all retained failure records.
func (r *Registry) FailedSessions() []FailureRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FailureRecord, 0, len(r.failed))
	for _, rec := range r.failed {
		out = append(out, rec)
	}
	return out
}

// ActiveCount returns the number of sessions currently held in memory
// (ACTIVE or FINALIZING).
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
