package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrBufferFrozen is returned by appends after finalization has started
// draining the buffer.
var ErrBufferFrozen = errors.New("session buffer is frozen")

// ErrEnvironmentSet is returned when a second environment snapshot arrives
// for the same session.
var ErrEnvironmentSet = errors.New("environment snapshot already set")

// Buffer accumulates in-flight telemetry for exactly one session. Appends
// come from the producer side; exactly one finalization drains it. Freeze
// flips the buffer into a rejecting state so the drain never races an
// append.
type Buffer struct {
	mu sync.Mutex

	sessionID  string
	records    []Record
	env        json.RawMessage
	audio      []byte
	frozen     bool
	startedAt  time.Time
	lastAppend time.Time
	endedAt    time.Time
}

// NewBuffer creates an empty buffer for a session.
func NewBuffer(sessionID string) *Buffer {
	now := time.Now()
	return &Buffer{
		sessionID:  sessionID,
		startedAt:  now,
		lastAppend: now,
	}
}

// SessionID returns the owning session's identifier.
func (b *Buffer) SessionID() string {
	return b.sessionID
}

// Append adds one record, preserving insertion order.
func (b *Buffer) Append(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrBufferFrozen
	}
	b.records = append(b.records, rec)
	b.lastAppend = time.Now()
	return nil
}

// SetEnvironment stores the session's environment snapshot. It is
// write-once; later calls fail.
func (b *Buffer) SetEnvironment(doc json.RawMessage) error {
	if len(doc) == 0 || !json.Valid(doc) {
		return errors.New("environment snapshot must be valid JSON")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrBufferFrozen
	}
	if b.env != nil {
		return ErrEnvironmentSet
	}
	b.env = doc
	b.lastAppend = time.Now()
	return nil
}

// AttachAudio stores the session's recorded audio blob. The engine treats it
// as opaque bytes already encoded by an external recorder.
func (b *Buffer) AttachAudio(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrBufferFrozen
	}
	b.audio = data
	b.lastAppend = time.Now()
	return nil
}

// Freeze stops further appends and returns a snapshot of the buffered
// records. Safe to call more than once; later calls return the same
// snapshot.
func (b *Buffer) Freeze() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen = true
	return b.records
}

// Frozen reports whether the buffer has stopped accepting appends.
func (b *Buffer) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// Environment returns the snapshot document, or nil.
func (b *Buffer) Environment() json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.env
}

// Audio returns the attached audio blob, or nil.
func (b *Buffer) Audio() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.audio
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// LastAppend returns the time of the most recent append.
func (b *Buffer) LastAppend() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAppend
}

// StartedAt returns the buffer creation time.
func (b *Buffer) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}

// MarkEnded records the explicit end-of-session time.
func (b *Buffer) MarkEnded() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endedAt.IsZero() {
		b.endedAt = time.Now()
	}
}

// EndedAt returns the end-of-session time, or the zero time if the session
// never received an explicit end signal.
func (b *Buffer) EndedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endedAt
}
