// Package engine wires the session registry, finalizer, idle sweeper, and
// lister into the daemon's single ingestion surface.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxhound/voxhound/internal/observability"
	"github.com/voxhound/voxhound/internal/usage"
	"github.com/voxhound/voxhound/pkg/session"
	"github.com/voxhound/voxhound/pkg/storage"
)

// Config assembles an engine.
type Config struct {
	Backend    storage.Backend
	BasePrefix string

	IdleTimeout   time.Duration
	SweepInterval time.Duration
	RetryAttempts uint64
	ShutdownGrace time.Duration

	// Usage receives lifecycle notifications; nil disables reporting.
	Usage usage.Reporter
}

// Engine owns the full session lifecycle: telemetry lands in per-session
// buffers, end signals and idle sweeps trigger finalization, and the read
// side is served from the storage namespace.
type Engine struct {
	backend   storage.Backend
	registry  *session.Registry
	finalizer *session.Finalizer
	sweeper   *session.Sweeper
	lister    *session.Lister
	reporter  usage.Reporter
	grace     time.Duration

	// prefixes caches where finalized sessions landed, avoiding a namespace
	// walk for recently finalized ids. Bounded; misses fall back to the
	// lister.
	mu       sync.Mutex
	prefixes map[string]string

	wg sync.WaitGroup
}

// prefixCacheLimit bounds the finalized-prefix cache. The cache is reset
// wholesale when full; the lister resolves any miss.
const prefixCacheLimit = 1024

// New creates an engine. Start must be called before the idle sweep runs.
func New(cfg Config) *Engine {
	if cfg.BasePrefix == "" {
		cfg.BasePrefix = "sessions"
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	reporter := cfg.Usage
	if reporter == nil {
		reporter = usage.NoopReporter{}
	}

	e := &Engine{
		backend:  cfg.Backend,
		registry: session.NewRegistry(),
		finalizer: session.NewFinalizer(cfg.Backend, session.FinalizerConfig{
			BasePrefix: cfg.BasePrefix,
			MaxRetries: cfg.RetryAttempts,
		}),
		lister:   session.NewLister(cfg.Backend, cfg.BasePrefix),
		reporter: reporter,
		grace:    cfg.ShutdownGrace,
		prefixes: make(map[string]string),
	}
	e.sweeper = session.NewSweeper(e.registry, e.finalizeByID, cfg.IdleTimeout, cfg.SweepInterval)
	return e
}

// Start launches the idle sweeper.
func (e *Engine) Start() error {
	return e.sweeper.Start()
}

// Append ingests one telemetry record, creating the session on first
// contact. The resolved session id is returned.
func (e *Engine) Append(sessionID string, rec session.Record) (string, error) {
	id, created, err := e.registry.Append(sessionID, rec)
	if err != nil {
		return id, err
	}
	if created {
		e.reporter.SessionIngested(id)
	}
	return id, nil
}

// SetEnvironment stores the session's environment snapshot.
func (e *Engine) SetEnvironment(sessionID string, doc json.RawMessage) (string, error) {
	id, created, err := e.registry.SetEnvironment(sessionID, doc)
	if err != nil {
		return id, err
	}
	if created {
		e.reporter.SessionIngested(id)
	}
	return id, nil
}

// AttachAudio stores the session's audio blob.
func (e *Engine) AttachAudio(sessionID string, data []byte) (string, error) {
	id, created, err := e.registry.AttachAudio(sessionID, data)
	if err != nil {
		return id, err
	}
	if created {
		e.reporter.SessionIngested(id)
	}
	return id, nil
}

// EndSession finalizes a session asynchronously. Ending a session already
// being finalized is a no-op; ending an unknown session is an error.
func (e *Engine) EndSession(sessionID string) error {
	buf, ok := e.registry.Claim(sessionID)
	if !ok {
		if _, known := e.registry.State(sessionID); known {
			return nil
		}
		return fmt.Errorf("%w: %s", session.ErrUnknownSession, sessionID)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.finalize(context.Background(), buf)
	}()
	return nil
}

// finalizeByID is the sweeper callback. Claim races with an explicit end
// signal resolve to a single finalization.
func (e *Engine) finalizeByID(sessionID string) {
	buf, ok := e.registry.Claim(sessionID)
	if !ok {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.finalize(context.Background(), buf)
	}()
}

func (e *Engine) finalize(ctx context.Context, buf *session.Buffer) {
	sessionID := buf.SessionID()
	records := buf.Len()

	manifest, prefix, err := e.finalizer.Finalize(ctx, buf)
	if err != nil {
		e.registry.FailFinalize(sessionID, err)
		observability.RecordSessionAudit("session_finalized", sessionID, "failure", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	e.cachePrefix(sessionID, prefix)

	e.registry.CompleteFinalize(sessionID)
	e.reporter.SessionFinalized(sessionID, records)
	observability.RecordSessionAudit("session_finalized", sessionID, "success", map[string]interface{}{
		"prefix":    prefix,
		"artifacts": len(manifest.Artifacts),
	})
}

// ListSessions returns one page of finalized sessions, newest day first.
func (e *Engine) ListSessions(ctx context.Context, token string, pageSize int) ([]session.SessionSummary, string, error) {
	return e.lister.ListSessions(ctx, token, pageSize)
}

// GetSessionManifest loads the manifest of a finalized session.
func (e *Engine) GetSessionManifest(ctx context.Context, sessionID string) (*session.Manifest, error) {
	prefix, err := e.sessionPrefix(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	data, err := e.backend.Get(ctx, prefix+"/"+session.ManifestArtifact)
	if err != nil {
		return nil, err
	}
	return session.DecodeManifest(data)
}

// GetArtifact serves one artifact of a finalized session. Only names the
// manifest lists are served.
func (e *Engine) GetArtifact(ctx context.Context, sessionID, name string) ([]byte, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %s", storage.ErrInvalidKey, name)
	}

	manifest, err := e.GetSessionManifest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(manifest.Artifacts, name) {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNotFound, sessionID, name)
	}

	prefix, err := e.sessionPrefix(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.backend.Get(ctx, prefix+"/"+name)
}

func (e *Engine) sessionPrefix(ctx context.Context, sessionID string) (string, error) {
	e.mu.Lock()
	prefix, ok := e.prefixes[sessionID]
	e.mu.Unlock()
	if ok {
		return prefix, nil
	}

	prefix, err := e.lister.FindSessionPrefix(ctx, sessionID)
	if err != nil {
		return "", err
	}

	e.cachePrefix(sessionID, prefix)
	return prefix, nil
}

func (e *Engine) cachePrefix(sessionID, prefix string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.prefixes) >= prefixCacheLimit {
		e.prefixes = make(map[string]string)
	}
	e.prefixes[sessionID] = prefix
}

// FailedSessions returns the retained finalization failures.
func (e *Engine) FailedSessions() []session.FailureRecord {
	return e.registry.FailedSessions()
}

// State reports a session's in-memory lifecycle state.
func (e *Engine) State(sessionID string) (session.State, bool) {
	return e.registry.State(sessionID)
}

// ActiveCount returns the number of sessions held in memory.
func (e *Engine) ActiveCount() int {
	return e.registry.ActiveCount()
}

// Close stops the sweeper and waits up to the shutdown grace period for
// in-flight finalizations to land. Sessions still ACTIVE are abandoned
// without an attempted finalization.
func (e *Engine) Close() error {
	if err := e.sweeper.Stop(); err != nil {
		log.Debug().Err(err).Msg("Sweeper stop")
	}

	// A zero threshold snapshots every still-ACTIVE session.
	if n := len(e.registry.IdleSessions(0)); n > 0 {
		log.Warn().Int("count", n).Msg("Abandoning active sessions at shutdown")
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("In-flight finalizations landed, engine closed")
		return nil
	case <-time.After(e.grace):
		return fmt.Errorf("shutdown grace of %s elapsed with finalizations still in flight", e.grace)
	}
}
