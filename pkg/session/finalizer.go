package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxhound/voxhound/internal/observability"
	"github.com/voxhound/voxhound/pkg/storage"
)

// FinalizerConfig bounds the finalizer's retry behavior. Attempt bounds are
// mandatory configuration; there is no unbounded-retry mode.
type FinalizerConfig struct {
	// BasePrefix is the root of the key namespace, e.g. "sessions".
	BasePrefix string

	// MaxRetries caps retry attempts per storage operation (in addition to
	// the first attempt).
	MaxRetries uint64

	// RetryInitialInterval seeds the exponential backoff. Intervals are
	// jittered to avoid synchronized retry storms when many sessions
	// finalize around the same idle-sweep tick.
	RetryInitialInterval time.Duration

	// RetryMaxInterval caps a single backoff delay.
	RetryMaxInterval time.Duration
}

// Finalizer drains a session buffer and persists it: every artifact first,
// the manifest strictly last. A failed finalization leaves any
// already-written artifacts in the backend, but without a manifest the
// session never surfaces to listing.
type Finalizer struct {
	backend storage.Backend
	cfg     FinalizerConfig
	clock   func() time.Time
}

// NewFinalizer creates a finalizer writing through backend.
func NewFinalizer(backend storage.Backend, cfg FinalizerConfig) *Finalizer {
	if cfg.BasePrefix == "" {
		cfg.BasePrefix = "sessions"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 250 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 5 * time.Second
	}
	return &Finalizer{
		backend: backend,
		cfg:     cfg,
		clock:   time.Now,
	}
}

// Finalize freezes the buffer, writes its artifacts under the finalize-time
// date partition, and writes the manifest last. It returns the manifest and
// the session's key prefix. Transient storage errors are retried with
// jittered exponential backoff up to the configured bound; permanent errors
// and retry exhaustion abort with no manifest written.
func (f *Finalizer) Finalize(ctx context.Context, buf *Buffer) (*Manifest, string, error) {
	sessionID := buf.SessionID()
	records := buf.Freeze()
	finalizedAt := f.clock().UTC()
	prefix := storage.SessionPrefix(f.cfg.BasePrefix, finalizedAt, sessionID)

	start := time.Now()
	defer func() {
		observability.ObserveFinalizeDuration(time.Since(start))
	}()

	log.Info().
		Str("session_id", sessionID).
		Int("records", len(records)).
		Str("prefix", prefix).
		Msg("Finalizing session")

	type artifact struct {
		name string
		data []byte
	}

	// The trace artifact is always written, even when empty, because the
	// manifest derives its timing from it and readers expect it to exist.
	artifacts := []artifact{
		{TraceArtifactName(sessionID), encodeJSONL(filterRecords(records, RecordTrace))},
	}
	if logs := filterRecords(records, RecordLog); len(logs) > 0 {
		artifacts = append(artifacts, artifact{LogsArtifactName(sessionID), encodeJSONL(logs)})
	}
	if excs := filterRecords(records, RecordException); len(excs) > 0 {
		artifacts = append(artifacts, artifact{ExceptionsArtifactName(sessionID), encodeJSONL(excs)})
	}
	if env := buf.Environment(); env != nil {
		artifacts = append(artifacts, artifact{EnvironmentArtifactName(sessionID), env})
	}
	if audio := buf.Audio(); len(audio) > 0 {
		artifacts = append(artifacts, artifact{AudioArtifact, audio})
	}

	names := make([]string, 0, len(artifacts)+1)
	for _, a := range artifacts {
		if err := f.putWithRetry(ctx, prefix+"/"+a.name, a.data); err != nil {
			return nil, "", fmt.Errorf("failed to write artifact %s: %w", a.name, err)
		}
		names = append(names, a.name)
	}

	// Every non-manifest artifact is durable; only now may the manifest be
	// written.
	names = append(names, ManifestArtifact)
	manifest := buildManifest(buf, records, names, finalizedAt)
	data, err := manifest.Encode()
	if err != nil {
		return nil, "", err
	}
	if err := f.putWithRetry(ctx, prefix+"/"+ManifestArtifact, data); err != nil {
		return nil, "", fmt.Errorf("failed to write manifest: %w", err)
	}

	return manifest, prefix, nil
}

func (f *Finalizer) putWithRetry(ctx context.Context, key string, data []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.RetryInitialInterval
	bo.MaxInterval = f.cfg.RetryMaxInterval

	attempt := 0
	op := func() error {
		attempt++
		err := f.backend.Put(ctx, key, data)
		if err == nil {
			return nil
		}
		if !storage.IsTransient(err) {
			return backoff.Permanent(err)
		}
		observability.RecordStorageRetry()
		log.Warn().
			Str("key", key).
			Int("attempt", attempt).
			Err(err).
			Msg("Transient storage error, will retry")
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, f.cfg.MaxRetries), ctx))
}
