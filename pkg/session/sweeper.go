package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Sweeper periodically scans the registry for sessions that stopped
// receiving telemetry without an explicit end signal and hands them to the
// finalize callback. It covers clients that disconnect silently.
type Sweeper struct {
	registry    *Registry
	finalize    func(sessionID string)
	idleTimeout time.Duration
	interval    time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewSweeper creates an idle-session sweeper. finalize is invoked once per
// idle session id; it is expected to claim the session itself, so a sweep
// racing an explicit end signal is harmless.
func NewSweeper(registry *Registry, finalize func(sessionID string), idleTimeout, interval time.Duration) *Sweeper {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		registry:    registry,
		finalize:    finalize,
		idleTimeout: idleTimeout,
		interval:    interval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start starts the sweep loop.
func (s *Sweeper) Start() error {
	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	go s.run()

	log.Info().
		Dur("idle_timeout", s.idleTimeout).
		Dur("interval", s.interval).
		Msg("Idle-session sweeper started")
	return nil
}

// Stop stops the sweep loop and waits for the current tick to finish.
func (s *Sweeper) Stop() error {
	if !s.running {
		return fmt.Errorf("sweeper is not running")
	}
	close(s.stopCh)
	<-s.doneCh
	s.running = false

	log.Info().Msg("Idle-session sweeper stopped")
	return nil
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep acts on a snapshot of idle sessions; the registry lock is never held
// while finalization work runs.
func (s *Sweeper) sweep() {
	idle := s.registry.IdleSessions(s.idleTimeout)
	if len(idle) == 0 {
		return
	}

	log.Info().Int("sessions", len(idle)).Msg("Sweeping idle sessions")
	for _, id := range idle {
		s.finalize(id)
	}
}
