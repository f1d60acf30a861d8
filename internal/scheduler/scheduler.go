// Package scheduler runs the two background responsibilities of spec
// §4.8: an idle reaper that pauses active sessions with no open
// connections past T_idle, and an event pruner that deletes journaled
// events for archived/error sessions past a retention horizon. Both
// are idempotent and take no long-lived locks.
//
// Grounded on the reference server's internal/service/
// sandbox_idle_monitor.go: a ticker loop per responsibility, a
// sync.Once-guarded Shutdown, and a running-guard on Start.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaycore/relay/internal/connset"
	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/store"
)

// Pauser is the subset of the Session Service the idle reaper needs.
type Pauser interface {
	Pause(ctx context.Context, sessionID string) error
}

// Scheduler owns the idle reaper and event pruner tickers.
type Scheduler struct {
	store  *store.Store
	conns  *connset.Registry
	pauser Pauser
	logger *slog.Logger

	idleTimeout     time.Duration
	idleCheckEvery  time.Duration
	eventRetention  time.Duration
	pruneCheckEvery time.Duration

	mu           sync.Mutex
	running      bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// Config bundles the Scheduler's tunables.
type Config struct {
	Store           *store.Store
	Conns           *connset.Registry
	Pauser          Pauser
	Logger          *slog.Logger
	IdleTimeout     time.Duration
	IdleCheckEvery  time.Duration
	EventRetention  time.Duration
	PruneCheckEvery time.Duration
}

func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:           cfg.Store,
		conns:           cfg.Conns,
		pauser:          cfg.Pauser,
		logger:          logger.With("component", "scheduler"),
		idleTimeout:     cfg.IdleTimeout,
		idleCheckEvery:  cfg.IdleCheckEvery,
		eventRetention:  cfg.EventRetention,
		pruneCheckEvery: cfg.PruneCheckEvery,
		stopChan:        make(chan struct{}),
	}
}

// Start launches both ticker loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.idleReaperLoop(ctx)
	go s.prunerLoop(ctx)

	s.logger.Info("scheduler started",
		"idle_timeout", s.idleTimeout, "idle_check_every", s.idleCheckEvery,
		"event_retention", s.eventRetention, "prune_check_every", s.pruneCheckEvery)
}

// Shutdown stops both loops and waits for them to exit, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.stopChan)
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.logger.Info("scheduler shutdown complete")
		case <-ctx.Done():
			err = fmt.Errorf("scheduler: shutdown timeout exceeded")
		}
	})
	return err
}

func (s *Scheduler) idleReaperLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.idleCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.ReapIdleSessions(ctx); err != nil {
				s.logger.Error("idle reaper tick failed", "error", err)
			}
		}
	}
}

// ReapIdleSessions pauses every active session with no open connection
// whose lastActivityAt is older than the idle timeout. Exported so it
// can be driven directly and deterministically from tests (testable
// property 5, idle transition idempotence).
func (s *Scheduler) ReapIdleSessions(ctx context.Context) error {
	sessions, err := s.store.ListSessionsByStatuses(ctx, []string{model.SessionStatusActive})
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	for _, sess := range sessions {
		if s.conns.Count(sess.ID) > 0 {
			continue
		}
		if time.Since(sess.LastActivityAt) <= s.idleTimeout {
			continue
		}
		if err := s.pauser.Pause(ctx, sess.ID); err != nil {
			s.logger.Error("idle reaper: pause failed", "sessionId", sess.ID, "error", err)
			continue
		}
		s.logger.Info("idle reaper: paused session", "sessionId", sess.ID,
			"idleFor", time.Since(sess.LastActivityAt))
	}
	return nil
}

func (s *Scheduler) prunerLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pruneCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.PruneOldEvents(ctx); err != nil {
				s.logger.Error("event pruner tick failed", "error", err)
			}
		}
	}
}

// PruneOldEvents deletes events for archived/error sessions older than
// the configured retention horizon. Exported for direct test driving.
func (s *Scheduler) PruneOldEvents(ctx context.Context) error {
	cutoff := time.Now().Add(-s.eventRetention)
	count, err := s.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	if count > 0 {
		s.logger.Info("event pruner: deleted events", "count", count)
	}
	return nil
}
