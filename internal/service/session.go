// Package service implements the Session Service & State Machine of
// spec §4.3: the only writer of session.status, owning transitions
// between creating, active, idle, archived, and error, and tying the
// sandbox to the journal.
//
// Grounded on the reference server's internal/service/session.go
// (initializeSync's parallel-provisioning goroutines, the
// updateStatusWithEvent persist-then-event pattern) and
// sandbox_idle_monitor.go (reused directly by the Scheduler).
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/relay/internal/journal"
	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/sandbox"
	"github.com/relaycore/relay/internal/sessionlock"
	"github.com/relaycore/relay/internal/store"
)

var (
	ErrInvalidMode        = errors.New("service: mode must be chat or code")
	ErrCodeModeNeedsRepo  = errors.New("service: code mode requires a repo reference")
	ErrSessionNotActive   = errors.New("service: session is not active")
	ErrNoSandboxBound     = errors.New("service: session has no sandbox bound")
	ErrActivationTimedOut = errors.New("service: activation timed out")
)

// CreateSessionInput is what callers of Create supply; everything else
// on a Session is computed.
type CreateSessionInput struct {
	Mode         string
	RepoID       *string
	WorkingPath  string
	Branch       string
	SystemPrompt string
}

// SessionService is the single writer of session.status.
type SessionService struct {
	store    *store.Store
	journal  *journal.Journal
	manager  *sandbox.Manager
	locks    *sessionlock.Registry
	provider string // default sandbox provider name for new sessions

	activationTimeout time.Duration
}

func New(s *store.Store, j *journal.Journal, mgr *sandbox.Manager, locks *sessionlock.Registry, defaultProvider string, activationTimeout time.Duration) *SessionService {
	return &SessionService{
		store:             s,
		journal:           j,
		manager:           mgr,
		locks:             locks,
		provider:          defaultProvider,
		activationTimeout: activationTimeout,
	}
}

// Create inserts a new session row in `creating` and starts sandbox
// provisioning asynchronously (§4.3: "create" -> "creating"; "row
// inserted; sandbox provisioning starts asynchronously").
func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (*model.Session, error) {
	if in.Mode != model.SessionModeChat && in.Mode != model.SessionModeCode {
		return nil, ErrInvalidMode
	}
	if in.Mode == model.SessionModeCode && (in.RepoID == nil || *in.RepoID == "") {
		return nil, ErrCodeModeNeedsRepo
	}

	sess := &model.Session{
		ID:           uuid.NewString(),
		Mode:         in.Mode,
		Status:       model.SessionStatusCreating,
		RepoID:       in.RepoID,
		WorkingPath:  in.WorkingPath,
		Branch:       in.Branch,
		SystemPrompt: in.SystemPrompt,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("service: create session: %w", err)
	}

	go s.provisionAsync(sess.ID)

	return sess, nil
}

// provisionAsync runs the creating -> idle|error transition in the
// background, mirroring the reference's initializeSync.
func (s *SessionService) provisionAsync(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	secret, err := generateSecret(32)
	if err != nil {
		s.fail(ctx, sessionID, fmt.Sprintf("generate shared secret: %v", err))
		return
	}

	handle, err := s.manager.CreateSession(ctx, s.provider, sandbox.CreateConfig{
		SessionID: sessionID,
		Secrets:   []sandbox.SecretEntry{{EnvName: "RELAY_SHARED_SECRET", Filename: "shared_secret"}},
		SecretValues: map[string]string{
			"RELAY_SHARED_SECRET": secret,
		},
	})
	if err != nil {
		s.fail(ctx, sessionID, fmt.Sprintf("provision sandbox: %v", err))
		return
	}

	if err := s.store.UpdateSessionSandbox(ctx, sessionID, handle.Provider, handle.ProviderID); err != nil {
		log.Printf("service: failed to persist sandbox binding for session %s: %v", sessionID, err)
		return
	}
	if err := s.transition(ctx, sessionID, model.SessionStatusIdle, ""); err != nil {
		log.Printf("service: failed to transition session %s to idle: %v", sessionID, err)
	}
}

func (s *SessionService) fail(ctx context.Context, sessionID, reason string) {
	if err := s.transition(ctx, sessionID, model.SessionStatusError, reason); err != nil {
		log.Printf("service: failed to record error for session %s: %v", sessionID, err)
	}
}

// transition writes status under the per-session critical section,
// since it races with activity-touch and the idle reaper. Pause writes
// status inline under the same critical section instead of calling it.
func (s *SessionService) transition(ctx context.Context, sessionID, status, reason string) error {
	var err error
	s.locks.With(sessionID, func() {
		err = s.store.UpdateSessionStatus(ctx, sessionID, status, reason)
	})
	return err
}

// Get returns the current row for sessionID.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// List returns every session, most recently created first.
func (s *SessionService) List(ctx context.Context) ([]model.Session, error) {
	return s.store.ListSessions(ctx)
}

// Activate is the only operation that blocks: it ensures the sandbox
// is running and returns once the provider reports it ready, per
// §4.3/§4.7. The returned lastSeq is the replay checkpoint for
// subsequent WebSocket connections (testable property 6).
func (s *SessionService) Activate(ctx context.Context, sessionID string) (lastSeq int64, err error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	switch sess.Status {
	case model.SessionStatusActive:
		// already active; nothing to do but report the checkpoint
	case model.SessionStatusIdle:
		ctx, cancel := context.WithTimeout(ctx, s.activationTimeout)
		defer cancel()
		if _, err := s.manager.ResumeSession(ctx, sessionID, nil); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, ErrActivationTimedOut
			}
			s.fail(context.Background(), sessionID, fmt.Sprintf("resume sandbox: %v", err))
			return 0, err
		}
		if err := s.transition(ctx, sessionID, model.SessionStatusActive, ""); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("service: cannot activate session in status %q", sess.Status)
	}

	return s.journal.GetMaxSeq(ctx, sessionID)
}

// Touch sets lastActivityAt := now() for active/idle sessions (§4.3
// "touch" transition: same state, effect only).
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	return s.store.TouchSession(ctx, sessionID)
}

// Pause transitions active -> idle, pausing (and backing up) the
// sandbox. Used by the Scheduler's idle reaper.
func (s *SessionService) Pause(ctx context.Context, sessionID string) error {
	var outerErr error
	s.locks.With(sessionID, func() {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			outerErr = err
			return
		}
		if sess.Status != model.SessionStatusActive {
			return // idempotent: already idle/archived/etc.
		}
		if err := s.manager.PauseSession(ctx, sessionID); err != nil {
			outerErr = fmt.Errorf("pause sandbox: %w", err)
			return
		}
		outerErr = s.store.UpdateSessionStatus(ctx, sessionID, model.SessionStatusIdle, "")
	})
	return outerErr
}

// Delete hard-deletes a session: sandbox terminated, row removed,
// events cascade (testable property 4, scenario S5).
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	if err := s.manager.TerminateSession(ctx, sessionID); err != nil {
		log.Printf("service: best-effort terminate failed for session %s: %v", sessionID, err)
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// Archive logically deletes a session: sandbox terminated, status
// becomes archived, events retained (testable property 4).
func (s *SessionService) Archive(ctx context.Context, sessionID string) error {
	if err := s.manager.TerminateSession(ctx, sessionID); err != nil {
		log.Printf("service: best-effort terminate failed for session %s: %v", sessionID, err)
	}
	return s.transition(ctx, sessionID, model.SessionStatusArchived, "")
}

// Fail records a fatal error from anywhere in the system (the bridge,
// a provider callback, the scheduler) by transitioning to error.
func (s *SessionService) Fail(ctx context.Context, sessionID, reason string) error {
	return s.transition(ctx, sessionID, model.SessionStatusError, reason)
}

func generateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
