// Package model defines the GORM-backed persistence schema for the relay:
// sessions, their event journal, repos, environments, secrets, and
// process-wide settings.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session modes.
const (
	SessionModeChat = "chat"
	SessionModeCode = "code"
)

// Session statuses, per the state machine in §4.3.
const (
	SessionStatusCreating = "creating"
	SessionStatusActive   = "active"
	SessionStatusIdle     = "idle"
	SessionStatusArchived = "archived"
	SessionStatusError    = "error"
)

// Session is a persistent conversation + working context bound to at
// most one sandbox at a time.
type Session struct {
	ID     string `gorm:"primaryKey;size:36"`
	Mode   string `gorm:"size:16;not null"`
	Status string `gorm:"size:16;not null;index"`

	RepoID      *string `gorm:"size:128;index"`
	WorkingPath string  `gorm:"size:1024"`
	Branch      string  `gorm:"size:256"`

	// Sandbox binding. Non-null iff Status is active, idle, or error
	// with a provisioned sandbox (invariant i in §3).
	Provider   string `gorm:"size:32"`
	ProviderID string `gorm:"size:256"`

	ModelProvider string `gorm:"size:64"`
	ModelID       string `gorm:"size:128"`
	SystemPrompt  string `gorm:"type:text"`

	ErrorReason string `gorm:"type:text"`

	CreatedAt      time.Time
	LastActivityAt time.Time `gorm:"index"`
}

func (s *Session) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}
	return nil
}

// HasSandbox reports whether invariant (i) should hold: a session with
// a non-empty ProviderID.
func (s *Session) HasSandbox() bool {
	return s.ProviderID != ""
}

// Event is one append-only record in a session's journal. Seq is a
// plain int64 (not a GORM autoIncrement column): it is computed
// explicitly and atomically per-session by store.AppendEvent so that
// the set of seqs for any one session is exactly {1..maxSeq}, which a
// single global autoincrement column cannot guarantee.
type Event struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"size:36;not null;index:idx_event_session_seq,unique,priority:1"`
	Seq       int64  `gorm:"not null;index:idx_event_session_seq,unique,priority:2"`
	Type      string `gorm:"size:64;not null"`
	Payload   []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (e *Event) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Repo is GitHub-flavored metadata for a repository a code-mode
// session can be bound to. ID is "owner/name".
type Repo struct {
	ID            string `gorm:"primaryKey;size:256"`
	FullName      string `gorm:"size:256;not null"`
	Owner         string `gorm:"size:128;not null"`
	Private       bool   `gorm:"not null"`
	DefaultBranch string `gorm:"size:256"`
	CloneURL      string `gorm:"size:1024"`
	Description   string `gorm:"type:text"`
	UpdatedAt     time.Time
}

// Environment sandbox types.
const (
	EnvironmentTypeMock           = "mock"
	EnvironmentTypeLocalContainer = "local-container"
	EnvironmentTypeRemoteWorker   = "remote-worker"
)

// Environment is a named sandbox template.
type Environment struct {
	ID               string `gorm:"primaryKey;size:36"`
	Name             string `gorm:"size:128;not null;uniqueIndex"`
	SandboxType      string `gorm:"size:32;not null"`
	Image            string `gorm:"size:512"`
	RemoteWorkerURL  string `gorm:"size:1024"`
	SecretID         *string `gorm:"size:36"`
	ResourceTier     string `gorm:"size:32"`
	IsDefault        bool   `gorm:"not null;default:false"`
	CreatedAt        time.Time
}

func (e *Environment) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Secret kinds.
const (
	SecretKindAIProvider      = "aiProvider"
	SecretKindEnvVar          = "envVar"
	SecretKindSandboxProvider = "sandboxProvider"
)

// Secret is an encrypted-at-rest value plus metadata. Ciphertext is
// never returned in plaintext via REST; it is only decrypted when
// injected into a sandbox at create/resume.
type Secret struct {
	ID         string `gorm:"primaryKey;size:36"`
	Kind       string `gorm:"size:32;not null"`
	Name       string `gorm:"size:128;not null"`
	Ciphertext []byte `gorm:"not null"`
	KeyVersion int    `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s *Secret) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return nil
}

// Setting is a simple key -> JSON value store for global options.
type Setting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

// AllModels returns every model the store migrates.
func AllModels() []interface{} {
	return []interface{}{
		&Session{},
		&Event{},
		&Repo{},
		&Environment{},
		&Secret{},
		&Setting{},
	}
}
