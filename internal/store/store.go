// Package store wraps the GORM database connection with typed CRUD
// operations plus the three non-trivial operations the event journal
// and scheduler depend on: appending an event with an atomically
// assigned per-session seq, reading events after a cursor, and pruning
// old events for terminal-state sessions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/relaycore/relay/internal/model"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")

// Store is the single durable-state collaborator constructed at
// startup and closed at shutdown (see Design Note "Global state").
type Store struct {
	db *gorm.DB
}

// New wraps an already-migrated *gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Sessions ---------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &sess, nil
}

func (s *Store) ListSessionsByStatuses(ctx context.Context, statuses []string) ([]model.Session, error) {
	var sessions []model.Session
	if err := s.db.WithContext(ctx).Where("status IN ?", statuses).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSessionStatus is the only place that writes session.status,
// per the Session Service owning all status writes (§4.3).
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status, errorReason string) error {
	updates := map[string]interface{}{"status": status}
	if errorReason != "" {
		updates["error_reason"] = errorReason
	}
	result := s.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionSandbox records the (provider, providerId) binding once
// a sandbox has been provisioned.
func (s *Store) UpdateSessionSandbox(ctx context.Context, id, provider, providerID string) error {
	result := s.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", id).
		Updates(map[string]interface{}{"provider": provider, "provider_id": providerID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSession sets lastActivityAt := now(), taken from the process
// clock (time.Now). It does not compare against the stored value, so
// the value only moves forward as long as that clock does.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", id).
		Update("last_activity_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSession performs the hard-delete path: the session row and all
// of its events, deleted together in one transaction (spec §3 Event
// invariant, testable property 4).
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&model.Session{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("session_id = ?", id).Delete(&model.Event{}).Error
	})
}

// ArchiveSession performs the logical-delete path: status becomes
// archived, events are retained (testable property 4).
func (s *Store) ArchiveSession(ctx context.Context, id string) error {
	return s.UpdateSessionStatus(ctx, id, model.SessionStatusArchived, "")
}

// --- Events / journal ---------------------------------------------------

// AppendEvent computes seq = coalesce(max(seq where sessionId), 0) + 1
// and inserts atomically, per spec §4.1. The transaction fails (and
// the event is dropped for that attempt) on a unique-violation of
// (session_id, seq) rather than silently succeeding, which is what
// makes testable property 1 hold under concurrent callers even though
// this in-process store does not itself serialize callers — callers
// that need the "no retries, no lost writes" guarantee under
// concurrency use internal/sessionlock to serialize appends per
// session instead of relying on the database to arbitrate retries.
func (s *Store) AppendEvent(ctx context.Context, sessionID, eventType string, payload []byte) (int64, error) {
	var seq int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&model.Event{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		seq = maxSeq + 1

		ev := &model.Event{
			SessionID: sessionID,
			Seq:       seq,
			Type:      eventType,
			Payload:   payload,
		}
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("append event: seq %d for session %s: %w", seq, sessionID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// EventsAfter returns events for sessionID with seq > afterSeq,
// ascending, capped at limit (0 means unlimited).
func (s *Store) EventsAfter(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]model.Event, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var events []model.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// RecentEvents returns the last n events for sessionID in ascending
// order.
func (s *Store) RecentEvents(ctx context.Context, sessionID string, n int) ([]model.Event, error) {
	var events []model.Event
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Limit(n).
		Find(&events).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// MaxSeq returns the highest seq recorded for sessionID, or 0 if empty.
func (s *Store) MaxSeq(ctx context.Context, sessionID string) (int64, error) {
	var maxSeq int64
	err := s.db.WithContext(ctx).Model(&model.Event{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	return maxSeq, err
}

// DeleteEventsForSession deletes every event belonging to sessionID,
// independent of the session row itself.
func (s *Store) DeleteEventsForSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.Event{}).Error
}

// PruneOlderThan deletes events only for sessions whose status is
// archived or error, and only events older than cutoff (spec §4.1).
// Active/idle sessions are never touched.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ? AND session_id IN (?)", cutoff,
			s.db.Model(&model.Session{}).
				Select("id").
				Where("status IN ?", []string{model.SessionStatusArchived, model.SessionStatusError})).
		Delete(&model.Event{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// --- Repos ---------------------------------------------------------------

func (s *Store) UpsertRepo(ctx context.Context, repo *model.Repo) error {
	return s.db.WithContext(ctx).Save(repo).Error
}

func (s *Store) GetRepo(ctx context.Context, id string) (*model.Repo, error) {
	var repo model.Repo
	if err := s.db.WithContext(ctx).First(&repo, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &repo, nil
}

func (s *Store) ListRepos(ctx context.Context) ([]model.Repo, error) {
	var repos []model.Repo
	if err := s.db.WithContext(ctx).Order("full_name ASC").Find(&repos).Error; err != nil {
		return nil, err
	}
	return repos, nil
}

// --- Environments ---------------------------------------------------------

func (s *Store) CreateEnvironment(ctx context.Context, env *model.Environment) error {
	return s.db.WithContext(ctx).Create(env).Error
}

func (s *Store) GetEnvironment(ctx context.Context, id string) (*model.Environment, error) {
	var env model.Environment
	if err := s.db.WithContext(ctx).First(&env, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &env, nil
}

func (s *Store) ListEnvironments(ctx context.Context) ([]model.Environment, error) {
	var envs []model.Environment
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&envs).Error; err != nil {
		return nil, err
	}
	return envs, nil
}

func (s *Store) DeleteEnvironment(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Environment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Secrets ---------------------------------------------------------------

func (s *Store) CreateSecret(ctx context.Context, secret *model.Secret) error {
	return s.db.WithContext(ctx).Create(secret).Error
}

func (s *Store) GetSecret(ctx context.Context, id string) (*model.Secret, error) {
	var secret model.Secret
	if err := s.db.WithContext(ctx).First(&secret, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &secret, nil
}

func (s *Store) ListSecrets(ctx context.Context) ([]model.Secret, error) {
	var secrets []model.Secret
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&secrets).Error; err != nil {
		return nil, err
	}
	return secrets, nil
}

func (s *Store) DeleteSecret(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Secret{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Settings ---------------------------------------------------------------

func (s *Store) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	var setting model.Setting
	if err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &setting, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value []byte) error {
	setting := &model.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Save(setting).Error
}
