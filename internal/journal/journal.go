// Package journal is a thin façade over the store enforcing the
// append-only contract of spec §4.2: append, getAfterSeq, getRecent,
// getMaxSeq, deleteForSession, and nothing else. It is the package the
// RPC Bridge and Session Service depend on instead of talking to the
// store's Event methods directly, the same separation the reference
// server draws between its store package and its events package.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/store"
)

// Event is the journal's own view of a store event, decoupled from the
// GORM model the way the reference server's events.Event decouples
// from model.ProjectEvent.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func fromModel(e *model.Event) Event {
	return Event{
		ID:        e.ID,
		SessionID: e.SessionID,
		Seq:       e.Seq,
		Type:      e.Type,
		Payload:   json.RawMessage(e.Payload),
		CreatedAt: e.CreatedAt,
	}
}

// Journal is constructed once per process over the shared Store.
type Journal struct {
	store *store.Store
}

func New(s *store.Store) *Journal {
	return &Journal{store: s}
}

// Append assigns the next seq for sessionID (strictly monotonic,
// starting at 1) and persists the event atomically.
func (j *Journal) Append(ctx context.Context, sessionID, eventType string, payload []byte) (Event, error) {
	seq, err := j.store.AppendEvent(ctx, sessionID, eventType, payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		SessionID: sessionID,
		Seq:       seq,
		Type:      eventType,
		Payload:   json.RawMessage(payload),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GetAfterSeq returns events for sessionID with seq > afterSeq,
// ascending, used for replay (§4.6).
func (j *Journal) GetAfterSeq(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]Event, error) {
	rows, err := j.store.EventsAfter(ctx, sessionID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

// GetRecent returns the last n events for sessionID in ascending order.
func (j *Journal) GetRecent(ctx context.Context, sessionID string, n int) ([]Event, error) {
	rows, err := j.store.RecentEvents(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

// GetMaxSeq returns the highest seq recorded for sessionID, 0 if empty.
func (j *Journal) GetMaxSeq(ctx context.Context, sessionID string) (int64, error) {
	return j.store.MaxSeq(ctx, sessionID)
}

// DeleteForSession removes every journaled event for sessionID,
// independent of whether the session row itself is deleted.
func (j *Journal) DeleteForSession(ctx context.Context, sessionID string) error {
	return j.store.DeleteEventsForSession(ctx, sessionID)
}

func toEvents(rows []model.Event) []Event {
	out := make([]Event, len(rows))
	for i := range rows {
		out[i] = fromModel(&rows[i])
	}
	return out
}
