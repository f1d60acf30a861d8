package sandbox

import (
	"context"
	"fmt"
)

// SessionResolver resolves the (provider, providerId) currently bound
// to a session. It is always backed by the Store, never by an
// in-memory cache — this is what lets Manager hold no in-memory map of
// live sandboxes (§4.4 key design decision i): the DB is the only
// source of truth, and Manager re-asks it on every call.
type SessionResolver func(ctx context.Context, sessionID string) (Handle, error)

// Manager is the stateless façade of §4.5: createSession, attachSession,
// pauseSession, resumeSession, terminateSession. Each resolves a
// provider by name from a registry and delegates; it never caches a
// handle itself; provider errors are surfaced to the caller unchanged,
// except during best-effort cleanup in Terminate.
type Manager struct {
	providers map[string]Provider
	resolve   SessionResolver
}

// NewManager constructs a Manager over a fixed provider registry and a
// session resolver.
func NewManager(resolve SessionResolver, providers ...Provider) *Manager {
	m := &Manager{providers: make(map[string]Provider, len(providers)), resolve: resolve}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}
	return m
}

func (m *Manager) provider(name string) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("sandbox: no provider registered for %q", name)
	}
	return p, nil
}

// CreateSession provisions a brand-new sandbox under providerName for
// sessionID. The caller (Session Service) is responsible for
// persisting the returned Handle onto the session row.
func (m *Manager) CreateSession(ctx context.Context, providerName string, cfg CreateConfig) (Handle, error) {
	p, err := m.provider(providerName)
	if err != nil {
		return Handle{}, err
	}
	return p.Create(ctx, cfg)
}

// AttachSession resolves the session's current sandbox binding and
// attaches to its stdio streams, for use by the RPC Bridge.
func (m *Manager) AttachSession(ctx context.Context, sessionID string) (*Streams, error) {
	handle, err := m.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if handle.Empty() {
		return nil, ErrNotFound
	}
	p, err := m.provider(handle.Provider)
	if err != nil {
		return nil, err
	}
	return p.Attach(ctx, handle)
}

// PauseSession pauses the session's bound sandbox (may snapshot state).
func (m *Manager) PauseSession(ctx context.Context, sessionID string) error {
	handle, err := m.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	if handle.Empty() {
		return ErrNotFound
	}
	p, err := m.provider(handle.Provider)
	if err != nil {
		return err
	}
	return p.Pause(ctx, handle)
}

// ResumeSession resumes the session's bound sandbox, returning a
// (possibly updated) handle the caller should persist.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string, envOverrides map[string]string) (Handle, error) {
	handle, err := m.resolve(ctx, sessionID)
	if err != nil {
		return Handle{}, err
	}
	if handle.Empty() {
		return Handle{}, ErrNotFound
	}
	p, err := m.provider(handle.Provider)
	if err != nil {
		return Handle{}, err
	}
	return p.Resume(ctx, handle, envOverrides)
}

// TerminateSession tears down the session's bound sandbox. Unlike the
// other operations, provider errors here are best-effort: Terminate is
// called from delete/archive paths that must proceed regardless, so
// the error is returned for logging but callers should not abort
// cleanup on it (§4.5: "never swallows errors except during
// best-effort cleanup in terminate").
func (m *Manager) TerminateSession(ctx context.Context, sessionID string) error {
	handle, err := m.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	if handle.Empty() {
		return nil
	}
	p, err := m.provider(handle.Provider)
	if err != nil {
		return err
	}
	return p.Terminate(ctx, handle)
}

// StatusSession reports the current phase of the session's bound
// sandbox.
func (m *Manager) StatusSession(ctx context.Context, sessionID string) (Status, error) {
	handle, err := m.resolve(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	if handle.Empty() {
		return Status{}, ErrNotFound
	}
	p, err := m.provider(handle.Provider)
	if err != nil {
		return Status{}, err
	}
	return p.Status(ctx, handle)
}

// HasProvider reports whether providerName is registered.
func (m *Manager) HasProvider(providerName string) bool {
	_, ok := m.providers[providerName]
	return ok
}

// ProviderNames lists every registered provider, for the /health route.
func (m *Manager) ProviderNames() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}
