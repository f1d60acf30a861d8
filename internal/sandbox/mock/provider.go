// Package mock is the in-process pipe-pair sandbox provider used by
// tests: a fake agent goroutine that echoes every command it reads on
// stdin back out as a stdout event, per spec §4.4 ("Mock: in-process
// pipe pair; a fake agent that echoes commands as events").
//
// Grounded on the reference server's internal/sandbox/mock provider:
// an in-memory map guarded by a mutex, plus configurable *Func fields
// so tests can override individual operations.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/relaycore/relay/internal/sandbox"
)

type entry struct {
	handle sandbox.Handle
	phase  sandbox.Phase
	stdin  chan []byte
	stdout chan []byte
	done   chan struct{}
}

// Provider is the mock sandbox backend.
type Provider struct {
	mu      sync.Mutex
	entries map[string]*entry // providerID -> entry

	// CreateFunc, when set, overrides Create for fault injection in tests.
	CreateFunc func(ctx context.Context, cfg sandbox.CreateConfig) (sandbox.Handle, error)
}

func New() *Provider {
	return &Provider{entries: make(map[string]*entry)}
}

func (p *Provider) Name() string { return "mock" }

func (p *Provider) Create(ctx context.Context, cfg sandbox.CreateConfig) (sandbox.Handle, error) {
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx, cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	providerID := uuid.NewString()
	e := &entry{
		handle: sandbox.Handle{Provider: p.Name(), ProviderID: providerID},
		phase:  sandbox.PhaseCreated,
		stdin:  make(chan []byte, 64),
		stdout: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	p.entries[providerID] = e
	go e.echoLoop()
	return e.handle, nil
}

// echoLoop is the fake agent: every stdin line becomes a stdout event
// wrapping the original payload, until the entry is torn down.
func (e *entry) echoLoop() {
	for {
		select {
		case <-e.done:
			return
		case line, ok := <-e.stdin:
			if !ok {
				return
			}
			var cmd map[string]interface{}
			_ = json.Unmarshal(line, &cmd)
			out, err := json.Marshal(map[string]interface{}{
				"type":    "echo",
				"command": cmd,
			})
			if err != nil {
				continue
			}
			select {
			case e.stdout <- out:
			case <-e.done:
				return
			}
		}
	}
}

func (p *Provider) get(handle sandbox.Handle) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[handle.ProviderID]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	return e, nil
}

func (p *Provider) Attach(ctx context.Context, handle sandbox.Handle) (*sandbox.Streams, error) {
	e, err := p.get(handle)
	if err != nil {
		return nil, err
	}
	if e.phase != sandbox.PhaseRunning {
		return nil, sandbox.ErrNotRunning
	}
	return &sandbox.Streams{
		Stdin:  &lineWriter{ch: e.stdin},
		Stdout: e.stdout,
		Detach: func() {},
	}, nil
}

type lineWriter struct {
	ch chan []byte
}

func (w *lineWriter) WriteLine(ctx context.Context, line []byte) error {
	buf := make([]byte, len(line))
	copy(buf, line)
	select {
	case w.ch <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *lineWriter) Close() error { return nil }

func (p *Provider) Pause(ctx context.Context, handle sandbox.Handle) error {
	e, err := p.get(handle)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.phase != sandbox.PhaseRunning {
		return sandbox.ErrNotRunning
	}
	e.phase = sandbox.PhasePaused
	return nil
}

func (p *Provider) Resume(ctx context.Context, handle sandbox.Handle, envOverrides map[string]string) (sandbox.Handle, error) {
	e, err := p.get(handle)
	if err != nil {
		return sandbox.Handle{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.phase != sandbox.PhasePaused && e.phase != sandbox.PhaseCreated {
		return sandbox.Handle{}, sandbox.ErrAlreadyRunning
	}
	e.phase = sandbox.PhaseRunning
	return e.handle, nil
}

func (p *Provider) Terminate(ctx context.Context, handle sandbox.Handle) error {
	p.mu.Lock()
	e, ok := p.entries[handle.ProviderID]
	if ok {
		delete(p.entries, handle.ProviderID)
	}
	p.mu.Unlock()
	if !ok {
		return nil // idempotent
	}
	close(e.done)
	return nil
}

func (p *Provider) Status(ctx context.Context, handle sandbox.Handle) (sandbox.Status, error) {
	e, err := p.get(handle)
	if err != nil {
		return sandbox.Status{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return sandbox.Status{Phase: e.phase, HasBackup: e.phase == sandbox.PhasePaused}, nil
}
