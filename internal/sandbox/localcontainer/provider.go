// Package localcontainer implements the "local container" sandbox
// variant of spec §4.4: a running Docker container with two bind
// mounts (workspace/, agent/) and a read-only secrets mount, agent
// stdio attached directly to the container's stdio. Backup is a tar of
// the mounts; restore is an untar before the agent starts.
//
// Grounded on the reference server's internal/sandbox/docker provider
// (docker client wiring, bind-mount construction) and internal/sandbox/
// local (workspace path conventions).
package localcontainer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/relaycore/relay/internal/lineread"
	"github.com/relaycore/relay/internal/sandbox"
)

// Provider talks to the Docker daemon over the given client.
type Provider struct {
	cli     *client.Client
	dataDir string // <data-dir>/sessions/<id>/{workspace,agent}, <data-dir>/pi-secrets-<id>/

	mu       sync.Mutex
	attached map[string]*attachment // providerID -> live attachment
}

type attachment struct {
	stdout chan []byte
	cancel context.CancelFunc
}

// New connects to the Docker daemon using the environment's standard
// configuration (DOCKER_HOST, etc).
func New(dataDir string) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("localcontainer: connect to docker: %w", err)
	}
	return &Provider{cli: cli, dataDir: dataDir, attached: make(map[string]*attachment)}, nil
}

func (p *Provider) Name() string { return "local-container" }

func (p *Provider) sessionPaths(sessionID string) (workspace, agent, secrets string) {
	base := filepath.Join(p.dataDir, "sessions", sessionID)
	return filepath.Join(base, "workspace"), filepath.Join(base, "agent"), filepath.Join(p.dataDir, "pi-secrets-"+sessionID)
}

// writeSecretManifest writes the TSV secret manifest plus one file per
// entry under the read-only secrets mount (§4.4 key design decision
// iii): this is the only place secret plaintext touches disk, and it
// is never logged or journaled.
func writeSecretManifest(dir string, entries []sandbox.SecretEntry, values map[string]string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	manifestPath := filepath.Join(dir, "manifest.tsv")
	f, err := os.OpenFile(manifestPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, e := range entries {
		if _, err := fmt.Fprintf(f, "%s\t%s\n", e.EnvName, e.Filename); err != nil {
			return err
		}
		val := values[e.EnvName]
		if err := os.WriteFile(filepath.Join(dir, e.Filename), []byte(val), 0600); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) Create(ctx context.Context, cfg sandbox.CreateConfig) (sandbox.Handle, error) {
	workspace, agent, secrets := p.sessionPaths(cfg.SessionID)
	for _, dir := range []string{workspace, agent} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return sandbox.Handle{}, fmt.Errorf("localcontainer: create mount dir: %w", err)
		}
	}
	if err := writeSecretManifest(secrets, cfg.Secrets, cfg.SecretValues); err != nil {
		return sandbox.Handle{}, fmt.Errorf("localcontainer: write secret manifest: %w", err)
	}

	image := cfg.Image
	if image == "" {
		image = "relaycore/agent:latest"
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    true,
		StdinOnce:    false,
		Tty:          false,
		Labels:       map[string]string{"relay.session_id": cfg.SessionID},
	}, &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: workspace, Target: "/workspace"},
			{Type: mount.TypeBind, Source: agent, Target: "/agent"},
			{Type: mount.TypeBind, Source: secrets, Target: "/secrets", ReadOnly: true},
		},
	}, nil, nil, "relay-"+cfg.SessionID+"-"+uuid.NewString()[:8])
	if err != nil {
		return sandbox.Handle{}, fmt.Errorf("localcontainer: container create: %w", err)
	}

	// The container is created but not started: per §4.3, the sandbox
	// process only starts on the first activate, which calls Resume the
	// same way a reactivation-after-pause does.
	return sandbox.Handle{Provider: p.Name(), ProviderID: resp.ID}, nil
}

func (p *Provider) Attach(ctx context.Context, handle sandbox.Handle) (*sandbox.Streams, error) {
	hijacked, err := p.cli.ContainerAttach(ctx, handle.ProviderID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("localcontainer: attach: %w", err)
	}

	attachCtx, cancel := context.WithCancel(ctx)
	stdout := make(chan []byte, 256)
	att := &attachment{stdout: stdout, cancel: cancel}

	p.mu.Lock()
	p.attached[handle.ProviderID] = att
	p.mu.Unlock()

	go lineread.Lines(attachCtx, hijacked.Reader, stdout)

	return &sandbox.Streams{
		Stdin:  &lineWriter{conn: hijacked},
		Stdout: stdout,
		Detach: func() {
			cancel()
			hijacked.Close()
			p.mu.Lock()
			delete(p.attached, handle.ProviderID)
			p.mu.Unlock()
		},
	}, nil
}

type lineWriter struct {
	conn interface {
		io.Writer
		io.Closer
	}
}

func (w *lineWriter) WriteLine(ctx context.Context, line []byte) error {
	framed := append(append([]byte{}, line...), '\n')
	_, err := w.conn.Write(framed)
	return err
}

func (w *lineWriter) Close() error { return w.conn.Close() }

func (p *Provider) Pause(ctx context.Context, handle sandbox.Handle) error {
	if err := p.backup(handle.ProviderID); err != nil {
		return fmt.Errorf("localcontainer: backup before pause: %w", err)
	}
	return p.cli.ContainerStop(ctx, handle.ProviderID, container.StopOptions{})
}

func (p *Provider) Resume(ctx context.Context, handle sandbox.Handle, envOverrides map[string]string) (sandbox.Handle, error) {
	if err := p.restore(handle.ProviderID); err != nil {
		return sandbox.Handle{}, fmt.Errorf("localcontainer: restore before resume: %w", err)
	}
	if err := p.cli.ContainerStart(ctx, handle.ProviderID, container.StartOptions{}); err != nil {
		return sandbox.Handle{}, fmt.Errorf("localcontainer: container start: %w", err)
	}
	return handle, nil
}

func (p *Provider) Terminate(ctx context.Context, handle sandbox.Handle) error {
	_ = p.cli.ContainerStop(ctx, handle.ProviderID, container.StopOptions{})
	return p.cli.ContainerRemove(ctx, handle.ProviderID, container.RemoveOptions{Force: true})
}

func (p *Provider) Status(ctx context.Context, handle sandbox.Handle) (sandbox.Status, error) {
	inspect, err := p.cli.ContainerInspect(ctx, handle.ProviderID)
	if err != nil {
		return sandbox.Status{}, fmt.Errorf("localcontainer: inspect: %w", err)
	}
	phase := sandbox.PhaseCreated
	switch {
	case inspect.State.Running:
		phase = sandbox.PhaseRunning
	case inspect.State.Paused:
		phase = sandbox.PhasePaused
	case inspect.State.Dead || inspect.State.OOMKilled:
		phase = sandbox.PhaseFailed
	case inspect.State.Status == "created":
		phase = sandbox.PhaseCreated
	case !inspect.State.Running && inspect.State.StartedAt != "":
		phase = sandbox.PhasePaused
	}
	_, _, secrets := p.sessionPaths(inspect.Config.Labels["relay.session_id"])
	hasBackup := false
	if _, err := os.Stat(p.backupPath(handle.ProviderID)); err == nil {
		hasBackup = true
	}
	_ = secrets
	return sandbox.Status{Phase: phase, HasBackup: hasBackup}, nil
}

func (p *Provider) backupPath(providerID string) string {
	return filepath.Join(p.dataDir, "backups", providerID+".tar.gz")
}

// backup tars the workspace/ and agent/ mounts of a container that is
// about to be stopped by Pause.
func (p *Provider) backup(providerID string) error {
	inspect, err := p.cli.ContainerInspect(context.Background(), providerID)
	if err != nil {
		return err
	}
	sessionID := inspect.Config.Labels["relay.session_id"]
	workspace, agent, _ := p.sessionPaths(sessionID)

	path := p.backupPath(providerID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, dir := range []string{workspace, agent} {
		if err := addDirToTar(tw, dir, filepath.Base(dir)); err != nil {
			return err
		}
	}
	return nil
}

func addDirToTar(tw *tar.Writer, dir, prefix string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.Join(prefix, rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// restore untars a prior backup before the agent starts, if one
// exists; a missing backup is not an error (first activation).
func (p *Provider) restore(providerID string) error {
	path := p.backupPath(providerID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	inspect, err := p.cli.ContainerInspect(context.Background(), providerID)
	if err != nil {
		return err
	}
	sessionID := inspect.Config.Labels["relay.session_id"]
	base := filepath.Join(p.dataDir, "sessions", sessionID)

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		target := filepath.Join(base, hdr.Name)
		if hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		out.Close()
	}
	return nil
}
