// Command relay is the Relay Core server: it loads configuration,
// migrates the database, wires every collaborator (store, journal,
// sandbox providers, session service, scheduler, RPC bridge, REST
// handlers), and serves until an interrupt triggers a graceful
// shutdown.
//
// Grounded on the reference server's cmd/server/main.go (config load,
// database connect+migrate, provider registration, chi router
// construction, signal-driven graceful shutdown), with cobra layered
// on top for the flag surface spec.md's CLI surface names.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/relaycore/relay/internal/config"
	"github.com/relaycore/relay/internal/connset"
	"github.com/relaycore/relay/internal/crypto"
	"github.com/relaycore/relay/internal/database"
	"github.com/relaycore/relay/internal/handler"
	"github.com/relaycore/relay/internal/journal"
	"github.com/relaycore/relay/internal/middleware"
	"github.com/relaycore/relay/internal/rpcbridge"
	"github.com/relaycore/relay/internal/sandbox"
	"github.com/relaycore/relay/internal/sandbox/localcontainer"
	"github.com/relaycore/relay/internal/sandbox/mock"
	"github.com/relaycore/relay/internal/sandbox/remoteworker"
	"github.com/relaycore/relay/internal/scheduler"
	"github.com/relaycore/relay/internal/service"
	"github.com/relaycore/relay/internal/sessionlock"
	"github.com/relaycore/relay/internal/store"
	"github.com/relaycore/relay/internal/version"
)

func main() {
	var (
		port    int
		host    string
		dataDir string
	)

	root := &cobra.Command{
		Use:     "relay",
		Short:   "Relay Core: session/sandbox lifecycle manager",
		Version: version.Get(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				_ = os.Setenv("RELAY_PORT", fmt.Sprintf("%d", port))
			}
			if cmd.Flags().Changed("host") {
				_ = os.Setenv("RELAY_HOST", host)
			}
			if cmd.Flags().Changed("data-dir") {
				_ = os.Setenv("RELAY_DATA_DIR", dataDir)
			}
			return run()
		},
	}
	root.Flags().IntVarP(&port, "port", "p", 8088, "port to listen on (RELAY_PORT)")
	root.Flags().StringVar(&host, "host", "0.0.0.0", "host to bind to (RELAY_HOST)")
	root.Flags().StringVar(&dataDir, "data-dir", "", "directory for the database and sandbox state (RELAY_DATA_DIR)")

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// runtimeError marks an error that should exit 2 (unrecoverable
// runtime error) rather than 1 (configuration error), per §6's CLI
// surface exit-code contract.
type runtimeError struct{ error }

func exitCodeFor(err error) int {
	if _, ok := err.(runtimeError); ok {
		return 2
	}
	return 1
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo})))
	log.Printf("Relay Core version %s", version.Get())

	db, err := database.New(cfg)
	if err != nil {
		return runtimeError{fmt.Errorf("connect to database: %w", err)}
	}
	defer func() { _ = db.Close() }()

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		return runtimeError{fmt.Errorf("migrate database: %w", err)}
	}

	s := store.New(db.DB)
	j := journal.New(s)
	locks := sessionlock.NewRegistry()
	conns := connset.NewRegistry()

	enc, err := crypto.NewKeyedEncryptor(cfg.EncryptionKey, cfg.EncryptionKeyVersion)
	if err != nil {
		return runtimeError{fmt.Errorf("construct encryptor: %w", err)}
	}

	providers, defaultProvider, err := registerProviders(cfg)
	if err != nil {
		return runtimeError{fmt.Errorf("register sandbox providers: %w", err)}
	}

	resolve := func(ctx context.Context, sessionID string) (sandbox.Handle, error) {
		sess, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return sandbox.Handle{}, err
		}
		return sandbox.Handle{Provider: sess.Provider, ProviderID: sess.ProviderID}, nil
	}
	mgr := sandbox.NewManager(resolve, providers...)

	sessions := service.New(s, j, mgr, locks, defaultProvider, cfg.ActivationTimeout)

	bridge := rpcbridge.New(rpcbridge.Config{
		Manager:    mgr,
		Journal:    j,
		Conns:      conns,
		Locks:      locks,
		LookupSess: s.GetSession,
		Touch:      sessions.Touch,
	})

	sched := scheduler.New(scheduler.Config{
		Store:           s,
		Conns:           conns,
		Pauser:          sessions,
		IdleTimeout:     cfg.IdleTimeout,
		IdleCheckEvery:  cfg.IdleCheckInterval,
		EventRetention:  cfg.EventRetention,
		PruneCheckEvery: cfg.EventPruneInterval,
	})
	schedCtx, schedCancel := context.WithCancel(context.Background())
	sched.Start(schedCtx)

	h := handler.New(s, j, sessions, mgr, bridge, enc)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SanitizedLogger)
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD", "PATCH"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	h.Mount(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("Relay listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	schedCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Printf("scheduler shutdown: %v", err)
	}

	srvCtx, srvCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer srvCancel()
	if err := srv.Shutdown(srvCtx); err != nil {
		return runtimeError{fmt.Errorf("server forced to shutdown: %w", err)}
	}
	conns.Drain()

	log.Println("Relay stopped")
	return nil
}

// registerProviders builds every sandbox.Provider configured for this
// process. "mock" is always available (used by tests and as a safe
// default); "local-container" and "remote-worker" are registered only
// when SANDBOX_PROVIDER selects them (docker or cloudflare).
func registerProviders(cfg *config.Config) ([]sandbox.Provider, string, error) {
	var providers []sandbox.Provider
	providers = append(providers, mock.New())

	switch cfg.SandboxProvider {
	case "mock":
		return providers, "mock", nil
	case "docker":
		lc, err := localcontainer.New(cfg.DataDir)
		if err != nil {
			return nil, "", fmt.Errorf("localcontainer: %w", err)
		}
		providers = append(providers, lc)
		return providers, lc.Name(), nil
	case "cloudflare":
		if cfg.RemoteWorkerURL == "" {
			return nil, "", fmt.Errorf("SANDBOX_PROVIDER=cloudflare requires RELAY_REMOTE_WORKER_URL")
		}
		rw := remoteworker.New(cfg.RemoteWorkerURL, cfg.RemoteWorkerToken)
		rw.RestoreFallbackFresh = cfg.RestoreFallbackMode == config.RestoreFallbackFresh
		providers = append(providers, rw)
		return providers, rw.Name(), nil
	default:
		return nil, "", fmt.Errorf("unknown SANDBOX_PROVIDER %q", cfg.SandboxProvider)
	}
}
