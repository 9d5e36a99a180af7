package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/benaskins/lockbox/internal/api"
	"github.com/benaskins/lockbox/internal/audit"
	"github.com/benaskins/lockbox/internal/backend"
	"github.com/benaskins/lockbox/internal/biometric"
	"github.com/benaskins/lockbox/internal/config"
	"github.com/benaskins/lockbox/internal/harden"
	"github.com/benaskins/lockbox/internal/keychain"
	"github.com/benaskins/lockbox/internal/lifecycle"
	"github.com/benaskins/lockbox/internal/session"
	"github.com/benaskins/lockbox/internal/vault"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the lockbox daemon",
	Long:  "Start the vault daemon. Holds the session, serves the API on a Unix socket and locks on background or exit.",
	RunE:  runDaemon,
}

var (
	apiAddr    string
	configPath string
)

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090)")
	daemonCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	harden.Apply()
	defer memguard.Purge()

	home, err := lockboxHome()
	if err != nil {
		return fmt.Errorf("finding home dir: %w", err)
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("creating lockbox dir: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.Info("lockbox daemon starting", "home", home, "config", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	auditLog, err := audit.NewLogger(filepath.Join(home, "audit.log"))
	if err != nil {
		return err
	}
	defer auditLog.Close()

	service := cfg.Keystore.Service
	if service == "" {
		service = keychain.ServiceName
	}
	store := keychain.NewAuditedStore(keychain.NewSystemStore(service), auditLog, "daemon")
	v := vault.New(store)

	// Create the master key ahead of the first Set; a locked keychain only
	// delays this until the next seal.
	go func() {
		if err := v.EnsureMasterKey(ctx); err != nil {
			slog.Warn("master key not ready", "error", err)
		}
	}()

	gate := biometric.NewCommandGate(cfg.Biometric.Command, cfg.Biometric.Timeout)
	sess, err := session.New(ctx, v, gate, session.WithAudit(auditLog))
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	coord := lifecycle.New(sess, lifecycle.WithDebounce(cfg.Lock.BackgroundDebounce))
	go coord.Run(ctx)

	be, err := backend.New(cfg.Backend, sess)
	if err != nil {
		slog.Warn("backend config invalid, backend calls disabled", "error", err)
		be, _ = backend.New(config.BackendConfig{}, sess)
	}

	go func() {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			coord.SetDebounce(c.Lock.BackgroundDebounce)
			if c.Backend.BaseURL == "" {
				return
			}
			if err := be.Reconfigure(c.Backend); err != nil {
				slog.Warn("ignoring invalid backend config", "error", err)
			}
		})
		if err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	// Start API server
	socketPath := defaultSocketPath()
	// Remove stale socket
	os.Remove(socketPath)

	srv := api.NewServer(sess, coord, be)

	// Start API in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	// Optionally start TCP API
	addr := apiAddr
	if addr == "" {
		addr = cfg.APIAddr
	}
	if addr != "" {
		go func() {
			if err := srv.ListenTCP(addr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("lockbox daemon ready", "state", sess.Status())

	// Wait for signal or error
	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	// Exit clears the session before anything else shuts down.
	exitCtx, exitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer exitCancel()
	if err := coord.Notify(exitCtx, lifecycle.Exit); err != nil {
		slog.Warn("exit notification incomplete", "error", err)
	}
	sess.Close()

	cancel()
	srv.Shutdown(exitCtx)
	os.Remove(socketPath)

	slog.Info("lockbox daemon stopped")
	return nil
}
