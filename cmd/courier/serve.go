package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/btouchard/courier/internal/api"
	"github.com/btouchard/courier/internal/auth"
	"github.com/btouchard/courier/internal/config"
	"github.com/btouchard/courier/internal/invite"
	couriermcp "github.com/btouchard/courier/internal/mcp"
	"github.com/btouchard/courier/internal/mcp/handlers"
	"github.com/btouchard/courier/internal/notify"
	"github.com/btouchard/courier/internal/store"
	"github.com/btouchard/courier/internal/stream"
	"github.com/btouchard/courier/internal/tunnel"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the courier server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			setupLogging(cfg)

			slog.Info("starting courier",
				"version", version,
				"host", cfg.Server.Host,
				"port", cfg.Server.Port,
				"registry_owner", cfg.RegistryOwner())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, cfg)
		},
	}
}

// sessionKey prefers the configured secret so that a relay and its front
// ends can verify each other's tokens.
func sessionKey(cfg *config.Config) ([]byte, error) {
	if cfg.Auth.Secret != "" {
		return []byte(cfg.Auth.Secret), nil
	}
	return auth.LoadOrCreateKey(cfg.Auth.SecretDir)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	slog.Info("database opened", "driver", cfg.Database.Driver)
	return st, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Store ---
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// --- Sessions ---
	key, err := sessionKey(cfg)
	if err != nil {
		return fmt.Errorf("loading session key: %w", err)
	}
	sessions := auth.NewSessions(key, cfg.Auth.SessionTTL)

	streamOpts := stream.Options{
		Heartbeat:    cfg.Stream.Heartbeat,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}

	deps := api.Deps{
		Sessions:          sessions,
		CookieName:        cfg.Auth.CookieName,
		Stream:            streamOpts,
		WebSocket:         cfg.Stream.WebSocket,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}

	// --- Notification topology ---
	var notifier notify.Notifier
	var connections handlers.ConnectionCounter
	if cfg.RegistryOwner() {
		reg := notify.NewRegistry()
		notifier = reg
		deps.Registry = reg
		deps.InternalToken = cfg.Relay.InternalToken
		connections = reg
		if cfg.Relay.InternalToken == "" {
			slog.Info("internal relay API disabled (no relay.internal_token)")
		}
	} else {
		notifier = notify.NewRemoteNotifier(cfg.Relay.UpstreamURL, cfg.Relay.InternalToken, nil)
		deps.Bridge = stream.NewBridge(cfg.Relay.UpstreamURL, cfg.Relay.InternalToken, nil, streamOpts)
		slog.Info("bridging notifications", "upstream", cfg.Relay.UpstreamURL)
	}

	// MCP clients of the invitee are told too.
	var mcpNotifier *notify.MCPNotifier
	if cfg.MCP.Enabled {
		mcpNotifier = notify.NewMCPNotifier()
		notifier = notify.Multi{notifier, mcpNotifier}
	}

	// --- Invites ---
	svc := invite.NewService(db, notifier)
	deps.Invites = svc

	// --- MCP Server ---
	if cfg.MCP.Enabled {
		mcpServer := couriermcp.NewServer(&couriermcp.Deps{
			Invites:     svc,
			Connections: connections,
			Version:     version,
		})
		mcpNotifier.SetSender(mcpServer)
		deps.MCP = couriermcp.NewHTTPHandler(mcpServer, mcpNotifier)
	}

	// --- HTTP Server ---
	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(ctx, deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("courier is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.Tunnel.Enabled {
		t := tunnel.NewNgrok(cfg.Tunnel.AuthToken, cfg.Tunnel.Domain)
		defer func() { _ = t.Close() }()
		go func() {
			if err := tunnel.Serve(ctx, t, srv, nil); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
