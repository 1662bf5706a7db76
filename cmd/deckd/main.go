package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/bridge"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/chat"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/config"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/gateway"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/logger"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/store"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/term"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/token"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/workspace"
)

func main() {
	root := &cobra.Command{
		Use:   "deckd",
		Short: "deck session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")
			dbPath, _ := cmd.Flags().GetString("db")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			return run(cfg)
		},
	}

	root.Flags().String("config", "", "path to config file")
	root.Flags().String("addr", "", "listen address (overrides config)")
	root.Flags().String("db", "", "database path (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	secret, err := token.LoadOrGenerateSecret(db, cfg.Server.JWTSecret)
	if err != nil {
		return fmt.Errorf("load signing secret: %w", err)
	}
	issuer := token.NewIssuer(secret)

	resolver := &workspace.DirResolver{Root: cfg.Workspace.Root}

	registry := term.NewRegistry(term.Config{
		MaxSessions:    cfg.Sessions.Max,
		Scrollback:     cfg.Sessions.Scrollback,
		IdleTimeout:    cfg.Sessions.IdleTimeout.Std(),
		ReapInterval:   cfg.Sessions.ReapInterval.Std(),
		FlushInterval:  cfg.Sessions.FlushInterval.Std(),
		FlushThreshold: cfg.Sessions.FlushThreshold,
		TokenTTL:       cfg.Sessions.TokenTTL.Std(),
		ProxyURL:       cfg.Server.ProxyURL,
	}, issuer, resolver, db, term.AgentCommand(cfg.Agent.Command))
	defer registry.Close()

	chats := chat.NewRunner(chat.Config{
		Command:        cfg.Agent.Command,
		PermissionTool: cfg.Agent.PermissionTool,
		StartupTimeout: cfg.Chat.StartupTimeout.Std(),
		TokenTTL:       cfg.Chat.TokenTTL.Std(),
		ProxyURL:       cfg.Server.ProxyURL,
		PermissionURL:  hookURL(cfg.Server.Addr),
	}, issuer, resolver, nil)
	defer chats.Close()

	perms := bridge.New(cfg.Permissions.Timeout.Std())

	var meter *gateway.BandwidthMeter
	if cfg.Bandwidth.BytesPerSec > 0 {
		meter = gateway.NewBandwidthMeter(cfg.Bandwidth.BytesPerSec, cfg.Bandwidth.Burst)
	}
	gw := gateway.NewServer(issuer, registry, chats, perms, meter)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("POST /hooks/permission", bridge.Handler(perms, issuer))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("deckd listening", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		gw.NotifyRestart()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// hookURL derives the loopback permission endpoint agents call back
// into. Spawned agents run on the same host as the server.
func hookURL(addr string) string {
	host := addr
	if strings.HasPrefix(addr, ":") {
		host = "127.0.0.1" + addr
	}
	return "http://" + host + "/hooks/permission"
}
