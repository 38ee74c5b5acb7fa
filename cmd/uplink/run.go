package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gg-glitch-88/exercise-uplink/internal/api"
	"github.com/gg-glitch-88/exercise-uplink/internal/config"
	"github.com/gg-glitch-88/exercise-uplink/internal/store"
	"github.com/gg-glitch-88/exercise-uplink/internal/transport"
	"github.com/gg-glitch-88/exercise-uplink/internal/uplink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the uplink and keep it running until interrupted",
	Long: `Start the exercise uplink session and, when admin.listen_addr is set, the
local admin API. SIGINT or SIGTERM stops the session and closes the
connection with a normal closure.

Examples:
  uplink run
  UPLINK_SOURCE_DRIVER=redis uplink run --config uplink.yaml`,
	RunE: runUplink,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// app is the wired uplink process.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	source     store.Source
	bus        *transport.EventBus
	supervisor *uplink.Supervisor
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	src, err := store.OpenSource(ctx, store.Options{
		Driver:     cfg.Source.Driver,
		SQLitePath: cfg.Source.SQLitePath,
		RedisAddr:  cfg.Source.RedisAddr,
		RedisKey:   cfg.Source.RedisKey,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, source: src, bus: transport.NewEventBus()}
	dialer := transport.NewWebSocketDialer(cfg.Server.HandshakeTimeout, cfg.Server.WriteTimeout, log)
	header := transport.ClientHeader(cfg.Server.ClientHeader, cfg.Server.ClientType)

	a.supervisor = uplink.NewSupervisor(func(sessionID string) (*uplink.Loop, error) {
		mgr := transport.NewManager(transport.Options{
			URL:        cfg.Server.URL,
			Header:     header,
			MaxRetries: cfg.Uplink.MaxRetries,
		}, dialer, a.bus, log.With(zap.String("session_id", sessionID)))
		return uplink.New(sessionID, src, mgr, cfg.Uplink.Interval, log), nil
	}, log)
	return a, nil
}

func (a *app) handler() http.Handler {
	return api.NewRouter(a.supervisor, a.source, a.bus.Subscribe, a.log)
}

// close stops every session before releasing the store.
func (a *app) close() error {
	a.supervisor.Shutdown()
	return a.source.Close()
}

func runUplink(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	id, err := a.supervisor.Start(uplink.WorkName)
	if err != nil {
		return multierr.Append(err, a.close())
	}
	log.Info("uplink running",
		zap.String("session_id", id),
		zap.String("server", cfg.Server.URL),
		zap.String("source", cfg.Source.Driver),
	)

	var adminErr chan error
	if cfg.Admin.ListenAddr != "" {
		adminErr = make(chan error, 1)
		admin := api.NewAdminServer(cfg.Admin.ListenAddr, a.handler(), log)
		go func() { adminErr <- admin.Run(ctx) }()
	}

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-adminErr:
		runErr = fmt.Errorf("admin api: %w", err)
		adminErr = nil
	}

	cancel()
	runErr = multierr.Append(runErr, a.close())
	if adminErr != nil {
		runErr = multierr.Append(runErr, <-adminErr)
	}
	return runErr
}
