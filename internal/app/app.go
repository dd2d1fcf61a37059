package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/auth"
	"github.com/vovakirdan/actorchat-server/internal/cluster"
	"github.com/vovakirdan/actorchat-server/internal/config"
	"github.com/vovakirdan/actorchat-server/internal/core"
	"github.com/vovakirdan/actorchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/actorchat-server/internal/transport/http"
)

// App wires together the gateways, cluster transport, actor layer and the
// HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           *sqlite.SQLiteStore
	transport       cluster.Transport
	dir             *core.Directory
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var transport cluster.Transport
	if cfg.NATSURL != "" {
		transport, err = cluster.NewNATS(cfg.NATSURL, cfg.NodeName, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init cluster transport: %w", err)
		}
		logger.Info().Str("nats_url", cfg.NATSURL).Str("node", cfg.NodeName).Msg("cluster transport connected")
	} else {
		transport = cluster.NewLocal()
		logger.Info().Msg("running single-node")
	}

	dir := core.NewDirectory(transport, st, cfg.IdleEvictionGrace, logger)
	mgr := core.NewManager(st, dir, transport, cfg.SendBuffer, logger)

	tickets := &auth.TicketConfig{
		Secret: []byte(cfg.TicketSecret),
		Issuer: "actorchat",
		TTL:    cfg.TicketTTL,
	}

	server := transporthttp.NewServer(mgr, tickets, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		transport:       transport,
		dir:             dir,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup stops actors and closes the transport and store.
func (a *App) cleanup() {
	a.dir.Close()

	if err := a.transport.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close cluster transport")
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
