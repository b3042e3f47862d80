package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/synergy/internal/config"
	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/identity"
	"github.com/vovakirdan/synergy/internal/metrics"
	"github.com/vovakirdan/synergy/internal/store"
	"github.com/vovakirdan/synergy/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/synergy/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	store           *sqlite.SQLiteStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. When
// cfg.StorePath is set, the persisted room topology is loaded before the
// configured seed rooms are applied.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	var tokenCfg *identity.TokenConfig
	if cfg.IdentityTokenSecret != "" {
		tokenCfg = &identity.TokenConfig{
			Secret:   []byte(cfg.IdentityTokenSecret),
			Issuer:   cfg.IdentityTokenIssuer,
			Audience: cfg.IdentityTokenAudience,
			TTL:      cfg.IdentityTokenTTL,
		}
	}
	ids := identity.NewClient(identity.Options{
		BaseURL: cfg.IdentityURL,
		Timeout: cfg.IdentityTimeout,
		Token:   tokenCfg,
	}, logger)

	reg := core.NewRegistry()

	var (
		st       *sqlite.SQLiteStore
		topology store.TopologyStore
	)
	if cfg.StorePath != "" {
		var err error
		st, err = sqlite.New(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		topology = st

		n, err := restoreTopology(context.Background(), reg, st)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("restore topology: %w", err)
		}
		logger.Info().Str("store_path", cfg.StorePath).Int("rooms", n).Msg("topology restored")
	}

	if err := seedRooms(context.Background(), reg, topology, cfg.Rooms); err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, fmt.Errorf("seed rooms: %w", err)
	}

	m := metrics.New()
	server := transporthttp.NewServer(transporthttp.Deps{
		Registry: reg,
		Identity: ids,
		Topology: topology,
		Metrics:  m,
	}, cfg, logger)

	logger.Info().
		Str("identity_url", cfg.IdentityURL).
		Strs("rooms", reg.ListRoomNames()).
		Strs("default_rooms", reg.DefaultRoomNames()).
		Msg("relay initialized")

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        reg,
		store:           st,
		log:             logger,
	}, nil
}

// Registry exposes the room registry.
func (a *App) Registry() *core.Registry {
	return a.registry
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is cancelled. Open websocket
// sessions observe the cancellation through their request context.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
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

// cleanup closes the topology store, if any.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

func restoreTopology(ctx context.Context, reg *core.Registry, st store.TopologyStore) (int, error) {
	rooms, err := st.LoadRooms(ctx)
	if err != nil {
		return 0, err
	}
	for _, room := range rooms {
		reg.CreateRoom(room.Name, room.Default)
		for _, aid := range room.Members {
			if err := reg.AddMember(room.Name, aid); err != nil {
				return 0, err
			}
		}
	}
	return len(rooms), nil
}

// seedRooms creates configured rooms that do not exist yet. Existing rooms
// keep their membership and default flag.
func seedRooms(ctx context.Context, reg *core.Registry, topology store.TopologyStore, seeds []config.RoomSeed) error {
	for _, seed := range seeds {
		if seed.Name == "" {
			continue
		}
		if _, ok := reg.Room(seed.Name); ok {
			continue
		}
		reg.CreateRoom(seed.Name, seed.Default)
		if topology != nil {
			if err := topology.SaveRoom(ctx, seed.Name, seed.Default); err != nil {
				return err
			}
		}
	}
	return nil
}
