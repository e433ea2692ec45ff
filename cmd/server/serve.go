package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"live-collab-sync/internal/auth"
	"live-collab-sync/internal/config"
	"live-collab-sync/internal/db"
	"live-collab-sync/internal/engine"
	"live-collab-sync/internal/logger"
	"live-collab-sync/internal/metrics"
	"live-collab-sync/internal/presence"
	"live-collab-sync/internal/revisions"
	"live-collab-sync/internal/shares"
	"live-collab-sync/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// stores is the persistence backing one server process.
type stores struct {
	db        *sql.DB
	users     auth.UserStore
	documents revisions.Store
	shares    shares.Store
}

func (s *stores) ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *stores) close() {
	if s.db != nil {
		s.db.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("using in-memory stores, data is lost on restart")
		return &stores{
			users:     auth.NewMemoryUserStore(),
			documents: revisions.NewMemoryStore(),
			shares:    shares.NewMemoryStore(),
		}, nil

	case config.StoreDriverPostgres:
		conn, err := db.Connect(ctx, cfg.DBUrl)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, conn, "up"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
		log.Info().Msg("connected to postgres")
		return &stores{
			db:        conn,
			users:     auth.NewPostgresUserStore(conn),
			documents: revisions.NewPostgresStore(conn),
			shares:    shares.NewPostgresStore(conn),
		}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func runServe(ctx context.Context) error {
	cfg := config.LoadConfig()
	log := logger.New(cfg.Environment, cfg.LogLevel)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	registry := prometheus.NewRegistry()
	metrics.RegisterCollectors(registry)
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(log)
	go hub.Run(hubCtx)

	opts := []engine.Option{engine.WithLogger(log)}
	var relay *websocket.RedisRelay
	if cfg.RedisUrl != "" {
		var client *redis.Client
		client, err = websocket.ConnectRedis(ctx, cfg.RedisUrl)
		if err != nil {
			return err
		}
		relay = websocket.NewRedisRelay(client, log)
		defer relay.Close()
		opts = append(opts, engine.WithRelay(relay))
	}

	eng := engine.New(st.shares, st.documents, presence.NewRegistry(), hub, opts...)
	if relay != nil {
		if err := relay.Start(hubCtx, eng.DeliverLocal); err != nil {
			return err
		}
	}

	router := newRouter(routerDeps{
		cfg:       cfg,
		log:       log,
		auth:      auth.NewAuthService(st.users, cfg.JWTSecret),
		documents: st.documents,
		shares:    st.shares,
		ws:        websocket.NewWebSocketHandler(hub, eng, cfg.AllowedOrigins, cfg.WSMessageRate, cfg.WSMessageBurst, log),
		gatherer:  registry,
		ping:      st.ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Bool("relay", relay != nil).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	stopHub()
	return nil
}
