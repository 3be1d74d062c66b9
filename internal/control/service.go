// Package control assembles the engine: storage, broker, chain access, the
// command dispatcher, the reconciler, the outbox drainer, and the health
// server, with lifecycle management over all of them.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/vietddude/swapd/internal/core/config"
	"github.com/vietddude/swapd/internal/dispatch"
	"github.com/vietddude/swapd/internal/executor"
	"github.com/vietddude/swapd/internal/health"
	"github.com/vietddude/swapd/internal/infra/chainrpc"
	"github.com/vietddude/swapd/internal/infra/keyvault"
	"github.com/vietddude/swapd/internal/infra/redisx"
	"github.com/vietddude/swapd/internal/infra/storage/postgres"
	"github.com/vietddude/swapd/internal/liquidity"
	"github.com/vietddude/swapd/internal/planner"
	"github.com/vietddude/swapd/internal/publish"
	"github.com/vietddude/swapd/internal/query"
	"github.com/vietddude/swapd/internal/reconciler"
)

// commandStore adapts the postgres store to the dispatcher's persistence
// surface: Begin returns the interface form and a fresh idempotency key maps
// to (nil, nil) instead of a not-found error.
type commandStore struct {
	*postgres.DB
}

func (s commandStore) Begin(ctx context.Context) (dispatch.UnitOfWork, error) {
	return s.DB.NewUnitOfWork(ctx)
}

func (s commandStore) CommandResult(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := s.DB.CommandResult(ctx, key)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, nil
	}
	return raw, err
}

// walletLeaser adapts the redis lease to the dispatcher's interface.
type walletLeaser struct {
	client *redisx.Client
}

func (l walletLeaser) AcquireWalletLease(ctx context.Context, walletID, token string) (dispatch.Lease, error) {
	lease, err := l.client.AcquireWalletLease(ctx, walletID, token)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Service is the assembled engine.
type Service struct {
	cfg config.AppConfig

	db    *postgres.DB
	redis *redisx.Client
	chain *chainrpc.Adapter

	dispatcher *dispatch.Dispatcher
	queries    *query.API
	recon      *reconciler.Reconciler
	drainer    *publish.Drainer
	healthSrv  *health.Server

	log *slog.Logger
}

// NewService wires every component from configuration.
func NewService(cfg *config.AppConfig) (*Service, error) {
	ctx := context.Background()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	redisClient, err := redisx.NewClient(cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	masterSecret := os.Getenv(cfg.Keys.MasterSecretEnv)
	vault, err := keyvault.New(masterSecret, db)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init key vault (%s): %w", cfg.Keys.MasterSecretEnv, err)
	}

	chain, err := chainrpc.NewAdapter(cfg.Chain.Endpoints, cfg.Chain.RPC)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init chain adapter: %w", err)
	}

	exec, err := executor.New(chain, vault, cfg.Chain.NetworkID, cfg.Executor)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init executor: %w", err)
	}

	pools := liquidity.NewSource(chain, cfg.Liquidity)
	routes := planner.New(cfg.Planner)

	store := commandStore{DB: db}
	dispatcher := dispatch.New(store, walletLeaser{client: redisClient}, exec, pools, routes, vault)

	monitor := health.NewMonitor(
		health.Check{Name: "database", Critical: true, Probe: db.PingContext},
		health.Check{Name: "redis", Probe: redisClient.Ping},
		health.Check{Name: "chain_rpc", Probe: func(ctx context.Context) error {
			_, err := chain.BlockNumber(ctx)
			return err
		}},
	)

	return &Service{
		cfg:        *cfg,
		db:         db,
		redis:      redisClient,
		chain:      chain,
		dispatcher: dispatcher,
		queries:    query.NewAPI(db),
		recon:      reconciler.New(db, chain, cfg.Reconciler),
		drainer:    publish.New(db, redisClient, cfg.Publish),
		healthSrv:  health.NewServer(monitor, cfg.Server.Port),
		log:        slog.Default(),
	}, nil
}

// Dispatcher is the write entry point.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Queries is the read entry point.
func (s *Service) Queries() *query.API { return s.queries }

// Start launches the background loops. They run until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.healthSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server failed", "error", err)
		}
	}()

	go func() {
		if err := s.recon.Run(ctx); err != nil {
			s.log.Error("reconciler failed", "error", err)
		}
	}()

	go func() {
		if err := s.drainer.Run(ctx); err != nil {
			s.log.Error("outbox drainer failed", "error", err)
		}
	}()

	s.log.Info("service started", "port", s.cfg.Server.Port, "network_id", s.cfg.Chain.NetworkID)
	return nil
}

// Stop shuts the service down.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("stopping service")

	if err := s.redis.Close(); err != nil {
		s.log.Warn("failed to close redis", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.log.Warn("failed to close database", "error", err)
	}
	return s.healthSrv.Stop(ctx)
}
