// Package bootstrap assembles the generation stack from configuration for
// the api and worker commands.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"nero/internal/adapter/memstore"
	"nero/internal/adapter/repo"
	"nero/internal/billing"
	"nero/internal/domain"
	"nero/internal/generation"
	"nero/internal/imagegen"
	"nero/internal/infra"
	"nero/internal/reconcile"
	"nero/internal/storage"
)

// Stack is a fully wired service. Close releases the database pool, if any.
type Stack struct {
	Service *generation.Service
	Sweeper *generation.Sweeper
	Ledger  *billing.Ledger
	Pool    *pgxpool.Pool
	Memory  *memstore.Store
}

func (s *Stack) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

type stores struct {
	tasks    domain.TaskRepository
	images   domain.ImageRepository
	balances domain.BalanceRepository
	usage    domain.UsageRecorder
}

// Build connects to the configured store and wires provider, fetcher,
// engine, ledger and service together.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Stack, error) {
	stack := &Stack{}
	var st stores
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		mem := memstore.New()
		stack.Memory = mem
		st = stores{tasks: mem.Tasks(), images: mem.Images(), balances: mem.Balances(), usage: mem.Usage()}
		if err := seedBalances(mem, cfg.SeedBalances); err != nil {
			return nil, err
		}
		logger.Warn().Msg("bootstrap: using in-memory store, state is lost on restart")
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		stack.Pool = pool
		runner := infra.NewSQLRunner(pool, logger)
		st = stores{
			tasks:    repo.NewTaskRepository(runner),
			images:   repo.NewImageRepository(runner),
			balances: repo.NewBalanceRepository(runner),
			usage:    repo.NewUsageRepository(runner),
		}
	}

	uploadsDir := cfg.UploadsDir
	if !filepath.IsAbs(uploadsDir) {
		if abs, err := filepath.Abs(uploadsDir); err == nil {
			uploadsDir = abs
		}
	}
	fileStore, err := storage.NewFileStore(uploadsDir)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("bootstrap: configure storage: %w", err)
	}
	fetcher := storage.NewFetcher(fileStore, storage.FetcherOptions{
		HTTPClient:   &http.Client{},
		Timeout:      cfg.FetchTimeout,
		MaxBytes:     cfg.FetchMaxBytes,
		PublicPrefix: cfg.UploadsPrefix,
	})

	if cfg.ProviderAPIKey == "" {
		logger.Warn().Msg("bootstrap: PROVIDER_API_KEY is empty, provider calls will be rejected")
	}
	provider := imagegen.NewClient(imagegen.Options{
		BaseURL:     cfg.ProviderBaseURL,
		APIKey:      cfg.ProviderAPIKey,
		Model:       cfg.ProviderModel,
		CallbackURL: cfg.WebhookCallbackURL,
		Timeout:     cfg.ProviderTimeout,
	})

	ledger := billing.NewLedger(st.balances, logger)
	engine := reconcile.NewEngine(st.tasks, st.images, fetcher, ledger, reconcile.Options{
		Folder:                 cfg.GeneratedFolder,
		ClaimTTL:               cfg.ClaimTTL,
		MaxMaterializeAttempts: cfg.MaxMaterializeAttempts,
		SettleWait:             cfg.SettleWait,
		Logger:                 logger,
	})
	service := generation.NewService(generation.Dependencies{
		Tasks:      st.tasks,
		Images:     st.images,
		Usage:      st.usage,
		Provider:   provider,
		Reconciler: engine,
		Wallet:     ledger,
		Costs: billing.CostTable{
			domain.TaskKindTextToImage:  cfg.CostTextToImage,
			domain.TaskKindImageToImage: cfg.CostImageToImage,
		},
		Logger: logger,
	})

	stack.Service = service
	stack.Ledger = ledger
	stack.Sweeper = generation.NewSweeper(service, generation.SweeperOptions{
		MinAge:      cfg.SweepMinAge,
		TaskTTL:     cfg.TaskTTL,
		Concurrency: cfg.SweepConcurrency,
		Logger:      logger,
	})
	return stack, nil
}

// seedBalances applies "user=stars" pairs to an in-memory store.
func seedBalances(mem *memstore.Store, pairs []string) error {
	for _, pair := range pairs {
		user, raw, ok := strings.Cut(pair, "=")
		stars, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if !ok || strings.TrimSpace(user) == "" || err != nil || stars < 0 {
			return fmt.Errorf("bootstrap: invalid SEED_BALANCES entry %q", pair)
		}
		mem.SetBalance(strings.TrimSpace(user), stars)
	}
	return nil
}
