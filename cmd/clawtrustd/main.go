package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"clawtrust/internal/config"
	"clawtrust/internal/domain"
	"clawtrust/internal/infra/cachemem"
	"clawtrust/internal/infra/canon"
	"clawtrust/internal/infra/db"
	clawhttp "clawtrust/internal/infra/http"
	"clawtrust/internal/infra/ledgermem"
	"clawtrust/internal/infra/memstore"
	"clawtrust/internal/infra/policyarb"
	"clawtrust/internal/infra/ratelimit"
	"clawtrust/internal/usecase"
)

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}

	var (
		ledger      usecase.LedgerAdapter
		minter      clawhttp.Minter
		settlements usecase.SettlementStore
		reputations usecase.ReputationStore
		mandates    usecase.MandateStore
	)
	if store.Available() {
		if err := store.Migrate(); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		dbLedger := db.NewLedger(store.DB)
		ledger, minter = dbLedger, dbLedger
		settlements = db.NewSettlementStore(store.DB)
		reputations = db.NewReputationStore(store.DB)
		mandates = db.NewMandateStore(store.DB)
		log.Printf("storage: postgres")
	} else {
		memLedger := ledgermem.New()
		ledger, minter = memLedger, memLedger
		settlements = memstore.NewSettlementStore(memLedger)
		reputations = memstore.NewReputationStore()
		mandates = memstore.NewMandateStore()
		log.Printf("storage: in-memory (POSTGRES_DSN not set)")
	}

	arbiter, err := policyarb.FromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("arbiter policy: %v", err)
	}

	escrow := &usecase.EscrowEngine{
		Store:   settlements,
		Canon:   canon.Codec{},
		Arbiter: arbiter,
	}
	reputation := &usecase.ReputationEngine{
		Store:    reputations,
		Cache:    cachemem.New(),
		CacheTTL: cfg.ReputationCacheTTL(),
	}
	coordinator := &usecase.MandateCoordinator{
		Escrow:     escrow,
		Reputation: reputation,
		Mandates:   mandates,
	}

	sweeper := &usecase.ExpirySweeper{
		Coordinator: coordinator,
		Store:       settlements,
		Interval:    cfg.SweepInterval(),
	}
	go sweeper.Run(ctx)

	var limiter domain.RateLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, nil)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		log.Printf("rate limiter: redis at %s", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
	}

	srv := clawhttp.NewServer(cfg, clawhttp.ServerDeps{
		Coordinator: coordinator,
		Reputation:  reputation,
		Ledger:      ledger,
		Minter:      minter,
		Store:       store,
		RateLimiter: limiter,
	})

	log.Printf("listening on %s", cfg.HTTPAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
