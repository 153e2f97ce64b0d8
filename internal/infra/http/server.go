// Package http is the gin surface over the mandate coordinator and the
// reputation engine. Handlers stay thin: identity and rate limiting
// here, every settlement rule in the usecase layer.
package http

import (
	"context"
	"time"

	"clawtrust/internal/config"
	"clawtrust/internal/domain"
	"clawtrust/internal/infra/db"
	"clawtrust/internal/usecase"

	"github.com/gin-gonic/gin"
	nethttp "net/http"
)

// Minter is the admin seeding hook; only the memory and db ledgers
// implement it.
type Minter interface {
	Mint(ctx context.Context, address string, amount int64) (int64, error)
}

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	coordinator *usecase.MandateCoordinator
	reputation  *usecase.ReputationEngine
	ledger      usecase.LedgerAdapter
	minter      Minter

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Coordinator *usecase.MandateCoordinator
	Reputation  *usecase.ReputationEngine
	Ledger      usecase.LedgerAdapter
	Minter      Minter
	Store       *db.Store
	RateLimiter domain.RateLimiter
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:                 cfg,
		store:               deps.Store,
		r:                   r,
		coordinator:         deps.Coordinator,
		reputation:          deps.Reputation,
		ledger:              deps.Ledger,
		minter:              deps.Minter,
		adminAPIKey:         cfg.AdminAPIKey,
		rateLimiter:         deps.RateLimiter,
		rateLimitRequests:   cfg.RateLimitRequests,
		rateLimitWindow:     time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
		rateLimitFailClosed: cfg.RateLimitFailClosed,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		mode := "no-db"
		if s.store.Available() {
			mode = "db"
		}
		c.JSON(nethttp.StatusOK, gin.H{"status": "ok", "mode": mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/agreements", s.handleCreateAgreement)
		v1.GET("/agreements/:agreement_id", s.handleGetAgreement)
		v1.GET("/agreements/:agreement_id/events", s.handleListEvents)
		v1.POST("/agreements/:agreement_id/fund", s.handleFund)
		v1.POST("/agreements/:agreement_id/deliver", s.handleDeliver)
		v1.POST("/agreements/:agreement_id/release", s.handleRelease)
		v1.POST("/agreements/:agreement_id/cancel", s.handleCancel)
		v1.POST("/agreements/:agreement_id/dispute", s.handleDispute)
		v1.POST("/agreements/:agreement_id/resolve", s.handleResolve)

		v1.POST("/mandates", s.handleCreateMandate)
		v1.GET("/mandates", s.handleListMandates)
		v1.GET("/mandates/:mandate_id", s.handleGetMandate)

		v1.GET("/agents/:address/reputation", s.handleGetReputation)
		v1.GET("/agents/:address/balance", s.handleGetBalance)
		v1.GET("/reputation/top", s.handleTopReputation)

		v1.POST("/admin/accounts/:address/mint", s.handleAdminMint)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, nethttp.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() nethttp.Handler {
	return s.r
}
