package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"clawtrust/internal/domain"
	"clawtrust/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	routeAgreementsCreate = "agreements:create"
	routeAgreementsAct    = "agreements:act"
	routeMandatesCreate   = "mandates:create"
	routeReputationRead   = "reputation:read"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createAgreementRequest struct {
	Provider      string `json:"provider"`
	Renter        string `json:"renter"`
	Skill         string `json:"skill"`
	Amount        int64  `json:"amount"`
	Deadline      string `json:"deadline"`
	Nonce         string `json:"nonce"`
	ReleasePolicy string `json:"release_policy"`
}

type createMandateRequest struct {
	createAgreementRequest
	MetadataURI string `json:"metadata_uri"`
}

type fundRequest struct {
	Amount int64 `json:"amount"`
}

type deliverRequest struct {
	DeliverableHash string `json:"deliverable_hash"`
}

type releaseRequest struct {
	Rating *int `json:"rating"`
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

type mintRequest struct {
	Amount int64 `json:"amount"`
}

type agreementResponse struct {
	ID              string     `json:"id"`
	Provider        string     `json:"provider"`
	Renter          string     `json:"renter"`
	Skill           string     `json:"skill"`
	Amount          int64      `json:"amount"`
	Deadline        time.Time  `json:"deadline"`
	ReleasePolicy   string     `json:"release_policy"`
	DeliverableHash string     `json:"deliverable_hash,omitempty"`
	State           string     `json:"state"`
	DisputeReason   string     `json:"dispute_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FundedAt        *time.Time `json:"funded_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	DisputedAt      *time.Time `json:"disputed_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

type mandateResponse struct {
	ID          string    `json:"id"`
	AgreementID string    `json:"agreement_id"`
	Skill       string    `json:"skill"`
	Provider    string    `json:"provider"`
	Renter      string    `json:"renter"`
	Amount      int64     `json:"amount"`
	Deadline    time.Time `json:"deadline"`
	MetadataURI string    `json:"metadata_uri,omitempty"`
	Status      string    `json:"status"`
	FinalState  string    `json:"final_state,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type eventResponse struct {
	ID            string         `json:"id"`
	AgreementID   string         `json:"agreement_id"`
	Seq           int64          `json:"seq"`
	EventType     string         `json:"event_type"`
	ActorType     string         `json:"actor_type"`
	Actor         string         `json:"actor,omitempty"`
	Payload       map[string]any `json:"payload"`
	PayloadHash   string         `json:"payload_hash"`
	PrevEventHash string         `json:"prev_event_hash"`
	EventHash     string         `json:"event_hash"`
	CreatedAt     time.Time      `json:"created_at"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

func (s *Server) handleCreateAgreement(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAgreementsCreate, principal.Address) {
		return
	}
	var req createAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	init, ok := s.initializeRequest(c, principal, req)
	if !ok {
		return
	}
	agreement, err := s.coordinator.CreateAgreement(c.Request.Context(), init)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agreementResponseFrom(agreement))
}

func (s *Server) handleCreateMandate(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeMandatesCreate, principal.Address) {
		return
	}
	var req createMandateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	init, ok := s.initializeRequest(c, principal, req.createAgreementRequest)
	if !ok {
		return
	}
	mandate, agreement, err := s.coordinator.CreateMandate(c.Request.Context(), usecase.CreateMandateRequest{
		InitializeRequest: init,
		MetadataURI:       req.MetadataURI,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"mandate":   mandateResponseFrom(mandate),
		"agreement": agreementResponseFrom(agreement),
	})
}

// initializeRequest validates the transport-level creation request. The
// renter opens the agreement; everything else is engine territory.
func (s *Server) initializeRequest(c *gin.Context, principal domain.Principal, req createAgreementRequest) (usecase.InitializeRequest, bool) {
	if principal.Address != req.Renter {
		writeError(c, fmt.Errorf("%w: only the renter may open an agreement", domain.ErrUnauthorized))
		return usecase.InitializeRequest{}, false
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_TERMS", "deadline must be RFC3339")
		return usecase.InitializeRequest{}, false
	}
	policy := req.ReleasePolicy
	if policy == "" {
		policy = s.cfg.DefaultReleasePolicy
	}
	return usecase.InitializeRequest{
		Provider:      req.Provider,
		Renter:        req.Renter,
		Skill:         req.Skill,
		Amount:        req.Amount,
		Deadline:      deadline,
		Nonce:         req.Nonce,
		ReleasePolicy: domain.ReleasePolicy(policy),
	}, true
}

func (s *Server) handleGetAgreement(c *gin.Context) {
	agreement, err := s.coordinator.Escrow.GetAgreement(c.Request.Context(), c.Param("agreement_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreementResponseFrom(*agreement))
}

func (s *Server) handleListEvents(c *gin.Context) {
	events, err := s.coordinator.Escrow.ListEvents(c.Request.Context(), c.Param("agreement_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:            e.ID,
			AgreementID:   e.AgreementID,
			Seq:           e.Seq,
			EventType:     string(e.EventType),
			ActorType:     string(e.ActorType),
			Actor:         e.Actor,
			Payload:       e.Payload,
			PayloadHash:   e.PayloadHash,
			PrevEventHash: e.PrevEventHash,
			EventHash:     e.EventHash,
			CreatedAt:     e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Server) handleFund(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAgreementsAct, principal.Address) {
		return
	}
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	agreement, err := s.coordinator.Fund(c.Request.Context(), c.Param("agreement_id"), principal.Address, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreementResponseFrom(agreement))
}

func (s *Server) handleDeliver(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAgreementsAct, principal.Address) {
		return
	}
	var req deliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	agreement, err := s.coordinator.SubmitDelivery(c.Request.Context(), c.Param("agreement_id"), principal.Address, req.DeliverableHash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreementResponseFrom(agreement))
}

func (s *Server) handleRelease(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAgreementsAct, principal.Address) {
		return
	}
	req := releaseRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	agreement, err := s.coordinator.Release(c.Request.Context(), c.Param("agreement_id"), principal.Address, req.Rating)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreementResponseFrom(agreement))
}

func (s *Server) handleCancel(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAgreementsAct, principal.Address) {
		return
	}
	agreement, err := s.coordinator.Cancel(c.Request.Context(), c.Param("agreement_id"), principal.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreementResponseFrom(agreement))
}

func (s *Server) handleDispute(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAgreementsAct, principal.Address) {
		return
	}
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	agreement, err := s.coordinator.Dispute(c.Request.Context(), c.Param("agreement_id"), principal.Address, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreementResponseFrom(agreement))
}

func (s *Server) handleResolve(c *gin.Context) {
	principal, ok := s.requireAgent(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAgreementsAct, principal.Address) {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	agreement, err := s.coordinator.ResolveDispute(
		c.Request.Context(),
		c.Param("agreement_id"),
		principal,
		domain.ResolutionDecision(req.Decision),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreementResponseFrom(agreement))
}

func (s *Server) handleGetMandate(c *gin.Context) {
	mandate, err := s.coordinator.GetMandate(c.Request.Context(), c.Param("mandate_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mandateResponseFrom(*mandate))
}

func (s *Server) handleListMandates(c *gin.Context) {
	status := domain.MandateStatus(c.Query("status"))
	mandates, err := s.coordinator.ListMandates(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]mandateResponse, 0, len(mandates))
	for _, m := range mandates {
		out = append(out, mandateResponseFrom(m))
	}
	c.JSON(http.StatusOK, gin.H{"mandates": out})
}

func (s *Server) handleGetReputation(c *gin.Context) {
	address := c.Param("address")
	// Reads are open, so the limit keys on whoever is asking, never on
	// the address being read.
	caller := principalFrom(c).Address
	if caller == "" {
		caller = c.ClientIP()
	}
	if !s.enforceRateLimit(c, routeReputationRead, caller) {
		return
	}
	view, err := s.reputation.GetReputation(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleTopReputation(c *gin.Context) {
	n := 10
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "n must be between 1 and 100")
			return
		}
		n = parsed
	}
	views, err := s.reputation.ListTop(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": views})
}

func (s *Server) handleGetBalance(c *gin.Context) {
	address := c.Param("address")
	principal := principalFrom(c)
	if principal.Address != address && !s.isAdmin(c) {
		writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "balance reads are limited to the account owner")
		return
	}
	balance, err := s.ledger.GetBalance(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{Address: address, Balance: balance})
}

func (s *Server) handleAdminMint(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.minter == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "MINT_UNAVAILABLE", "ledger does not support minting")
		return
	}
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	address := c.Param("address")
	balance, err := s.minter.Mint(c.Request.Context(), address, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{Address: address, Balance: balance})
}

func agreementResponseFrom(a domain.Agreement) agreementResponse {
	return agreementResponse{
		ID:              a.ID,
		Provider:        a.Provider,
		Renter:          a.Renter,
		Skill:           a.Skill,
		Amount:          a.Amount,
		Deadline:        a.Deadline,
		ReleasePolicy:   string(a.ReleasePolicy),
		DeliverableHash: a.DeliverableHash,
		State:           string(a.State),
		DisputeReason:   a.DisputeReason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		FundedAt:        a.FundedAt,
		DeliveredAt:     a.DeliveredAt,
		DisputedAt:      a.DisputedAt,
		ClosedAt:        a.ClosedAt,
	}
}

func mandateResponseFrom(m domain.Mandate) mandateResponse {
	return mandateResponse{
		ID:          m.ID,
		AgreementID: m.AgreementID,
		Skill:       m.Skill,
		Provider:    m.Provider,
		Renter:      m.Renter,
		Amount:      m.Amount,
		Deadline:    m.Deadline,
		MetadataURI: m.MetadataURI,
		Status:      string(m.Status),
		FinalState:  string(m.FinalState),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidTerms):
		status, code = http.StatusBadRequest, "INVALID_TERMS"
	case errors.Is(err, domain.ErrState):
		status, code = http.StatusConflict, "STATE_ERROR"
	case errors.Is(err, domain.ErrAmountMismatch):
		status, code = http.StatusBadRequest, "AMOUNT_MISMATCH"
	case errors.Is(err, domain.ErrLedgerFailure):
		status, code = http.StatusBadRequest, "LEDGER_FAILURE"
	case errors.Is(err, domain.ErrInvalidAccount):
		status, code = http.StatusBadRequest, "INVALID_ACCOUNT"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}
