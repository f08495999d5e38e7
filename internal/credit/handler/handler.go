// Package handler exposes the credit ledger over JSON/HTTP.
//
// Routes are mounted under /v1 by the caller. Handlers parse and validate the
// request body, call the service, and map ledger errors through
// httputil.WriteError so balance and budget failures carry their numbers.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	dErrors "credits/pkg/domain-errors"
	"credits/pkg/platform/httputil"
	strutil "credits/pkg/platform/strings"
	"credits/pkg/requestcontext"
)

// Service is the part of the ledger service the handlers call.
type Service interface {
	CreateAccount(ctx context.Context, userID id.UserID, creditType models.CreditType, policy models.ExpirationPolicy, days int) (*models.CreditAccount, error)
	GetAccount(ctx context.Context, accountID id.AccountID) (*models.CreditAccount, error)
	ListAccounts(ctx context.Context, userID id.UserID, filter models.AccountFilter) ([]*models.CreditAccount, error)
	DeactivateAccount(ctx context.Context, accountID id.AccountID) error
	GetBalanceSummary(ctx context.Context, userID id.UserID) (*models.BalanceSummary, error)
	ListTransactions(ctx context.Context, userID id.UserID, filter models.TransactionFilter) ([]*models.CreditTransaction, error)
	EraseUserData(ctx context.Context, userID id.UserID) (int, error)

	Allocate(ctx context.Context, req models.AllocateRequest) (*models.AllocateResult, error)
	CheckAvailability(ctx context.Context, userID id.UserID, amount int64) (*models.ConsumptionPlan, error)
	Consume(ctx context.Context, req models.ConsumeRequest) (*models.ConsumeResult, error)
	Transfer(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error)

	CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (*models.CreditCampaign, error)
	GetCampaign(ctx context.Context, campaignID id.CampaignID) (*models.CreditCampaign, error)
	ListActiveCampaigns(ctx context.Context, creditType *models.CreditType) ([]*models.CreditCampaign, error)
	ClaimCampaign(ctx context.Context, campaignID id.CampaignID, userID id.UserID, idempotencyKey string) (*models.AllocateResult, error)
}

// Handler wires ledger endpoints to the credit service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the ledger endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/accounts", h.HandleCreateAccount)
	r.Get("/accounts/{accountID}", h.HandleGetAccount)
	r.Post("/accounts/{accountID}/deactivate", h.HandleDeactivateAccount)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/accounts", h.HandleListAccounts)
		r.Get("/balance", h.HandleBalance)
		r.Get("/transactions", h.HandleListTransactions)
		r.Get("/availability", h.HandleAvailability)
		r.Delete("/", h.HandleEraseUser)
	})

	r.Post("/allocations", h.HandleAllocate)
	r.Post("/consumptions", h.HandleConsume)
	r.Post("/transfers", h.HandleTransfer)

	r.Post("/campaigns", h.HandleCreateCampaign)
	r.Get("/campaigns", h.HandleListCampaigns)
	r.Get("/campaigns/{campaignID}", h.HandleGetCampaign)
	r.Post("/campaigns/{campaignID}/claims", h.HandleClaimCampaign)
}

// ============================================================================
// Accounts
// ============================================================================

func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	account, err := h.service.CreateAccount(ctx, req.userID, req.creditType, req.policy, req.ExpirationDays)
	if err != nil {
		h.fail(ctx, w, "create account failed", err, "user_id", req.userID)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toAccount(account))
}

func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := id.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account, err := h.service.GetAccount(ctx, accountID)
	if err != nil {
		h.fail(ctx, w, "get account failed", err, "account_id", accountID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccount(account))
}

func (h *Handler) HandleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := id.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeactivateAccount(ctx, accountID); err != nil {
		h.fail(ctx, w, "deactivate account failed", err, "account_id", accountID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := models.AccountFilter{ActiveOnly: q.Get("active") == "true"}
	types, err := parseCreditTypes(q["credit_type"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter.CreditTypes = types

	accounts, err := h.service.ListAccounts(ctx, userID, filter)
	if err != nil {
		h.fail(ctx, w, "list accounts failed", err, "user_id", userID)
		return
	}
	out := make([]*AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccount(a))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetBalanceSummary(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "balance summary failed", err, "user_id", userID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse(*summary))
}

func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	txns, err := h.service.ListTransactions(ctx, userID, filter)
	if err != nil {
		h.fail(ctx, w, "list transactions failed", err, "user_id", userID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transactions": toTransactions(txns)})
}

func (h *Handler) HandleEraseUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	deleted, err := h.service.EraseUserData(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "erase user data failed", err, "user_id", userID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// ============================================================================
// Ledger operations
// ============================================================================

func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[AllocateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.Allocate(ctx, req.parsed)
	if err != nil {
		h.fail(ctx, w, "allocation failed", err, "user_id", req.parsed.UserID, "credit_type", req.parsed.CreditType)
		return
	}

	h.logger.InfoContext(ctx, "credits allocated",
		"request_id", requestID,
		"user_id", req.parsed.UserID,
		"amount", req.Amount,
		"replayed", result.Replayed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toAllocateResponse(result))
}

func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "amount must be a positive integer"))
		return
	}
	plan, err := h.service.CheckAvailability(ctx, userID, amount)
	if err != nil {
		h.fail(ctx, w, "availability check failed", err, "user_id", userID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAvailability(plan))
}

func (h *Handler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ConsumeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.Consume(ctx, req.parsed)
	if err != nil {
		h.fail(ctx, w, "consumption failed", err, "user_id", req.parsed.UserID, "amount", req.Amount)
		return
	}

	h.logger.InfoContext(ctx, "credits consumed",
		"request_id", requestID,
		"user_id", req.parsed.UserID,
		"amount", result.Consumed,
		"lines", len(result.Transactions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, ConsumeResponse{
		UserID:       result.UserID,
		Consumed:     result.Consumed,
		Transactions: toTransactions(result.Transactions),
	})
}

func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.Transfer(ctx, req.parsed)
	if err != nil {
		h.fail(ctx, w, "transfer failed", err, "from_user_id", req.parsed.FromUserID, "to_user_id", req.parsed.ToUserID)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, TransferResponse{
		TransferID:  result.TransferID,
		Outgoing:    toTransaction(result.Outgoing),
		Incoming:    toTransaction(result.Incoming),
		FromAccount: toAccount(result.FromAccount),
		ToAccount:   toAccount(result.ToAccount),
	})
}

// ============================================================================
// Campaigns
// ============================================================================

func (h *Handler) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateCampaignRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	campaign, err := h.service.CreateCampaign(ctx, req.parsed)
	if err != nil {
		h.fail(ctx, w, "create campaign failed", err, "name", req.parsed.Name)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toCampaign(campaign))
}

func (h *Handler) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := id.ParseCampaignID(chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	campaign, err := h.service.GetCampaign(ctx, campaignID)
	if err != nil {
		h.fail(ctx, w, "get campaign failed", err, "campaign_id", campaignID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCampaign(campaign))
}

func (h *Handler) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var creditType *models.CreditType
	if raw := r.URL.Query().Get("credit_type"); raw != "" {
		t, err := models.ParseCreditType(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		creditType = &t
	}
	campaigns, err := h.service.ListActiveCampaigns(ctx, creditType)
	if err != nil {
		h.fail(ctx, w, "list campaigns failed", err)
		return
	}
	out := make([]*CampaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, toCampaign(c))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"campaigns": out})
}

func (h *Handler) HandleClaimCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	campaignID, err := id.ParseCampaignID(chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ClaimCampaignRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.ClaimCampaign(ctx, campaignID, req.userID, req.IdempotencyKey)
	if err != nil {
		h.fail(ctx, w, "campaign claim failed", err, "campaign_id", campaignID, "user_id", req.userID)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toAllocateResponse(result))
}

// ============================================================================
// Helpers
// ============================================================================

// fail logs at warn for client errors and error for everything else, then writes the response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	if kind := models.KindOf(err); kind != "" {
		attrs = append(attrs, "kind", kind)
	}
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func userParam(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.UserID{}, false
	}
	return userID, true
}

// parseCreditTypes accepts repeated and comma-separated values.
func parseCreditTypes(raw []string) ([]models.CreditType, error) {
	var out []models.CreditType
	for _, v := range splitValues(raw) {
		t, err := models.ParseCreditType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseTransactionFilter(r *http.Request) (models.TransactionFilter, error) {
	q := r.URL.Query()
	var filter models.TransactionFilter

	for _, v := range splitValues(q["type"]) {
		filter.Types = append(filter.Types, models.TransactionType(v))
	}
	types, err := parseCreditTypes(q["credit_type"])
	if err != nil {
		return filter, err
	}
	filter.CreditTypes = types

	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, key+" must be an RFC 3339 timestamp")
		}
		*dst = &t
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, dErrors.New(dErrors.CodeValidation, key+" must be a non-negative integer")
		}
		*dst = n
	}
	return filter, nil
}

func splitValues(raw []string) []string {
	var parts []string
	for _, v := range raw {
		parts = append(parts, strings.Split(v, ",")...)
	}
	return strutil.DedupeAndTrimLower(parts)
}
