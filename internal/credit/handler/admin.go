package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"credits/internal/credit/models"
	dErrors "credits/pkg/domain-errors"
	"credits/pkg/platform/httputil"
)

// Jobs are the scheduled ledger jobs an operator may trigger by hand.
type Jobs interface {
	ProcessExpirations(ctx context.Context) (*models.ExpirationReport, error)
	NotifyExpiringSoon(ctx context.Context, days int) (*models.ExpiringSoonReport, error)
}

// AdminHandler serves operator endpoints. The caller mounts it behind
// admin.RequireAdminToken.
type AdminHandler struct {
	jobs        Jobs
	warningDays int
	logger      *slog.Logger
}

func NewAdmin(jobs Jobs, warningDays int, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if warningDays <= 0 {
		warningDays = 7
	}
	return &AdminHandler{jobs: jobs, warningDays: warningDays, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/expirations/run", h.HandleRunExpirations)
	r.Post("/expirations/notify", h.HandleNotifyExpiring)
}

type ExpirationReportResponse struct {
	Processed    int   `json:"processed"`
	Skipped      int   `json:"skipped"`
	Failed       int   `json:"failed"`
	TotalExpired int64 `json:"total_expired"`
}

type ExpiringSoonResponse struct {
	Users       int   `json:"users"`
	Allocations int   `json:"allocations"`
	Amount      int64 `json:"amount"`
	WindowDays  int   `json:"window_days"`
}

func (h *AdminHandler) HandleRunExpirations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.jobs.ProcessExpirations(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual expiration run failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ExpirationReportResponse{
		Processed:    report.Processed,
		Skipped:      report.Skipped,
		Failed:       report.Failed,
		TotalExpired: report.TotalExpired,
	})
}

func (h *AdminHandler) HandleNotifyExpiring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days := h.warningDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "days must be a positive integer"))
			return
		}
		days = n
	}
	report, err := h.jobs.NotifyExpiringSoon(ctx, days)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual expiring-soon run failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ExpiringSoonResponse{
		Users:       report.Users,
		Allocations: report.Allocations,
		Amount:      report.Amount,
		WindowDays:  days,
	})
}
