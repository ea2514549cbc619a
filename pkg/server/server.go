// Package server exposes the named operations over HTTP for the
// tool-calling client.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"moneybridge/pkg/service"
)

// operations is the service surface the router dispatches to.
type operations interface {
	GetTotalAssets(ctx context.Context) service.Response
	ListRecentTransactions(ctx context.Context, count int) service.Response
	GetBudgetStatus(ctx context.Context) service.Response
	TriggerRefresh(ctx context.Context) service.Response
	HealthCheck(ctx context.Context) service.Response
	ListManualAccounts() service.Response
	UpdateManualAccount(ctx context.Context, name string, amount float64) service.Response
	AssetHistory(ctx context.Context, days int) service.Response
}

// Server routes operation invocations to the service layer.
type Server struct {
	svc    operations
	logger *zap.Logger
}

// New creates the HTTP server around the operation facade.
func New(svc operations, logger *zap.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// Router builds the chi router with all operation endpoints mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/get_total_assets", s.handleTotalAssets)
		r.Post("/list_recent_transactions", s.handleRecentTransactions)
		r.Post("/get_budget_status", s.handleBudgetStatus)
		r.Post("/trigger_refresh", s.handleTriggerRefresh)
		r.Post("/list_manual_accounts", s.handleListManualAccounts)
		r.Post("/update_manual_account", s.handleUpdateManualAccount)
		r.Post("/get_asset_history", s.handleAssetHistory)
	})

	return r
}

// requestLogger tags each request with an id and logs method, path,
// status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request handled",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp service.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "error",
		"error":  map[string]string{"code": "BAD_REQUEST", "message": msg},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.svc.HealthCheck(r.Context())
	if resp.Status != "success" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(resp)
		return
	}
	s.writeResponse(w, resp)
}

func (s *Server) handleTotalAssets(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.svc.GetTotalAssets(r.Context()))
}

func (s *Server) handleRecentTransactions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	req.Count = 20
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	s.writeResponse(w, s.svc.ListRecentTransactions(r.Context(), req.Count))
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.svc.GetBudgetStatus(r.Context()))
}

func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.svc.TriggerRefresh(r.Context()))
}

func (s *Server) handleListManualAccounts(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.svc.ListManualAccounts())
}

func (s *Server) handleUpdateManualAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountName string  `json:"account_name"`
		Amount      float64 `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil || req.AccountName == "" {
		s.badRequest(w, "account_name and amount are required")
		return
	}
	s.writeResponse(w, s.svc.UpdateManualAccount(r.Context(), req.AccountName, req.Amount))
}

func (s *Server) handleAssetHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	req.Days = 30
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	s.writeResponse(w, s.svc.AssetHistory(r.Context(), req.Days))
}

// decodeBody decodes an optional JSON body into dst. An empty body keeps
// the defaults already set on dst.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}
