package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streambill/streambill/internal/billing"
	"github.com/streambill/streambill/internal/store"
)

// StatsFunc reports adapter call statistics for the stats endpoint.
type StatsFunc func() billing.Stats

// Server handles HTTP API requests for streambilld
type Server struct {
	service billing.Service
	ledger  store.Ledger
	stats   StatsFunc
	logger  *slog.Logger

	upgrader websocket.Upgrader
}

// New creates a new API server over the given billing service.
func New(service billing.Service, ledger store.Ledger, stats StatsFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		ledger:  ledger,
		stats:   stats,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes registers all API routes on the given mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	mux.HandleFunc("POST /api/v1/products/query", s.handleQueryProducts)

	mux.HandleFunc("GET /api/v1/purchases", s.handleOwnedPurchases)
	mux.HandleFunc("POST /api/v1/purchases", s.handlePurchase)
	mux.HandleFunc("POST /api/v1/purchases/{token}/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("POST /api/v1/purchases/{token}/consume", s.handleConsume)

	mux.HandleFunc("GET /api/v1/updates", s.handleUpdates)
	mux.HandleFunc("GET /api/v1/activity", s.handleActivity)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": "0.1.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

type queryProductsRequest struct {
	IDs  []string            `json:"ids"`
	Kind billing.ProductKind `json:"kind"`
}

func (s *Server) handleQueryProducts(w http.ResponseWriter, r *http.Request) {
	var req queryProductsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stream, err := s.service.Products(r.Context(), req.IDs, req.Kind)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	products := make([]billing.Product, 0)
	for res := range stream {
		if res.Err != nil {
			s.writeServiceError(w, res.Err)
			return
		}
		products = append(products, res.Product)
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleOwnedPurchases(w http.ResponseWriter, r *http.Request) {
	kind := billing.ProductKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = billing.KindOneTime
	}

	stream, err := s.service.OwnedPurchases(r.Context(), kind)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	purchases := make([]billing.Purchase, 0)
	for res := range stream {
		if res.Err != nil {
			s.writeServiceError(w, res.Err)
			return
		}
		purchases = append(purchases, res.Purchase)
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}

type purchaseRequest struct {
	ProductID string              `json:"product_id"`
	Kind      billing.ProductKind `json:"kind"`
	AccountID string              `json:"account_id,omitempty"`
	ProfileID string              `json:"profile_id,omitempty"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	code, err := s.service.Purchase(r.Context(), billing.PurchaseParams{
		Product:   billing.Product{ID: req.ProductID, Kind: req.Kind},
		AccountID: req.AccountID,
		ProfileID: req.ProfileID,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "result": code.String()})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.handleOneShot(w, r, s.service.Acknowledge)
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	s.handleOneShot(w, r, s.service.Consume)
}

func (s *Server) handleOneShot(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, p billing.Purchase) (billing.ResultCode, error)) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "purchase token is required")
		return
	}

	code, err := call(r.Context(), billing.Purchase{Token: token})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "result": code.String()})
}

// handleUpdates upgrades to a websocket and pushes every broadcast update
// event until the client disconnects. Late clients do not see past events.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.service.Updates()
	defer cancel()

	// Reader only detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-updates:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "adapter closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusOK, map[string]any{"activity": []store.Entry{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": s.ledger.Recent(50)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "stats not available")
		return
	}
	stats := s.stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_calls":  stats.TotalCalls,
		"total_errors": stats.TotalErrors,
	})
}

// writeServiceError maps adapter errors onto HTTP statuses: precondition
// violations are client errors, vendor failures are upstream errors.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, billing.ErrNoProducts) || errors.Is(err, billing.ErrRawIdentity) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ve, ok := billing.AsVendorError(err); ok {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":       err.Error(),
			"vendor_code": ve.Code,
			"result":      ve.Code.String(),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
