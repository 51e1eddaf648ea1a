// Package server exposes the reconciliation engines over HTTP: lease
// lifecycle actions, hub handshakes, reward report submission and the
// operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	womerrors "womnet/core/errors"
	"womnet/core/types"
	"womnet/models"
	"womnet/native/hub"
	"womnet/native/reward"
	"womnet/store"
)

// leaseService is the lease engine surface the HTTP layer consumes.
type leaseService interface {
	CreateLease(ctx context.Context, managerAddress, managerEmail string, offerID uint64, txID string) (*models.Lease, error)
	PayRents(ctx context.Context, managerAddress, ownerAddress string, leaseID uint64, paidMonths int32, txID string) (*models.Lease, error)
	EndLease(ctx context.Context, callerAddress string, leaseID uint64, txID string) (*models.Lease, error)
	Reconcile(ctx context.Context, leaseID uint64, txHash, status string) (*models.Lease, error)
	GetPendingTransactions() ([]string, error)
	TransferDeedOwnership(ctx context.Context, newOwner string, assetID uint64) error
}

// hubService is the hub engine surface the HTTP layer consumes.
type hubService interface {
	GenerateToken() string
	Connect(ctx context.Context, req hub.ConnectionRequest) (*models.Hub, error)
	Disconnect(ctx context.Context, req hub.ConnectionRequest) (*models.Hub, error)
	Refresh(ctx context.Context, hubAddress string, force bool) (*models.Hub, error)
	RefreshClaimableAmount(ctx context.Context, hubAddress string) (*models.Hub, error)
}

// rewardService is the reward validator surface the HTTP layer consumes.
type rewardService interface {
	SaveRewardReport(ctx context.Context, req reward.ReportRequest) (*models.RewardReport, error)
	GetRewardReport(hash string) (*models.RewardReport, error)
	FlagFraud(hash string, fraud bool) (*models.RewardReport, error)
}

// listStore is the read-only query surface the HTTP layer consumes.
type listStore interface {
	ListLeases(q store.LeaseQuery) ([]models.Lease, error)
	ListEnabledHubs(offset, limit int) ([]models.Hub, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Leases  leaseService
	Hubs    hubService
	Rewards rewardService
	Store   listStore
	JWT     JWTOptions
	Logger  *slog.Logger
}

// Server encapsulates the HTTP API.
type Server struct {
	leases  leaseService
	hubs    hubService
	rewards rewardService
	store   listStore
	jwt     JWTOptions
	logger  *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		leases:  cfg.Leases,
		hubs:    cfg.Hubs,
		rewards: cfg.Rewards,
		store:   cfg.Store,
		jwt:     cfg.JWT,
		logger:  logger,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authenticate)

		api.Get("/leases", s.ListLeases)
		api.Get("/leases/pending", s.PendingTransactions)
		api.With(s.requireCaller).Post("/leases", s.CreateLease)
		api.With(s.requireCaller).Post("/leases/{leaseId}/payments", s.PayRents)
		api.With(s.requireCaller).Post("/leases/{leaseId}/end", s.EndLease)
		api.Post("/leases/reconcile", s.ReconcileLeases)
		api.Post("/deeds/{assetId}/transfer", s.TransferDeedOwnership)

		api.Get("/hubs", s.ListHubs)
		api.Post("/hubs/token", s.GenerateToken)
		api.Post("/hubs/connect", s.ConnectHub)
		api.Post("/hubs/disconnect", s.DisconnectHub)
		api.Post("/hubs/{address}/refresh", s.RefreshHub)
		api.Post("/hubs/{address}/claimable", s.RefreshClaimable)

		api.Post("/reward-reports", s.SaveRewardReport)
		api.Get("/reward-reports/{hash}", s.GetRewardReport)
		api.Post("/reward-reports/{hash}/fraud", s.FlagReportFraud)
	})

	return r
}

// leaseView decorates a lease with its derived statuses; neither is stored,
// so the API computes them at the edge on every read.
type leaseView struct {
	*models.Lease
	TransactionStatus  types.TransactionStatus
	ConfirmationStatus types.ConfirmationStatus
}

func viewLease(l *models.Lease) leaseView {
	view := leaseView{Lease: l, ConfirmationStatus: l.ConfirmationStatus()}
	if l != nil {
		view.TransactionStatus = l.TransactionStatus()
	}
	return view
}

// CreateLease submits a lease-creation transaction against an existing offer.
func (s *Server) CreateLease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ManagerAddress string `json:"managerAddress"`
		ManagerEmail   string `json:"managerEmail"`
		OfferID        uint64 `json:"offerId"`
		TxID           string `json:"txId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	manager := s.resolveCaller(r, req.ManagerAddress)
	lease, err := s.leases.CreateLease(r.Context(), manager, req.ManagerEmail, req.OfferID, req.TxID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewLease(lease))
}

// PayRents records a rent payment transaction on a lease.
func (s *Server) PayRents(w http.ResponseWriter, r *http.Request) {
	leaseID, err := strconv.ParseUint(chi.URLParam(r, "leaseId"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "invalid lease id")
		return
	}
	var req struct {
		ManagerAddress string `json:"managerAddress"`
		OwnerAddress   string `json:"ownerAddress"`
		PaidMonths     int32  `json:"paidMonths"`
		TxID           string `json:"txId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	manager := s.resolveCaller(r, req.ManagerAddress)
	lease, err := s.leases.PayRents(r.Context(), manager, req.OwnerAddress, leaseID, req.PaidMonths, req.TxID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewLease(lease))
}

// EndLease records a termination transaction on a lease.
func (s *Server) EndLease(w http.ResponseWriter, r *http.Request) {
	leaseID, err := strconv.ParseUint(chi.URLParam(r, "leaseId"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "invalid lease id")
		return
	}
	var req struct {
		CallerAddress string `json:"callerAddress"`
		TxID          string `json:"txId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	caller := s.resolveCaller(r, req.CallerAddress)
	lease, err := s.leases.EndLease(r.Context(), caller, leaseID, req.TxID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewLease(lease))
}

// ReconcileLeases applies a batch of mined lease events against the ledger
// truth. Events are applied one by one; the first failure stops the batch and
// reports how far it got.
func (s *Server) ReconcileLeases(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeaseID uint64 `json:"leaseId"`
		Events  []struct {
			TxHash string `json:"txHash"`
			Status string `json:"status"`
		} `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	if len(req.Events) == 0 {
		s.writeBadRequest(w, "no events to reconcile")
		return
	}
	var lease *models.Lease
	applied := 0
	for _, evt := range req.Events {
		reconciled, err := s.leases.Reconcile(r.Context(), req.LeaseID, evt.TxHash, evt.Status)
		if err != nil {
			s.writeError(w, err)
			return
		}
		lease = reconciled
		applied++
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": applied,
		"lease":   viewLease(lease),
	})
}

// PendingTransactions lists the distinct in-flight transaction hashes across
// all leases.
func (s *Server) PendingTransactions(w http.ResponseWriter, r *http.Request) {
	pending, err := s.leases.GetPendingTransactions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if pending == nil {
		pending = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"pendingTransactions": pending})
}

// TransferDeedOwnership propagates a mined deed ownership transfer to the
// asset's confirmed leases.
func (s *Server) TransferDeedOwnership(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseUint(chi.URLParam(r, "assetId"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "invalid asset id")
		return
	}
	var req struct {
		NewOwner string `json:"newOwner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	if strings.TrimSpace(req.NewOwner) == "" {
		s.writeBadRequest(w, "newOwner is required")
		return
	}
	if err := s.leases.TransferDeedOwnership(r.Context(), req.NewOwner, assetID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// ListLeases returns the leases visible to the caller.
func (s *Server) ListLeases(w http.ResponseWriter, r *http.Request) {
	q := store.LeaseQuery{Caller: callerAddress(r.Context())}
	if v := r.URL.Query().Get("assetId"); v != "" {
		assetID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeBadRequest(w, "invalid asset id")
			return
		}
		q.AssetID = assetID
	}
	q.ConfirmedOnly = r.URL.Query().Get("confirmed") == "true"
	if r.URL.Query().Get("active") == "true" {
		q.EndAfter = time.Now()
	}
	q.Offset, q.Limit = pagination(r)
	leases, err := s.store.ListLeases(q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]leaseView, 0, len(leases))
	for i := range leases {
		views = append(views, viewLease(&leases[i]))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// GenerateToken issues a single-use handshake token.
func (s *Server) GenerateToken(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusCreated, map[string]string{"token": s.hubs.GenerateToken()})
}

func decodeConnectionRequest(r *http.Request) (hub.ConnectionRequest, error) {
	var req hub.ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return hub.ConnectionRequest{}, err
	}
	return req, nil
}

// ConnectHub processes a signed connect handshake.
func (s *Server) ConnectHub(w http.ResponseWriter, r *http.Request) {
	req, err := decodeConnectionRequest(r)
	if err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	connected, err := s.hubs.Connect(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, connected)
}

// DisconnectHub processes a signed disconnect handshake.
func (s *Server) DisconnectHub(w http.ResponseWriter, r *http.Request) {
	req, err := decodeConnectionRequest(r)
	if err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	disconnected, err := s.hubs.Disconnect(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, disconnected)
}

// RefreshHub re-derives a hub's connected state from ledger truth.
func (s *Server) RefreshHub(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	refreshed, err := s.hubs.Refresh(r.Context(), chi.URLParam(r, "address"), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, refreshed)
}

// RefreshClaimable recomputes the hub's claimable reward caches.
func (s *Server) RefreshClaimable(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.hubs.RefreshClaimableAmount(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, refreshed)
}

// ListHubs pages through the enabled hubs.
func (s *Server) ListHubs(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	hubs, err := s.store.ListEnabledHubs(offset, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, hubs)
}

// SaveRewardReport validates and stores a hub-signed reward report.
func (s *Server) SaveRewardReport(w http.ResponseWriter, r *http.Request) {
	var req reward.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	report, err := s.rewards.SaveRewardReport(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, report)
}

// GetRewardReport returns the stored report for a signature hash.
func (s *Server) GetRewardReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.rewards.GetRewardReport(chi.URLParam(r, "hash"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// FlagReportFraud updates the fraud flag of a stored report after review.
func (s *Server) FlagReportFraud(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fraud bool `json:"fraud"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid payload")
		return
	}
	report, err := s.rewards.FlagFraud(chi.URLParam(r, "hash"), req.Fraud)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// resolveCaller prefers the authenticated wallet address over the one in the
// payload; anonymous deployments fall back to the payload.
func (s *Server) resolveCaller(r *http.Request, fromPayload string) string {
	if addr := callerAddress(r.Context()); addr != "" {
		return addr
	}
	return strings.ToLower(strings.TrimSpace(fromPayload))
}

func pagination(r *http.Request) (offset, limit int) {
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return offset, limit
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps the failure taxonomy onto HTTP statuses and emits the
// stable wom.* code so callers never parse message text.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch womerrors.KindOf(err) {
	case womerrors.KindNotFound:
		status = http.StatusNotFound
	case womerrors.KindUnauthorized:
		status = http.StatusForbidden
	case womerrors.KindAuthentication:
		status = http.StatusUnauthorized
	case womerrors.KindRejected:
		status = http.StatusUnprocessableEntity
	case womerrors.KindTransport:
		status = http.StatusBadGateway
	}
	body := map[string]string{"error": err.Error()}
	if code := womerrors.CodeOf(err); code != "" {
		body["code"] = code
	}
	var tagged *womerrors.Error
	if errors.As(err, &tagged) && tagged.Msg != "" {
		body["message"] = tagged.Msg
	}
	s.logger.Warn("request failed", "status", status, "err", err)
	s.writeJSON(w, status, body)
}
