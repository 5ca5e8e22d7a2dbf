// Package api implements the control surface (C11): the REST endpoints
// operators use to register addresses, inspect transactions, and manage
// webhooks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/addressindex"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Backfiller runs the historical pull for a newly registered address.
type Backfiller interface {
	RunForAddress(ctx context.Context, addr string) error
}

// ConfirmationSweeper triggers a manual confirmation sweep.
type ConfirmationSweeper interface {
	HandleHashBlock(ctx context.Context, blockHash []byte)
}

// Server serves the operator-facing REST API.
type Server struct {
	addresses  store.WatchedAddressRepository
	active     store.ActiveTransactionRepository
	archived   store.ArchivedTransactionRepository
	webhooks   store.WebhookRepository
	membership *addressindex.Set
	backfill   Backfiller
	sweeper    ConfirmationSweeper
	apiKey     string
	requireKey bool
	logger     *slog.Logger
}

// Config configures a Server.
type Config struct {
	APIKey     string
	RequireKey bool
}

// New builds a Server.
func New(
	addresses store.WatchedAddressRepository,
	active store.ActiveTransactionRepository,
	archived store.ArchivedTransactionRepository,
	webhooks store.WebhookRepository,
	membership *addressindex.Set,
	backfill Backfiller,
	sweeper ConfirmationSweeper,
	cfg Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addresses: addresses, active: active, archived: archived, webhooks: webhooks,
		membership: membership, backfill: backfill, sweeper: sweeper,
		apiKey: cfg.APIKey, requireKey: cfg.RequireKey, logger: logger,
	}
}

// Handler returns the HTTP handler for the control surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("POST /addresses", s.instrument("addresses", s.auth(s.handleRegisterAddress)))
	mux.HandleFunc("GET /addresses", s.instrument("addresses", s.auth(s.handleListAddresses)))
	mux.HandleFunc("GET /addresses/{addr}", s.instrument("addresses", s.auth(s.handleGetAddress)))
	mux.HandleFunc("DELETE /addresses/{addr}", s.instrument("addresses", s.auth(s.handleDeactivateAddress)))
	mux.HandleFunc("GET /transactions", s.instrument("transactions", s.auth(s.handleListTransactions)))
	mux.HandleFunc("GET /transaction/{txid}", s.instrument("transaction", s.auth(s.handleGetTransaction)))
	mux.HandleFunc("GET /stats", s.instrument("stats", s.auth(s.handleStats)))
	mux.HandleFunc("POST /webhooks", s.instrument("webhooks", s.auth(s.handleCreateWebhook)))
	mux.HandleFunc("GET /webhooks", s.instrument("webhooks", s.auth(s.handleListWebhooks)))
	mux.HandleFunc("GET /webhooks/{id}", s.instrument("webhooks", s.auth(s.handleGetWebhook)))
	mux.HandleFunc("PUT /webhooks/{id}", s.instrument("webhooks", s.auth(s.handleUpdateWebhook)))
	mux.HandleFunc("DELETE /webhooks/{id}", s.instrument("webhooks", s.auth(s.handleDeleteWebhook)))
	mux.HandleFunc("POST /trigger/confirmations", s.instrument("trigger", s.auth(s.handleTriggerConfirmations)))
	return mux
}

// statusRecorder wraps a ResponseWriter to capture the status code written,
// defaulting to 200 if the handler never calls WriteHeader explicitly.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler to record request counts by route and status
// class, used by metrics.APIRequestsTotal.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(route, statusClass(rec.status)).Inc()
	}
}

func statusClass(status int) string {
	switch status / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "unknown"
	}
}

// auth enforces the X-API-Key / api_key query param check from spec §6,
// a no-op when RequireKey is false.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireKey {
			next(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" || key != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// storeErrorStatus maps a store error to the response codes in spec §7.
func storeErrorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerAddressesRequest struct {
	Addresses []string `json:"addresses"`
	Force     bool     `json:"force"`
}

type addressOutcome struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

type registerAddressesResponse struct {
	Results        []addressOutcome `json:"results"`
	Added          int              `json:"added"`
	AlreadyExisted int              `json:"alreadyExisted"`
	ForcedRefetch  int              `json:"forcedRefetch"`
	Invalid        int              `json:"invalid"`
}

const (
	outcomeAdded         = "added"
	outcomeAlreadyExist  = "alreadyExist"
	outcomeForcedRefetch = "forcedRefetch"
	outcomeInvalid       = "invalid"
)

// handleRegisterAddress implements POST /addresses: body {addresses, force?},
// classifying each address as added/alreadyExist/forcedRefetch/invalid.
// Per spec §8, an already-existing address is left untouched unless force is
// set, so CreatedAt and historical_fetched never regress on a plain re-post.
func (s *Server) handleRegisterAddress(w http.ResponseWriter, r *http.Request) {
	var req registerAddressesRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses is required")
		return
	}

	resp := registerAddressesResponse{Results: make([]addressOutcome, 0, len(req.Addresses))}
	for _, address := range req.Addresses {
		status := s.registerOne(r.Context(), address, req.Force)
		resp.Results = append(resp.Results, addressOutcome{Address: address, Status: status})
		switch status {
		case outcomeAdded:
			resp.Added++
		case outcomeAlreadyExist:
			resp.AlreadyExisted++
		case outcomeForcedRefetch:
			resp.ForcedRefetch++
		case outcomeInvalid:
			resp.Invalid++
		}
	}

	metrics.AddressesWatchedTotal.WithLabelValues().Set(float64(s.membership.Size()))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) registerOne(ctx context.Context, address string, force bool) string {
	if _, _, err := base58.CheckDecode(address); err != nil {
		return outcomeInvalid
	}

	existing, err := s.addresses.FindByAddress(ctx, address)
	if err != nil {
		s.logger.Error("register address lookup failed", "address", address, "error", err)
		return outcomeInvalid
	}

	if existing == nil {
		addr := &model.WatchedAddress{Address: address, Active: true, CreatedAt: time.Now()}
		if err := s.addresses.Upsert(ctx, addr); err != nil {
			s.logger.Error("register address failed", "address", address, "error", err)
			return outcomeInvalid
		}
		s.membership.Add(address)
		s.runBackfill(address)
		return outcomeAdded
	}

	if !force {
		return outcomeAlreadyExist
	}

	existing.Active = true
	existing.HistoricalFetched = false
	existing.HistoricalFetchedAt = nil
	if err := s.addresses.Upsert(ctx, existing); err != nil {
		s.logger.Error("forced refetch failed", "address", address, "error", err)
		return outcomeAlreadyExist
	}
	s.membership.Add(address)
	s.runBackfill(address)
	return outcomeForcedRefetch
}

func (s *Server) runBackfill(address string) {
	if s.backfill == nil {
		return
	}
	go func() {
		if err := s.backfill.RunForAddress(context.Background(), address); err != nil {
			s.logger.Warn("backfill failed", "address", address, "error", err)
		}
	}()
}

func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	addrs, err := s.addresses.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, storeErrorStatus(err), "failed to list addresses")
		return
	}
	writeJSON(w, http.StatusOK, addrs)
}

func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := s.addresses.FindByAddress(r.Context(), r.PathValue("addr"))
	if err != nil {
		writeError(w, storeErrorStatus(err), "lookup failed")
		return
	}
	if addr == nil {
		writeError(w, http.StatusNotFound, "address not registered")
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (s *Server) handleDeactivateAddress(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("addr")
	if err := s.addresses.Deactivate(r.Context(), address); err != nil {
		writeError(w, storeErrorStatus(err), "deactivate failed")
		return
	}
	s.membership.Remove(address)
	metrics.AddressesWatchedTotal.WithLabelValues().Set(float64(s.membership.Size()))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	limit, _ := pageParams(r)
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query param required")
		return
	}
	active, err := s.active.ListByAddress(r.Context(), address, limit)
	if err != nil {
		writeError(w, storeErrorStatus(err), "list active transactions failed")
		return
	}
	archived, err := s.archived.ListByAddress(r.Context(), address, limit)
	if err != nil {
		writeError(w, storeErrorStatus(err), "list archived transactions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active, "archived": archived})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txid := r.PathValue("txid")
	if tx, err := s.active.FindByTxID(r.Context(), txid); err != nil {
		writeError(w, storeErrorStatus(err), "lookup failed")
		return
	} else if tx != nil {
		writeJSON(w, http.StatusOK, tx)
		return
	}
	tx, err := s.archived.FindByTxID(r.Context(), txid)
	if err != nil {
		writeError(w, storeErrorStatus(err), "lookup failed")
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction not tracked")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	addrCount, err := s.addresses.Count(r.Context())
	if err != nil {
		writeError(w, storeErrorStatus(err), "stats failed")
		return
	}
	activeCount, err := s.active.Count(r.Context())
	if err != nil {
		writeError(w, storeErrorStatus(err), "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"watchedAddresses":   addrCount,
		"activeTransactions": activeCount,
		"membershipSetSize":  s.membership.Size(),
	})
}

type webhookRequest struct {
	URL        string   `json:"url"`
	Addresses  []string `json:"addresses"`
	MonitorAll bool     `json:"monitorAll"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !req.MonitorAll && len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses required unless monitorAll is set")
		return
	}
	if req.MonitorAll {
		req.Addresses = nil
	}
	hook := &model.Webhook{URL: req.URL, Addresses: req.Addresses, MonitorAll: req.MonitorAll, Active: true, CreatedAt: time.Now()}
	if err := s.webhooks.Upsert(r.Context(), hook); err != nil {
		writeError(w, storeErrorStatus(err), "create webhook failed")
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.webhooks.List(r.Context())
	if err != nil {
		writeError(w, storeErrorStatus(err), "list webhooks failed")
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	hook, err := s.webhooks.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storeErrorStatus(err), "lookup failed")
		return
	}
	if hook == nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.webhooks.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, storeErrorStatus(err), "lookup failed")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	var req webhookRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	existing.URL = req.URL
	existing.Addresses = req.Addresses
	existing.MonitorAll = req.MonitorAll
	if existing.MonitorAll {
		existing.Addresses = nil
	}
	if err := s.webhooks.Upsert(r.Context(), existing); err != nil {
		writeError(w, storeErrorStatus(err), "update webhook failed")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.webhooks.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, storeErrorStatus(err), "delete webhook failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTriggerConfirmations(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "confirmation sweep not available")
		return
	}
	s.sweeper.HandleHashBlock(r.Context(), nil)
	writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
