// Package api exposes the management surface: rule CRUD, alert lifecycle,
// engine stats, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"argus/core"
	"argus/detect"
	"argus/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the HTTP server settings
type Config struct {
	Host              string
	Port              int
	RequestsPerSecond float64
	Burst             int
}

// Server is the management HTTP server. It mutates the live rule set and
// reads engine state but never sits on the event hot path.
type Server struct {
	cfg          Config
	rules        *core.RuleSet
	engine       *detect.Engine
	store        storage.Store
	suppressor   core.Suppressor
	hub          *StreamHub
	regexTimeout time.Duration
	logger       *zap.SugaredLogger

	srv *http.Server

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the routes; Start actually listens
func NewServer(cfg Config, rules *core.RuleSet, engine *detect.Engine, store storage.Store, suppressor core.Suppressor, hub *StreamHub, regexTimeout time.Duration, logger *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:          cfg,
		rules:        rules,
		engine:       engine,
		store:        store,
		suppressor:   suppressor,
		hub:          hub,
		regexTimeout: regexTimeout,
		logger:       logger,
		limiters:     make(map[string]*rate.Limiter),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.rateLimitMiddleware)
	v1.HandleFunc("/events", s.handleIngestEvents).Methods(http.MethodPost)
	v1.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/{id}", s.handleGetRule).Methods(http.MethodGet)
	v1.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	v1.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)
	v1.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/status", s.handleAlertStatus).Methods(http.MethodPost)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	if hub != nil {
		v1.HandleFunc("/alerts/stream", hub.HandleStream)
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.Infow("API server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("API server failed", "error", err)
		}
	}()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for httptest
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) limiterFor(addr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	s.limMu.Lock()
	defer s.limMu.Unlock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
		s.limiters[host] = lim
	}
	return lim
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RequestsPerSecond > 0 && !s.limiterFor(r.RemoteAddr).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

type ingestRequest struct {
	Events []*core.Event `json:"events"`
}

// handleIngestEvents accepts a batch of events for evaluation. Ingest
// blocks on a full ingress buffer, so the request deadline doubles as the
// backpressure bound.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event batch: "+err.Error())
		return
	}
	accepted := 0
	for _, e := range req.Events {
		if e == nil {
			continue
		}
		if e.EventID == "" {
			e.EventID = core.NewEventID()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		if err := s.engine.Ingest(r.Context(), e); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":    err.Error(),
				"accepted": accepted,
			})
			return
		}
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := core.RuleFilter{
		Kind:  core.RuleKind(r.URL.Query().Get("kind")),
		Tag:   r.URL.Query().Get("tag"),
		OrgID: r.URL.Query().Get("organization_id"),
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabled := v == "true"
		filter.Enabled = &enabled
	}
	writeJSON(w, http.StatusOK, core.Rules{Rules: s.rules.List(filter)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule := s.rules.Snapshot().Get(mux.Vars(r)["id"])
	if rule == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	if err := s.rules.Create(rule); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, core.ErrRuleExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	s.persistRules(r.Context())
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	rule.ID = mux.Vars(r)["id"]
	if err := s.rules.Update(rule); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, core.ErrRuleNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	s.persistRules(r.Context())
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.persistRules(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// decodeRule parses and compiles the request body into a rule ready for
// the live set. Compilation here means a rule in the set is always safe to
// evaluate.
func (s *Server) decodeRule(w http.ResponseWriter, r *http.Request) (*core.Rule, bool) {
	var rule core.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule document: "+err.Error())
		return nil, false
	}
	if err := detect.CompileRule(&rule, s.regexTimeout); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &rule, true
}

func (s *Server) persistRules(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveRules(ctx, s.rules.List(core.RuleFilter{})); err != nil {
		s.logger.Errorw("Failed to persist rule set", "error", err)
	}
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []*core.Alert{})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	alerts, err := s.store.ListAlerts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type alertStatusRequest struct {
	Status core.AlertStatus `json:"status"`
}

// handleAlertStatus drives the alert lifecycle. Resolving an alert also
// releases its suppression so a recurrence alerts again immediately.
func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "alert storage is disabled")
		return
	}
	var req alertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alertID := mux.Vars(r)["id"]
	alert, err := s.store.GetAlert(r.Context(), alertID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := alert.TransitionTo(req.Status); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.store.UpdateAlertStatus(r.Context(), alertID, alert.Status); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alert.Status == core.AlertStatusResolved && s.suppressor != nil {
		if err := s.suppressor.Release(r.Context(), alert.DedupeKey); err != nil {
			s.logger.Warnw("Failed to release suppression on resolve",
				"alert_id", alertID,
				"error", err)
		}
	}
	writeJSON(w, http.StatusOK, alert)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
