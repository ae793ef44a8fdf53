package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lechuhuuha/event_relay/internal/broker"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

const defaultReadyTimeout = 2 * time.Second

// StateReporter exposes the broker session state.
type StateReporter interface {
	State() broker.State
}

// Checker reports whether an optional dependency is reachable.
type Checker interface {
	CheckReady(ctx context.Context) error
}

// BuildInfo is reported by /version.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

// Handler serves the operational endpoints: health, readiness, version and metrics.
type Handler struct {
	session      StateReporter
	archive      Checker
	build        BuildInfo
	logger       loggerpkg.Logger
	readyTimeout time.Duration
}

// NewHandler builds the operational handler set. archive may be nil.
func NewHandler(session StateReporter, archive Checker, build BuildInfo, logr loggerpkg.Logger) *Handler {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	return &Handler{
		session:      session,
		archive:      archive,
		build:        build,
		logger:       logr,
		readyTimeout: defaultReadyTimeout,
	}
}

// RegisterRoutes attaches the HTTP endpoints to the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/version", h.handleVersion)
	mux.Handle("/metrics", promhttp.Handler())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readyResponse struct {
	Status  string `json:"status"`
	Broker  string `json:"broker"`
	Archive string `json:"archive,omitempty"`
}

// handleReady answers 200 only while the broker session is Ready.
// An unreachable archive is reported but does not fail readiness.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	resp := readyResponse{Status: "ready", Broker: broker.StateUninitialized.String()}
	code := http.StatusOK
	if h.session != nil {
		resp.Broker = h.session.State().String()
	}
	if resp.Broker != broker.StateReady.String() {
		resp.Status = "not_ready"
		code = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
		defer cancel()
		resp.Archive = "ok"
		if err := h.archive.CheckReady(ctx); err != nil {
			resp.Archive = "unavailable"
			h.logger.Warn("archive readiness check failed", loggerpkg.F("error", err))
		}
	}
	writeJSON(w, code, resp)
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.build)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
