package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/dashboard"
	"whalewatch/internal/metrics"
	"whalewatch/internal/model"
)

// Runtime is the control surface the HTTP API exposes.
type Runtime interface {
	Snapshot() map[string]any
	RecentAlerts(limit int) []model.Alert
	Filters() dashboard.Filters
	SetFilters(update dashboard.FilterUpdate) dashboard.Filters
	RefreshGeo(ctx context.Context) error
	RefreshBalances(ctx context.Context) error
	PollNow(ctx context.Context) error
}

type Server struct {
	runtime Runtime
	logger  *slog.Logger
}

// Start wires the mux and runs the dashboard server until ctx ends.
func Start(ctx context.Context, cfg config.DashboardConfig, runtime Runtime, logger *slog.Logger) *http.Server {
	server := &Server{runtime: runtime, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", server.handleState)
	mux.HandleFunc("/api/health", server.handleHealth)
	mux.HandleFunc("/api/alerts/recent", server.handleRecentAlerts)
	mux.HandleFunc("/api/state/filters", server.handleFilters)
	mux.HandleFunc("/api/refresh-geo", server.action("refresh-geo", runtime.RefreshGeo))
	mux.HandleFunc("/api/refresh-balances", server.action("refresh-balances", runtime.RefreshBalances))
	mux.HandleFunc("/api/poll-now", server.action("poll-now", runtime.PollNow))
	mux.Handle("/metrics", metrics.Handler())
	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err == nil {
			mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
		} else {
			logger.Warn("static dir missing, ui disabled", "dir", cfg.StaticDir)
		}
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		logger.Info("dashboard listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("dashboard server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid limit"})
			return
		}
		limit = n
	}
	alerts := s.runtime.RecentAlerts(limit)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(alerts), "alerts": alerts})
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"filters": s.runtime.Filters()})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "request too large"})
			return
		}
		var update dashboard.FilterUpdate
		if err := json.Unmarshal(body, &update); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "filters": s.runtime.SetFilters(update)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// action wraps a runtime operation as a POST handler. Failures return 500
// with ok:false and the error text so the UI can show them.
func (s *Server) action(name string, fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := fn(r.Context()); err != nil {
			s.logger.Error("action failed", "action", name, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
