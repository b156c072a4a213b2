// Package api exposes engine status, on-demand evaluation, operator commands
// and a live event stream over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-signal/internal/engine"
	"go-signal/internal/model"
)

// EngineAPI is the part of the engine the server uses.
type EngineAPI interface {
	StatusJSON() ([]byte, error)
	PushCommand(cmd model.Command) bool
	EvaluateNow(ctx context.Context, symbol string) (engine.CycleResult, error)
	RecentEvents(symbol string, n int) []model.Event
}

// Server is the REST API + WebSocket server.
type Server struct {
	engine  EngineAPI
	hub     *Hub
	logger  *zap.Logger
	mux     *http.ServeMux
	srv     *http.Server
	address string
}

// NewServer creates an API server.
func NewServer(address string, eng EngineAPI, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		engine:  eng,
		hub:     hub,
		logger:  logger,
		mux:     http.NewServeMux(),
		address: address,
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/command", s.handleCommand)
	s.mux.HandleFunc("/ws", s.hub.HandleUpgrade)
}

// Run starts the HTTP server and the WebSocket hub and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.srv = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_server_started", zap.String("address", s.address))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.APIResponse{
		Data:      map[string]string{"status": "ok"},
		Timestamp: time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.StatusJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type evaluateResponse struct {
	Result   engine.CycleResult `json:"result"`
	Messages []string           `json:"messages"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	res, err := s.engine.EvaluateNow(r.Context(), symbol)
	switch {
	case errors.Is(err, engine.ErrUnknownSymbol):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, model.APIResponse{
			Data:      evaluateResponse{Result: res, Messages: res.Messages()},
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	s.logger.Info("api_evaluate", zap.String("symbol", symbol), zap.Int("events", len(res.Events)))
	writeJSON(w, http.StatusOK, model.APIResponse{
		Data:      evaluateResponse{Result: res, Messages: res.Messages()},
		Timestamp: time.Now(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := 50
	if raw := q.Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	events := s.engine.RecentEvents(symbol, n)
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, model.APIResponse{
		Data:      events,
		Timestamp: time.Now(),
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var cmd model.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	cmd.Symbol = strings.ToUpper(strings.TrimSpace(cmd.Symbol))

	switch cmd.Type {
	case model.CommandPause, model.CommandResume, model.CommandCloseAll:
	case model.CommandClose:
		if cmd.Symbol == "" {
			writeError(w, http.StatusBadRequest, "CLOSE requires a symbol")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown command type "+strconv.Quote(string(cmd.Type)))
		return
	}

	cmd.Time = time.Now()
	if !s.engine.PushCommand(cmd) {
		writeError(w, http.StatusServiceUnavailable, "command queue full")
		return
	}

	s.logger.Info("api_command",
		zap.String("type", string(cmd.Type)),
		zap.String("symbol", cmd.Symbol),
	)

	writeJSON(w, http.StatusAccepted, model.APIResponse{
		Data:      map[string]string{"status": "queued"},
		Timestamp: time.Now(),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.APIResponse{
		Error:     msg,
		Timestamp: time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
