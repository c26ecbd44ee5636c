package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// APIServer exposes the engine's health, position status and metrics over
// HTTP.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates the status server. metricsHandler may be nil when
// metrics are disabled.
func NewAPIServer(engine *Engine, metricsHandler http.Handler, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type marketStatus struct {
	Market        string `json:"market"`
	Status        string `json:"status"`
	EntryOrderID  string `json:"entry_order_id,omitempty"`
	ExitOrderID   string `json:"exit_order_id,omitempty"`
	EntryPrice    string `json:"entry_price"`
	Quantity      string `json:"quantity"`
	HighWaterMark string `json:"high_water_mark"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.Positions()
	markets := make([]marketStatus, 0, len(positions))
	for market, pos := range positions {
		markets = append(markets, marketStatus{
			Market:        market,
			Status:        pos.Status.String(),
			EntryOrderID:  string(pos.EntryOrderID),
			ExitOrderID:   string(pos.ExitOrderID),
			EntryPrice:    pos.EntryPrice.String(),
			Quantity:      pos.Quantity.String(),
			HighWaterMark: pos.HighWaterMark.String(),
		})
	}

	status := struct {
		StartTime string         `json:"start_time"`
		Uptime    string         `json:"uptime"`
		Markets   []marketStatus `json:"markets"`
	}{
		StartTime: s.engine.StartTime.Format(time.RFC3339),
		Uptime:    time.Since(s.engine.StartTime).String(),
		Markets:   markets,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
