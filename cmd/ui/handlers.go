package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"scalping-bot-go/internal/models"
)

const defaultTradeLimit = 50

// APIHandler serves the read-only JSON API over the trade journal.
type APIHandler struct {
	logger *zap.Logger
	db     *gorm.DB
}

func NewAPIHandler(logger *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{
		logger: logger.Named("ui-api"),
		db:     db,
	}
}

// StatusHandler reports database liveness and the journal size.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var count int64
	if err := h.db.Model(&models.Trade{}).Count(&count).Error; err != nil {
		h.logger.Error("Failed to count trades", zap.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	status := struct {
		Status     string `json:"status"`
		TradeCount int64  `json:"trade_count"`
	}{
		Status:     "ok",
		TradeCount: count,
	}

	writeJSON(w, h.logger, status)
}

// TradesHandler returns the most recent trades, newest first. An optional
// ?limit= query parameter caps the result size.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	var trades []models.Trade
	if err := h.db.Order("timestamp desc").Limit(limit).Find(&trades).Error; err != nil {
		h.logger.Error("Failed to fetch trades", zap.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, h.logger, trades)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
