package models

import "gorm.io/gorm"

// Trade is a journal row recorded when an entry or exit order fills.
// Prices and quantities are stored as decimal strings so sqlite round-trips
// them without float drift.
type Trade struct {
	gorm.Model
	MarketID      string `json:"market_id"`
	Side          string `json:"side"` // "BUY" or "SELL"
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	QuoteQuantity string `json:"quote_quantity"`
	Timestamp     int64  `json:"timestamp"`
	IsSimulation  bool   `json:"is_simulation"`
}
