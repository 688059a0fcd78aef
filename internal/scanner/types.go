package scanner

import (
	"time"

	"forex-trading-bot/internal/market"
)

// Opportunity is the best catalog strategy for one symbol at scan time
type Opportunity struct {
	Symbol       string           `json:"symbol"`
	Timeframe    string           `json:"timeframe"`
	Price        float64          `json:"price"`
	Spread       float64          `json:"spread"`
	Condition    market.Condition `json:"condition"`
	StrategyID   string           `json:"strategyId"`
	StrategyName string           `json:"strategyName"`
	// ReadinessScore is 0-100: how close the market sits to the closest
	// condition the strategy was designed for.
	ReadinessScore float64   `json:"readinessScore"`
	Candidates     []string  `json:"candidates"`
	EvaluatedAt    time.Time `json:"evaluatedAt"`
}

// ScanResult aggregates the opportunities of one scan
type ScanResult struct {
	ScanID         string        `json:"scanId"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	Duration       time.Duration `json:"duration"`
	SymbolsScanned int           `json:"symbolsScanned"`
	Unmatched      int           `json:"unmatched"` // classified, but no active strategy suits
	Failed         int           `json:"failed"`
	Results        []Opportunity `json:"results"`
}

// Config holds scanner configuration
type Config struct {
	Enabled     bool
	Interval    time.Duration
	Timeframe   string
	Symbols     []string
	WorkerCount int
	CacheTTL    time.Duration
	MaxResults  int
}
