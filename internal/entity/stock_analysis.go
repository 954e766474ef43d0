package entity

// StockAnalysis is the normalized per-stock outcome extracted from an
// upstream analysis document, regardless of which format carried it.
type StockAnalysis struct {
	StockCode      string   `json:"stock_code"`
	StockName      string   `json:"stock_name"`
	Price          float64  `json:"price"`
	Suggestion     string   `json:"suggestion"`
	Score          int      `json:"score"`
	BullishCount   int      `json:"bullish_count"`
	BearishCount   int      `json:"bearish_count"`
	BullishSignals []string `json:"bullish_signals"`
	BearishSignals []string `json:"bearish_signals"`
}

// TradingPlanPicks holds the deduplicated stock-code lists extracted from a
// generated trading-plan document. All preserves first-seen order: buy
// candidates first, then the watchlist.
type TradingPlanPicks struct {
	BuyCandidates []string `json:"buy_candidates"`
	Watchlist     []string `json:"watchlist"`
	All           []string `json:"all"`
}

// IsEmpty reports whether the plan produced no monitorable stocks.
func (p TradingPlanPicks) IsEmpty() bool {
	return len(p.All) == 0
}
