package entity

// Alert signal types.
const (
	AlertBuy  = "buy"
	AlertSell = "sell"
)

// TradeAlert is a triggered buy/sell notification enriched with a suggested
// share quantity.
type TradeAlert struct {
	StockCode         string  `json:"stock_code"`
	StockName         string  `json:"stock_name"`
	SignalType        string  `json:"signal_type"`
	Price             float64 `json:"price"`
	Reason            string  `json:"reason"`
	SuggestedQuantity int     `json:"suggested_quantity"`
	QuantityUnit      string  `json:"quantity_unit"`
	QuantityNote      string  `json:"quantity_note"`
}
