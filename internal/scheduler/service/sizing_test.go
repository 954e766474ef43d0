package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/logger"
)

func TestNormalizeRatio(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{name: "plain ratio", value: 0.2, want: 0.2},
		{name: "percentage form", value: 20, want: 0.2},
		{name: "full allocation", value: 1, want: 1},
		{name: "oversized percentage clamps", value: 150, want: 1},
		{name: "negative clamps to zero", value: -3, want: 0},
		{name: "zero stays zero", value: 0, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, normalizeRatio(tc.value), 1e-9)
		})
	}
}

func TestCalculateBuyQuantity(t *testing.T) {
	assert.Equal(t, 33, calculateBuyQuantity(200000, 0.2, 1180))
	assert.Equal(t, 400, calculateBuyQuantity(100000, 0.2, 50))

	assert.Equal(t, 0, calculateBuyQuantity(1000, 0.2, 500), "budget below price buys nothing")
	assert.Equal(t, 0, calculateBuyQuantity(0, 0.2, 100))
	assert.Equal(t, 0, calculateBuyQuantity(100000, 0, 100))
	assert.Equal(t, 0, calculateBuyQuantity(100000, 0.2, 0))
}

func TestCalculateSellQuantity(t *testing.T) {
	assert.Equal(t, 30, calculateSellQuantity(100, 0.3))
	assert.Equal(t, 1, calculateSellQuantity(3, 0.3), "small holdings still sell one share")
	assert.Equal(t, 1, calculateSellQuantity(1, 1))
	assert.Equal(t, 9, calculateSellQuantity(10, 0.99))
	assert.Equal(t, 0, calculateSellQuantity(0, 0.3))
	assert.Equal(t, 0, calculateSellQuantity(100, 0))
}

func TestAttachQuantityToAlertBuy(t *testing.T) {
	alert := &entity.TradeAlert{StockCode: "2330", SignalType: entity.AlertBuy, Price: 1180}
	attachQuantityToAlert(alert, 200000, 0.2, 0.3, nil)

	assert.Equal(t, 33, alert.SuggestedQuantity)
	assert.Equal(t, "股", alert.QuantityUnit)
	assert.Equal(t, "可用資金200000 x 買入比例20% / 現價1180.00", alert.QuantityNote)
}

func TestAttachQuantityToAlertBuyWithoutBudget(t *testing.T) {
	alert := &entity.TradeAlert{StockCode: "2330", SignalType: entity.AlertBuy, Price: 1180}
	attachQuantityToAlert(alert, 500, 0.2, 0.3, nil)

	assert.Equal(t, 0, alert.SuggestedQuantity)
	assert.Equal(t, "可用資金不足或現價異常，建議買入 0 股", alert.QuantityNote)
}

func TestAttachQuantityToAlertSell(t *testing.T) {
	alert := &entity.TradeAlert{StockCode: "2317", SignalType: entity.AlertSell, Price: 104.5}
	attachQuantityToAlert(alert, 200000, 0.2, 0.3, map[string]int{"2317": 100})

	assert.Equal(t, 30, alert.SuggestedQuantity)
	assert.Equal(t, "持倉100股 x 賣出比例30%", alert.QuantityNote)
}

func TestAttachQuantityToAlertSellWithoutHolding(t *testing.T) {
	alert := &entity.TradeAlert{StockCode: "2317", SignalType: entity.AlertSell, Price: 104.5}
	attachQuantityToAlert(alert, 200000, 0.2, 0.3, map[string]int{})

	assert.Equal(t, 0, alert.SuggestedQuantity)
	assert.Equal(t, "查無持倉資料，建議賣出 0 股", alert.QuantityNote)
}

func TestAttachQuantityToAlertUnsupportedSignal(t *testing.T) {
	alert := &entity.TradeAlert{StockCode: "0050", SignalType: "watch", Price: 180}
	attachQuantityToAlert(alert, 200000, 0.2, 0.3, nil)

	assert.Equal(t, 0, alert.SuggestedQuantity)
	assert.Equal(t, "股", alert.QuantityUnit)
	assert.Equal(t, "不支援的訊號類型", alert.QuantityNote)
}

func TestLoadPositionsMap(t *testing.T) {
	dir := t.TempDir()
	snapshot := `{
		"generated_at": "2026-03-10T09:00:00",
		"positions": [
			{"stock_code": "2330", "quantity": 100},
			{"stock_code": "2330", "quantity": 50.9},
			{"stock_code": " 2317 ", "quantity": "200"},
			{"stock_code": "0050", "quantity": "not-a-number"},
			{"stock_code": "", "quantity": 10},
			{"stock_code": "2412", "quantity": -5},
			"not an object"
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, common.HoldingsFileName), []byte(snapshot), 0o644))

	positions := loadPositionsMap(dir, logger.NewNop())

	assert.Equal(t, map[string]int{"2330": 150, "2317": 200}, positions)
}

func TestLoadPositionsMapMissingFile(t *testing.T) {
	positions := loadPositionsMap(t.TempDir(), logger.NewNop())
	assert.Empty(t, positions)
}

func TestLoadPositionsMapMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, common.HoldingsFileName), []byte("{broken"), 0o644))

	positions := loadPositionsMap(dir, logger.NewNop())
	assert.Empty(t, positions)
}
