package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/utils"
)

// normalizeRatio coerces a sizing ratio into [0, 1]. Values above 1 are
// read as percentages.
func normalizeRatio(value float64) float64 {
	if value > 1 {
		value = value / 100
	}
	return utils.Clamp(value, 0, 1)
}

// loadPositionsMap reads the holdings snapshot and aggregates share counts
// per stock code. Missing or malformed snapshots degrade sell sizing to
// zero-quantity suggestions instead of failing the monitor cycle.
func loadPositionsMap(outputsDir string, log *logger.Logger) map[string]int {
	positions := make(map[string]int)

	path := filepath.Join(outputsDir, common.HoldingsFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read holdings snapshot, sell sizing falls back to zero",
				logger.StringField("path", path),
				logger.ErrorField(err),
			)
		}
		return positions
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warn("Failed to parse holdings snapshot, sell sizing falls back to zero",
			logger.StringField("path", path),
			logger.ErrorField(err),
		)
		return positions
	}

	items, _ := payload["positions"].([]interface{})
	for _, item := range items {
		position, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		code := strings.TrimSpace(cast.ToString(position["stock_code"]))
		if code == "" {
			continue
		}
		quantity := int(cast.ToFloat64(position["quantity"]))
		if quantity <= 0 {
			continue
		}
		positions[code] += quantity
	}
	return positions
}

// calculateBuyQuantity sizes a buy from the budget share: capital times the
// buy ratio, floored to whole shares at the current price.
func calculateBuyQuantity(capital, buyRatio, price float64) int {
	if capital <= 0 || buyRatio <= 0 || price <= 0 {
		return 0
	}
	budget := capital * buyRatio
	if budget < price {
		return 0
	}
	return int(budget / price)
}

// calculateSellQuantity sizes a sell as a share of the current holding, at
// least one share and never more than the holding.
func calculateSellQuantity(holding int, sellRatio float64) int {
	if holding <= 0 || sellRatio <= 0 {
		return 0
	}
	quantity := int(float64(holding) * sellRatio)
	if quantity < 1 {
		quantity = 1
	}
	if quantity > holding {
		quantity = holding
	}
	return quantity
}

// attachQuantityToAlert enriches an alert with a suggested share quantity
// and the sizing rationale. The note strings are part of the notification
// contract.
func attachQuantityToAlert(alert *entity.TradeAlert, capital, buyRatio, sellRatio float64, positions map[string]int) {
	if alert == nil {
		return
	}

	quantity := 0
	note := "不支援的訊號類型"

	switch strings.ToLower(strings.TrimSpace(alert.SignalType)) {
	case entity.AlertBuy:
		quantity = calculateBuyQuantity(capital, buyRatio, alert.Price)
		if quantity > 0 {
			note = fmt.Sprintf("可用資金%.0f x 買入比例%.0f%% / 現價%.2f", capital, buyRatio*100, alert.Price)
		} else {
			note = "可用資金不足或現價異常，建議買入 0 股"
		}
	case entity.AlertSell:
		holding := positions[strings.TrimSpace(alert.StockCode)]
		quantity = calculateSellQuantity(holding, sellRatio)
		if holding > 0 {
			note = fmt.Sprintf("持倉%d股 x 賣出比例%.0f%%", holding, sellRatio*100)
		} else {
			note = "查無持倉資料，建議賣出 0 股"
		}
	}

	alert.SuggestedQuantity = quantity
	alert.QuantityUnit = "股"
	alert.QuantityNote = note
}
