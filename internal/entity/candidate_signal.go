package entity

import (
	"math"

	"twstock-scheduler/pkg/utils"
)

// SignalAction is the recommendation attached to a candidate signal.
type SignalAction string

const (
	ActionBuy    SignalAction = "buy"
	ActionWatch  SignalAction = "watch"
	ActionReduce SignalAction = "reduce"
	ActionAvoid  SignalAction = "avoid"
)

// Candidate signal pipelines.
const (
	SourceDailyPlan       = "daily_plan"
	SourceIntradayMonitor = "intraday_monitor"
)

// CandidateSignal is the canonical scored recommendation for one stock on
// one date. Risk rules only ever downgrade the action and append reasons.
type CandidateSignal struct {
	StockCode      string                 `json:"stock_code"`
	SignalDate     string                 `json:"signal_date"`
	TechnicalScore float64                `json:"technical_score"`
	NewsScore      float64                `json:"news_score"`
	RiskPenalty    float64                `json:"risk_penalty"`
	TotalScore     float64                `json:"total_score"`
	Action         SignalAction           `json:"action"`
	Confidence     float64                `json:"confidence"`
	Reasons        []string               `json:"reasons"`
	Source         string                 `json:"source"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// Clone returns a deep copy so risk adjustments never touch the original.
func (c CandidateSignal) Clone() CandidateSignal {
	clone := c
	clone.Reasons = append([]string(nil), c.Reasons...)
	if c.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(c.Metadata))
		for key, value := range c.Metadata {
			clone.Metadata[key] = value
		}
	}
	return clone
}

// Downgrade demotes the candidate to the given action, accumulates the risk
// penalty with the total score floored at zero, and records the reason.
func (c *CandidateSignal) Downgrade(action SignalAction, penalty float64, reason string) {
	c.Action = action
	c.RiskPenalty += penalty
	c.TotalScore = math.Max(0, c.TotalScore-penalty)
	c.Reasons = append(c.Reasons, reason)
}

// Rounded returns a serialization-ready copy: scores rounded to two decimal
// places, confidence to four, and nil collections replaced with empty ones.
func (c CandidateSignal) Rounded() CandidateSignal {
	rounded := c.Clone()
	rounded.TechnicalScore = utils.RoundTo(c.TechnicalScore, 2)
	rounded.NewsScore = utils.RoundTo(c.NewsScore, 2)
	rounded.RiskPenalty = utils.RoundTo(c.RiskPenalty, 2)
	rounded.TotalScore = utils.RoundTo(c.TotalScore, 2)
	rounded.Confidence = utils.RoundTo(c.Confidence, 4)
	if rounded.Reasons == nil {
		rounded.Reasons = []string{}
	}
	if rounded.Metadata == nil {
		rounded.Metadata = map[string]interface{}{}
	}
	return rounded
}
