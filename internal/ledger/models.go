package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostEvent records the compute cost of one generation call. Append-only.
type CostEvent struct {
	Timestamp    time.Time       `json:"timestamp"`
	PromptTokens int             `json:"promptTokens"`
	OutputTokens int             `json:"outputTokens"`
	TotalTokens  int             `json:"totalTokens"`
	CostUSD      decimal.Decimal `json:"costUsd"`
}

// RevenueEvent records one confirmed on-chain settlement payment.
// Append-only; TxHash is the dedup key.
type RevenueEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	CampaignID string          `json:"campaignId"`
	AmountUSD  decimal.Decimal `json:"amountUsd"`
	TxHash     string          `json:"txHash"`
}

// Summary is a point-in-time projection over the two ledgers. It is never
// persisted; every read recomputes it from the current entries.
type Summary struct {
	TotalCostUSD    decimal.Decimal `json:"totalCostUsd"`
	TotalRevenueUSD decimal.Decimal `json:"totalRevenueUsd"`
	NetProfitUSD    decimal.Decimal `json:"netProfitUsd"`
	ProfitMarginPct decimal.Decimal `json:"profitMarginPercent"`
	APICallCount    int             `json:"apiCallCount"`
	AdsServedCount  int             `json:"adsServedCount"`
}
