package campaigns

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status of a campaign relative to its scheduling window. Always derived
// from the window and the current time, never stored.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

// Budget mirrors the registry's budget tuple. Amounts are token minor units.
type Budget struct {
	Amount       *big.Int
	Spent        *big.Int
	CPAAmount    *big.Int
	TokenAddress common.Address
}

// Campaign is a registry entry. StartTime and ExpiryTime are unix seconds.
type Campaign struct {
	CampaignID   *big.Int
	AdvertiserID *big.Int
	Budget       Budget
	StartTime    uint64
	ExpiryTime   uint64
	Spec         *Spec
}

// Status computes the scheduling state at the given instant:
// scheduled before startTime, active in [startTime, expiryTime), ended after.
func (c Campaign) Status(now time.Time) Status {
	ts := uint64(now.Unix())
	if ts < c.StartTime {
		return StatusScheduled
	}
	if ts >= c.ExpiryTime {
		return StatusEnded
	}
	return StatusActive
}

// Spec is the optional structured payload campaigns carry. All fields are
// advisory display hints.
type Spec struct {
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	TargetURL   string                 `json:"targetUrl,omitempty"`
	Rules       map[string]interface{} `json:"rules,omitempty"`
}

// DecodeSpec decodes the opaque spec bytes: an ABI-encoded string carrying
// JSON, or bare JSON. Anything malformed or empty decodes to nil.
func DecodeSpec(raw []byte) *Spec {
	if len(raw) == 0 {
		return nil
	}

	payload := raw
	if values, err := stringArgs.Unpack(raw); err == nil && len(values) == 1 {
		if s, ok := values[0].(string); ok {
			payload = []byte(s)
		}
	}

	var spec Spec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return nil
	}
	return &spec
}

// Serialized is the JSON shape of a campaign for the service surface.
type Serialized struct {
	CampaignID   string           `json:"campaignId"`
	AdvertiserID string           `json:"advertiserId"`
	Budget       SerializedBudget `json:"budget"`
	StartTime    uint64           `json:"startTime"`
	ExpiryTime   uint64           `json:"expiryTime"`
	Spec         *Spec            `json:"spec"`
	Status       Status           `json:"status"`
}

// SerializedBudget renders minor-unit amounts as decimal strings.
type SerializedBudget struct {
	Amount       string `json:"amount"`
	Spent        string `json:"spent"`
	CPAAmount    string `json:"cpaAmount"`
	TokenAddress string `json:"tokenAddress"`
}

// Serialize renders a campaign for JSON responses, computing status at now.
func Serialize(c Campaign, now time.Time) Serialized {
	return Serialized{
		CampaignID:   bigString(c.CampaignID),
		AdvertiserID: bigString(c.AdvertiserID),
		Budget: SerializedBudget{
			Amount:       bigString(c.Budget.Amount),
			Spent:        bigString(c.Budget.Spent),
			CPAAmount:    bigString(c.Budget.CPAAmount),
			TokenAddress: c.Budget.TokenAddress.Hex(),
		},
		StartTime:  c.StartTime,
		ExpiryTime: c.ExpiryTime,
		Spec:       c.Spec,
		Status:     c.Status(now),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
