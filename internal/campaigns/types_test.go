package campaigns

import (
	"math/big"
	"testing"
	"time"
)

func TestCampaignStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := Campaign{StartTime: 1_700_000_000, ExpiryTime: 1_700_003_600}

	if got := (Campaign{StartTime: c.StartTime + 10, ExpiryTime: c.ExpiryTime}).Status(now); got != StatusScheduled {
		t.Fatalf("before start: expected scheduled, got %s", got)
	}
	if got := c.Status(now); got != StatusActive {
		t.Fatalf("at start: expected active, got %s", got)
	}
	if got := c.Status(now.Add(59 * time.Minute)); got != StatusActive {
		t.Fatalf("inside window: expected active, got %s", got)
	}
	if got := c.Status(now.Add(time.Hour)); got != StatusEnded {
		t.Fatalf("at expiry: expected ended, got %s", got)
	}
}

func TestDecodeSpecABIString(t *testing.T) {
	encoded, err := stringArgs.Pack(`{"title":"Trail Shoes","description":"Spring sale","targetUrl":"https://example.com"}`)
	if err != nil {
		t.Fatalf("pack spec: %v", err)
	}

	spec := DecodeSpec(encoded)
	if spec == nil {
		t.Fatal("expected decoded spec")
	}
	if spec.Title != "Trail Shoes" || spec.TargetURL != "https://example.com" {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestDecodeSpecBareJSON(t *testing.T) {
	spec := DecodeSpec([]byte(`{"title":"Plain"}`))
	if spec == nil || spec.Title != "Plain" {
		t.Fatalf("expected bare-JSON spec, got %+v", spec)
	}
}

func TestDecodeSpecMalformed(t *testing.T) {
	if spec := DecodeSpec(nil); spec != nil {
		t.Fatalf("empty spec should decode to nil, got %+v", spec)
	}
	if spec := DecodeSpec([]byte{0x01, 0x02}); spec != nil {
		t.Fatalf("garbage spec should decode to nil, got %+v", spec)
	}
}

func TestSerializeComputesStatus(t *testing.T) {
	now := time.Unix(1_700_000_100, 0)
	c := Campaign{
		CampaignID:   big.NewInt(7),
		AdvertiserID: big.NewInt(3),
		Budget:       Budget{Amount: big.NewInt(5_000_000), Spent: big.NewInt(0), CPAAmount: big.NewInt(100_000)},
		StartTime:    1_700_000_000,
		ExpiryTime:   1_700_003_600,
	}

	s := Serialize(c, now)
	if s.CampaignID != "7" || s.Status != StatusActive {
		t.Fatalf("unexpected serialization: %+v", s)
	}
	if s.Budget.CPAAmount != "100000" {
		t.Fatalf("unexpected budget serialization: %+v", s.Budget)
	}
}
