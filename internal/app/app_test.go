package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"apex-bridge/internal/config"
)

type recordingReader struct {
	queries chan ethereum.FilterQuery
}

func (r *recordingReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (r *recordingReader) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (r *recordingReader) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	select {
	case r.queries <- query:
	default:
	}
	return nil, nil
}

// Settlement events come from the campaign registry, not the ad registry the
// submitter writes to. The poller must filter on the former.
func TestPollerFiltersCampaignRegistry(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Ethereum.CampaignRegistry = "0x8c2b0000000000000000000000000000000000aa"
	cfg.Ethereum.AdRegistry = "0x57340000000000000000000000000000000000bb"
	cfg.Publisher.ID = 1

	a := NewApp(cfg, zerolog.Nop())
	reader := &recordingReader{queries: make(chan ethereum.FilterQuery, 1)}
	poller := a.newPoller(reader, a.newLedger(nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = poller.Run(ctx)
		close(done)
	}()

	select {
	case query := <-reader.queries:
		want := common.HexToAddress(cfg.Ethereum.CampaignRegistry)
		if len(query.Addresses) != 1 || query.Addresses[0] != want {
			t.Errorf("poller filters %v, want [%s]", query.Addresses, want.Hex())
		}
		if query.Addresses[0] == common.HexToAddress(cfg.Ethereum.AdRegistry) {
			t.Error("poller is watching the ad registry")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller never issued a log query")
	}

	cancel()
	<-done
}
