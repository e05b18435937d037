package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// WriterOptions parameterise transaction submission.
type WriterOptions struct {
	SigningKey          string
	Confirmations       uint64
	ReceiptPollInterval time.Duration
}

// TxWriter submits state-changing calls signed with a single key and tracks
// them to a terminal status. Submissions are serialised so nonces stay
// consistent for the signing account.
type TxWriter struct {
	client        *Client
	key           *ecdsa.PrivateKey
	from          common.Address
	confirmations uint64
	pollInterval  time.Duration
	logger        zerolog.Logger

	submitMux  sync.Mutex
	chainIDMux sync.Mutex
	chainID    *big.Int
}

// NewTxWriter builds a writer from a hex-encoded signing key.
func NewTxWriter(client *Client, opts WriterOptions, logger zerolog.Logger) (*TxWriter, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(opts.SigningKey), "0x")
	if keyHex == "" {
		return nil, errors.New("signing key not configured")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	confirmations := opts.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	pollInterval := opts.ReceiptPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &TxWriter{
		client:        client,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		confirmations: confirmations,
		pollInterval:  pollInterval,
		logger:        logger.With().Str("component", "chain_writer").Logger(),
	}, nil
}

// From returns the signing account address.
func (w *TxWriter) From() common.Address {
	return w.from
}

// Simulate dry-runs the call as the signing account. A non-nil error means
// the call would revert; callers classify it via Classify.
func (w *TxWriter) Simulate(ctx context.Context, to common.Address, data []byte) error {
	_, err := w.client.callFrom(ctx, w.from, to, data)
	return err
}

// Submit signs and broadcasts the call, returning its transaction hash.
func (w *TxWriter) Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	w.submitMux.Lock()
	defer w.submitMux.Unlock()

	client, err := w.client.getClient(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := client.PendingNonceAt(ctx, w.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: w.from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	// headroom for state drift between estimate and inclusion
	gas += gas / 5

	chainID, err := w.getChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	hash := signed.Hash()
	w.logger.Info().Str("tx", hash.Hex()).Str("to", to.Hex()).Uint64("nonce", nonce).Msg("transaction submitted")
	return hash, nil
}

// WaitConfirmed blocks until the transaction reaches a terminal status and
// the configured confirmation depth. The wait is unbounded; cancellation is
// the caller's context.
func (w *TxWriter) WaitConfirmed(ctx context.Context, txHash common.Hash) (Confirmation, error) {
	client, err := w.client.getClient(ctx)
	if err != nil {
		return Confirmation{}, err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			receipt = r
		case errors.Is(err, ethereum.NotFound):
			// not mined yet
		default:
			w.logger.Debug().Err(err).Str("tx", txHash.Hex()).Msg("receipt query failed; retrying")
		}

		if receipt == nil {
			select {
			case <-ctx.Done():
				return Confirmation{}, ctx.Err()
			case <-ticker.C:
			}
		}
	}

	included := receipt.BlockNumber.Uint64()
	target := included + w.confirmations - 1
	for {
		head, err := client.BlockNumber(ctx)
		if err == nil && head >= target {
			break
		}
		if err != nil {
			w.logger.Debug().Err(err).Msg("head query failed; retrying")
		}
		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}

	conf := Confirmation{
		Reverted:    receipt.Status != types.ReceiptStatusSuccessful,
		BlockNumber: included,
	}
	w.logger.Info().Str("tx", txHash.Hex()).Uint64("block", included).Bool("reverted", conf.Reverted).Msg("transaction confirmed")
	return conf, nil
}

func (w *TxWriter) getChainID(ctx context.Context) (*big.Int, error) {
	w.chainIDMux.Lock()
	defer w.chainIDMux.Unlock()

	if w.chainID != nil {
		return w.chainID, nil
	}

	client, err := w.client.getClient(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	w.chainID = chainID
	return chainID, nil
}

var _ Writer = (*TxWriter)(nil)
