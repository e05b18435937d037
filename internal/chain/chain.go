package chain

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader performs read-only calls against the settlement ledger.
type Reader interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Writer simulates and submits state-changing calls for a single signing
// account and waits for their terminal status. Simulate evaluates the call
// against current state without committing anything; callers must not Submit
// a payload that has not passed Simulate with the same calldata.
type Writer interface {
	From() common.Address
	Simulate(ctx context.Context, to common.Address, data []byte) error
	Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitConfirmed(ctx context.Context, txHash common.Hash) (Confirmation, error)
}

// Confirmation is the terminal outcome of a submitted transaction.
type Confirmation struct {
	Reverted    bool
	BlockNumber uint64
}
