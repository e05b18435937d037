package purchase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"apex-bridge/internal/chain"
)

var (
	contractAddr = common.HexToAddress("0x7f34")
	tokenAddr    = common.HexToAddress("0x8335")
)

type submission struct {
	to   common.Address
	data []byte
}

type fakeChain struct {
	product     Product
	productErr  error
	allowance   *big.Int
	simulateErr error

	submissions []submission
	simulated   [][]byte
	confs       map[common.Hash]chain.Confirmation
	nextHash    byte
}

func (f *fakeChain) From() common.Address { return common.HexToAddress("0xb0b") }

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }

func (f *fakeChain) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("short calldata")
	}
	switch {
	case bytes.Equal(data[:4], purchaseABI.Methods["getProduct"].ID):
		if f.productErr != nil {
			return nil, f.productErr
		}
		out := struct {
			ProductId    *big.Int
			AdvertiserId *big.Int
			Name         string
			Description  string
			PriceAmount  *big.Int
			IsActive     bool
		}{f.product.ProductID, f.product.AdvertiserID, f.product.Name, f.product.Description, f.product.PriceAmount, f.product.IsActive}
		return purchaseABI.Methods["getProduct"].Outputs.Pack(out)
	case bytes.Equal(data[:4], erc20ABI.Methods["allowance"].ID):
		return erc20ABI.Methods["allowance"].Outputs.Pack(f.allowance)
	}
	return nil, fmt.Errorf("unexpected call to %s", to.Hex())
}

func (f *fakeChain) Simulate(ctx context.Context, to common.Address, data []byte) error {
	f.simulated = append(f.simulated, data)
	return f.simulateErr
}

func (f *fakeChain) Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	f.submissions = append(f.submissions, submission{to: to, data: data})
	f.nextHash++
	return common.Hash{f.nextHash}, nil
}

func (f *fakeChain) WaitConfirmed(ctx context.Context, txHash common.Hash) (chain.Confirmation, error) {
	if conf, ok := f.confs[txHash]; ok {
		return conf, nil
	}
	return chain.Confirmation{BlockNumber: 101}, nil
}

func activeProduct(price int64) Product {
	return Product{
		ProductID:    big.NewInt(1),
		AdvertiserID: big.NewInt(9),
		Name:         "Trail Shoes",
		Description:  "Spring sale",
		PriceAmount:  big.NewInt(price),
		IsActive:     true,
	}
}

func newOrchestrator(f *fakeChain) *Orchestrator {
	return New(f, f, Options{
		Contract:     contractAddr,
		Token:        tokenAddr,
		DefaultPrice: big.NewInt(1_000_000),
	}, zerolog.Nop())
}

func collectStates(transitions *[]Transition) func(Transition) {
	return func(t Transition) { *transitions = append(*transitions, t) }
}

func TestExecuteApprovesWhenAllowanceShort(t *testing.T) {
	f := &fakeChain{product: activeProduct(1_000_000), allowance: big.NewInt(0)}
	o := newOrchestrator(f)

	var transitions []Transition
	txHash, err := o.Execute(context.Background(), big.NewInt(1), collectStates(&transitions))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if len(f.submissions) != 2 {
		t.Fatalf("expected approval + purchase submissions, got %d", len(f.submissions))
	}
	if f.submissions[0].to != tokenAddr {
		t.Fatalf("first submission should target the token, got %s", f.submissions[0].to.Hex())
	}
	if f.submissions[1].to != contractAddr {
		t.Fatalf("second submission should target the purchase contract, got %s", f.submissions[1].to.Hex())
	}

	values, unpackErr := erc20ABI.Methods["approve"].Inputs.Unpack(f.submissions[0].data[4:])
	if unpackErr != nil {
		t.Fatalf("decode approve calldata: %v", unpackErr)
	}
	if amount := values[1].(*big.Int); amount.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("approval must cover exactly the price, got %s", amount)
	}

	want := []State{StateApproving, StatePending, StateConfirming, StateSuccess}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(transitions))
	}
	for i, state := range want {
		if transitions[i].State != state {
			t.Fatalf("transition %d: expected %s, got %s", i, state, transitions[i].State)
		}
	}
	if txHash == (common.Hash{}) || o.TxHash() != txHash {
		t.Fatal("purchase hash should be recorded")
	}
}

func TestExecuteSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	f := &fakeChain{product: activeProduct(1_000_000), allowance: big.NewInt(2_000_000)}
	o := newOrchestrator(f)

	if _, err := o.Execute(context.Background(), big.NewInt(1), nil); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(f.submissions) != 1 {
		t.Fatalf("expected only the purchase submission, got %d", len(f.submissions))
	}
	if f.submissions[0].to != contractAddr {
		t.Fatalf("submission should target the purchase contract, got %s", f.submissions[0].to.Hex())
	}
}

func TestExecuteSimulationRejectionNeverSubmits(t *testing.T) {
	f := &fakeChain{
		product:     activeProduct(1_000_000),
		allowance:   big.NewInt(2_000_000),
		simulateErr: errors.New("execution reverted: ProductNotActive"),
	}
	o := newOrchestrator(f)

	var transitions []Transition
	_, err := o.Execute(context.Background(), big.NewInt(1), collectStates(&transitions))

	var pErr *Error
	if !errors.As(err, &pErr) || pErr.Kind != KindProductNotActive {
		t.Fatalf("expected ProductNotActive, got %v", err)
	}
	if len(f.submissions) != 0 {
		t.Fatal("rejected simulation must not submit")
	}

	last := transitions[len(transitions)-1]
	if last.State != StateError {
		t.Fatalf("machine must end in error state, got %s", last.State)
	}
	for _, tr := range transitions {
		if tr.State == StateConfirming {
			t.Fatal("machine must never reach confirming on simulation rejection")
		}
	}
}

func TestExecuteRevertedPurchaseKeepsTxHash(t *testing.T) {
	f := &fakeChain{
		product:   activeProduct(1_000_000),
		allowance: big.NewInt(2_000_000),
		confs:     map[common.Hash]chain.Confirmation{{1}: {Reverted: true, BlockNumber: 55}},
	}
	o := newOrchestrator(f)

	txHash, err := o.Execute(context.Background(), big.NewInt(1), nil)

	var pErr *Error
	if !errors.As(err, &pErr) || pErr.Kind != KindTransactionReverted {
		t.Fatalf("expected TransactionReverted, got %v", err)
	}
	if txHash == (common.Hash{}) || o.TxHash() != txHash {
		t.Fatal("reverted purchase must still record the transaction hash")
	}
	if o.State() != StateError {
		t.Fatalf("expected error state, got %s", o.State())
	}
}

func TestExecuteInactiveProduct(t *testing.T) {
	p := activeProduct(1_000_000)
	p.IsActive = false
	f := &fakeChain{product: p, allowance: big.NewInt(2_000_000)}
	o := newOrchestrator(f)

	_, err := o.Execute(context.Background(), big.NewInt(1), nil)

	var pErr *Error
	if !errors.As(err, &pErr) || pErr.Kind != KindProductNotActive {
		t.Fatalf("expected ProductNotActive, got %v", err)
	}
	if len(f.submissions) != 0 {
		t.Fatal("inactive product must not trigger any submission")
	}
}

func TestExecuteFallsBackToDefaultPrice(t *testing.T) {
	f := &fakeChain{productErr: errors.New("rpc timeout"), allowance: big.NewInt(0)}
	o := newOrchestrator(f)

	if _, err := o.Execute(context.Background(), big.NewInt(1), nil); err != nil {
		t.Fatalf("lookup failure should degrade to default price, got %v", err)
	}

	values, unpackErr := erc20ABI.Methods["approve"].Inputs.Unpack(f.submissions[0].data[4:])
	if unpackErr != nil {
		t.Fatalf("decode approve calldata: %v", unpackErr)
	}
	if amount := values[1].(*big.Int); amount.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("approval should use the default price, got %s", amount)
	}
}

func TestExecuteRefusesReentry(t *testing.T) {
	f := &fakeChain{product: activeProduct(1_000_000), allowance: big.NewInt(2_000_000)}
	o := newOrchestrator(f)
	o.state = StateConfirming

	if _, err := o.Execute(context.Background(), big.NewInt(1), nil); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if err := o.Reset(); !errors.Is(err, ErrInFlight) {
		t.Fatalf("Reset while in flight must fail, got %v", err)
	}

	o.state = StateError
	o.lastErr = &Error{Kind: KindUnknown, Message: "boom"}
	if err := o.Reset(); err != nil {
		t.Fatalf("Reset from terminal state should succeed, got %v", err)
	}
	if o.State() != StateIdle || o.Err() != nil || o.TxHash() != (common.Hash{}) {
		t.Fatal("Reset must clear state, error, and transaction hash")
	}
}
