package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"apex-bridge/internal/chain"
)

const (
	purchaseABIJSON = `[
{"inputs":[{"internalType":"uint256","name":"productId","type":"uint256"}],"name":"purchaseProduct","outputs":[{"internalType":"uint256","name":"purchaseId","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"productId","type":"uint256"}],"name":"getProduct","outputs":[{"components":[{"internalType":"uint256","name":"productId","type":"uint256"},{"internalType":"uint256","name":"advertiserId","type":"uint256"},{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"description","type":"string"},{"internalType":"uint256","name":"priceAmount","type":"uint256"},{"internalType":"bool","name":"isActive","type":"bool"}],"internalType":"struct IDemoPurchase.Product","name":"product","type":"tuple"}],"stateMutability":"view","type":"function"}
]`

	erc20ABIJSON = `[
{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`
)

var (
	purchaseABI abi.ABI
	erc20ABI    abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(purchaseABIJSON))
	if err != nil {
		panic("failed to parse purchase contract ABI: " + err.Error())
	}
	purchaseABI = parsed

	parsed, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse erc20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// State of the purchase machine.
type State string

const (
	StateIdle       State = "idle"
	StateApproving  State = "approving"
	StatePending    State = "pending"
	StateConfirming State = "confirming"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Kind classifies purchase failures into a stable vocabulary.
type Kind string

const (
	KindProductNotFound      Kind = "ProductNotFound"
	KindProductNotActive     Kind = "ProductNotActive"
	KindInvalidPaymentAmount Kind = "InvalidPaymentAmount"
	KindInsufficientBalance  Kind = "InsufficientBalance"
	KindApprovalReverted     Kind = "ApprovalReverted"
	KindTransactionReverted  Kind = "TransactionReverted"
	KindUnknown              Kind = "Unknown"
)

// Error is a structured purchase failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("purchase %s: %s", e.Kind, e.Message)
}

// ErrInFlight is returned when Execute or Reset is called while a purchase
// attempt is between approving and confirming.
var ErrInFlight = errors.New("purchase already in flight")

// Transition is one observable step of the machine. TxHash is set from the
// moment the purchase transaction is submitted, including on later failure.
type Transition struct {
	State  State
	TxHash common.Hash
	Err    *Error
}

// Product is the purchase contract's authoritative product record. Its
// PriceAmount, in token minor units, overrides any client-supplied price.
type Product struct {
	ProductID    *big.Int
	AdvertiserID *big.Int
	Name         string
	Description  string
	PriceAmount  *big.Int
	IsActive     bool
}

// Options parameterise the orchestrator.
type Options struct {
	Contract     common.Address
	Token        common.Address
	DefaultPrice *big.Int
}

// Orchestrator drives one token-gated purchase through
// idle → approving → pending → confirming → success|error. One instance
// serves one purchase attempt at a time; Execute refuses re-entry while a
// transaction is in flight.
type Orchestrator struct {
	reader       chain.Reader
	writer       chain.Writer
	contract     common.Address
	token        common.Address
	defaultPrice *big.Int
	logger       zerolog.Logger

	mu      sync.Mutex
	state   State
	txHash  common.Hash
	lastErr *Error
}

// New builds an orchestrator in the idle state.
func New(reader chain.Reader, writer chain.Writer, opts Options, logger zerolog.Logger) *Orchestrator {
	defaultPrice := opts.DefaultPrice
	if defaultPrice == nil || defaultPrice.Sign() <= 0 {
		defaultPrice = big.NewInt(1_000_000)
	}
	return &Orchestrator{
		reader:       reader,
		writer:       writer,
		contract:     opts.Contract,
		token:        opts.Token,
		defaultPrice: defaultPrice,
		logger:       logger.With().Str("component", "purchase").Logger(),
		state:        StateIdle,
	}
}

// State returns the machine's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// TxHash returns the purchase transaction hash, if one was submitted.
func (o *Orchestrator) TxHash() common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.txHash
}

// Err returns the terminal error, if the machine ended in the error state.
func (o *Orchestrator) Err() *Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Reset returns the machine to idle and clears the recorded transaction and
// error. It fails with ErrInFlight while a transaction is being driven.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateApproving, StatePending, StateConfirming:
		return ErrInFlight
	}
	o.state = StateIdle
	o.txHash = common.Hash{}
	o.lastErr = nil
	return nil
}

// Execute drives a purchase of the given product for the writer's account.
// Every state transition is reported through observe (which may be nil)
// before Execute returns. The returned hash identifies the purchase
// transaction; it is also set when confirmation ends in a revert.
func (o *Orchestrator) Execute(ctx context.Context, productID *big.Int, observe func(Transition)) (common.Hash, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return common.Hash{}, ErrInFlight
	}
	o.state = StateApproving
	o.txHash = common.Hash{}
	o.lastErr = nil
	o.mu.Unlock()

	emit := func(t Transition) {
		if observe != nil {
			observe(t)
		}
	}
	emit(Transition{State: StateApproving})

	price, err := o.resolvePrice(ctx, productID)
	if err != nil {
		return common.Hash{}, o.fail(emit, err)
	}

	if err := o.ensureAllowance(ctx, price); err != nil {
		return common.Hash{}, o.fail(emit, err)
	}

	o.setState(StatePending)
	emit(Transition{State: StatePending})

	data, packErr := purchaseABI.Pack("purchaseProduct", productID)
	if packErr != nil {
		return common.Hash{}, o.fail(emit, &Error{Kind: KindUnknown, Message: packErr.Error()})
	}

	if simErr := o.writer.Simulate(ctx, o.contract, data); simErr != nil {
		kind := classify(simErr)
		o.logger.Warn().Err(simErr).Str("product", productID.String()).Str("kind", string(kind)).Msg("purchase simulation rejected")
		return common.Hash{}, o.fail(emit, &Error{Kind: kind, Message: simErr.Error()})
	}

	txHash, submitErr := o.writer.Submit(ctx, o.contract, data)
	if submitErr != nil {
		return common.Hash{}, o.fail(emit, &Error{Kind: KindUnknown, Message: submitErr.Error()})
	}

	o.mu.Lock()
	o.txHash = txHash
	o.state = StateConfirming
	o.mu.Unlock()
	emit(Transition{State: StateConfirming, TxHash: txHash})

	conf, waitErr := o.writer.WaitConfirmed(ctx, txHash)
	if waitErr != nil {
		return txHash, o.fail(emit, &Error{Kind: KindUnknown, Message: waitErr.Error()})
	}
	if conf.Reverted {
		return txHash, o.fail(emit, &Error{Kind: KindTransactionReverted, Message: fmt.Sprintf("transaction %s reverted", txHash.Hex())})
	}

	o.setState(StateSuccess)
	emit(Transition{State: StateSuccess, TxHash: txHash})
	o.logger.Info().Str("product", productID.String()).Str("tx", txHash.Hex()).Uint64("block", conf.BlockNumber).Msg("purchase confirmed")
	return txHash, nil
}

// resolvePrice fetches the authoritative product price. A lookup failure
// falls back to the configured default price; the purchase still runs the
// simulation gate before any funds move, but the degraded path substitutes
// a guessed approval amount and is logged accordingly.
func (o *Orchestrator) resolvePrice(ctx context.Context, productID *big.Int) (*big.Int, *Error) {
	product, err := o.GetProduct(ctx, productID)
	if err != nil {
		o.logger.Warn().Err(err).Str("product", productID.String()).Str("fallback_price", o.defaultPrice.String()).
			Msg("product lookup failed; falling back to default price")
		return o.defaultPrice, nil
	}

	if !product.IsActive {
		return nil, &Error{Kind: KindProductNotActive, Message: fmt.Sprintf("product %s is not active", productID)}
	}
	return product.PriceAmount, nil
}

// GetProduct reads the authoritative product record from the contract.
func (o *Orchestrator) GetProduct(ctx context.Context, productID *big.Int) (Product, error) {
	data, err := purchaseABI.Pack("getProduct", productID)
	if err != nil {
		return Product{}, err
	}

	res, err := o.reader.Call(ctx, o.contract, data)
	if err != nil {
		return Product{}, fmt.Errorf("fetch product %s: %w", productID, err)
	}

	var out struct {
		Product struct {
			ProductId    *big.Int
			AdvertiserId *big.Int
			Name         string
			Description  string
			PriceAmount  *big.Int
			IsActive     bool
		}
	}
	if err := purchaseABI.UnpackIntoInterface(&out, "getProduct", res); err != nil {
		return Product{}, fmt.Errorf("decode product %s: %w", productID, err)
	}

	p := out.Product
	return Product{
		ProductID:    p.ProductId,
		AdvertiserID: p.AdvertiserId,
		Name:         p.Name,
		Description:  p.Description,
		PriceAmount:  p.PriceAmount,
		IsActive:     p.IsActive,
	}, nil
}

// ensureAllowance approves exactly price units when the current allowance
// falls short, and waits for the approval to confirm.
func (o *Orchestrator) ensureAllowance(ctx context.Context, price *big.Int) *Error {
	allowance, err := o.allowance(ctx)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}

	if allowance.Cmp(price) >= 0 {
		o.logger.Debug().Str("allowance", allowance.String()).Str("price", price.String()).Msg("sufficient allowance; skipping approval")
		return nil
	}

	data, err := erc20ABI.Pack("approve", o.contract, price)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}

	txHash, err := o.writer.Submit(ctx, o.token, data)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}
	o.logger.Info().Str("tx", txHash.Hex()).Str("amount", price.String()).Msg("approval submitted")

	conf, err := o.writer.WaitConfirmed(ctx, txHash)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}
	if conf.Reverted {
		return &Error{Kind: KindApprovalReverted, Message: fmt.Sprintf("approval %s reverted", txHash.Hex())}
	}
	return nil
}

func (o *Orchestrator) allowance(ctx context.Context) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", o.writer.From(), o.contract)
	if err != nil {
		return nil, err
	}

	res, err := o.reader.Call(ctx, o.token, data)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}

	values, err := erc20ABI.Unpack("allowance", res)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, errors.New("unexpected allowance response")
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode allowance")
	}
	return allowance, nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) fail(emit func(Transition), failure *Error) *Error {
	o.mu.Lock()
	o.state = StateError
	o.lastErr = failure
	txHash := o.txHash
	o.mu.Unlock()
	emit(Transition{State: StateError, TxHash: txHash, Err: failure})
	return failure
}

func classify(err error) Kind {
	switch chain.Classify(err) {
	case chain.CodeProductNotFound:
		return KindProductNotFound
	case chain.CodeProductNotActive:
		return KindProductNotActive
	case chain.CodeInvalidPaymentAmount:
		return KindInvalidPaymentAmount
	case chain.CodeInsufficientBalance:
		return KindInsufficientBalance
	default:
		return KindUnknown
	}
}
