package chain

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Code identifies a decoded revert reason from the settlement contracts.
type Code string

const (
	CodeUnknown Code = "Unknown"

	// campaign/ad registry
	CodeCampaignNotFound       Code = "CampaignNotFound"
	CodeCampaignNotActive      Code = "CampaignNotActive"
	CodeCampaignAlreadyExpired Code = "CampaignAlreadyExpired"
	CodePublisherNotFound      Code = "PublisherNotFound"
	CodeUnauthorizedCaller     Code = "UnauthorizedCaller"
	CodeActionAlreadyProcessed Code = "ActionAlreadyProcessed"
	CodeInsufficientBudget     Code = "InsufficientBudget"

	// purchase contract
	CodeProductNotFound      Code = "ProductNotFound"
	CodeProductNotActive     Code = "ProductNotActive"
	CodeInvalidPaymentAmount Code = "InvalidPaymentAmount"
	CodePaymentFailed        Code = "PaymentFailed"

	// token transfer, surfaced as a plain revert string by most tokens
	CodeInsufficientBalance Code = "InsufficientBalance"
)

// custom-error signatures carried by the registry and purchase contracts
var revertSignatures = []string{
	"CampaignNotFound()",
	"CampaignNotActive()",
	"CampaignAlreadyExpired()",
	"PublisherNotFound()",
	"UnauthorizedCaller()",
	"ActionAlreadyProcessed()",
	"InsufficientBudget()",
	"ProductNotFound()",
	"ProductNotActive()",
	"InvalidPaymentAmount()",
	"PaymentFailed()",
}

var (
	selectorTable map[[4]byte]Code

	// Error(string) selector
	errorStringSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

	stringArgs abi.Arguments
)

func init() {
	selectorTable = make(map[[4]byte]Code, len(revertSignatures))
	for _, sig := range revertSignatures {
		var sel [4]byte
		copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
		selectorTable[sel] = Code(strings.TrimSuffix(sig, "()"))
	}

	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic("failed to build string abi type: " + err.Error())
	}
	stringArgs = abi.Arguments{{Type: stringType}}
}

// dataError is the structured revert payload surfaced by the RPC client.
type dataError interface {
	ErrorData() interface{}
}

// Classify maps a failed call or simulation error onto a revert code.
// Structured revert data (custom-error selectors and Error(string) payloads)
// takes precedence; message-substring matching is the fallback for clients
// that only surface text.
func Classify(err error) Code {
	if err == nil {
		return ""
	}

	var de dataError
	if errors.As(err, &de) {
		if code, ok := classifyData(de.ErrorData()); ok {
			return code
		}
	}

	return classifyMessage(err.Error())
}

func classifyData(data interface{}) (Code, bool) {
	raw, ok := data.(string)
	if !ok {
		return CodeUnknown, false
	}

	payload, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(payload) < 4 {
		return CodeUnknown, false
	}

	var sel [4]byte
	copy(sel[:], payload[:4])

	if sel == errorStringSelector {
		values, err := stringArgs.Unpack(payload[4:])
		if err != nil || len(values) != 1 {
			return CodeUnknown, false
		}
		msg, ok := values[0].(string)
		if !ok {
			return CodeUnknown, false
		}
		return classifyMessage(msg), true
	}

	if code, ok := selectorTable[sel]; ok {
		return code, true
	}
	return CodeUnknown, false
}

func classifyMessage(msg string) Code {
	for _, sig := range revertSignatures {
		name := strings.TrimSuffix(sig, "()")
		if strings.Contains(msg, name) {
			return Code(name)
		}
	}
	if strings.Contains(strings.ToLower(msg), "insufficient") {
		return CodeInsufficientBalance
	}
	return CodeUnknown
}
