package chain

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

type rpcRevertErr struct {
	msg  string
	data interface{}
}

func (e *rpcRevertErr) Error() string          { return e.msg }
func (e *rpcRevertErr) ErrorData() interface{} { return e.data }

func customErrData(t *testing.T, sig string) string {
	t.Helper()
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(sig))[:4])
}

func TestClassifyCustomErrorSelector(t *testing.T) {
	cases := map[string]Code{
		"CampaignNotFound()":     CodeCampaignNotFound,
		"CampaignNotActive()":    CodeCampaignNotActive,
		"PublisherNotFound()":    CodePublisherNotFound,
		"UnauthorizedCaller()":   CodeUnauthorizedCaller,
		"ProductNotFound()":      CodeProductNotFound,
		"ProductNotActive()":     CodeProductNotActive,
		"InvalidPaymentAmount()": CodeInvalidPaymentAmount,
	}

	for sig, want := range cases {
		err := &rpcRevertErr{msg: "execution reverted", data: customErrData(t, sig)}
		if got := Classify(err); got != want {
			t.Fatalf("%s: expected %s, got %s", sig, want, got)
		}
	}
}

func TestClassifyErrorStringPayload(t *testing.T) {
	packed, err := stringArgs.Pack("ProductNotActive: paused")
	if err != nil {
		t.Fatalf("pack revert string: %v", err)
	}
	payload := append(errorStringSelector[:], packed...)

	rpcErr := &rpcRevertErr{msg: "execution reverted", data: "0x" + hex.EncodeToString(payload)}
	if got := Classify(rpcErr); got != CodeProductNotActive {
		t.Fatalf("expected ProductNotActive, got %s", got)
	}
}

func TestClassifyMessageFallback(t *testing.T) {
	if got := Classify(errors.New("execution reverted: CampaignNotActive")); got != CodeCampaignNotActive {
		t.Fatalf("expected CampaignNotActive, got %s", got)
	}
	if got := Classify(errors.New("transfer failed: insufficient funds for gas")); got != CodeInsufficientBalance {
		t.Fatalf("expected InsufficientBalance, got %s", got)
	}
	if got := Classify(errors.New("connection refused")); got != CodeUnknown {
		t.Fatalf("expected Unknown, got %s", got)
	}
}

func TestClassifyUnknownSelectorFallsBackToMessage(t *testing.T) {
	err := &rpcRevertErr{msg: "execution reverted: ProductNotFound", data: customErrData(t, "SomethingElse()")}
	if got := Classify(err); got != CodeProductNotFound {
		t.Fatalf("expected ProductNotFound via message fallback, got %s", got)
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != "" {
		t.Fatalf("expected empty code for nil error, got %s", got)
	}
}
