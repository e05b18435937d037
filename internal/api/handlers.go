package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"apex-bridge/internal/agent"
	"apex-bridge/internal/attribution"
	"apex-bridge/internal/campaigns"
	"apex-bridge/internal/purchase"
)

type campaignsResponse struct {
	Campaigns []campaigns.Serialized `json:"campaigns"`
	Cached    bool                   `json:"cached"`
	Timestamp time.Time              `json:"timestamp"`
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	active, cached, fetchedAt, err := s.opts.Campaigns.Active(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "ChainUnavailable", err.Error())
		return
	}

	now := time.Now()
	out := make([]campaigns.Serialized, 0, len(active))
	for _, c := range active {
		out = append(out, campaigns.Serialize(c, now))
	}
	writeJSON(w, http.StatusOK, campaignsResponse{
		Campaigns: out,
		Cached:    cached,
		Timestamp: fetchedAt,
	})
}

type attributionRequest struct {
	CampaignID  string `json:"campaignId"`
	UserAddress string `json:"userAddress"`
}

type attributionResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

func (s *Server) handleAttributions(w http.ResponseWriter, r *http.Request) {
	var req attributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}
	campaignID, ok := new(big.Int).SetString(strings.TrimSpace(req.CampaignID), 10)
	if !ok || campaignID.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "campaignId must be a non-negative integer")
		return
	}
	wallet := strings.TrimSpace(req.UserAddress)
	if !common.IsHexAddress(wallet) {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "userAddress must be a hex address")
		return
	}

	key := campaignID.String() + "/" + strings.ToLower(wallet)
	s.attrMu.Lock()
	if _, dup := s.attrSeen[key]; dup {
		s.attrMu.Unlock()
		writeError(w, http.StatusConflict, string(attribution.KindDuplicateAction), "attribution already recorded for this campaign and user")
		return
	}
	s.attrSeen[key] = struct{}{}
	s.attrMu.Unlock()

	result, err := s.opts.Attributions.Create(r.Context(), campaignID, wallet)
	if err != nil {
		// A failed submission must not block a retry.
		s.attrMu.Lock()
		delete(s.attrSeen, key)
		s.attrMu.Unlock()

		kind, message := attribution.KindUnknown, err.Error()
		var aerr *attribution.Error
		if errors.As(err, &aerr) {
			kind, message = aerr.Kind, aerr.Message
		}
		writeError(w, attributionStatus(kind), string(kind), message)
		return
	}

	writeJSON(w, http.StatusCreated, attributionResponse{
		TxHash:      result.TxHash.Hex(),
		BlockNumber: result.BlockNumber,
	})
}

func attributionStatus(kind attribution.Kind) int {
	switch kind {
	case attribution.KindCampaignNotFound:
		return http.StatusNotFound
	case attribution.KindCampaignNotActive, attribution.KindPublisherNotRegistered:
		return http.StatusUnprocessableEntity
	case attribution.KindUnauthorized:
		return http.StatusForbidden
	case attribution.KindDuplicateAction:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

type purchaseRequest struct {
	ProductID string `json:"productId"`
}

// handlePurchases streams one JSON object per state transition, then a final
// object carrying either the transaction hash or the failure.
func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}
	productID, ok := new(big.Int).SetString(strings.TrimSpace(req.ProductID), 10)
	if !ok || productID.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "productId must be a non-negative integer")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Unknown", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	emit := func(v interface{}) {
		_ = enc.Encode(v)
		flusher.Flush()
	}

	runner := s.opts.NewPurchase()
	txHash, err := runner.Execute(r.Context(), productID, func(t purchase.Transition) {
		ev := map[string]interface{}{"state": t.State}
		if (t.TxHash != common.Hash{}) {
			ev["txHash"] = t.TxHash.Hex()
		}
		if t.Err != nil {
			ev["error"] = errorDetail{Kind: string(t.Err.Kind), Message: t.Err.Message}
		}
		emit(ev)
	})
	if err != nil {
		kind, message := purchase.KindUnknown, err.Error()
		var perr *purchase.Error
		if errors.As(err, &perr) {
			kind, message = perr.Kind, perr.Message
		}
		emit(map[string]interface{}{"error": errorDetail{Kind: string(kind), Message: message}})
		return
	}
	emit(map[string]interface{}{"txHash": txHash.Hex()})
}

type chatRequest struct {
	Prompt        string `json:"prompt"`
	WalletAddress string `json:"walletAddress"`
}

type chatResponse struct {
	Text           string `json:"text"`
	WalletAddress  string `json:"walletAddress"`
	PurchaseIntent bool   `json:"purchaseIntent"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "prompt is required")
		return
	}
	if s.opts.WalletAllowed != nil && !s.opts.WalletAllowed(req.WalletAddress) {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "wallet address is not allowed")
		return
	}
	if s.opts.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "GeneratorUnavailable", "no generation backend configured")
		return
	}

	active, _, _, err := s.opts.Campaigns.Active(r.Context())
	if err != nil {
		// Degrade to a campaign-free instruction rather than failing the chat.
		s.logger.Warn().Err(err).Msg("campaign snapshot unavailable for chat")
		active = nil
	}
	now := time.Now()
	serialized := make([]campaigns.Serialized, 0, len(active))
	for _, c := range active {
		serialized = append(serialized, campaigns.Serialize(c, now))
	}

	reply, err := s.opts.Generator.Generate(r.Context(), req.Prompt, agent.SystemInstruction(serialized))
	if err != nil {
		writeError(w, http.StatusBadGateway, "GenerationFailed", err.Error())
		return
	}
	s.opts.Financials.RecordUsage(r.Context(), reply.PromptTokens, reply.OutputTokens)

	text := strings.TrimSpace(reply.Text)
	if text == "" {
		text = "Sorry, I couldn't generate a response."
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Text:           text,
		WalletAddress:  req.WalletAddress,
		PurchaseIntent: agent.DetectPurchaseIntent(req.Prompt),
	})
}

func (s *Server) handleFinancials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Financials.Summary())
}
