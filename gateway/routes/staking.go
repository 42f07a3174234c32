package routes

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"rwastaking/crypto"
	"rwastaking/gateway/middleware"
	"rwastaking/integrations/exports"
	"rwastaking/native/bank"
	"rwastaking/native/common"
	"rwastaking/native/nft"
	"rwastaking/native/staking"
	"rwastaking/services/receipts"
)

type handlers struct {
	engine   *staking.Engine
	journal  *receipts.Journal
	registry *nft.Registry
	tokens   *bank.Ledger
	pauses   *common.Pauses
	auth     staking.Authorizer
	logger   *slog.Logger
}

type positionView struct {
	AssetID       string `json:"assetId"`
	Collection    string `json:"collection,omitempty"`
	Owner         string `json:"owner"`
	StakedAt      uint64 `json:"stakedAt"`
	AccruedUnpaid string `json:"accruedUnpaid"`
	Active        bool   `json:"active"`
}

func newPositionView(pos *staking.Position) positionView {
	return positionView{
		AssetID:       pos.AssetID,
		Collection:    pos.Collection,
		Owner:         pos.Owner.String(),
		StakedAt:      pos.StakedAt,
		AccruedUnpaid: pos.AccruedUnpaid.Dec(),
		Active:        pos.Active,
	}
}

type settlementView struct {
	Position positionView `json:"position"`
	Reward   string       `json:"reward"`
	// Dust is the truncated remainder in units of 1e-18.
	Dust string `json:"dust"`
}

type claimView struct {
	AssetID string `json:"assetId"`
	Owner   string `json:"owner"`
	Amount  string `json:"amount"`
	Pool    string `json:"pool"`
	At      uint64 `json:"at"`
	Purged  bool   `json:"purged"`
}

type rateView struct {
	EffectiveFrom uint64 `json:"effectiveFrom"`
	Rate          string `json:"rate"`
	RateScaled    string `json:"rateScaled"`
}

type setRateRequest struct {
	Rate          string  `json:"rate"`
	RatePerDay    string  `json:"ratePerDay"`
	EffectiveFrom *uint64 `json:"effectiveFrom"`
}

type fundRequest struct {
	Amount string `json:"amount"`
}

func (h *handlers) caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated", "caller unknown")
	}
	return caller, ok
}

func (h *handlers) stake(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	pos, err := h.engine.Stake(r.Context(), chi.URLParam(r, "asset"), caller, h.engine.Now())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPositionView(pos))
}

func (h *handlers) unstake(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	pos, err := h.engine.Unstake(r.Context(), chi.URLParam(r, "asset"), caller, h.engine.Now())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(pos))
}

func (h *handlers) claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	receipt, err := h.engine.Claim(r.Context(), chi.URLParam(r, "asset"), caller, h.engine.Now())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimView{
		AssetID: receipt.AssetID,
		Owner:   receipt.Owner.String(),
		Amount:  receipt.Amount.Dec(),
		Pool:    receipt.Pool.Dec(),
		At:      receipt.At,
		Purged:  receipt.Purged,
	})
}

func (h *handlers) checkpoint(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	settlement, err := h.engine.Checkpoint(r.Context(), chi.URLParam(r, "asset"), caller, h.engine.Now())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(settlement))
}

func (h *handlers) setRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req setRateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rate, err := parseRateRequest(req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, staking.ErrorCode(err), err.Error())
		return
	}
	now := h.engine.Now()
	effectiveFrom := now
	if req.EffectiveFrom != nil {
		effectiveFrom = *req.EffectiveFrom
	}
	epoch, err := h.engine.SetRate(r.Context(), caller, rate, effectiveFrom, now)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRateView(epoch))
}

func parseRateRequest(req setRateRequest) (*uint256.Int, error) {
	switch {
	case req.Rate != "" && req.RatePerDay != "":
		return nil, errors.Join(staking.ErrInvalidAmount, errors.New("set either rate or ratePerDay"))
	case req.RatePerDay != "":
		perDay, err := staking.ParseRate(req.RatePerDay)
		if err != nil {
			return nil, err
		}
		return staking.PerDayToPerSecond(perDay), nil
	default:
		return staking.ParseRate(req.Rate)
	}
}

func (h *handlers) fundPool(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req fundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_amount", "amount must be a decimal integer")
		return
	}
	balance, err := h.engine.FundPool(r.Context(), caller, amount)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.Dec()})
}

func (h *handlers) getPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.engine.Position(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(pos))
}

func (h *handlers) getPending(w http.ResponseWriter, r *http.Request) {
	at := h.engine.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_timestamp", "at must be an unsigned integer")
			return
		}
		at = parsed
	}
	settlement, err := h.engine.Pending(r.Context(), chi.URLParam(r, "asset"), at)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(settlement))
}

func (h *handlers) listOwnerPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := crypto.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	positions, err := h.engine.PositionsByOwner(r.Context(), owner)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	out := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		out = append(out, newPositionView(pos))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) listRates(w http.ResponseWriter, r *http.Request) {
	epochs, err := h.engine.RateEpochs(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	out := make([]rateView, 0, len(epochs))
	for _, epoch := range epochs {
		out = append(out, newRateView(epoch))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getPool(w http.ResponseWriter, r *http.Request) {
	balance, err := h.engine.PoolBalance(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": h.engine.PoolAccount().String(),
		"balance": balance.Dec(),
	})
}

func (h *handlers) getTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.engine.Totals(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activePositions": totals.ActivePositions,
		"totalFunded":     totals.TotalFunded.Dec(),
		"totalPaid":       totals.TotalPaid.Dec(),
	})
}

func (h *handlers) getContract(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    staking.ContractName,
		"version": staking.ContractVersion,
	})
}

// receiptFilter scopes listings to the caller unless the caller is an admin.
func (h *handlers) receiptFilter(w http.ResponseWriter, r *http.Request) (receipts.Filter, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return receipts.Filter{}, false
	}
	q := r.URL.Query()
	filter := receipts.Filter{Kind: q.Get("kind"), AssetID: q.Get("asset"), Account: q.Get("account")}
	admin := h.auth != nil && h.auth.IsAuthorized(r.Context(), caller)
	if filter.Account == "" && !admin {
		filter.Account = caller.String()
	}
	if filter.Account != "" && filter.Account != caller.String() && !admin {
		middleware.WriteError(w, http.StatusForbidden, "unauthorized", "receipts of other accounts require admin")
		return receipts.Filter{}, false
	}
	for key, dst := range map[string]*uint64{"from": &filter.FromTime, "to": &filter.ToTime} {
		if raw := q.Get(key); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "invalid_timestamp", key+" must be an unsigned integer")
				return receipts.Filter{}, false
			}
			*dst = parsed
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return receipts.Filter{}, false
		}
		filter.Limit = limit
	}
	return filter, true
}

func (h *handlers) listReceipts(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.receiptFilter(w, r)
	if !ok {
		return
	}
	rows, err := h.journal.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("gateway: list receipts", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "receipt journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) exportReceipts(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.receiptFilter(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = exports.FormatCSV
	}
	rows, err := h.journal.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("gateway: export receipts", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "receipt journal unavailable")
		return
	}
	data, checksum, err := exports.Receipts(format, rows)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_format", err.Error())
		return
	}
	w.Header().Set("Content-Type", exports.ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename=receipts."+format)
	w.Header().Set("X-Checksum-Blake3", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func newSettlementView(s *staking.Settlement) settlementView {
	return settlementView{Position: newPositionView(s.Position), Reward: s.Reward.Dec(), Dust: s.Dust.Dec()}
}

func newRateView(epoch staking.RateEpoch) rateView {
	return rateView{EffectiveFrom: epoch.EffectiveFrom, Rate: staking.FormatRate(epoch.Rate), RateScaled: epoch.Rate.Dec()}
}

// statusFor maps engine error codes onto HTTP statuses.
var statusFor = map[string]int{
	"not_owner":              http.StatusForbidden,
	"unauthorized":           http.StatusForbidden,
	"already_staked":         http.StatusConflict,
	"reentrant_call":         http.StatusConflict,
	"insufficient_pool":      http.StatusConflict,
	"not_found":              http.StatusNotFound,
	"invalid_effective_time": http.StatusBadRequest,
	"invalid_timestamp":      http.StatusBadRequest,
	"invalid_amount":         http.StatusBadRequest,
	"invalid_asset":          http.StatusBadRequest,
	"arithmetic_overflow":    http.StatusUnprocessableEntity,
	"external_call_failed":   http.StatusBadGateway,
	"paused":                 http.StatusServiceUnavailable,
}

func (h *handlers) writeEngineError(w http.ResponseWriter, err error) {
	code := staking.ErrorCode(err)
	status, ok := statusFor[code]
	if !ok {
		h.logger.Error("gateway: staking operation failed", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	middleware.WriteError(w, status, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
