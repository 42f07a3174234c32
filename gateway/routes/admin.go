package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"rwastaking/crypto"
	"rwastaking/gateway/middleware"
	"rwastaking/native/bank"
	"rwastaking/native/nft"
	"rwastaking/native/staking"
)

type assetView struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Owner      string `json:"owner"`
	URI        string `json:"uri,omitempty"`
	Locked     bool   `json:"locked"`
}

func newAssetView(asset *nft.Asset) assetView {
	return assetView{
		ID:         asset.ID,
		Collection: asset.Collection,
		Owner:      asset.Owner.String(),
		URI:        asset.URI,
		Locked:     asset.Locked,
	}
}

type mintAssetRequest struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Owner      string `json:"owner"`
	URI        string `json:"uri"`
}

type mintTokensRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

// admin resolves the caller and rejects non-admins.
func (h *handlers) admin(w http.ResponseWriter, r *http.Request) bool {
	caller, ok := h.caller(w, r)
	if !ok {
		return false
	}
	if h.auth == nil || !h.auth.IsAuthorized(r.Context(), caller) {
		middleware.WriteError(w, http.StatusForbidden, "unauthorized", "admin role required")
		return false
	}
	return true
}

func (h *handlers) mintAsset(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	var req mintAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := crypto.ParseAddress(req.Owner)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	asset, err := h.registry.Mint(r.Context(), req.Collection, req.ID, owner, req.URI)
	switch {
	case errors.Is(err, nft.ErrAssetExists):
		middleware.WriteError(w, http.StatusConflict, "asset_exists", err.Error())
		return
	case err != nil:
		middleware.WriteError(w, http.StatusBadRequest, "invalid_asset", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newAssetView(asset))
}

func (h *handlers) getAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.registry.Asset(r.Context(), chi.URLParam(r, "asset"))
	if errors.Is(err, nft.ErrUnknownAsset) {
		middleware.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("gateway: load asset", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "asset registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, newAssetView(asset))
}

func (h *handlers) mintTokens(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	var req mintTokensRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := crypto.ParseAddress(req.Account)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_amount", "amount must be a decimal integer")
		return
	}
	if err := h.tokens.Mint(r.Context(), account, amount); err != nil {
		if errors.Is(err, bank.ErrInvalidAmount) {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_amount", err.Error())
			return
		}
		h.logger.Error("gateway: mint tokens", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "token ledger unavailable")
		return
	}
	h.writeBalance(w, account)
}

func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	h.writeBalance(w, account)
}

func (h *handlers) writeBalance(w http.ResponseWriter, account crypto.Address) {
	balance, err := h.tokens.Balance(account)
	if err != nil {
		h.logger.Error("gateway: load balance", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "token ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.String(),
		"denom":   h.tokens.Denom(),
		"balance": balance.Dec(),
	})
}

func (h *handlers) setPaused(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.pauses.Set(staking.ModuleName, req.Paused)
	h.logger.Warn("gateway: staking pause toggled", "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": h.pauses.IsPaused(staking.ModuleName)})
}
