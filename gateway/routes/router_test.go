package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rwastaking/core/state"
	"rwastaking/crypto"
	"rwastaking/gateway/middleware"
	"rwastaking/native/bank"
	"rwastaking/native/common"
	"rwastaking/native/nft"
	"rwastaking/native/staking"
	"rwastaking/services/receipts"
	"rwastaking/storage"
)

var routeSecret = []byte(strings.Repeat("r", 32))

type apiHarness struct {
	server *httptest.Server
	clock  atomic.Uint64
	admin  crypto.Address
	alice  crypto.Address
	bob    crypto.Address
	tokens *bank.Ledger
	pauses *common.Pauses
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	db := storage.NewMemDB()
	store, err := state.NewStakingStore(db)
	require.NoError(t, err)
	registry := nft.NewRegistry(db)
	tokens := bank.NewLedger(db, bank.DefaultDenom)

	h := &apiHarness{
		admin:  crypto.ModuleAddress("test/admin"),
		alice:  crypto.ModuleAddress("test/alice"),
		bob:    crypto.ModuleAddress("test/bob"),
		tokens: tokens,
		pauses: common.NewPauses(),
	}
	ctx := context.Background()
	_, err = registry.Mint(ctx, "gold", "bar-1", h.alice, "")
	require.NoError(t, err)
	require.NoError(t, tokens.Mint(ctx, h.admin, uint256.NewInt(1_000)))

	journalDB, err := receipts.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	journal := receipts.NewJournal(journalDB, nil)

	admins := common.NewAdminSet(h.admin)
	engine := staking.NewEngine()
	engine.SetState(store)
	engine.SetRegistry(registry)
	engine.SetTokenTransfer(tokens)
	engine.SetAuthorizer(admins)
	engine.SetPauses(h.pauses)
	engine.SetEmitter(journal)
	engine.SetNowFunc(h.clock.Load)

	handler := New(Config{
		Engine:        engine,
		Journal:       journal,
		Registry:      registry,
		Tokens:        tokens,
		Pauses:        h.pauses,
		Authorizer:    admins,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: string(routeSecret)}, nil),
	})
	h.server = httptest.NewServer(handler)
	t.Cleanup(h.server.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, as *crypto.Address, body string) (int, map[string]any) {
	t.Helper()
	status, raw := h.doRaw(t, method, path, as, body)
	out := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		require.NoError(t, json.Unmarshal([]byte(raw), &out))
	}
	return status, out
}

func (h *apiHarness) doRaw(t *testing.T, method, path string, as *crypto.Address, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if as != nil {
		token, err := middleware.IssueToken(routeSecret, "", "", *as, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(raw)
}

func TestStakeAccrueClaimOverHTTP(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.do(t, http.MethodPost, "/v1/admin/rates", &h.admin, `{"rate":"2"}`)
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "2", body["rate"])

	status, body = h.do(t, http.MethodPost, "/v1/admin/pool/fund", &h.admin, `{"amount":"100"}`)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "100", body["balance"])

	status, body = h.do(t, http.MethodPost, "/v1/positions/bar-1/stake", &h.alice, "")
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "gold", body["collection"])

	h.clock.Store(10)
	status, body = h.do(t, http.MethodGet, "/v1/positions/bar-1/pending", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "20", body["reward"])

	status, body = h.do(t, http.MethodPost, "/v1/positions/bar-1/claim", &h.bob, "")
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "not_owner", body["code"])

	status, body = h.do(t, http.MethodPost, "/v1/positions/bar-1/claim", &h.alice, "")
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "20", body["amount"])
	require.Equal(t, "80", body["pool"])

	balance, err := h.tokens.Balance(h.alice)
	require.NoError(t, err)
	require.Equal(t, uint64(20), balance.Uint64())

	status, body = h.do(t, http.MethodGet, "/v1/totals", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "20", body["totalPaid"])

	status, raw := h.doRaw(t, http.MethodGet, "/v1/receipts?kind=claim", &h.alice, "")
	require.Equal(t, http.StatusOK, status)
	var rows []receipts.Receipt
	require.NoError(t, json.Unmarshal([]byte(raw), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "20", rows[0].Amount)

	status, raw = h.doRaw(t, http.MethodGet, "/v1/receipts/export?format=csv", &h.admin, "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, raw, "claim,bar-1")
	require.Contains(t, raw, "fund,")

	status, _ = h.do(t, http.MethodGet, "/v1/receipts?account="+h.bob.String(), &h.alice, "")
	require.Equal(t, http.StatusForbidden, status)
}

func TestAdminAndAuthErrors(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.do(t, http.MethodPost, "/v1/admin/rates", &h.alice, `{"rate":"1"}`)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "unauthorized", body["code"])

	status, _ = h.do(t, http.MethodPost, "/v1/positions/bar-1/stake", nil, "")
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = h.do(t, http.MethodPost, "/v1/admin/rates", &h.admin, `{"rate":"1","ratePerDay":"1"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_amount", body["code"])

	h.clock.Store(50)
	status, body = h.do(t, http.MethodPost, "/v1/admin/rates", &h.admin, `{"ratePerDay":"86400","effectiveFrom":40}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_effective_time", body["code"])

	status, body = h.do(t, http.MethodPost, "/v1/admin/rates", &h.admin, `{"ratePerDay":"86400","effectiveFrom":60}`)
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "1", body["rate"])

	status, body = h.do(t, http.MethodGet, "/v1/positions/missing", nil, "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", body["code"])

	status, _ = h.do(t, http.MethodPost, "/v1/admin/pool/fund", &h.admin, `{"amount":"ten"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = h.do(t, http.MethodPost, "/v1/admin/pool/fund", &h.admin, `{"amount":"5000"}`)
	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, "external_call_failed", body["code"])

	h.pauses.Set(staking.ModuleName, true)
	status, body = h.do(t, http.MethodPost, "/v1/positions/bar-1/stake", &h.alice, "")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "paused", body["code"])

	status, body = h.do(t, http.MethodGet, "/v1/contract", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, staking.ContractName, body["name"])
}

func TestAdminCollaboratorRoutes(t *testing.T) {
	h := newAPIHarness(t)

	body := fmt.Sprintf(`{"id":"deed-7","collection":"land","owner":%q}`, h.bob.String())
	status, out := h.do(t, http.MethodPost, "/v1/admin/assets", &h.bob, body)
	require.Equal(t, http.StatusForbidden, status)

	status, out = h.do(t, http.MethodPost, "/v1/admin/assets", &h.admin, body)
	require.Equal(t, http.StatusCreated, status, out)
	require.Equal(t, "land", out["collection"])

	status, _ = h.do(t, http.MethodPost, "/v1/admin/assets", &h.admin, body)
	require.Equal(t, http.StatusConflict, status)

	status, out = h.do(t, http.MethodPost, "/v1/positions/deed-7/stake", &h.bob, "")
	require.Equal(t, http.StatusCreated, status, out)

	status, out = h.do(t, http.MethodGet, "/v1/assets/deed-7", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, out["locked"])

	status, out = h.do(t, http.MethodPost, "/v1/admin/tokens/mint", &h.admin, fmt.Sprintf(`{"account":%q,"amount":"7"}`, h.bob.String()))
	require.Equal(t, http.StatusOK, status, out)
	require.Equal(t, "7", out["balance"])

	status, out = h.do(t, http.MethodGet, "/v1/accounts/"+h.bob.String()+"/balance", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, bank.DefaultDenom, out["denom"])

	status, out = h.do(t, http.MethodPost, "/v1/admin/pause", &h.admin, `{"paused":true}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, out["paused"])
	require.True(t, h.pauses.IsPaused(staking.ModuleName))

	status, _ = h.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, status)
}
