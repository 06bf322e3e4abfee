package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seeded replays a short batch into a memory store: client 1 disputes and
// charges back a withdrawal, client 2 only deposits.
func seeded(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	eng := ledger.NewEngine(ledger.NewSession(st, ledger.WithRunID("run-api"), ledger.WithClock(func() time.Time { return clock })))

	ctx := context.Background()
	for _, ev := range []ledger.TransactionEvent{
		{Kind: ledger.KindDeposit, ClientID: 1, EventID: 1, Amount: dec("100")},
		{Kind: ledger.KindWithdrawal, ClientID: 1, EventID: 2, Amount: dec("50.5")},
		{Kind: ledger.KindDispute, ClientID: 1, EventID: 2},
		{Kind: ledger.KindChargeback, ClientID: 1, EventID: 2},
		{Kind: ledger.KindDeposit, ClientID: 2, EventID: 3, Amount: dec("7.25")},
	} {
		eng.Apply(ctx, ev)
	}
	require.NoError(t, st.RecordRun(ctx, ledger.RunSummary{ID: "run-api", StartedAt: clock, FinishedAt: clock, Stats: eng.Stats()}))
	return st
}

func serve(t *testing.T, h *api.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := api.NewRouter(h, []string{"http://localhost:5173"})
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListAccounts(t *testing.T) {
	rec := serve(t, api.NewHandler(seeded(t), nil), "/api/accounts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	accts := decode[[]api.AccountDTO](t, rec)
	require.Len(t, accts, 2)
	assert.Equal(t, api.AccountDTO{Client: 1, Available: "100.0000", Held: "0.0000", Total: "100.0000", Locked: true}, accts[0])
	assert.Equal(t, api.AccountDTO{Client: 2, Available: "7.2500", Held: "0.0000", Total: "7.2500"}, accts[1])
}

func TestListAccounts_EmptyLedgerIsEmptyArray(t *testing.T) {
	rec := serve(t, api.NewHandler(store.NewMemory(), nil), "/api/accounts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetAccount(t *testing.T) {
	h := api.NewHandler(seeded(t), nil)

	rec := serve(t, h, "/api/accounts/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7.2500", decode[api.AccountDTO](t, rec).Total)

	rec = serve(t, h, "/api/accounts/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Account not found", decode[api.ErrorResponse](t, rec).Error)

	for _, bad := range []string{"abc", "-1", "65536"} {
		rec = serve(t, h, "/api/accounts/"+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestListDisputes(t *testing.T) {
	h := api.NewHandler(seeded(t), nil)

	rec := serve(t, h, "/api/accounts/1/disputes")
	require.Equal(t, http.StatusOK, rec.Code)
	disputes := decode[[]api.DisputeDTO](t, rec)
	require.Len(t, disputes, 1)
	assert.Equal(t, api.DisputeDTO{ClientID: 1, EventID: 2, Amount: "50.5", Status: string(ledger.StatusChargedBack)}, disputes[0])

	rec = serve(t, h, "/api/accounts/2/disputes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = serve(t, h, "/api/accounts/3/disputes")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEvents(t *testing.T) {
	rec := serve(t, api.NewHandler(seeded(t), nil), "/api/accounts/1/events")
	require.Equal(t, http.StatusOK, rec.Code)

	events := decode[[]api.EventDTO](t, rec)
	require.Len(t, events, 2, "only deposits and withdrawals are logged")
	assert.Equal(t, api.EventDTO{EventID: 1, ClientID: 1, Kind: "deposit", Amount: "100"}, events[0])
	assert.Equal(t, api.EventDTO{EventID: 2, ClientID: 1, Kind: "withdrawal", Amount: "50.5"}, events[1])
}

func TestListRuns(t *testing.T) {
	rec := serve(t, api.NewHandler(seeded(t), nil), "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	runs := decode[[]api.RunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-api", runs[0].ID)
	assert.Equal(t, 5, runs[0].Read)
	assert.Equal(t, 5, runs[0].Applied)
}

func TestHealth(t *testing.T) {
	rec := serve(t, api.NewHandler(store.NewMemory(), nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_IsReadOnly(t *testing.T) {
	router := api.NewRouter(api.NewHandler(store.NewMemory(), nil), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	router := api.NewRouter(api.NewHandler(store.NewMemory(), nil), []string{"http://localhost:5173"})
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

// brokenStore fails every read.
type brokenStore struct{ *store.Memory }

func (brokenStore) ListAccounts(context.Context) ([]ledger.Account, error) {
	return nil, errors.New("database is locked")
}

func TestListAccounts_StoreFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := serve(t, api.NewHandler(brokenStore{store.NewMemory()}, zap.New(core)), "/api/accounts")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "Failed to list accounts", resp.Error)
	assert.Equal(t, "database is locked", resp.Details)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "/api/accounts", logs.All()[0].ContextMap()["path"])
}
