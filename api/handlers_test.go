/*
handlers_test.go - HTTP-level tests through the full router

Covers the status mapping contract: idempotent replays look like the
original success, conflicts are 409, lock timeouts are 503.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/api"
	"github.com/meridian/loyalty-engine/expiry"
	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/ledger/store"
	"github.com/meridian/loyalty-engine/points"
	"github.com/meridian/loyalty-engine/referral"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day0 = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	dir    *referral.Directory
	clock  *time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mem := store.NewMemory()
	refStore := referral.NewMemoryStore()
	locks := ledger.NewLocks(time.Second)
	l := ledger.New(mem)

	clock := day0
	now := func() time.Time { return clock }

	dir := referral.NewDirectory(refStore, referral.DirectoryConfig{
		CodeValidityDays: 365,
		BaseURL:          "https://example.com",
	}, zerolog.Nop()).WithClock(now)
	commissions := referral.NewCommissions(refStore, dir, decimal.NewFromFloat(0.08), zerolog.Nop()).WithClock(now)
	engine := points.NewEngine(l, locks, dir, points.Config{
		ExpiryDays:   365,
		ReminderDays: 30,
	}, zerolog.Nop()).WithClock(now)
	scanner := expiry.NewScanner(l, locks, expiry.LogNotifier{Log: zerolog.Nop()}, zerolog.Nop()).WithClock(now)

	handler := api.NewHandler(engine, dir, commissions, refStore, scanner, zerolog.Nop())
	return &testServer{router: api.NewRouter(handler), dir: dir, clock: &clock}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// registerActive sets up an active referee-1 -> referrer-1 relationship.
func (ts *testServer) registerActive(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	code, err := ts.dir.IssueCode(ctx, "referrer-1")
	require.NoError(t, err)
	_, err = ts.dir.Register(ctx, "referrer-1", "referee-1", code.Value)
	require.NoError(t, err)
	require.NoError(t, ts.dir.Activate(ctx, "referee-1"))
}

// =============================================================================
// POINTS ENDPOINTS
// =============================================================================

func TestAPI_Purchase(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/points/purchase", map[string]any{
		"user_id": "user-1", "order_id": "order-1", "amount": 9.9,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "purchase", body["kind"])
	assert.Equal(t, "9.9", body["amount"])
	assert.Equal(t, "9.9", body["balance_after"])
}

func TestAPI_Purchase_ReplayReturnsSameEntry(t *testing.T) {
	ts := newTestServer(t)
	payload := map[string]any{"user_id": "user-1", "order_id": "order-1", "amount": 10}

	first := ts.do(t, http.MethodPost, "/api/points/purchase", payload)
	require.Equal(t, http.StatusOK, first.Code)

	replay := ts.do(t, http.MethodPost, "/api/points/purchase", payload)
	require.Equal(t, http.StatusOK, replay.Code, "replay is indistinguishable from success")
	assert.Equal(t, decodeBody(t, first)["id"], decodeBody(t, replay)["id"])
}

func TestAPI_Purchase_ValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/points/purchase", map[string]any{
		"user_id": "user-1", "order_id": "order-1", "amount": -5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Redeem_InsufficientBalanceIs409(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/points/purchase", map[string]any{
		"user_id": "user-1", "order_id": "order-1", "amount": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/points/redeem", map[string]any{
		"user_id": "user-1", "item_id": "item-1", "points": 8,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "insufficient balance")
}

func TestAPI_Refund_UnknownOrderIs404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/points/refund", map[string]any{
		"user_id": "user-1", "order_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ReferralReward_WithoutRelationshipIs409(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/points/referral-reward", map[string]any{
		"referrer_id": "referrer-1", "referee_id": "referee-1",
		"order_id": "order-1", "reward": 8,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_BalanceAndEntries(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/points/purchase", map[string]any{
		"user_id": "user-1", "order_id": "order-1", "amount": 10,
	}).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/points/redeem", map[string]any{
		"user_id": "user-1", "item_id": "item-1", "points": 4,
	}).Code)

	rec := ts.do(t, http.MethodGet, "/api/users/user-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "10", body["earned"])
	assert.Equal(t, "4", body["used"])
	assert.Equal(t, "6", body["available"])
	assert.Equal(t, "0", body["expired"])

	rec = ts.do(t, http.MethodGet, "/api/users/user-1/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)
}

func TestAPI_Expiring(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/points/purchase", map[string]any{
		"user_id": "user-1", "order_id": "order-1", "amount": 10,
	}).Code)

	*ts.clock = day0.AddDate(0, 0, 340)
	rec := ts.do(t, http.MethodGet, "/api/users/user-1/expiring?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var expiring []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &expiring))
	require.Len(t, expiring, 1)
	assert.Equal(t, "10", expiring[0]["remaining"])

	rec = ts.do(t, http.MethodGet, "/api/users/user-1/expiring?days=oops", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REFERRAL ENDPOINTS
// =============================================================================

func TestAPI_ReferralFlow(t *testing.T) {
	// Issue -> resolve -> register -> activate -> reward, over HTTP.
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/referrals/codes", map[string]any{
		"referrer_id": "referrer-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	code := decodeBody(t, rec)["code"].(string)

	rec = ts.do(t, http.MethodGet, "/api/referrals/resolve/"+code, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "referrer-1", decodeBody(t, rec)["referrer_id"])

	rec = ts.do(t, http.MethodPost, "/api/referrals/register", map[string]any{
		"referrer_id": "referrer-1", "referee_id": "referee-1", "code": code,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["is_active"])

	rec = ts.do(t, http.MethodPost, "/api/referrals/activate", map[string]any{
		"referee_id": "referee-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/points/referral-reward", map[string]any{
		"referrer_id": "referrer-1", "referee_id": "referee-1",
		"order_id": "order-1", "reward": 8,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "referral_reward", decodeBody(t, rec)["kind"])
}

func TestAPI_Register_DuplicateRefereeIs409(t *testing.T) {
	ts := newTestServer(t)
	ts.registerActive(t)

	code, err := ts.dir.IssueCode(context.Background(), "referrer-2")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/referrals/register", map[string]any{
		"referrer_id": "referrer-2", "referee_id": "referee-1", "code": code.Value,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_Resolve_UnknownCodeIs404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/referrals/resolve/REF00000000XXXX", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CommissionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.registerActive(t)

	rec := ts.do(t, http.MethodPost, "/api/referrals/commissions", map[string]any{
		"referee_id": "referee-1", "order_id": "order-1", "order_amount": 100,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "8", body["amount"])

	rec = ts.do(t, http.MethodPost, "/api/referrals/settle", map[string]any{
		"year": 2026, "month": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["settled"])

	// Settled commissions cannot be cancelled
	rec = ts.do(t, http.MethodPost, "/api/referrals/commissions/cancel", map[string]any{
		"referee_id": "referee-1", "order_id": "order-1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_StatsAndLinks(t *testing.T) {
	ts := newTestServer(t)
	ts.registerActive(t)

	rec := ts.do(t, http.MethodGet, "/api/users/referrer-1/referrals/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_referrals"])
	assert.Equal(t, float64(1), body["active_referrals"])

	rec = ts.do(t, http.MethodGet, "/api/users/referrer-1/referrals/links", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var links []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &links))
	require.Len(t, links, 1)
	assert.Contains(t, links[0]["referral_url"], "https://example.com/register?ref=")
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Sweep(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/points/purchase", map[string]any{
		"user_id": "user-1", "order_id": "order-1", "amount": 10,
	}).Code)

	*ts.clock = day0.AddDate(0, 0, 366)
	rec := ts.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["users_scanned"])
	assert.Equal(t, float64(1), body["users_expired"])
	assert.Equal(t, "10", body["points_expired"])

	rec = ts.do(t, http.MethodGet, "/api/users/user-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody(t, rec)
	assert.Equal(t, "0", balance["available"])
	assert.Equal(t, "10", balance["expired"])
}

func TestAPI_Health(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
