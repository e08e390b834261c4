package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/pricelab/config"
	"github.com/michaelpento.lv/pricelab/simulator"
	"github.com/michaelpento.lv/pricelab/strategies/manipulation"
	"github.com/michaelpento.lv/pricelab/types"
)

type testServer struct {
	sim    *simulator.Simulator
	server *Server
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	cfg := config.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	if mutate != nil {
		mutate(cfg)
	}
	reg := prometheus.NewRegistry()
	sim, err := simulator.Deploy(context.Background(), cfg, reg)
	require.NoError(t, err)
	return &testServer{sim: sim, server: NewServer(cfg.API, sim, reg, cfg.Logger)}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

func TestState(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, "GET", "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap simulator.Snapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, uint64(2), snap.Height)
	require.Len(t, snap.Pools, 2)
	assert.Equal(t, "666666666666666666", snap.Pools[0].SpotPrice.String())
	assert.Len(t, snap.Attackers, 2)
}

func TestPoolsAndAccounts(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, "GET", "/api/pools/secondary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pool simulator.PoolView
	decodeBody(t, rec, &pool)
	assert.Equal(t, types.Units(200).String(), pool.Reserves.ReserveA.String())

	rec = ts.do(t, "GET", "/api/pools/tertiary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, "GET", "/api/accounts/"+simulator.Attacker.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var acct simulator.AccountView
	decodeBody(t, rec, &acct)
	assert.Equal(t, simulator.Attacker, acct.Address)
	assert.Equal(t, 0, acct.BalanceA.Sign())

	rec = ts.do(t, "GET", "/api/accounts/not-an-address", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttack(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, "POST", "/api/attack", `{"target":"vulnerable","flashAmount":"2000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res AttackResponse
	decodeBody(t, rec, &res)
	require.NotNil(t, res.Result)
	assert.True(t, res.Committed)
	assert.Equal(t, uint64(1), res.RunID)
	assert.Equal(t, types.Units(2499).String(), res.Trace.Leftover.String())

	rec = ts.do(t, "GET", "/api/attack/trace?target=vulnerable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trace manipulation.Trace
	decodeBody(t, rec, &trace)
	assert.Equal(t, types.Units(4500).String(), trace.Borrowed.String())

	rec = ts.do(t, "GET", "/api/attack/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []simulator.Result
	decodeBody(t, rec, &history)
	require.Len(t, history, 1)

	rec = ts.do(t, "GET", "/api/attack/history/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, "GET", "/api/attack/history/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, "GET", "/api/attack/report?target=vulnerable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Can borrow enough?     YES")
}

func TestPlan(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, "GET", "/api/attack/plan?target=vulnerable&flash=2000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res simulator.PlanResult
	decodeBody(t, rec, &res)
	require.NotNil(t, res.Plan)
	assert.True(t, res.Plan.Profitable)
	assert.Equal(t, types.Units(2499).String(), res.Plan.Leftover.String())
	assert.NotNil(t, res.MinProfitableFlash)

	rec = ts.do(t, "GET", "/api/attack/plan?flash=50000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var beyond simulator.PlanResult
	decodeBody(t, rec, &beyond)
	assert.False(t, beyond.Plan.Profitable)
	assert.Equal(t, "flash loan exceeds lender liquidity", beyond.Plan.Reason)

	rec = ts.do(t, "GET", "/api/attack/plan?flash=lots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, "GET", "/api/attack/plan?target=elsewhere", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// planning never touches the state
	rec = ts.do(t, "GET", "/api/attack/history", "")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAttackFailures(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("protected_market", func(t *testing.T) {
		rec := ts.do(t, "POST", "/api/attack", `{"target":"protected"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		var res AttackResponse
		decodeBody(t, rec, &res)
		assert.Equal(t, types.Codespace, res.Codespace)
		assert.Equal(t, uint32(11), res.Code)
		assert.Equal(t, "outlier_threshold_exceeded", res.ErrorKind)
		assert.False(t, res.Committed)
		require.NotNil(t, res.Trace)
		assert.False(t, res.Trace.Succeeded)
	})

	t.Run("unprofitable_dry_run", func(t *testing.T) {
		rec := ts.do(t, "POST", "/api/attack/simulate", `{"flashAmount":"100"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		var res AttackResponse
		decodeBody(t, rec, &res)
		assert.Equal(t, uint32(7), res.Code)
		assert.True(t, res.DryRun)
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown_target", `{"target":"both"}`, http.StatusBadRequest},
		{"bad_amount", `{"flashAmount":"-5"}`, http.StatusBadRequest},
		{"zero_amount", `{"flashAmount":"0"}`, http.StatusBadRequest},
		{"bad_caller", `{"caller":"0x12"}`, http.StatusBadRequest},
		{"unknown_field", `{"amount":"5"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, "POST", "/api/attack", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := ts.do(t, "GET", "/api/attack/history", "")
	var history []simulator.Result
	decodeBody(t, rec, &history)
	assert.Empty(t, history)

	rec = ts.do(t, "GET", "/api/attack/trace", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOracleRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	// the warm-up sample was taken at the current clock time
	rec := ts.do(t, "POST", "/api/twap/update", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body ErrorResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "rate_limited", body.Kind)
	assert.Equal(t, uint32(8), body.Code)

	rec = ts.do(t, "POST", "/api/clock/advance", `{"duration":"1m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var clock ClockResponse
	decodeBody(t, rec, &clock)
	assert.True(t, ts.sim.Config().Genesis.Add(2*time.Minute).Equal(clock.Time), clock.Time)

	rec = ts.do(t, "POST", "/api/twap/update", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var update UpdateResponse
	decodeBody(t, rec, &update)
	assert.Equal(t, 3, update.TWAP.Count)

	rec = ts.do(t, "POST", "/api/twap/emergency", `{"caller":"`+simulator.Attacker.Hex()+`"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, "POST", "/api/twap/emergency", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "GET", "/api/twap", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view simulator.TWAPView
	decodeBody(t, rec, &view)
	assert.Equal(t, 4, view.Count)

	rec = ts.do(t, "GET", "/api/aggregator", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var agg simulator.AggregatorView
	decodeBody(t, rec, &agg)
	assert.Len(t, agg.Oracles, 2)
	require.NotNil(t, agg.Report)
	assert.NotEmpty(t, agg.Report.Error)

	rec = ts.do(t, "POST", "/api/clock/advance", `{"duration":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.API.RateLimit = config.RateLimitConfig{
			RequestsPerSecond: 0.001,
			BurstSize:         1,
			WaitTimeout:       10 * time.Millisecond,
		}
	})

	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/twap", "").Code)
	rec := ts.do(t, "GET", "/api/twap", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body ErrorResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "rate_limit_exceeded", body.Kind)

	// metrics are not rate limited
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/metrics", "").Code)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/attack", `{}`).Code)

	rec := ts.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pricelab_attack_successes_total{target="vulnerable"} 1`)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/attack", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/twap", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
