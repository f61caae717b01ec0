package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/api/job"
	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/trading"
)

type fakeEngine struct {
	mu        sync.Mutex
	positions []portfolio.Position
	closed    []trading.Trade
	open      []trading.Trade
	stopErr   error
	reasons   []string
}

func (f *fakeEngine) GetActivePositions() []portfolio.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]portfolio.Position(nil), f.positions...)
}

func (f *fakeEngine) Trades() []trading.Trade     { return f.closed }
func (f *fakeEngine) OpenTrades() []trading.Trade { return f.open }

func (f *fakeEngine) Daily() trading.DailyCounters {
	return trading.DailyCounters{Date: "2024-03-01", Trades: 2}
}

func (f *fakeEngine) GeneratePerformanceReport() trading.PerformanceReport {
	return trading.PerformanceReport{Equity: 10500}
}

func (f *fakeEngine) GenerateRiskReport() risk.Report {
	return risk.Report{ConsecutiveLosses: 1}
}

func (f *fakeEngine) EmergencyStop(ctx context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.positions = nil
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestTradingHandler_Reads(t *testing.T) {
	h := NewTradingHandler(&fakeEngine{positions: []portfolio.Position{{Symbol: "BTCUSDT", Quantity: 1}}}, nil)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"positions", h.Positions, `"BTCUSDT"`},
		{"daily", h.Daily, `"2024-03-01"`},
		{"performance", h.Performance, `10500`},
		{"risk", h.Risk, `"consecutive_losses":1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestTradingHandler_Trades(t *testing.T) {
	h := NewTradingHandler(&fakeEngine{
		closed: []trading.Trade{{ID: "t1", Status: trading.TradeClosed}},
		open:   []trading.Trade{{ID: "t2", Status: trading.TradeOpen}},
	}, nil)

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantIDs  []string
	}{
		{"all", "", http.StatusOK, []string{"t1", "t2"}},
		{"open", "?status=open", http.StatusOK, []string{"t2"}},
		{"closed", "?status=closed", http.StatusOK, []string{"t1"}},
		{"unknown", "?status=pending", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Trades(w, httptest.NewRequest(http.MethodGet, "/api/v1/trades"+tt.query, nil))
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantIDs == nil {
				return
			}
			var got struct {
				Data []trading.Trade `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			ids := make([]string, len(got.Data))
			for i, tr := range got.Data {
				ids[i] = tr.ID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestTradingHandler_EmergencyStop(t *testing.T) {
	engine := &fakeEngine{positions: []portfolio.Position{{Symbol: "ETHUSDT", Quantity: 2}}}
	h := NewTradingHandler(engine, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"manual"}`))
	h.EmergencyStop(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"manual"}, engine.reasons)
	assert.Empty(t, engine.GetActivePositions())
}

func TestTradingHandler_EmergencyStopDefaults(t *testing.T) {
	engine := &fakeEngine{}
	h := NewTradingHandler(engine, nil)

	w := httptest.NewRecorder()
	h.EmergencyStop(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"api request"}, engine.reasons)
}

func TestTradingHandler_EmergencyStopFailure(t *testing.T) {
	engine := &fakeEngine{
		positions: []portfolio.Position{{Symbol: "ETHUSDT", Quantity: 2}},
		stopErr:   errors.New("close ETHUSDT: exchange down"),
	}
	h := NewTradingHandler(engine, nil)

	w := httptest.NewRecorder()
	h.EmergencyStop(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "exchange down")
	assert.Contains(t, body, "ETHUSDT")
}

func TestTradingHandler_EmergencyStopBadBody(t *testing.T) {
	engine := &fakeEngine{}
	h := NewTradingHandler(engine, nil)

	w := httptest.NewRecorder()
	h.EmergencyStop(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"why":"x"}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, engine.reasons)
}

type fakeRunner struct {
	err   error
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, cfg backtest.Config) (*backtest.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &backtest.Result{Config: cfg, Candles: 120, FinalBalance: 10250}, nil
}

type fakeSaver struct {
	keys []string
}

func (f *fakeSaver) Save(ctx context.Context, res *backtest.Result) (string, error) {
	key := "backtests/" + res.Config.Symbol + ".json"
	f.keys = append(f.keys, key)
	return key, nil
}

func planner(symbol, name string, start, end time.Time) (backtest.Config, error) {
	cfg := backtest.DefaultConfig(symbol)
	if name != "" {
		def, ok := strategy.Preset(name)
		if !ok {
			return backtest.Config{}, core.WrapError(core.ErrStrategyNotFound, errors.New(name))
		}
		cfg.Strategy = def
	}
	cfg.Start, cfg.End = start, end
	return cfg, nil
}

func createJob(t *testing.T, h *BacktestHandler, body string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/v1/backtests", strings.NewReader(body)))
	if w.Code != http.StatusAccepted {
		return w, ""
	}
	var data struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	return w, data.JobID
}

func TestBacktestHandler_CreateAndComplete(t *testing.T) {
	jobs := job.NewStore(10, time.Hour)
	saver := &fakeSaver{}
	h := NewBacktestHandler(jobs, &fakeRunner{}, planner, WithSaver(saver))

	_, id := createJob(t, h, `{"symbol":"btcusdt","start":"2024-01-01","end":"2024-01-31","save":true}`)
	require.NotEmpty(t, id)
	h.Wait()

	j, err := jobs.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusComplete, j.Status)
	assert.Equal(t, 100, j.Progress)

	out, ok := j.Result.(BacktestOutcome)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", out.Result.Config.Symbol)
	assert.Equal(t, "backtests/BTCUSDT.json", out.Key)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), out.Result.Config.End)
	assert.Equal(t, []string{"backtests/BTCUSDT.json"}, saver.keys)
}

func TestBacktestHandler_RunFailure(t *testing.T) {
	jobs := job.NewStore(10, time.Hour)
	h := NewBacktestHandler(jobs, &fakeRunner{err: core.WrapError(core.ErrInsufficientData, errors.New("12 candles"))}, planner)

	_, id := createJob(t, h, `{"symbol":"ETHUSDT"}`)
	require.NotEmpty(t, id)
	h.Wait()

	j, err := jobs.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, core.ErrInsufficientData.Code, j.Error.Code)
}

func TestBacktestHandler_CreateRejects(t *testing.T) {
	h := NewBacktestHandler(job.NewStore(10, time.Hour), &fakeRunner{}, planner)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing symbol", `{}`, http.StatusBadRequest},
		{"bad date", `{"symbol":"BTCUSDT","start":"01/02/2024"}`, http.StatusBadRequest},
		{"end before start", `{"symbol":"BTCUSDT","start":"2024-02-01","end":"2024-01-01"}`, http.StatusBadRequest},
		{"unknown strategy", `{"symbol":"BTCUSDT","strategy":"moonshot"}`, http.StatusNotFound},
		{"save without storage", `{"symbol":"BTCUSDT","save":true}`, http.StatusBadRequest},
		{"unknown field", `{"symbol":"BTCUSDT","leverage":10}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, id := createJob(t, h, tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Empty(t, id)
		})
	}
	assert.Empty(t, h.jobs.List())
}

func TestBacktestHandler_GetAndList(t *testing.T) {
	jobs := job.NewStore(10, time.Hour)
	runner := &fakeRunner{block: make(chan struct{})}
	h := NewBacktestHandler(jobs, runner, planner)

	_, id := createJob(t, h, `{"symbol":"SOLUSDT"}`)
	require.NotEmpty(t, id)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}", h.Get)
	mux.HandleFunc("GET /jobs", h.List)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, core.ErrJobNotFound.Code, decode(t, w).Error.Code)

	close(runner.block)
	h.Wait()

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"complete"`)
	assert.NotContains(t, body, "final_balance")
}

func TestStrategies(t *testing.T) {
	w := httptest.NewRecorder()
	Strategies(strategy.NewDefaultRegistry())(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balanced"`)
}
