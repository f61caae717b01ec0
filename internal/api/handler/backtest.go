package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/api/job"
	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/core"
)

const defaultBacktestTimeout = 5 * time.Minute

// Runner runs one simulation. *backtest.Backtester implements it.
type Runner interface {
	Run(ctx context.Context, cfg backtest.Config) (*backtest.Result, error)
}

// Planner builds the simulation config for a request. An empty strategy
// means the symbol's assigned strategy.
type Planner func(symbol, strategy string, start, end time.Time) (backtest.Config, error)

// Saver persists a finished result and returns its key.
type Saver interface {
	Save(ctx context.Context, res *backtest.Result) (string, error)
}

// BacktestRequest is the request body for starting a backtest.
type BacktestRequest struct {
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy,omitempty"`
	Start    string `json:"start,omitempty"` // YYYY-MM-DD
	End      string `json:"end,omitempty"`
	Save     bool   `json:"save,omitempty"`
}

// BacktestOutcome is the result attached to a completed job.
type BacktestOutcome struct {
	Key    string           `json:"key,omitempty"`
	Result *backtest.Result `json:"result"`
}

// BacktestHandler runs backtests as background jobs.
type BacktestHandler struct {
	jobs    *job.Store
	runner  Runner
	plan    Planner
	saver   Saver
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// BacktestOption configures a BacktestHandler.
type BacktestOption func(*BacktestHandler)

// WithSaver enables "save": true requests.
func WithSaver(s Saver) BacktestOption {
	return func(h *BacktestHandler) { h.saver = s }
}

// WithTimeout bounds each job.
func WithTimeout(d time.Duration) BacktestOption {
	return func(h *BacktestHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BacktestOption {
	return func(h *BacktestHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewBacktestHandler creates a new backtest handler.
func NewBacktestHandler(jobs *job.Store, runner Runner, plan Planner, opts ...BacktestOption) *BacktestHandler {
	h := &BacktestHandler{
		jobs:    jobs,
		runner:  runner,
		plan:    plan,
		timeout: defaultBacktestTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Create starts a new backtest job.
func (h *BacktestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		response.Fail(w, core.WrapError(core.ErrConfigMissing, errors.New("symbol is required")))
		return
	}
	if req.Save && h.saver == nil {
		response.Fail(w, core.WrapError(core.ErrConfigMissing, errors.New("result storage is not configured")))
		return
	}

	start, err := parseDate(req.Start, false)
	if err != nil {
		response.Fail(w, err)
		return
	}
	end, err := parseDate(req.End, true)
	if err != nil {
		response.Fail(w, err)
		return
	}

	cfg, err := h.plan(req.Symbol, req.Strategy, start, end)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		response.Fail(w, err)
		return
	}

	j := h.jobs.Create("backtest")
	h.wg.Add(1)
	go h.run(j.ID, cfg, req.Save)

	h.logger.Info("backtest job created",
		zap.String("job_id", j.ID),
		zap.String("symbol", cfg.Symbol),
		zap.String("strategy", cfg.Strategy.Name),
	)
	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, core.WrapError(core.ErrConfigInvalid, err)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// run executes the backtest and updates job status.
func (h *BacktestHandler) run(jobID string, cfg backtest.Config, save bool) {
	defer h.wg.Done()

	h.jobs.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusRunning
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.runner.Run(ctx, cfg)
	var out BacktestOutcome
	if err == nil {
		out.Result = res
		if save {
			out.Key, err = h.saver.Save(ctx, res)
		}
	}

	if err != nil {
		h.logger.Warn("backtest job failed", zap.String("job_id", jobID), zap.Error(err))
		h.jobs.Update(jobID, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Error = asCoreError(err)
		})
		return
	}

	h.jobs.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Progress = 100
		j.Result = out
	})
}

func asCoreError(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return &core.Error{Code: "BACKTEST_FAILED", Message: err.Error()}
}

// Get returns one job.
func (h *BacktestHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, j)
}

// List returns all jobs without their results.
func (h *BacktestHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.List()
	for i := range jobs {
		jobs[i].Result = nil
	}
	response.JSON(w, http.StatusOK, jobs)
}

// Wait blocks until every started job has finished.
func (h *BacktestHandler) Wait() {
	h.wg.Wait()
}
