package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/backtest"
)

const (
	resultsRoot   = "backtests"
	keyTimeLayout = "20060102T1504Z"
)

// ResultStore saves backtest results as JSON under
// backtests/<symbol>/<strategy>/<start>_<end>.json.
type ResultStore struct {
	blob   Blob
	logger *zap.Logger
}

// NewResultStore wraps blob.
func NewResultStore(blob Blob, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{blob: blob, logger: logger}
}

// ResultKey returns the key a result is saved under. Open date bounds fall
// back to the first and last equity points.
func ResultKey(res *backtest.Result) string {
	start, end := res.Config.Start, res.Config.End
	if n := len(res.EquityCurve); n > 0 {
		if start.IsZero() {
			start = res.EquityCurve[0].Time
		}
		if end.IsZero() {
			end = res.EquityCurve[n-1].Time
		}
	}
	name := start.UTC().Format(keyTimeLayout) + "_" + end.UTC().Format(keyTimeLayout) + ".json"
	return path.Join(resultsRoot, segment(res.Config.Symbol), segment(res.Config.Strategy.Name), name)
}

func segment(s string) string {
	s = strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	return s
}

// Save writes res and returns its key.
func (s *ResultStore) Save(ctx context.Context, res *backtest.Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	key := ResultKey(res)
	if err := s.blob.Put(ctx, key, data); err != nil {
		return "", err
	}
	s.logger.Info("backtest result saved",
		zap.String("key", key),
		zap.Int("trades", len(res.Trades)),
	)
	return key, nil
}

// Load reads a result saved by Save.
func (s *ResultStore) Load(ctx context.Context, key string) (*backtest.Result, error) {
	data, err := s.blob.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var res backtest.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &res, nil
}

// Summary is the index entry for one saved result.
type Summary struct {
	Key      string
	Symbol   string
	Strategy string
	Start    time.Time
	End      time.Time
}

// List returns saved results for symbol, or for every symbol when symbol
// is empty.
func (s *ResultStore) List(ctx context.Context, symbol string) ([]Summary, error) {
	prefix := resultsRoot
	if symbol != "" {
		prefix = path.Join(resultsRoot, segment(symbol))
	}
	keys, err := s.blob.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		sum, ok := parseResultKey(k)
		if !ok {
			s.logger.Debug("skipping unrecognized key", zap.String("key", k))
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

func parseResultKey(key string) (Summary, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != resultsRoot || !strings.HasSuffix(parts[3], ".json") {
		return Summary{}, false
	}
	bounds := strings.SplitN(strings.TrimSuffix(parts[3], ".json"), "_", 2)
	if len(bounds) != 2 {
		return Summary{}, false
	}
	start, err := time.Parse(keyTimeLayout, bounds[0])
	if err != nil {
		return Summary{}, false
	}
	end, err := time.Parse(keyTimeLayout, bounds[1])
	if err != nil {
		return Summary{}, false
	}
	return Summary{Key: key, Symbol: parts[1], Strategy: parts[2], Start: start, End: end}, true
}
