// Package marketdata provides historical candle sources and a replay feed.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// Provider fetches historical candles for one symbol and interval.
// Implementations return candles ordered by open time.
type Provider interface {
	FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.Candle, error)
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration returns the bar length for an interval such as "1h".
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return d, nil
}

// Normalize sorts candles by open time and drops duplicates, keeping the
// last one seen for each timestamp.
func Normalize(candles []core.Candle) []core.Candle {
	out := make([]core.Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	n := 0
	for i := range out {
		if n > 0 && out[n-1].OpenTime.Equal(out[i].OpenTime) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Between returns the candles whose open time falls in [start, end].
// A zero bound is open.
func Between(candles []core.Candle, start, end time.Time) []core.Candle {
	var out []core.Candle
	for _, c := range candles {
		if !start.IsZero() && c.OpenTime.Before(start) {
			continue
		}
		if !end.IsZero() && c.OpenTime.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Memory serves candles held in memory, keyed by symbol and interval.
type Memory struct {
	data map[string][]core.Candle
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]core.Candle)}
}

// Add stores candles for symbol and interval.
func (m *Memory) Add(symbol, interval string, candles []core.Candle) {
	key := symbol + "/" + interval
	m.data[key] = Normalize(append(m.data[key], candles...))
}

// FetchHistory implements Provider.
func (m *Memory) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candles := Between(m.data[symbol+"/"+interval], start, end)
	if len(candles) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s %s", symbol, interval))
	}
	return candles, nil
}

// Replay pushes candles onto the returned channel one at a time, waiting
// delay between them. The channel is closed when all candles have been
// sent or ctx is done.
func Replay(ctx context.Context, candles []core.Candle, delay time.Duration) <-chan core.Candle {
	out := make(chan core.Candle)
	go func() {
		defer close(out)
		for i, c := range candles {
			if i > 0 && delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
		}
	}()
	return out
}

// Merge interleaves several symbols' candles in time order, breaking ties
// by symbol so the sequence is deterministic.
func Merge(series ...[]core.Candle) []core.Candle {
	var all []core.Candle
	for _, s := range series {
		all = append(all, s...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].OpenTime.Equal(all[j].OpenTime) {
			return all[i].OpenTime.Before(all[j].OpenTime)
		}
		return all[i].Symbol < all[j].Symbol
	})
	return all
}
