package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// CSVProvider reads candles from <dir>/<SYMBOL>_<interval>.csv.
//
// The file needs a header with open_time, open, high, low, close and volume
// columns in any order. close_time is optional. Times are unix milliseconds
// or RFC 3339.
type CSVProvider struct {
	dir string
}

// NewCSVProvider creates a provider rooted at dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

// Path returns the file read for symbol and interval.
func (p *CSVProvider) Path(symbol, interval string) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s_%s.csv", strings.ToUpper(symbol), interval))
}

// FetchHistory implements Provider.
func (p *CSVProvider) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p.Path(symbol, interval))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s %s: %w", symbol, interval, err))
		}
		return nil, fmt.Errorf("opening candles: %w", err)
	}
	defer f.Close()

	candles, err := ReadCSV(f, symbol, interval)
	if err != nil {
		return nil, err
	}
	candles = Between(candles, start, end)
	if len(candles) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s %s: no candles in range", symbol, interval))
	}
	return candles, nil
}

var requiredColumns = []string{"open_time", "open", "high", "low", "close", "volume"}

// ReadCSV parses candles from r and returns them normalized.
func ReadCSV(r io.Reader, symbol, interval string) ([]core.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	closeCol, hasClose := cols["close_time"]
	barLen, _ := IntervalDuration(interval)

	var candles []core.Candle
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var nums [5]float64
		for i, name := range requiredColumns[1:] {
			nums[i], err = strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
		}
		openTime, err := parseTime(rec[cols["open_time"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: open_time: %w", line, err)
		}
		closeTime := openTime.Add(barLen)
		if hasClose && strings.TrimSpace(rec[closeCol]) != "" {
			if closeTime, err = parseTime(rec[closeCol]); err != nil {
				return nil, fmt.Errorf("line %d: close_time: %w", line, err)
			}
		}

		candles = append(candles, core.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Open:      nums[0],
			High:      nums[1],
			Low:       nums[2],
			Close:     nums[3],
			Volume:    nums[4],
			OpenTime:  openTime,
			CloseTime: closeTime,
		})
	}
	return Normalize(candles), nil
}

// WriteCSV writes candles in the format ReadCSV accepts.
func WriteCSV(w io.Writer, candles []core.Candle) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), requiredColumns...), "close_time")
	if err := cw.Write(header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, c := range candles {
		rec := []string{
			strconv.FormatInt(c.OpenTime.UnixMilli(), 10),
			f(c.Open), f(c.High), f(c.Low), f(c.Close), f(c.Volume),
			strconv.FormatInt(c.CloseTime.UnixMilli(), 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
