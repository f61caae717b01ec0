package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

const (
	binanceBaseURL = "https://api.binance.com"
	klineLimit     = 1000
)

// Binance fetches public kline history. It only reads market data.
type Binance struct {
	client  *http.Client
	baseURL string
}

// NewBinance creates a Binance history provider.
func NewBinance() *Binance {
	return &Binance{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: binanceBaseURL,
	}
}

// NewBinanceWithBaseURL creates a provider against a custom base URL (for testing).
func NewBinanceWithBaseURL(url string) *Binance {
	b := NewBinance()
	b.baseURL = url
	return b
}

// FetchHistory implements Provider, paging through the range.
func (b *Binance) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.Candle, error) {
	barLen, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now()
	}

	var candles []core.Candle
	for from := start; !from.After(end); {
		page, err := b.fetchPage(ctx, symbol, interval, from, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		candles = append(candles, page...)
		if len(page) < klineLimit {
			break
		}
		from = page[len(page)-1].OpenTime.Add(barLen)
	}
	if len(candles) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s %s", symbol, interval))
	}
	return Normalize(candles), nil
}

func (b *Binance) fetchPage(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Candle, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=%d",
		b.baseURL, symbol, interval, start.UnixMilli(), end.UnixMilli(), klineLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var klines [][]any
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	data := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		if len(k) < 7 {
			continue
		}

		openTime, _ := k[0].(float64)
		closeTime, _ := k[6].(float64)
		var nums [5]float64
		for i := range nums {
			s, _ := k[i+1].(string)
			nums[i], _ = strconv.ParseFloat(s, 64)
		}

		data = append(data, core.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Open:      nums[0],
			High:      nums[1],
			Low:       nums[2],
			Close:     nums[3],
			Volume:    nums[4],
			OpenTime:  time.UnixMilli(int64(openTime)).UTC(),
			CloseTime: time.UnixMilli(int64(closeTime)).UTC(),
		})
	}
	return data, nil
}
