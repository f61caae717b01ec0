package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

const (
	okxBaseURL   = "https://www.okx.com"
	okxPageLimit = 100
	okxMaxPages  = 200
)

// Quote currencies in detection order.
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "BNB"}

// OKX fetches public candle history, paging backwards from the end of
// the range.
type OKX struct {
	client  *http.Client
	baseURL string
}

// NewOKX creates an OKX history provider.
func NewOKX() *OKX {
	return &OKX{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: okxBaseURL,
	}
}

// NewOKXWithBaseURL creates a provider against a custom base URL (for testing).
func NewOKXWithBaseURL(url string) *OKX {
	o := NewOKX()
	o.baseURL = strings.TrimRight(url, "/")
	return o
}

// InstrumentID converts BTCUSDT to BTC-USDT.
func InstrumentID(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q) + "-" + q
		}
	}
	return s
}

func okxBar(interval string) string {
	switch interval {
	case "1h", "2h", "4h", "1d", "1w":
		return strings.ToUpper(interval)
	default:
		return interval
	}
}

// FetchHistory implements Provider. An open start stops after a bounded
// number of pages.
func (o *OKX) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.Candle, error) {
	barLen, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now()
	}

	var candles []core.Candle
	before := end.UnixMilli() + 1
	for page := 0; page < okxMaxPages; page++ {
		batch, err := o.fetchPage(ctx, symbol, interval, barLen, before)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		oldest := batch[0].OpenTime
		for _, c := range batch {
			if !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
				candles = append(candles, c)
			}
		}
		if len(batch) < okxPageLimit || !oldest.After(start) {
			break
		}
		before = oldest.UnixMilli()
	}
	if len(candles) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s %s", symbol, interval))
	}
	return Normalize(candles), nil
}

// fetchPage returns up to okxPageLimit candles opening before the given
// millisecond timestamp, oldest first.
func (o *OKX) fetchPage(ctx context.Context, symbol, interval string, barLen time.Duration, before int64) ([]core.Candle, error) {
	url := fmt.Sprintf("%s/api/v5/market/history-candles?instId=%s&bar=%s&after=%d&limit=%d",
		o.baseURL, InstrumentID(symbol), okxBar(interval), before, okxPageLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result okxCandleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if result.Code != "0" {
		return nil, fmt.Errorf("okx error %s: %s", result.Code, result.Msg)
	}

	data := make([]core.Candle, 0, len(result.Data))
	// newest first on the wire
	for i := len(result.Data) - 1; i >= 0; i-- {
		row := result.Data[i]
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		var nums [5]float64
		for j := range nums {
			nums[j], _ = strconv.ParseFloat(row[j+1], 64)
		}
		openTime := time.UnixMilli(ts).UTC()
		data = append(data, core.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Open:      nums[0],
			High:      nums[1],
			Low:       nums[2],
			Close:     nums[3],
			Volume:    nums[4],
			OpenTime:  openTime,
			CloseTime: openTime.Add(barLen - time.Millisecond),
		})
	}
	return data, nil
}

type okxCandleResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}
