package marketdata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(symbol string, n int) []core.Candle {
	out := make([]core.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = core.Candle{
			Symbol: symbol, Interval: "1h",
			Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10,
			OpenTime: t0.Add(time.Duration(i) * time.Hour), CloseTime: t0.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return out
}

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
		err   bool
	}{
		{"1m", time.Minute, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"3d", 0, true},
	}
	for _, tc := range tests {
		got, err := IntervalDuration(tc.input)
		if (err != nil) != tc.err {
			t.Errorf("IntervalDuration(%s) error = %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("IntervalDuration(%s) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	s := series("BTCUSDT", 3)
	dup := s[1]
	dup.Close = 999
	in := []core.Candle{s[2], s[0], s[1], dup}

	out := Normalize(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i-1].OpenTime.Before(out[i].OpenTime) {
			t.Fatalf("candles not strictly ordered at %d", i)
		}
	}
	if out[1].Close != 999 {
		t.Errorf("expected last duplicate to win, got close %v", out[1].Close)
	}
	if in[0].OpenTime != s[2].OpenTime {
		t.Error("input must not be reordered")
	}
}

func TestMemory_FetchHistory(t *testing.T) {
	m := NewMemory()
	m.Add("BTCUSDT", "1h", series("BTCUSDT", 10))

	got, err := m.FetchHistory(context.Background(), "BTCUSDT", t0.Add(2*time.Hour), t0.Add(5*time.Hour), "1h")
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 candles in range, got %d", len(got))
	}

	_, err = m.FetchHistory(context.Background(), "ETHUSDT", time.Time{}, time.Time{}, "1h")
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestCSV_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewCSVProvider(dir)
	want := series("BTCUSDT", 5)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, want); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if err := os.WriteFile(p.Path("btcusdt", "1h"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := p.FetchHistory(context.Background(), "BTCUSDT", time.Time{}, time.Time{}, "1h")
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candles, got %d", len(want), len(got))
	}
	for i := range want {
		g, w := got[i], want[i]
		if !g.OpenTime.Equal(w.OpenTime) || !g.CloseTime.Equal(w.CloseTime) ||
			g.Open != w.Open || g.High != w.High || g.Low != w.Low || g.Close != w.Close || g.Volume != w.Volume {
			t.Errorf("candle %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadCSV_Formats(t *testing.T) {
	in := strings.Join([]string{
		"volume,open_time,open,high,low,close",
		"5,2024-01-01T01:00:00Z,101,102,100,101.5",
		"4,2024-01-01T00:00:00Z,100,101,99,100.5",
	}, "\n")

	got, err := ReadCSV(strings.NewReader(in), "ETHUSDT", "1h")
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(got) != 2 || got[0].Open != 100 || got[1].Volume != 5 {
		t.Fatalf("unexpected candles: %+v", got)
	}
	if !got[0].CloseTime.Equal(t0.Add(time.Hour)) {
		t.Errorf("close time should default to open + interval, got %v", got[0].CloseTime)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing column", "open_time,open,high,low,close\n1,1,1,1,1"},
		{"bad number", "open_time,open,high,low,close,volume\n1,x,1,1,1,1"},
		{"bad time", "open_time,open,high,low,close,volume\nyesterday,1,1,1,1,1"},
		{"empty", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tc.in), "X", "1h"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCSVProvider_MissingFile(t *testing.T) {
	p := NewCSVProvider(t.TempDir())
	_, err := p.FetchHistory(context.Background(), "BTCUSDT", time.Time{}, time.Time{}, "1d")
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
	if filepath.Base(p.Path("btcusdt", "1d")) != "BTCUSDT_1d.csv" {
		t.Errorf("unexpected path %s", p.Path("btcusdt", "1d"))
	}
}

func TestReplay(t *testing.T) {
	candles := series("BTCUSDT", 5)
	var got []core.Candle
	for c := range Replay(context.Background(), candles, 0) {
		got = append(got, c)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(got))
	}

	ctx, cancel := context.WithCancel(context.Background())
	feed := Replay(ctx, candles, time.Hour)
	<-feed
	cancel()
	for range feed {
	}
}

func TestMerge(t *testing.T) {
	merged := Merge(series("ETHUSDT", 2), series("BTCUSDT", 2))
	want := []string{"BTCUSDT", "ETHUSDT", "BTCUSDT", "ETHUSDT"}
	for i, c := range merged {
		if c.Symbol != want[i] {
			t.Errorf("merged[%d] = %s, want %s", i, c.Symbol, want[i])
		}
	}
}

func TestBinance_FetchHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" || r.URL.Query().Get("symbol") != "BTCUSDT" {
			http.NotFound(w, r)
			return
		}
		open := t0.UnixMilli()
		fmt.Fprintf(w, `[[%d,"100","105","99","102","1000",%d,"0",1,"0","0","0"],[%d,"102","108","101","106","1200",%d,"0",1,"0","0","0"]]`,
			open, open+3599999, open+3600000, open+7199999)
	}))
	defer server.Close()

	b := NewBinanceWithBaseURL(server.URL)
	data, err := b.FetchHistory(context.Background(), "BTCUSDT", t0, t0.Add(2*time.Hour), "1h")
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(data))
	}
	if data[1].Close != 106 || data[0].Volume != 1000 {
		t.Errorf("unexpected candles: %+v", data)
	}
	if !data[0].OpenTime.Equal(t0) {
		t.Errorf("open time = %v, want %v", data[0].OpenTime, t0)
	}
	if err := data[0].Validate(); err != nil {
		t.Errorf("parsed candle invalid: %v", err)
	}
}

func TestBinance_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	b := NewBinanceWithBaseURL(server.URL)
	if _, err := b.FetchHistory(context.Background(), "BTCUSDT", t0, t0.Add(time.Hour), "1h"); err == nil {
		t.Error("expected error on non-200 status")
	}
	if _, err := b.FetchHistory(context.Background(), "BTCUSDT", t0, t0, "7m"); err == nil {
		t.Error("expected error on unsupported interval")
	}
}

func TestInstrumentID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BTCUSDT", "BTC-USDT"},
		{"ethbtc", "ETH-BTC"},
		{"SOLUSDC", "SOL-USDC"},
		{"USDT", "USDT"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := InstrumentID(tt.in); got != tt.want {
				t.Errorf("InstrumentID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOKX_FetchHistory(t *testing.T) {
	open := t0.UnixMilli()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/v5/market/history-candles" || q.Get("instId") != "BTC-USDT" || q.Get("bar") != "1H" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"code":"0","msg":"","data":[["%d","102","108","101","106","1200","0","0","1"],["%d","100","105","99","102","1000","0","0","1"],["%d","98","101","97","100","900","0","0","1"]]}`,
			open+3600000, open, open-3600000)
	}))
	defer server.Close()

	o := NewOKXWithBaseURL(server.URL)
	data, err := o.FetchHistory(context.Background(), "BTCUSDT", t0, t0.Add(2*time.Hour), "1h")
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 candles in range, got %d", len(data))
	}
	if !data[0].OpenTime.Equal(t0) || data[1].Close != 106 {
		t.Errorf("unexpected candles: %+v", data)
	}
	if err := data[0].Validate(); err != nil {
		t.Errorf("parsed candle invalid: %v", err)
	}
}

func TestOKX_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`)
	}))
	defer server.Close()

	o := NewOKXWithBaseURL(server.URL)
	if _, err := o.FetchHistory(context.Background(), "NOPEUSDT", t0, t0.Add(time.Hour), "1h"); err == nil {
		t.Error("expected error on okx error code")
	}
	if _, err := o.FetchHistory(context.Background(), "BTCUSDT", t0, t0, "3d"); err == nil {
		t.Error("expected error on unsupported interval")
	}
}

// Integration test, runs only with TRADECORE_TEST_POSTGRES_DSN set.
func TestPostgresProvider_Integration(t *testing.T) {
	dsn := os.Getenv("TRADECORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRADECORE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	p, err := NewPostgresProvider(ctx, dsn, "candles")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer p.Close()

	_, err = p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS candles (
		symbol text, interval text, open_time timestamptz, close_time timestamptz,
		open double precision, high double precision, low double precision,
		close double precision, volume double precision,
		PRIMARY KEY (symbol, interval, open_time))`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	want := series("ITESTUSDT", 3)
	if err := p.Insert(ctx, want); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := p.FetchHistory(ctx, "ITESTUSDT", t0, t0.Add(10*time.Hour), "1h")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 3 || got[2].Close != want[2].Close {
		t.Errorf("unexpected candles: %+v", got)
	}
}
