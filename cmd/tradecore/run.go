package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/alert"
	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/marketdata"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/trading"
)

var (
	runSymbols []string
	runFrom    string
	runTo      string
	runDelay   time.Duration
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Paper trade a replayed candle feed",
	Long: `Replay historical candles through the trading engine with a paper broker.
Every entry passes the risk manager; Ctrl-C triggers an emergency stop that
closes open positions before the final report is printed.`,
	RunE: runTrading,
}

func init() {
	runCmd.Flags().StringSliceVar(&runSymbols, "symbols", nil, "Symbols to trade (default from config)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "Start date YYYY-MM-DD")
	runCmd.Flags().StringVar(&runTo, "to", "", "End date YYYY-MM-DD")
	runCmd.Flags().DurationVar(&runDelay, "delay", -1, "Delay between candles (default from config)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the final report as JSON")

	rootCmd.AddCommand(runCmd)
}

func runTrading(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	symbols := cfg.Trading.Symbols
	if len(runSymbols) > 0 {
		symbols = runSymbols
	}
	if len(symbols) == 0 {
		return core.WrapError(core.ErrConfigMissing, errors.New("no symbols to trade"))
	}
	delay := cfg.Trading.ReplayDelay
	if runDelay >= 0 {
		delay = runDelay
	}
	start, end, err := parseRange(runFrom, runTo)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	provider, closeProvider, err := newProvider(ctx, cfg.MarketData)
	if err != nil {
		return fmt.Errorf("opening market data: %w", err)
	}
	defer closeProvider()

	var series [][]core.Candle
	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		candles, err := provider.FetchHistory(ctx, symbol, start, end, cfg.Trading.Interval)
		if err != nil {
			return fmt.Errorf("fetching %s history: %w", symbol, err)
		}
		log.Info("history loaded", zap.String("symbol", symbol), zap.Int("candles", len(candles)))
		series = append(series, candles)
	}
	candles := marketdata.Merge(series...)
	if len(candles) == 0 {
		return core.WrapError(core.ErrNoData, errors.New("no candles in range"))
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		srv := serveMetrics(cfg.Metrics, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	bus, closeSinks, err := newPublisher(cfg.Events, reg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	registry, err := cfg.StrategyRegistry(log)
	if err != nil {
		return err
	}
	clock := trading.NewCandleClock(candles[0].OpenTime)
	engine, err := newEngine(cfg, clock, registry, bus, reg, log)
	if err != nil {
		return err
	}

	stopNotify, err := startNotifications(ctx, cfg.Notify, bus, func() map[string]float64 {
		return alert.Metrics(engine.GenerateRiskReport())
	}, clock.Now, log)
	if err != nil {
		return err
	}
	defer stopNotify()

	stopAPI, err := startAPI(cfg, engine, registry, provider, reg, log)
	if err != nil {
		return err
	}
	defer stopAPI()

	log.Info("trading started",
		zap.Strings("symbols", symbols),
		zap.Int("candles", len(candles)),
		zap.Duration("delay", delay),
	)
	// the feed stays open until Run returns
	feedCtx, stopFeed := context.WithCancel(context.WithoutCancel(ctx))
	runErr := engine.Run(ctx, marketdata.Replay(feedCtx, candles, delay))
	stopFeed()
	if errors.Is(runErr, context.Canceled) {
		log.Info("trading interrupted")
		runErr = withoutCanceled(runErr)
	}

	if err := printReport(cmd.OutOrStdout(), engine); err != nil {
		return err
	}
	return runErr
}

// newEngine wires the paper broker, risk manager and trading engine to one
// candle-driven clock.
func newEngine(cfg *config.Config, clock *trading.CandleClock, registry *strategy.Registry, bus *events.Bus, reg *metrics.Registry, log *zap.Logger) (*trading.Engine, error) {
	book := portfolio.New(cfg.Trading.InitialBalance)

	rm, err := risk.NewManager(cfg.Risk.Limits(), book,
		risk.WithClock(clock.Now),
		risk.WithPublisher(bus),
		risk.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	exec := broker.NewPaperExecutor(
		broker.WithCommission(cfg.Trading.CommissionRate),
		broker.WithSlippage(cfg.Trading.SlippageRate),
		broker.WithClock(clock.Now),
		broker.WithLogger(log),
	)

	aggCfg, err := cfg.Aggregator.Signal()
	if err != nil {
		return nil, err
	}
	adv, err := newAdvisor(cfg.Advisor, log)
	if err != nil {
		return nil, err
	}

	opts := []trading.Option{
		trading.WithStrategies(registry),
		trading.WithAggregatorConfig(aggCfg),
		trading.WithPublisher(bus),
		trading.WithCandleClock(clock),
		trading.WithLogger(log),
	}
	if adv != nil {
		opts = append(opts, trading.WithAdvisor(adv))
	}
	if reg != nil {
		opts = append(opts, trading.WithMetrics(reg))
	}
	return trading.New(cfg.Trading.Engine(), exec, book, rm, opts...)
}

// withoutCanceled drops the cancellation itself from a Run error, keeping
// any emergency stop failures.
func withoutCanceled(err error) error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	var rest []error
	for _, e := range joined.Unwrap() {
		if !errors.Is(e, context.Canceled) {
			rest = append(rest, e)
		}
	}
	return errors.Join(rest...)
}

func serveMetrics(cfg config.MetricsConfig, reg *metrics.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, reg.Handler())
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics server listening", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}

func printReport(w io.Writer, engine *trading.Engine) error {
	report := engine.GeneratePerformanceReport()
	if runJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Performance trading.PerformanceReport `json:"performance"`
			Risk        risk.Report               `json:"risk"`
			Trades      []trading.Trade           `json:"trades"`
			OpenTrades  []trading.Trade           `json:"open_trades"`
		}{report, engine.GenerateRiskReport(), engine.Trades(), engine.OpenTrades()})
	}

	s := report.Stats
	fmt.Fprintln(w, "=== Trading Report ===")
	fmt.Fprintf(w, "Equity:        %.2f\n", report.Equity)
	fmt.Fprintf(w, "Cash:          %.2f\n", report.Cash)
	fmt.Fprintf(w, "Realized P&L:  %.2f\n", report.RealizedPnL)
	fmt.Fprintf(w, "Closed trades: %d (win rate %.1f%%)\n", report.ClosedTrades, s.WinRate)
	fmt.Fprintf(w, "Max drawdown:  %.2f%%\n", s.MaxDrawdown)
	fmt.Fprintf(w, "Sharpe:        %.2f\n", s.SharpeRatio)
	if len(report.OpenPositions) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tQTY\tENTRY\tMARK")
	for _, p := range report.OpenPositions {
		fmt.Fprintf(tw, "%s\t%s\t%g\t%.4f\t%.4f\n", p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.CurrentPrice)
	}
	return tw.Flush()
}
