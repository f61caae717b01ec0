package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/strategy"
)

var (
	backtestSymbols    []string
	backtestStrategies []string
	backtestFrom       string
	backtestTo         string
	backtestSave       bool
	backtestJSON       bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run strategies against historical data",
	Long: `Run one or more strategies over historical candles and show performance
statistics. Every symbol/strategy pair runs as an independent simulation.
Without --strategy each symbol uses its assigned strategy.`,
	RunE: runBacktest,
}

var backtestListCmd = &cobra.Command{
	Use:   "list [symbol]",
	Short: "List saved backtest results",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBacktestList,
}

func init() {
	backtestCmd.Flags().StringSliceVar(&backtestSymbols, "symbols", nil, "Symbols to backtest (required)")
	backtestCmd.Flags().StringSliceVar(&backtestStrategies, "strategy", nil, "Strategies to run for every symbol")
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "Start date YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "End date YYYY-MM-DD")
	backtestCmd.Flags().BoolVar(&backtestSave, "save", false, "Save results to the configured storage")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "Print full results as JSON")

	backtestCmd.MarkFlagRequired("symbols")

	backtestCmd.AddCommand(backtestListCmd)
	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	start, end, err := parseRange(backtestFrom, backtestTo)
	if err != nil {
		return err
	}
	registry, err := cfg.StrategyRegistry(log)
	if err != nil {
		return err
	}

	var runs []backtest.Config
	for _, symbol := range backtestSymbols {
		symbol = strings.ToUpper(symbol)
		defs, err := backtestDefinitions(registry, symbol)
		if err != nil {
			return err
		}
		for _, def := range defs {
			run, err := cfg.BacktestRun(symbol, def, start, end)
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
	}

	ctx := cmd.Context()
	provider, closeProvider, err := newProvider(ctx, cfg.MarketData)
	if err != nil {
		return fmt.Errorf("opening market data: %w", err)
	}
	defer closeProvider()

	var opts []backtest.Option
	opts = append(opts, backtest.WithLogger(log))
	if cfg.Metrics.Enabled {
		opts = append(opts, backtest.WithMetrics(metrics.NewRegistry()))
	}
	bt := backtest.New(provider, opts...)

	log.Info("running backtests",
		zap.Int("runs", len(runs)),
		zap.Int("parallelism", cfg.Backtest.Parallelism),
		zap.String("source", cfg.MarketData.Source),
	)
	results, runErr := bt.RunMany(ctx, runs, cfg.Backtest.Parallelism)

	var completed []*backtest.Result
	for _, res := range results {
		if res != nil {
			completed = append(completed, res)
		}
	}

	out := cmd.OutOrStdout()
	if backtestJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(completed); err != nil {
			return err
		}
	} else {
		printResults(out, completed)
	}

	if backtestSave && len(completed) > 0 {
		store, err := newResultStore(cfg.Storage, log)
		if err != nil {
			return errors.Join(runErr, err)
		}
		if store == nil {
			log.Warn("--save ignored, storage type is none")
		} else {
			for _, res := range completed {
				key, err := store.Save(ctx, res)
				if err != nil {
					runErr = errors.Join(runErr, err)
					continue
				}
				log.Info("result saved", zap.String("key", key))
			}
		}
	}
	return runErr
}

func backtestDefinitions(registry *strategy.Registry, symbol string) ([]strategy.Definition, error) {
	if len(backtestStrategies) == 0 {
		def, err := registry.ForSymbol(symbol)
		if err != nil {
			return nil, err
		}
		return []strategy.Definition{def}, nil
	}
	defs := make([]strategy.Definition, 0, len(backtestStrategies))
	for _, name := range backtestStrategies {
		def, err := lookupStrategy(registry, symbol, name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func printResults(w io.Writer, results []*backtest.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSTRATEGY\tCANDLES\tTRADES\tWIN%\tRETURN%\tMAX DD%\tSHARPE\tPF\tFINAL")
	for _, r := range results {
		s := r.Stats
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			r.Config.Symbol, r.Config.Strategy.Name, r.Candles, s.TotalTrades,
			s.WinRate, s.TotalReturn, s.MaxDrawdown, s.SharpeRatio, s.ProfitFactor, r.FinalBalance)
	}
	tw.Flush()
}

func runBacktestList(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := newResultStore(cfg.Storage, log)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("storage type is none")
	}

	var symbol string
	if len(args) == 1 {
		symbol = strings.ToUpper(args[0])
	}
	sums, err := store.List(cmd.Context(), symbol)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSTRATEGY\tSTART\tEND\tKEY")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Symbol, s.Strategy, s.Start.Format(dateLayout), s.End.Format(dateLayout), s.Key)
	}
	return tw.Flush()
}
