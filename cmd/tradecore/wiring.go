package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/advisor"
	"github.com/newthinker/tradecore/internal/alert"
	"github.com/newthinker/tradecore/internal/api"
	"github.com/newthinker/tradecore/internal/api/handler"
	"github.com/newthinker/tradecore/internal/api/job"
	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/events"
	"github.com/newthinker/tradecore/internal/marketdata"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/notifier/email"
	"github.com/newthinker/tradecore/internal/notifier/telegram"
	"github.com/newthinker/tradecore/internal/notifier/webhook"
	"github.com/newthinker/tradecore/internal/router"
	"github.com/newthinker/tradecore/internal/storage"
	"github.com/newthinker/tradecore/internal/strategy"
)

const dateLayout = "2006-01-02"

func nopClose() {}

// newProvider opens the configured market data source.
func newProvider(ctx context.Context, cfg config.MarketDataConfig) (marketdata.Provider, func(), error) {
	switch cfg.Source {
	case "postgres":
		p, err := marketdata.NewPostgresProvider(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "binance":
		if cfg.BinanceURL != "" {
			return marketdata.NewBinanceWithBaseURL(cfg.BinanceURL), nopClose, nil
		}
		return marketdata.NewBinance(), nopClose, nil
	case "okx":
		if cfg.OKXURL != "" {
			return marketdata.NewOKXWithBaseURL(cfg.OKXURL), nopClose, nil
		}
		return marketdata.NewOKX(), nopClose, nil
	default:
		return marketdata.NewCSVProvider(cfg.CSVDir), nopClose, nil
	}
}

// newResultStore returns nil when storage is disabled.
func newResultStore(cfg config.StorageConfig, log *zap.Logger) (*storage.ResultStore, error) {
	var blob storage.Blob
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "s3":
		s, err := storage.NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		blob = s
	default:
		l, err := storage.NewLocal(cfg.Path)
		if err != nil {
			return nil, err
		}
		blob = l
	}
	return storage.NewResultStore(blob, log), nil
}

// newPublisher builds the event bus with the configured sinks attached.
// The returned func flushes and closes the sinks.
func newPublisher(cfg config.EventsConfig, reg *metrics.Registry, log *zap.Logger) (*events.Bus, func(), error) {
	bus := events.NewBus(log)
	if cfg.Log {
		bus.Subscribe(events.NewLogSink(log))
	}
	if reg != nil {
		bus.Subscribe(reg)
	}
	if !cfg.Kafka.Enabled {
		return bus, nopClose, nil
	}

	sink, err := events.NewKafkaSink(cfg.Kafka.Sink(), log)
	if err != nil {
		return nil, nil, err
	}
	bus.Subscribe(sink)
	closer := func() {
		if err := sink.Close(); err != nil {
			log.Warn("closing kafka sink", zap.Error(err))
		}
		if n := sink.Dropped(); n > 0 {
			log.Warn("kafka sink dropped events", zap.Int64("dropped", n))
		}
	}
	return bus, closer, nil
}

// newAdvisor returns nil when the advisor is disabled.
func newAdvisor(cfg config.AdvisorConfig, log *zap.Logger) (advisor.Advisor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	provider, err := advisor.NewProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("creating advisor provider: %w", err)
	}
	log.Info("advisor enabled",
		zap.String("provider", provider.Name()),
		zap.Duration("timeout", cfg.Timeout),
	)
	return advisor.NewLLMAdvisor(provider,
		advisor.WithTemperature(cfg.Temperature),
		advisor.WithTimeout(cfg.Timeout),
		advisor.WithLogger(log),
	), nil
}

// parseRange parses --from/--to. Empty values leave the bound open; --to
// covers the whole day.
func parseRange(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(dateLayout, from); err != nil {
			return start, end, fmt.Errorf("invalid from date format (expected YYYY-MM-DD): %w", err)
		}
	}
	if to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return start, end, fmt.Errorf("invalid to date format (expected YYYY-MM-DD): %w", err)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("end date must be after start date")
	}
	return start, end, nil
}

// lookupStrategy resolves name, or the symbol's assignment when name is
// empty.
func lookupStrategy(registry *strategy.Registry, symbol, name string) (strategy.Definition, error) {
	if name == "" {
		return registry.ForSymbol(symbol)
	}
	def, ok := registry.Get(name)
	if !ok {
		return strategy.Definition{}, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("unknown strategy %q", name))
	}
	return def, nil
}

// newNotifiers registers every channel that has credentials.
func newNotifiers(cfg config.NotifyConfig) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()
	if cfg.Webhook.URL != "" {
		n, err := webhook.New(cfg.Webhook.URL, cfg.Webhook.Headers)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(n); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.BotToken != "" {
		var opts []telegram.Option
		if cfg.Telegram.BaseURL != "" {
			opts = append(opts, telegram.WithBaseURL(cfg.Telegram.BaseURL))
		}
		n, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, opts...)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(n); err != nil {
			return nil, err
		}
	}
	if cfg.Email.Host != "" {
		n, err := email.New(cfg.Email.Email())
		if err != nil {
			return nil, err
		}
		if err := reg.Register(n); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// startNotifications routes bus events to the configured channels and
// evaluates the alert rules against metrics. The returned func stops the
// rules and drains queued messages.
func startNotifications(ctx context.Context, cfg config.NotifyConfig, bus *events.Bus, metricsFn func() map[string]float64, now func() time.Time, log *zap.Logger) (func(), error) {
	if !cfg.Enabled {
		return nopClose, nil
	}
	channels, err := newNotifiers(cfg)
	if err != nil {
		return nil, err
	}
	if channels.Len() == 0 {
		log.Warn("notifications enabled but no channel configured")
		return nopClose, nil
	}
	rc, err := cfg.Router()
	if err != nil {
		return nil, err
	}
	rt := router.New(rc, channels, log)
	bus.Subscribe(rt)

	ev, err := alert.NewEvaluator(cfg.Rules, rt,
		alert.WithClock(now),
		alert.WithCooldown(cfg.RuleCooldown),
		alert.WithLogger(log),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if len(cfg.Rules) > 0 {
			ev.Watch(watchCtx, cfg.RuleInterval, metricsFn)
		}
	}()

	names := make([]string, 0, channels.Len())
	for _, n := range channels.All() {
		names = append(names, n.Name())
	}
	log.Info("notifications enabled",
		zap.Strings("channels", names),
		zap.Int("rules", len(cfg.Rules)),
	)

	return func() {
		stopWatch()
		<-done
		rt.Close()
		st := rt.Stats()
		log.Info("notifications stopped",
			zap.Int64("routed", st.Routed),
			zap.Int64("suppressed", st.Suppressed),
			zap.Int64("dropped", st.Dropped),
			zap.Int64("failed", st.Failed),
		)
	}, nil
}

// startAPI serves the control API for engine. Backtests submitted over
// the API read from provider and can be saved to the result archive.
func startAPI(cfg *config.Config, engine handler.Engine, registry *strategy.Registry, provider marketdata.Provider, reg *metrics.Registry, log *zap.Logger) (func(), error) {
	if !cfg.API.Enabled {
		return nopClose, nil
	}
	store, err := newResultStore(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	var btOpts []backtest.Option
	btOpts = append(btOpts, backtest.WithLogger(log))
	if reg != nil {
		btOpts = append(btOpts, backtest.WithMetrics(reg))
	}
	plan := func(symbol, name string, start, end time.Time) (backtest.Config, error) {
		def, err := lookupStrategy(registry, symbol, name)
		if err != nil {
			return backtest.Config{}, err
		}
		return cfg.BacktestRun(symbol, def, start, end)
	}
	hOpts := []handler.BacktestOption{handler.WithLogger(log)}
	if store != nil {
		hOpts = append(hOpts, handler.WithSaver(store))
	}
	backtests := handler.NewBacktestHandler(
		job.NewStore(cfg.API.MaxJobs, cfg.API.JobTTL),
		backtest.New(provider, btOpts...),
		plan,
		hOpts...,
	)

	srv, err := api.NewServer(api.Config{Addr: cfg.API.Addr, APIKey: cfg.API.APIKey}, api.Dependencies{
		Engine:     engine,
		Strategies: registry,
		Backtests:  backtests,
		Metrics:    reg,
	}, log)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(); err != nil {
			log.Error("api server error", zap.Error(err))
		}
	}()
	if cfg.API.APIKey == "" {
		log.Warn("api authentication disabled", zap.String("addr", cfg.API.Addr))
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn("api shutdown", zap.Error(err))
		}
		backtests.Wait()
	}, nil
}
