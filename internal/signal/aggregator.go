package signal

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"go.uber.org/zap"
)

// volatilityWindow is the number of closes used for return volatility.
const volatilityWindow = 20

// Contribution is one indicator's part in a combined signal.
type Contribution struct {
	Signal   core.SignalType `json:"signal"`
	Weight   float64         `json:"weight"`
	Strength float64         `json:"strength"`
	Value    indicator.Value `json:"value"`
}

// Signal is the combined reading for one symbol at one candle.
type Signal struct {
	Symbol     string                          `json:"symbol"`
	Time       time.Time                       `json:"time"`
	Price      float64                         `json:"price"`
	Type       core.SignalType                 `json:"type"`
	Confidence float64                         `json:"confidence"` // 0-100
	BuyScore   float64                         `json:"buy_score"`
	SellScore  float64                         `json:"sell_score"`
	Regime     Regime                          `json:"regime"`
	Bandwidth  float64                         `json:"bandwidth"`
	ATR        float64                         `json:"atr"`
	Volatility float64                         `json:"volatility"` // std-dev of returns, percent
	Breakdown  map[indicator.Name]Contribution `json:"breakdown"`
}

// Agreeing counts indicators in the breakdown that voted t.
func (s Signal) Agreeing(t core.SignalType) int {
	n := 0
	for _, c := range s.Breakdown {
		if c.Signal == t {
			n++
		}
	}
	return n
}

// AgreeingAmong counts indicators from names that voted t.
func (s Signal) AgreeingAmong(t core.SignalType, names []indicator.Name) int {
	n := 0
	for _, name := range names {
		if c, ok := s.Breakdown[name]; ok && c.Signal == t {
			n++
		}
	}
	return n
}

type symbolState struct {
	mu     sync.Mutex
	cfg    Config
	set    indicator.Set
	closes []float64
}

// Aggregator owns one indicator set per symbol and combines their readings.
// Candles for one symbol are processed one at a time; different symbols
// proceed in parallel.
type Aggregator struct {
	mu      sync.RWMutex
	cfg     Config
	symbols map[string]*symbolState
	logger  *zap.Logger
}

// NewAggregator creates an aggregator using cfg for every symbol.
func NewAggregator(cfg Config, logger ...*zap.Logger) *Aggregator {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Aggregator{
		cfg:     cfg,
		symbols: make(map[string]*symbolState),
		logger:  l,
	}
}

// Configure overrides the combination config for one symbol.
func (a *Aggregator) Configure(symbol string, cfg Config) {
	st := a.state(symbol)
	st.mu.Lock()
	st.cfg = cfg
	st.mu.Unlock()
}

// Config returns the default configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

func (a *Aggregator) state(symbol string) *symbolState {
	a.mu.RLock()
	st, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{cfg: a.cfg, set: indicator.NewSet()}
	a.symbols[symbol] = st
	return st
}

// Update feeds c to the symbol's indicators and returns the combined
// signal. It returns false until at least one scored indicator is ready.
func (a *Aggregator) Update(c core.Candle) (Signal, bool) {
	st := a.state(c.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.set.AddCandle(c)
	st.closes = append(st.closes, c.Close)
	if over := len(st.closes) - 200; over > 0 {
		st.closes = append(st.closes[:0], st.closes[over:]...)
	}

	var results [indicator.Count]*indicator.Result
	for i, ind := range st.set {
		if res, ok := ind.Calculate(); ok {
			results[i] = &res
		}
	}

	sig := Signal{
		Symbol:     c.Symbol,
		Time:       c.Time(),
		Price:      c.Close,
		Volatility: returnVolatility(st.closes),
	}

	var bandwidth, atr float64
	bb := results[indicator.NameBollinger]
	if bb != nil {
		bv, _ := bb.Bollinger()
		bandwidth = bv.Bandwidth
	}
	if r := results[indicator.NameATR]; r != nil {
		atr = r.Value.Float()
	}
	sig.Bandwidth = bandwidth
	sig.ATR = atr
	sig.Regime = st.cfg.DetectRegime(bandwidth, bb != nil, atr/c.Close, atr > 0)

	if !score(st.cfg, results, &sig) {
		return Signal{}, false
	}

	a.logger.Debug("signal updated",
		zap.String("symbol", c.Symbol),
		zap.String("type", string(sig.Type)),
		zap.Float64("confidence", sig.Confidence),
		zap.String("regime", string(sig.Regime)),
	)
	return sig, true
}

// score fills type, confidence and breakdown from the indicator results.
func score(cfg Config, results [indicator.Count]*indicator.Result, sig *Signal) bool {
	sig.Breakdown = make(map[indicator.Name]Contribution)
	var total, buy, sell float64
	for _, n := range indicator.All() {
		res := results[n]
		if res == nil || !cfg.Enabled[n] {
			continue
		}
		w := cfg.adjusted(sig.Regime, n)
		total += w
		sig.Breakdown[n] = Contribution{
			Signal:   res.Signal,
			Weight:   w,
			Strength: res.Strength,
			Value:    res.Value,
		}
		switch res.Signal {
		case core.SignalBuy:
			buy += w * res.Strength / 100
		case core.SignalSell:
			sell += w * res.Strength / 100
		}
	}
	if len(sig.Breakdown) == 0 || total <= 0 {
		return false
	}

	sig.BuyScore = buy / total
	sig.SellScore = sell / total
	sig.Type = core.SignalNeutral
	switch {
	case sig.BuyScore > sig.SellScore && sig.BuyScore-sig.SellScore >= cfg.MinConfluence:
		sig.Type = core.SignalBuy
		sig.Confidence = math.Min(100, sig.BuyScore*100)
	case sig.SellScore > sig.BuyScore && sig.SellScore-sig.BuyScore >= cfg.MinConfluence:
		sig.Type = core.SignalSell
		sig.Confidence = math.Min(100, sig.SellScore*100)
	default:
		sig.Confidence = math.Min(100, math.Max(sig.BuyScore, sig.SellScore)*100)
	}
	return true
}

// returnVolatility is the standard deviation of recent close-to-close
// returns, in percent.
func returnVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	start := max(0, len(closes)-volatilityWindow-1)
	window := closes[start:]
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	return indicator.StdDev(returns) * 100
}

// Reset clears indicator state for symbol and keeps its config.
func (a *Aggregator) Reset(symbol string) {
	a.mu.RLock()
	st, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.set.Reset()
	st.closes = st.closes[:0]
}

// Symbols returns the tracked symbols in sorted order.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.symbols))
	for s := range a.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
