package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PaperExecutor fills orders in process against the last price it was
// given. Market orders fill immediately with slippage against the taker;
// limit orders rest until SetPrice crosses them.
type PaperExecutor struct {
	mu sync.Mutex

	prices map[string]float64
	orders map[string]*OrderResult
	ids    []string
	seq    int64

	commissionRate float64
	slippageRate   float64

	// Failure injection
	failures int
	failErr  error

	clock  func() time.Time
	logger *zap.Logger
}

// PaperOption configures a PaperExecutor.
type PaperOption func(*PaperExecutor)

// WithCommission sets the commission charged on filled notional.
func WithCommission(rate float64) PaperOption {
	return func(p *PaperExecutor) { p.commissionRate = rate }
}

// WithSlippage sets the fractional price impact of market orders.
func WithSlippage(rate float64) PaperOption {
	return func(p *PaperExecutor) { p.slippageRate = rate }
}

// WithClock sets the time source for order timestamps.
func WithClock(now func() time.Time) PaperOption {
	return func(p *PaperExecutor) {
		if now != nil {
			p.clock = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) PaperOption {
	return func(p *PaperExecutor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPaperExecutor creates a paper executor with no commission or slippage.
func NewPaperExecutor(opts ...PaperOption) *PaperExecutor {
	p := &PaperExecutor{
		prices: make(map[string]float64),
		orders: make(map[string]*OrderResult),
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetPrice records the latest price for symbol and fills any resting limit
// orders it crosses.
func (p *PaperExecutor) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price
	for _, id := range p.ids {
		o := p.orders[id]
		if o.Symbol != symbol || !o.IsOpen() {
			continue
		}
		if crosses(o.Side, o.Price, price) {
			p.fillLocked(o, o.Price)
		}
	}
}

// FailNext makes the next n orders fail with err. A nil err fails them
// with ErrRejected.
func (p *PaperExecutor) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		err = ErrRejected
	}
	p.failures = n
	p.failErr = err
}

// PlaceOrder validates and executes req.
func (p *PaperExecutor) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures > 0 {
		p.failures--
		return nil, fmt.Errorf("paper executor: %s %s %s: %w", req.Side, req.Symbol, req.Type, p.failErr)
	}

	market, ok := p.prices[req.Symbol]
	if req.Type == OrderTypeMarket && !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMarketPrice, req.Symbol)
	}

	p.seq++
	now := p.clock()
	o := &OrderResult{
		OrderID:       fmt.Sprintf("PAPER-%d", p.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        OrderStatusPending,
		Quantity:      req.Quantity,
		Price:         req.Price,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.orders[o.OrderID] = o
	p.ids = append(p.ids, o.OrderID)

	switch {
	case req.Type == OrderTypeMarket:
		p.fillLocked(o, market*(1+req.Side.sign()*p.slippageRate))
	case ok && crosses(req.Side, req.Price, market):
		p.fillLocked(o, req.Price)
	}

	p.logger.Debug("paper order",
		zap.String("order_id", o.OrderID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("status", string(o.Status)),
		zap.Float64("quantity", o.Quantity),
		zap.Float64("price", o.AveragePrice),
	)
	cp := *o
	return &cp, nil
}

// CancelOrder cancels a resting order.
func (p *PaperExecutor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.Symbol != symbol {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotCancellable, orderID, o.Status)
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = p.clock()
	return nil
}

// QueryOrder returns the current state of orderID.
func (p *PaperExecutor) QueryOrder(ctx context.Context, symbol, orderID string) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, ok := p.Order(orderID)
	if !ok || o.Symbol != symbol {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return &o, nil
}

// Order returns a copy of the order with id.
func (p *PaperExecutor) Order(id string) (OrderResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return OrderResult{}, false
	}
	return *o, true
}

// OpenOrders returns resting orders in placement order.
func (p *PaperExecutor) OpenOrders() []OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []OrderResult
	for _, id := range p.ids {
		if o := p.orders[id]; o.IsOpen() {
			out = append(out, *o)
		}
	}
	return out
}

func (p *PaperExecutor) fillLocked(o *OrderResult, price float64) {
	now := p.clock()
	o.Status = OrderStatusFilled
	o.FilledQuantity = o.Quantity
	o.AveragePrice = price
	o.Commission = o.Quantity * price * p.commissionRate
	o.FilledAt = &now
	o.UpdatedAt = now
}

// crosses reports whether a limit order at limit is marketable at price.
func crosses(side OrderSide, limit, price float64) bool {
	if side == OrderSideBuy {
		return price <= limit
	}
	return price >= limit
}
