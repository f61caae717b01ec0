// Package broker defines the order execution boundary the trading engine
// calls, plus an in-process paper executor.
package broker

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
)

// Broker-specific errors.
var (
	// ErrInvalidSymbol indicates an invalid or empty symbol.
	ErrInvalidSymbol = errors.New("broker: invalid symbol")
	// ErrInvalidSide indicates an unknown order side.
	ErrInvalidSide = errors.New("broker: invalid order side")
	// ErrInvalidQuantity indicates an invalid quantity.
	ErrInvalidQuantity = errors.New("broker: invalid quantity")
	// ErrInvalidPrice indicates an invalid price for limit orders.
	ErrInvalidPrice = errors.New("broker: invalid price for limit order")
	// ErrInvalidOrderType indicates an unsupported order type.
	ErrInvalidOrderType = errors.New("broker: invalid order type")
	// ErrOrderNotFound indicates the order was not found.
	ErrOrderNotFound = errors.New("broker: order not found")
	// ErrOrderNotCancellable indicates the order cannot be cancelled.
	ErrOrderNotCancellable = errors.New("broker: order cannot be cancelled")
	// ErrNoMarketPrice indicates a market order arrived before any price.
	ErrNoMarketPrice = errors.New("broker: no market price for symbol")
	// ErrRejected indicates the venue refused the order.
	ErrRejected = errors.New("broker: order rejected")
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OpenSide returns the order side that opens a position on side.
func OpenSide(side core.Side) OrderSide {
	if side == core.SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseSide returns the order side that flattens a position on side.
func CloseSide(side core.Side) OrderSide {
	if side == core.SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// sign is +1 for buys and -1 for sells.
func (s OrderSide) sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType represents the type of order execution.
type OrderType string

const (
	// OrderTypeMarket executes at current market price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit executes at specified price or better.
	OrderTypeLimit OrderType = "LIMIT"
)

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// OrderRequest represents a request to place a new order.
type OrderRequest struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Type     OrderType `json:"type"`
	Quantity float64   `json:"quantity"`
	// Price is the limit price, required for LIMIT orders.
	Price         float64 `json:"price,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// Validate checks if the order request has valid required fields.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return ErrInvalidSymbol
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return ErrInvalidSide
	}
	if r.Quantity <= 0 || math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) {
		return ErrInvalidQuantity
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.Price <= 0 {
			return ErrInvalidPrice
		}
	default:
		return ErrInvalidOrderType
	}
	return nil
}

// OrderResult is the executor's view of an order after placement.
type OrderResult struct {
	OrderID         string      `json:"order_id"`
	ClientOrderID   string      `json:"client_order_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Side            OrderSide   `json:"side"`
	Type            OrderType   `json:"type"`
	Status          OrderStatus `json:"status"`
	Quantity        float64     `json:"quantity"`
	Price           float64     `json:"price,omitempty"`
	FilledQuantity  float64     `json:"filled_quantity"`
	AveragePrice    float64     `json:"average_price"`
	Commission      float64     `json:"commission"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	FilledAt        *time.Time  `json:"filled_at,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
}

// RemainingQuantity returns the unfilled quantity.
func (o OrderResult) RemainingQuantity() float64 {
	return o.Quantity - o.FilledQuantity
}

// IsFilled returns true if the order is completely filled.
func (o OrderResult) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// IsOpen returns true if the order is still active.
func (o OrderResult) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartial
}

// IsTerminal returns true if the order is in a final state.
func (o OrderResult) IsTerminal() bool {
	return o.Status == OrderStatusFilled ||
		o.Status == OrderStatusCancelled ||
		o.Status == OrderStatusRejected
}

// Executor places and cancels orders on a venue. Implementations own any
// network timeouts and retry policy; callers treat an error as "not
// executed".
type Executor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// OrderQuerier is implemented by executors that can report the current
// state of an order they accepted.
type OrderQuerier interface {
	QueryOrder(ctx context.Context, symbol, orderID string) (*OrderResult, error)
}

// RoundQuantity rounds qty down to a multiple of step. A non-positive step
// leaves qty unchanged.
func RoundQuantity(qty, step float64) float64 {
	if step <= 0 || qty <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(qty).Div(s).Floor().Mul(s).InexactFloat64()
}
