// Package handler implements the HTTP endpoints of the control API.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/portfolio"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/trading"
)

// Engine is the slice of *trading.Engine the API exposes.
type Engine interface {
	GetActivePositions() []portfolio.Position
	Trades() []trading.Trade
	OpenTrades() []trading.Trade
	Daily() trading.DailyCounters
	GeneratePerformanceReport() trading.PerformanceReport
	GenerateRiskReport() risk.Report
	EmergencyStop(ctx context.Context, reason string) error
}

// TradingHandler serves engine state.
type TradingHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewTradingHandler creates a trading handler.
func NewTradingHandler(engine Engine, logger *zap.Logger) *TradingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradingHandler{engine: engine, logger: logger}
}

func (h *TradingHandler) Positions(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.engine.GetActivePositions())
}

// Trades lists trades. The status query parameter selects open or closed
// trades; without it closed trades come first, then open ones.
func (h *TradingHandler) Trades(w http.ResponseWriter, r *http.Request) {
	switch status := r.URL.Query().Get("status"); trading.TradeStatus(status) {
	case trading.TradeOpen:
		response.JSON(w, http.StatusOK, h.engine.OpenTrades())
	case trading.TradeClosed:
		response.JSON(w, http.StatusOK, h.engine.Trades())
	case "":
		response.JSON(w, http.StatusOK, append(h.engine.Trades(), h.engine.OpenTrades()...))
	default:
		response.Fail(w, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown trade status %q", status)))
	}
}

func (h *TradingHandler) Daily(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.engine.Daily())
}

func (h *TradingHandler) Performance(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.engine.GeneratePerformanceReport())
}

func (h *TradingHandler) Risk(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.engine.GenerateRiskReport())
}

// EmergencyStopRequest is the optional body of an emergency stop.
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

// EmergencyStop closes every position and trips the circuit breaker.
// Partial failures are reported with the risk report so the caller sees
// what is still open.
func (h *TradingHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	req := EmergencyStopRequest{Reason: "api request"}
	if r.ContentLength != 0 {
		if err := response.Decode(r, &req); err != nil {
			response.Fail(w, err)
			return
		}
	}

	h.logger.Warn("emergency stop requested over API",
		zap.String("reason", req.Reason),
		zap.String("remote", r.RemoteAddr),
	)
	err := h.engine.EmergencyStop(context.WithoutCancel(r.Context()), req.Reason)
	body := map[string]any{
		"reason":    req.Reason,
		"positions": h.engine.GetActivePositions(),
		"risk":      h.engine.GenerateRiskReport(),
	}
	if err != nil {
		body["error"] = err.Error()
		response.JSON(w, http.StatusInternalServerError, body)
		return
	}
	response.JSON(w, http.StatusOK, body)
}
