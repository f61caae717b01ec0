package handler

import (
	"net/http"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/strategy"
)

// StrategyLister is satisfied by *strategy.Registry.
type StrategyLister interface {
	All() []strategy.Definition
}

// Strategies lists the registered strategy definitions.
func Strategies(reg StrategyLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, reg.All())
	}
}
