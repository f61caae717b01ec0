package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/newthinker/tradecore/internal/core"
	"go.uber.org/zap"
)

// Registry holds strategy definitions and which one each symbol trades.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
	assignments map[string]string
	fallback    string
	logger      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger ...*zap.Logger) *Registry {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Registry{
		definitions: make(map[string]Definition),
		assignments: make(map[string]string),
		logger:      l,
	}
}

// NewDefaultRegistry registers the presets with balanced as the default.
func NewDefaultRegistry(logger ...*zap.Logger) *Registry {
	r := NewRegistry(logger...)
	for _, d := range Presets() {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	r.fallback = Balanced
	return r
}

// Register validates and adds a definition, replacing any with the same name.
func (r *Registry) Register(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[d.Name]; exists {
		r.logger.Info("replacing strategy", zap.String("strategy", d.Name))
	}
	r.definitions[d.Name] = d
	if r.fallback == "" {
		r.fallback = d.Name
	}
	return nil
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[name]
	return d, ok
}

// All returns every definition sorted by name.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Definition, 0, len(r.definitions))
	for _, d := range r.definitions {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// SetDefault chooses the strategy for symbols without an assignment.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.definitions[name]; !ok {
		return core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%s", name))
	}
	r.fallback = name
	return nil
}

// Assign makes symbol trade the named strategy.
func (r *Registry) Assign(symbol, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.definitions[name]; !ok {
		return core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%s", name))
	}
	r.assignments[symbol] = name
	return nil
}

// ForSymbol returns the strategy assigned to symbol, or the default.
func (r *Registry) ForSymbol(symbol string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.assignments[symbol]
	if !ok {
		name = r.fallback
	}
	d, ok := r.definitions[name]
	if !ok {
		return Definition{}, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("no strategy for %s", symbol))
	}
	return d, nil
}
