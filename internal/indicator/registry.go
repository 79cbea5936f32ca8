package indicator

import (
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// Registry maps indicator kinds to their calculators.
type Registry struct {
	calculators map[types.IndicatorKind]Calculator
	mu          sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		calculators: make(map[types.IndicatorKind]Calculator),
	}
}

// DefaultRegistry returns a registry holding every built-in calculator.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, c := range []Calculator{EMA{}, ATR{}, RSI{}, MFI{}, LR{}, SMI{}, MACD{}} {
		// kinds are distinct, Register cannot fail here
		_ = r.Register(c)
	}

	return r
}

// Register adds a calculator. A kind can only be registered once.
func (r *Registry) Register(c Calculator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := c.Kind()
	if _, exists := r.calculators[kind]; exists {
		return errors.Newf(errors.ErrCodeIndicatorAlreadyExists, "calculator for %s already registered", kind)
	}

	r.calculators[kind] = c

	return nil
}

func (r *Registry) Get(kind types.IndicatorKind) (Calculator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.calculators[kind]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeIndicatorNotFound, "no calculator for %s", kind)
	}

	return c, nil
}

// Kinds lists the registered kinds in name order.
func (r *Registry) Kinds() []types.IndicatorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]types.IndicatorKind, 0, len(r.calculators))
	for kind := range r.calculators {
		kinds = append(kinds, kind)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

func (r *Registry) Remove(kind types.IndicatorKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calculators[kind]; !exists {
		return errors.Newf(errors.ErrCodeIndicatorNotFound, "no calculator for %s", kind)
	}

	delete(r.calculators, kind)

	return nil
}
