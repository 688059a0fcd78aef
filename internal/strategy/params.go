package strategy

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// StrategyParameter is one tunable value with its bounds.
type StrategyParameter struct {
	Name        string   `json:"name"`
	Value       float64  `json:"value"`
	Min         float64  `json:"min"`
	Max         float64  `json:"max"`
	Step        float64  `json:"step"`
	Default     *float64 `json:"default,omitempty"`
	Description string   `json:"description"`
}

// Param builds a parameter whose value starts at its default.
func Param(name string, def, min, max, step float64, description string) StrategyParameter {
	d := def
	return StrategyParameter{
		Name:        name,
		Value:       def,
		Min:         min,
		Max:         max,
		Step:        step,
		Default:     &d,
		Description: description,
	}
}

// Resolve returns v clamped to [Min, Max]. A nil or NaN v falls back to the
// default, or to Min when there is no default.
func (p StrategyParameter) Resolve(v *float64) float64 {
	var val float64
	switch {
	case v != nil && !math.IsNaN(*v):
		val = *v
	case p.Default != nil:
		val = *p.Default
	default:
		val = p.Min
	}
	return math.Max(p.Min, math.Min(p.Max, val))
}

// ApplyUpdates returns a copy of params with updates applied and clamped.
// Names not present in params are rejected.
func ApplyUpdates(params []StrategyParameter, updates map[string]float64) ([]StrategyParameter, error) {
	out := make([]StrategyParameter, len(params))
	copy(out, params)

	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.Name] = i
	}

	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrValidation, name)
		}
		v := updates[name]
		out[i].Value = out[i].Resolve(&v)
	}
	return out, nil
}

// ParameterSet is the mutable parameter list owned by a strategy instance.
type ParameterSet struct {
	mu     sync.RWMutex
	params []StrategyParameter
}

// NewParameterSet copies defs, clamping every value into bounds.
func NewParameterSet(defs []StrategyParameter) *ParameterSet {
	params := make([]StrategyParameter, len(defs))
	for i, p := range defs {
		v := p.Value
		p.Value = p.Resolve(&v)
		params[i] = p
	}
	return &ParameterSet{params: params}
}

// List returns a copy of the parameters.
func (ps *ParameterSet) List() []StrategyParameter {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]StrategyParameter, len(ps.params))
	copy(out, ps.params)
	return out
}

// Update applies values atomically; nothing changes if any name is unknown.
func (ps *ParameterSet) Update(values map[string]float64) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	updated, err := ApplyUpdates(ps.params, values)
	if err != nil {
		return err
	}
	ps.params = updated
	return nil
}

// Snapshot returns the current values keyed by name.
func (ps *ParameterSet) Snapshot() Values {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	v := make(Values, len(ps.params))
	for _, p := range ps.params {
		v[p.Name] = p.Value
	}
	return v
}

// Values is a read-only view of parameter values.
type Values map[string]float64

// Float returns the named value.
func (v Values) Float(name string) float64 {
	return v[name]
}

// Int returns the named value rounded to the nearest integer.
func (v Values) Int(name string) int {
	return int(math.Round(v[name]))
}
