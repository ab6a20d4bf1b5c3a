package tuner

import (
	"fmt"
	"math"

	"github.com/fleetforge/forge/internal/domain"
)

// ParamType classifies a tunable parameter's value space.
type ParamType int

const (
	Continuous ParamType = iota // float64 within [Min, Max]
	Discrete                    // int within [Min, Max]
	Categorical                 // string from Choices
)

// String returns a human-readable parameter type name.
func (t ParamType) String() string {
	switch t {
	case Continuous:
		return "continuous"
	case Discrete:
		return "discrete"
	case Categorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// ApplyFunc pushes a committed parameter value into the component that
// owns it. A returned error reverts the value in the registry; it never
// stops the tuning loop.
type ApplyFunc func(name string, value any) error

// Parameter describes one tunable. Continuous and Discrete parameters
// use Min/Max bounds and Step as the perturbation scale; Categorical
// parameters use Choices. Values are float64, int, or string to match
// the type.
type Parameter struct {
	Name    string
	Type    ParamType
	Default any
	Min     float64
	Max     float64
	Step    float64
	Choices []string
	Apply   ApplyFunc

	current any
}

// Value returns the current committed value.
func (p *Parameter) Value() any { return p.current }

// validate checks a candidate value against the parameter's own type and
// bounds. Every committed value must pass.
func (p *Parameter) validate(value any) error {
	switch p.Type {
	case Continuous:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%s: %w: want float64, got %T", p.Name, domain.ErrWrongValueType, value)
		}
		if math.IsNaN(v) || v < p.Min || v > p.Max {
			return fmt.Errorf("%s: %w: %v outside [%v, %v]", p.Name, domain.ErrValueOutOfBounds, v, p.Min, p.Max)
		}
	case Discrete:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("%s: %w: want int, got %T", p.Name, domain.ErrWrongValueType, value)
		}
		if float64(v) < p.Min || float64(v) > p.Max {
			return fmt.Errorf("%s: %w: %d outside [%v, %v]", p.Name, domain.ErrValueOutOfBounds, v, p.Min, p.Max)
		}
	case Categorical:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: %w: want string, got %T", p.Name, domain.ErrWrongValueType, value)
		}
		for _, c := range p.Choices {
			if c == v {
				return nil
			}
		}
		return fmt.Errorf("%s: %w: %q not in choices", p.Name, domain.ErrValueOutOfBounds, v)
	default:
		return fmt.Errorf("%s: unknown parameter type %d", p.Name, p.Type)
	}
	return nil
}

// numeric returns the value as a float64 for metric export, false for
// categorical parameters.
func (p *Parameter) numeric() (float64, bool) {
	switch v := p.current.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
