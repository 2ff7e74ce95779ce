package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Value kinds supported by the simulated client.
const (
	KindNumber  = "number"
	KindInteger = "integer"
	KindBool    = "bool"
	KindString  = "string"
	KindDecimal = "decimal"
)

const (
	defaultKind                  = KindNumber
	defaultInterval              = 10 * time.Millisecond
	defaultFloatMin              = 0.0
	defaultFloatMax              = 1.0
	defaultIntMin          int64 = 0
	defaultIntMax          int64 = 100
	defaultTrueProbability       = 0.5
	defaultStringLength          = 12
	defaultAlphabet              = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Settings describes the configuration accepted by NewClient.
type Settings struct {
	Source     string                       `json:"source,omitempty"`
	Seed       *int64                       `json:"seed,omitempty"`
	Defaults   ParameterSettings            `json:"defaults,omitempty"`
	Parameters map[string]ParameterSettings `json:"parameters,omitempty"`
}

// ParameterSettings customises value generation for a single parameter.
type ParameterSettings struct {
	Kind             string   `json:"kind,omitempty"`
	Interval         string   `json:"interval,omitempty"`
	Min              *float64 `json:"min,omitempty"`
	Max              *float64 `json:"max,omitempty"`
	IntMin           *int64   `json:"int_min,omitempty"`
	IntMax           *int64   `json:"int_max,omitempty"`
	TrueProbability  *float64 `json:"true_probability,omitempty"`
	StringLength     *int     `json:"string_length,omitempty"`
	Alphabet         string   `json:"alphabet,omitempty"`
	ErrorProbability *float64 `json:"error_probability,omitempty"`
	FirstImmediate   *bool    `json:"first_immediate,omitempty"`
}

type resolvedParameter struct {
	kind             string
	interval         time.Duration
	floatMin         float64
	floatMax         float64
	intMin           int64
	intMax           int64
	trueProbability  float64
	stringLength     int
	alphabet         []rune
	errorProbability float64
	firstImmediate   bool
}

// ParseSettings decodes raw JSON driver settings. Empty input yields the
// defaults.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Settings{}, nil
	}
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode sim settings: %w", err)
	}
	return settings, nil
}

func (s Settings) resolve(parameter string) (resolvedParameter, error) {
	resolved := resolvedParameter{
		kind:            defaultKind,
		interval:        defaultInterval,
		floatMin:        defaultFloatMin,
		floatMax:        defaultFloatMax,
		intMin:          defaultIntMin,
		intMax:          defaultIntMax,
		trueProbability: defaultTrueProbability,
		stringLength:    defaultStringLength,
		alphabet:        []rune(defaultAlphabet),
		firstImmediate:  true,
	}
	if err := resolved.apply(s.Defaults, "defaults"); err != nil {
		return resolvedParameter{}, err
	}
	if override, ok := s.Parameters[parameter]; ok {
		if err := resolved.apply(override, parameter); err != nil {
			return resolvedParameter{}, err
		}
	}
	if resolved.floatMax < resolved.floatMin {
		return resolvedParameter{}, fmt.Errorf("parameter %s: max must be >= min", parameter)
	}
	if resolved.intMax < resolved.intMin {
		return resolvedParameter{}, fmt.Errorf("parameter %s: int_max must be >= int_min", parameter)
	}
	if resolved.trueProbability < 0 || resolved.trueProbability > 1 {
		return resolvedParameter{}, fmt.Errorf("parameter %s: true_probability must be between 0 and 1", parameter)
	}
	if resolved.errorProbability < 0 || resolved.errorProbability > 1 {
		return resolvedParameter{}, fmt.Errorf("parameter %s: error_probability must be between 0 and 1", parameter)
	}
	if resolved.interval <= 0 {
		return resolvedParameter{}, fmt.Errorf("parameter %s: interval must be positive", parameter)
	}
	if math.IsNaN(resolved.floatMin) || math.IsNaN(resolved.floatMax) {
		return resolvedParameter{}, fmt.Errorf("parameter %s: min/max must not be NaN", parameter)
	}
	return resolved, nil
}

func (r *resolvedParameter) apply(spec ParameterSettings, context string) error {
	if kind := strings.TrimSpace(strings.ToLower(spec.Kind)); kind != "" {
		switch kind {
		case KindNumber, KindInteger, KindBool, KindString, KindDecimal:
			r.kind = kind
		default:
			return fmt.Errorf("%s: unsupported value kind %q", context, spec.Kind)
		}
	}
	if spec.Interval != "" {
		interval, err := time.ParseDuration(spec.Interval)
		if err != nil {
			return fmt.Errorf("%s: parse interval: %w", context, err)
		}
		r.interval = interval
	}
	if spec.Min != nil {
		r.floatMin = *spec.Min
	}
	if spec.Max != nil {
		r.floatMax = *spec.Max
	}
	if spec.IntMin != nil {
		r.intMin = *spec.IntMin
	} else if spec.Min != nil {
		r.intMin = int64(math.Round(*spec.Min))
	}
	if spec.IntMax != nil {
		r.intMax = *spec.IntMax
	} else if spec.Max != nil {
		r.intMax = int64(math.Round(*spec.Max))
	}
	if spec.TrueProbability != nil {
		r.trueProbability = *spec.TrueProbability
	}
	if spec.StringLength != nil {
		if *spec.StringLength <= 0 {
			return fmt.Errorf("%s: string_length must be positive", context)
		}
		r.stringLength = *spec.StringLength
	}
	if strings.TrimSpace(spec.Alphabet) != "" {
		r.alphabet = []rune(spec.Alphabet)
	}
	if spec.ErrorProbability != nil {
		r.errorProbability = *spec.ErrorProbability
	}
	if spec.FirstImmediate != nil {
		r.firstImmediate = *spec.FirstImmediate
	}
	return nil
}
