package sim

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	mathrand "math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

// valueSource abstracts the random number generator behind a subscription.
type valueSource interface {
	Float64() (float64, error)
	Int63() (int64, error)
}

// pseudoSource wraps math/rand for deterministic sequences. Each subscription
// owns one, so no locking is needed.
type pseudoSource struct {
	rng *mathrand.Rand
}

func newPseudoSource(seed int64) *pseudoSource {
	return &pseudoSource{rng: mathrand.New(mathrand.NewSource(seed))}
}

func (s *pseudoSource) Float64() (float64, error) {
	return s.rng.Float64(), nil
}

func (s *pseudoSource) Int63() (int64, error) {
	return s.rng.Int63(), nil
}

// secureSource uses crypto/rand for non-reproducible values.
type secureSource struct{}

func (secureSource) Int63() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("secure source: %w", err)
	}
	// Mask the sign bit to keep the value in the positive range.
	return int64(binary.BigEndian.Uint64(buf[:]) & math.MaxInt64), nil
}

func (s secureSource) Float64() (float64, error) {
	v, err := s.Int63()
	if err != nil {
		return 0, err
	}
	return float64(v) / float64(math.MaxInt64), nil
}

func newValueSource(kind string, seed *int64, parameter string) (valueSource, error) {
	switch strings.TrimSpace(strings.ToLower(kind)) {
	case "", "pseudo", "math":
		return newPseudoSource(deriveSeed(seed, parameter)), nil
	case "secure", "crypto":
		return secureSource{}, nil
	default:
		return nil, fmt.Errorf("unknown random source %q", kind)
	}
}

// deriveSeed mixes the configured seed with the parameter name so every
// subscription gets an independent but reproducible sequence, regardless of
// subscription order.
func deriveSeed(seed *int64, parameter string) int64 {
	h := fnv.New64a()
	h.Write([]byte(parameter))
	mixed := int64(h.Sum64())
	if seed != nil {
		mixed ^= *seed
	}
	return mixed
}

// generate produces one sample according to the resolved parameter settings.
func (r resolvedParameter) generate(src valueSource) (any, error) {
	switch r.kind {
	case KindNumber:
		return floatInRange(src, r.floatMin, r.floatMax)
	case KindInteger:
		return intInRange(src, r.intMin, r.intMax)
	case KindBool:
		sample, err := src.Float64()
		if err != nil {
			return nil, err
		}
		return sample < r.trueProbability, nil
	case KindString:
		return randomString(src, r.stringLength, r.alphabet)
	case KindDecimal:
		v, err := floatInRange(src, r.floatMin, r.floatMax)
		if err != nil {
			return nil, err
		}
		return decimal.NewFromFloat(v), nil
	default:
		return nil, fmt.Errorf("unsupported value kind %s", r.kind)
	}
}

func floatInRange(src valueSource, min, max float64) (float64, error) {
	if min == max {
		return min, nil
	}
	if max < min {
		return 0, fmt.Errorf("invalid float range [%f, %f]", min, max)
	}
	sample, err := src.Float64()
	if err != nil {
		return 0, err
	}
	return min + (max-min)*sample, nil
}

func intInRange(src valueSource, min, max int64) (int64, error) {
	if min == max {
		return min, nil
	}
	if max < min {
		return 0, fmt.Errorf("invalid integer range [%d, %d]", min, max)
	}
	span := max - min + 1
	if span <= 0 {
		return 0, fmt.Errorf("integer range overflow for [%d, %d]", min, max)
	}
	limit := (math.MaxInt64 / span) * span
	for {
		value, err := src.Int63()
		if err != nil {
			return 0, err
		}
		if value < limit {
			return min + value%span, nil
		}
	}
}

func randomString(src valueSource, length int, alphabet []rune) (string, error) {
	if length <= 0 {
		return "", nil
	}
	if len(alphabet) == 0 {
		return "", fmt.Errorf("alphabet must not be empty")
	}
	builder := strings.Builder{}
	builder.Grow(length * 2)
	for i := 0; i < length; i++ {
		idx, err := intInRange(src, 0, int64(len(alphabet)-1))
		if err != nil {
			return "", err
		}
		builder.WriteRune(alphabet[idx])
	}
	return builder.String(), nil
}
