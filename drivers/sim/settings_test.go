package sim

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func float64Ptr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64       { return &v }
func intPtr(v int) *int             { return &v }
func boolPtr(v bool) *bool          { return &v }

func TestParseSettingsEmptyYieldsDefaults(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage("null")} {
		settings, err := ParseSettings(raw)
		require.NoError(t, err)
		require.Equal(t, Settings{}, settings)
	}
}

func TestParseSettingsInvalidJSON(t *testing.T) {
	_, err := ParseSettings(json.RawMessage(`{"source":`))
	require.Error(t, err)
}

func TestParseSettingsRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{
		"source": "pseudo",
		"seed": 42,
		"defaults": {"interval": "250ms"},
		"parameters": {
			"dev/temp": {"kind": "number", "min": -10, "max": 40}
		}
	}`)
	settings, err := ParseSettings(raw)
	require.NoError(t, err)
	require.Equal(t, "pseudo", settings.Source)
	require.Equal(t, int64(42), *settings.Seed)
	require.Equal(t, "250ms", settings.Defaults.Interval)
	require.Equal(t, -10.0, *settings.Parameters["dev/temp"].Min)
}

func TestResolveDefaults(t *testing.T) {
	resolved, err := Settings{}.resolve("dev/x")
	require.NoError(t, err)
	require.Equal(t, KindNumber, resolved.kind)
	require.Equal(t, defaultInterval, resolved.interval)
	require.Equal(t, 0.0, resolved.floatMin)
	require.Equal(t, 1.0, resolved.floatMax)
	require.True(t, resolved.firstImmediate)
}

func TestResolveParameterOverridesDefaults(t *testing.T) {
	settings := Settings{
		Defaults: ParameterSettings{Kind: KindInteger, Interval: "1s"},
		Parameters: map[string]ParameterSettings{
			"dev/x": {Interval: "20ms", IntMin: int64Ptr(5), IntMax: int64Ptr(9)},
		},
	}
	resolved, err := settings.resolve("dev/x")
	require.NoError(t, err)
	require.Equal(t, KindInteger, resolved.kind)
	require.Equal(t, 20*time.Millisecond, resolved.interval)
	require.Equal(t, int64(5), resolved.intMin)
	require.Equal(t, int64(9), resolved.intMax)

	// Other parameters only see the defaults.
	other, err := settings.resolve("dev/y")
	require.NoError(t, err)
	require.Equal(t, time.Second, other.interval)
}

func TestResolveIntRangeFallsBackToFloatRange(t *testing.T) {
	settings := Settings{Parameters: map[string]ParameterSettings{
		"dev/x": {Kind: KindInteger, Min: float64Ptr(1.6), Max: float64Ptr(10.2)},
	}}
	resolved, err := settings.resolve("dev/x")
	require.NoError(t, err)
	require.Equal(t, int64(2), resolved.intMin)
	require.Equal(t, int64(10), resolved.intMax)
}

func TestResolveKindNormalization(t *testing.T) {
	settings := Settings{Defaults: ParameterSettings{Kind: "  Decimal "}}
	resolved, err := settings.resolve("dev/x")
	require.NoError(t, err)
	require.Equal(t, KindDecimal, resolved.kind)
}

func TestResolveValidationErrors(t *testing.T) {
	cases := map[string]ParameterSettings{
		"unknown kind":         {Kind: "complex"},
		"bad interval":         {Interval: "soon"},
		"zero interval":        {Interval: "0s"},
		"inverted float range": {Min: float64Ptr(2), Max: float64Ptr(1)},
		"inverted int range":   {IntMin: int64Ptr(9), IntMax: int64Ptr(3)},
		"bad probability":      {TrueProbability: float64Ptr(1.5)},
		"bad error rate":       {ErrorProbability: float64Ptr(-0.1)},
		"zero string length":   {StringLength: intPtr(0)},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Settings{Defaults: spec}.resolve("dev/x")
			require.Error(t, err)
		})
	}
}

func TestNewValueSourceKinds(t *testing.T) {
	for _, kind := range []string{"", "pseudo", "math", "secure", "crypto", " Pseudo "} {
		_, err := newValueSource(kind, nil, "dev/x")
		require.NoError(t, err, "kind %q", kind)
	}
	_, err := newValueSource("dice", nil, "dev/x")
	require.Error(t, err)
}

func TestDeriveSeedIsPerParameter(t *testing.T) {
	seed := int64Ptr(7)
	require.NotEqual(t, deriveSeed(seed, "dev/a"), deriveSeed(seed, "dev/b"))
	require.Equal(t, deriveSeed(seed, "dev/a"), deriveSeed(seed, "dev/a"))
	require.NotEqual(t, deriveSeed(int64Ptr(1), "dev/a"), deriveSeed(int64Ptr(2), "dev/a"))
}

func TestFloatInRangeBounds(t *testing.T) {
	src := newPseudoSource(1)
	for i := 0; i < 100; i++ {
		v, err := floatInRange(src, -2.5, 2.5)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, -2.5)
		require.Less(t, v, 2.5)
	}
	v, err := floatInRange(src, 3, 3)
	require.NoError(t, err)
	require.Equal(t, 3.0, v)
}

func TestIntInRangeBounds(t *testing.T) {
	src := newPseudoSource(1)
	seen := map[int64]bool{}
	for i := 0; i < 200; i++ {
		v, err := intInRange(src, 10, 13)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, int64(10))
		require.LessOrEqual(t, v, int64(13))
		seen[v] = true
	}
	require.Len(t, seen, 4)
}

func TestRandomStringUsesAlphabet(t *testing.T) {
	src := newPseudoSource(1)
	s, err := randomString(src, 32, []rune("ab"))
	require.NoError(t, err)
	require.Len(t, []rune(s), 32)
	for _, r := range s {
		require.Contains(t, []rune{'a', 'b'}, r)
	}
	_, err = randomString(src, 4, nil)
	require.Error(t, err)
}

func TestGenerateKinds(t *testing.T) {
	src := newPseudoSource(1)
	base := resolvedParameter{
		floatMin: 0, floatMax: 1,
		intMin: 0, intMax: 10,
		trueProbability: 0.5,
		stringLength:    8,
		alphabet:        []rune(defaultAlphabet),
	}

	base.kind = KindNumber
	v, err := base.generate(src)
	require.NoError(t, err)
	require.IsType(t, float64(0), v)

	base.kind = KindInteger
	v, err = base.generate(src)
	require.NoError(t, err)
	require.IsType(t, int64(0), v)

	base.kind = KindBool
	v, err = base.generate(src)
	require.NoError(t, err)
	require.IsType(t, false, v)

	base.kind = KindString
	v, err = base.generate(src)
	require.NoError(t, err)
	require.Len(t, v.(string), 8)

	base.kind = KindDecimal
	v, err = base.generate(src)
	require.NoError(t, err)
	d, ok := v.(decimal.Decimal)
	require.True(t, ok)
	f := d.InexactFloat64()
	require.GreaterOrEqual(t, f, 0.0)
	require.LessOrEqual(t, f, 1.0)
}
