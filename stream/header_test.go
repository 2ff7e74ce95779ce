package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeaderAccessors(t *testing.T) {
	acq := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cycle := acq.Add(-10 * time.Millisecond)
	set := acq.Add(-time.Second)
	header := NewHeader(map[string]any{
		KeyAcquisitionStamp: acq,
		KeyCycleStamp:       cycle,
		KeySetStamp:         set,
		KeySelector:         "LHC.USER.ALL",
		KeyFirstUpdate:      true,
		KeyImmediateUpdate:  false,
		"extra":             42,
	})

	require.Equal(t, acq, header.AcquisitionStamp())
	require.Equal(t, cycle, header.CycleStamp())
	require.Equal(t, set, header.SetStamp())
	require.Equal(t, "LHC.USER.ALL", header.Selector())
	require.True(t, header.FirstUpdate())
	require.False(t, header.ImmediateUpdate())

	extra, ok := header.Get("extra")
	require.True(t, ok)
	require.Equal(t, 42, extra)

	_, ok = header.Get("missing")
	require.False(t, ok)
	require.Equal(t, 7, header.Len())
}

func TestHeaderCopiesSource(t *testing.T) {
	raw := map[string]any{KeySelector: "A"}
	header := NewHeader(raw)
	raw[KeySelector] = "B"
	require.Equal(t, "A", header.Selector())
}

func TestHeaderZeroValuesForMissingFields(t *testing.T) {
	header := NewHeader(nil)
	require.True(t, header.AcquisitionStamp().IsZero())
	require.Empty(t, header.Selector())
	require.False(t, header.FirstUpdate())
	require.Empty(t, header.Keys())
}

func TestHeaderKeysSorted(t *testing.T) {
	header := NewHeader(map[string]any{"b": 1, "a": 2, "c": 3})
	require.Equal(t, []string{"a", "b", "c"}, header.Keys())
}
