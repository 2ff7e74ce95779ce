package stream

import (
	"sort"
	"time"
)

// Well-known header keys delivered by acquisition clients.
const (
	KeyAcquisitionStamp = "acqStamp"
	KeyCycleStamp       = "cycleStamp"
	KeySetStamp         = "setStamp"
	KeySelector         = "selector"
	KeyFirstUpdate      = "isFirstUpdate"
	KeyImmediateUpdate  = "isImmediateUpdate"
)

// Header carries the metadata of one acquisition. It is a read-only view of
// the raw metadata map delivered by the client, with named accessors for the
// well-known fields. A Header is immutable once constructed and is owned
// exclusively by the (value, header) pair it accompanies.
type Header struct {
	fields map[string]any
}

// NewHeader builds a header from raw acquisition metadata. The map is copied,
// so later mutation by the client cannot be observed through the header.
func NewHeader(fields map[string]any) Header {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Header{fields: copied}
}

// Get returns the metadata value stored under key.
func (h Header) Get(key string) (any, bool) {
	v, ok := h.fields[key]
	return v, ok
}

// Keys returns all metadata keys sorted alphabetically.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h.fields))
	for k := range h.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of metadata fields.
func (h Header) Len() int {
	return len(h.fields)
}

// AcquisitionStamp returns the acquisition timestamp, or the zero time if the
// field is missing or not a time.
func (h Header) AcquisitionStamp() time.Time {
	return h.timeField(KeyAcquisitionStamp)
}

// CycleStamp returns the timing-cycle timestamp.
func (h Header) CycleStamp() time.Time {
	return h.timeField(KeyCycleStamp)
}

// SetStamp returns the settings timestamp.
func (h Header) SetStamp() time.Time {
	return h.timeField(KeySetStamp)
}

// Selector returns the timing selector the value was acquired under.
func (h Header) Selector() string {
	s, _ := h.fields[KeySelector].(string)
	return s
}

// FirstUpdate reports whether the value is the first update after the
// subscription was started.
func (h Header) FirstUpdate() bool {
	b, _ := h.fields[KeyFirstUpdate].(bool)
	return b
}

// ImmediateUpdate reports whether the value was delivered immediately on
// subscription rather than on a timing event.
func (h Header) ImmediateUpdate() bool {
	b, _ := h.fields[KeyImmediateUpdate].(bool)
	return b
}

func (h Header) timeField(key string) time.Time {
	t, _ := h.fields[key].(time.Time)
	return t
}
