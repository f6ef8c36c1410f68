// Package distance holds latency estimates between overlay nodes and the
// calculations the clustering protocol performs over them.
package distance

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Value is a one-way latency estimate. The zero Value is unknown.
type Value struct {
	d     time.Duration
	known bool
}

// Unknown is the absent estimate.
var Unknown = Value{}

// Of returns a known estimate of d. Negative durations clamp to zero.
func Of(d time.Duration) Value {
	if d < 0 {
		d = 0
	}
	return Value{d: d, known: true}
}

// Known returns true if the estimate carries a measurement.
func (v Value) Known() bool { return v.known }

// Duration returns the estimate, or zero when unknown.
func (v Value) Duration() time.Duration { return v.d }

// Get returns the estimate and whether it is known.
func (v Value) Get() (time.Duration, bool) { return v.d, v.known }

// Less returns true if both values are known and v is strictly smaller.
func (v Value) Less(o Value) bool { return v.known && o.known && v.d < o.d }

// Blend folds a new sample into the estimate as an exponentially weighted
// moving average. An unknown estimate adopts the sample outright.
func (v Value) Blend(sample time.Duration, weight float64) Value {
	if !v.known {
		return Of(sample)
	}
	return Of(time.Duration(math.Round(weight*float64(sample) + (1-weight)*float64(v.d))))
}

// Wire encodes the value as milliseconds plus one, with zero meaning unknown.
func (v Value) Wire() uint32 {
	if !v.known {
		return 0
	}
	ms := v.d.Milliseconds()
	if ms >= math.MaxUint32-1 {
		return math.MaxUint32
	}
	return uint32(ms) + 1
}

// FromWire decodes a value produced by Wire.
func FromWire(w uint32) Value {
	if w == 0 {
		return Unknown
	}
	return Of(time.Duration(w-1) * time.Millisecond)
}

// Field returns a zap field for the value.
func (v Value) Field(key string) zap.Field {
	if !v.known {
		return zap.String(key, "unknown")
	}
	return zap.Duration(key, v.d)
}

func (v Value) String() string {
	if !v.known {
		return "unknown"
	}
	return v.d.String()
}
