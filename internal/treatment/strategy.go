// Package treatment implements the privacy treatment strategies the
// gateway can apply to a device data stream, keyed by the action tag of
// a policy key.
package treatment

import "context"

// Strategy transforms a device payload under the params of a policy key.
// Implementations must hold no per-request state; anything that has to
// survive a call lives in the shared store.
type Strategy interface {
	// Execute processes one payload. A non-nil result is published
	// downstream; (nil, nil) means the point was dropped or buffered for
	// later aggregate release.
	Execute(ctx context.Context, payload map[string]any, params map[string]any) (map[string]any, error)
}

// AccumulatedStrategy is a Strategy that defers output, buffering points
// for periodic aggregate release by the scheduler.
type AccumulatedStrategy interface {
	Strategy

	// Aggregate reduces the drained points to a single value. Callers
	// guarantee a non-empty slice.
	Aggregate(points []float64) float64
}

// PointAppender is the slice of the accumulation store an accumulated
// strategy needs to buffer a point.
type PointAppender interface {
	AppendPoint(ctx context.Context, deviceID, subjectID string, value float64) error
}

// numericValue reports v as a float64 when it carries a numeric type.
// JSON-decoded payloads yield float64; the other cases cover payloads
// built in code.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
