package treatment

import (
	"context"
	"fmt"
	"log/slog"
)

// AverageStrategy buffers numeric values for (device, subject) and
// releases their arithmetic mean on each aggregation period.
type AverageStrategy struct {
	store PointAppender
}

// Execute appends the payload's numeric value to the accumulation
// buffer and returns nil so nothing is published now. Payloads without
// a numeric value are dropped.
func (s *AverageStrategy) Execute(ctx context.Context, payload map[string]any, _ map[string]any) (map[string]any, error) {
	deviceID, _ := payload["dispositivo_id"].(string)
	subjectID, _ := payload["titular_id"].(string)

	value, ok := numericValue(payload["value"])
	if !ok {
		slog.Warn("[AverageStrategy] Data point value is not numeric, dropping",
			"device_id", deviceID, "titular_id", subjectID)
		return nil, nil
	}
	if err := s.store.AppendPoint(ctx, deviceID, subjectID, value); err != nil {
		return nil, fmt.Errorf("append data point: %w", err)
	}
	slog.Debug("[AverageStrategy] Data point buffered for aggregation",
		"device_id", deviceID, "titular_id", subjectID)
	return nil, nil
}

func (s *AverageStrategy) Aggregate(points []float64) float64 {
	var sum float64
	for _, p := range points {
		sum += p
	}
	return sum / float64(len(points))
}
