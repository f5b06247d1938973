package treatment

import (
	"context"
	"math/rand/v2"
)

// GaussianNoiseStrategy adds an independent Normal(0, sigma) sample to
// every numeric field of the payload. Non-numeric fields pass through
// untouched.
type GaussianNoiseStrategy struct{}

func (GaussianNoiseStrategy) Execute(_ context.Context, payload map[string]any, params map[string]any) (map[string]any, error) {
	sigma := sigmaParam(params)

	processed := make(map[string]any, len(payload))
	for key, value := range payload {
		if n, ok := numericValue(value); ok {
			processed[key] = n + rand.NormFloat64()*sigma
		} else {
			processed[key] = value
		}
	}
	return processed, nil
}

// sigmaParam coerces params["sigma"] to a float, defaulting to 1.0 when
// absent or unparseable.
func sigmaParam(params map[string]any) float64 {
	v, ok := params["sigma"]
	if !ok {
		return 1.0
	}
	if sigma, ok := numericValue(v); ok {
		return sigma
	}
	return 1.0
}
