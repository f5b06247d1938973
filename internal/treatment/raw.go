package treatment

import "context"

// RawStrategy forwards the payload unchanged.
type RawStrategy struct{}

func (RawStrategy) Execute(_ context.Context, payload map[string]any, _ map[string]any) (map[string]any, error) {
	return payload, nil
}
