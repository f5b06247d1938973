package treatment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(newFakeAppender())

	for _, action := range []string{"RAW", "GNOISE", "AVG", "raw", "Avg"} {
		_, ok := r.Get(action)
		assert.True(t, ok, action)
	}

	_, ok := r.Get("DROP")
	assert.False(t, ok)
}

func TestRegistryIsAccumulated(t *testing.T) {
	r := NewRegistry(newFakeAppender())

	assert.True(t, r.IsAccumulated("AVG"))
	assert.True(t, r.IsAccumulated("avg"))
	assert.False(t, r.IsAccumulated("RAW"))
	assert.False(t, r.IsAccumulated("GNOISE"))
	assert.False(t, r.IsAccumulated("DROP"))
}

type dropAllStrategy struct{}

func (dropAllStrategy) Execute(context.Context, map[string]any, map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestRegistryRegisterCustomStrategy(t *testing.T) {
	r := NewRegistry(newFakeAppender())
	r.Register("block", dropAllStrategy{})

	s, ok := r.Get("BLOCK")
	require.True(t, ok)
	processed, err := s.Execute(context.Background(), map[string]any{"value": 1.0}, nil)
	require.NoError(t, err)
	assert.Nil(t, processed)
	assert.False(t, r.IsAccumulated("BLOCK"))
}
