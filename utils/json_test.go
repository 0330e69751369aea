package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestUnmarshalConfigFromMap(t *testing.T) {
	var out sample
	err := UnmarshalConfig(map[string]interface{}{"name": "sample", "count": 3}, &out)
	require.NoError(t, err)
	assert.Equal(t, sample{Name: "sample", Count: 3}, out)
}

func TestUnmarshalConfigTyped(t *testing.T) {
	var out sample
	require.NoError(t, UnmarshalConfig(&sample{Name: "direct"}, &out))
	assert.Equal(t, "direct", out.Name)

	require.NoError(t, UnmarshalConfig(sample{Name: "value"}, &out))
	assert.Equal(t, "value", out.Name)
}

func TestUnmarshalConfigNil(t *testing.T) {
	var out sample
	assert.Error(t, UnmarshalConfig(nil, &out))
}
