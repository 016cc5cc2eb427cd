package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsExpectedFailure(t *testing.T) {
	assert.True(t, isExpectedFailure(errors.New("dial tcp: lookup pve1: hostname lookup failed")))
	assert.True(t, isExpectedFailure(errors.New("connect: No route to host")))
	assert.True(t, isExpectedFailure(errors.New("cluster unreachable: 595 Errors")))
	assert.False(t, isExpectedFailure(errors.New("invalid json response")))
	assert.False(t, isExpectedFailure(nil))
}

func TestSpecsFromConfig(t *testing.T) {
	specs := specsFromConfig(map[string]any{
		"cores":   float64(4),
		"sockets": float64(1),
		"memory":  float64(8192),
		"ostype":  "l26",
	})
	assert.Equal(t, 4, specs.Cores)
	assert.Equal(t, 1, specs.Sockets)
	assert.Equal(t, 8192, specs.MemoryMB)
	assert.Equal(t, "l26", specs.OSType)
}
