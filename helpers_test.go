package replayflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPtr(t *testing.T) {
	step := ToPtr(3)
	require.NotNil(t, step)
	assert.Equal(t, 3, *step)

	status := ToPtr(RunStatusFailed)
	filter := RunFilter{Status: status}
	assert.Equal(t, RunStatusFailed, *filter.Status)

	// Each call copies its argument
	v := 1
	p := ToPtr(v)
	v = 2
	assert.Equal(t, 1, *p)
	assert.NotSame(t, ToPtr(v), ToPtr(v))
}
