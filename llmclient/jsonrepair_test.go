package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONWithRepairValidInput(t *testing.T) {
	dict, err := ParseJSONWithRepair(`{"n": 4}`)
	require.NoError(t, err)
	assert.Equal(t, float64(4), dict["n"])
}

func TestParseJSONWithRepairUnescapedNewline(t *testing.T) {
	raw := "{\"text\": \"line one\nline two\"}"
	dict, err := ParseJSONWithRepair(raw)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", dict["text"])
}

func TestParseJSONWithRepairGivesUpAfterThreeAttempts(t *testing.T) {
	_, err := ParseJSONWithRepair(`not json at all`)
	require.Error(t, err)
}

func TestComputeCost(t *testing.T) {
	assert.InDelta(t, 0.003, ComputeCost(1000, 3.0), 1e-9)
}
