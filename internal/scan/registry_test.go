package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/scoring"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	scorer := scoring.NewEngine(scoring.DefaultConfig(), nil)

	require.NoError(t, reg.Register(NewFlowSurge(DefaultConfig(), scorer, testLogger())))
	require.NoError(t, reg.Register(NewDarkPoolAccum(DefaultConfig(), scorer, testLogger())))

	got, err := reg.Get("flow_surge")
	require.NoError(t, err)
	assert.Equal(t, "flow_surge", got.Name())

	_, err = reg.Get("unknown")
	assert.Error(t, err)

	assert.Equal(t, []string{"darkpool_accumulation", "flow_surge"}, reg.List())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	scorer := scoring.NewEngine(scoring.DefaultConfig(), nil)

	require.NoError(t, reg.Register(NewFlowSurge(DefaultConfig(), scorer, testLogger())))
	assert.Error(t, reg.Register(NewFlowSurge(DefaultConfig(), scorer, testLogger())))
}
