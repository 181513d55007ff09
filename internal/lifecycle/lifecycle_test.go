package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/pg-kafka-bridge/internal/config"
	"github.com/estuary/pg-kafka-bridge/internal/errorpolicy"
)

func TestPolicyFromConfig(t *testing.T) {
	require.Equal(t, errorpolicy.Log, policyFromConfig(config.OnErrorLog))
	require.Equal(t, errorpolicy.Exit, policyFromConfig(config.OnErrorExit))
}

func TestShutdownAndReloadLatchesAreIndependent(t *testing.T) {
	b := &Bridge{}
	require.False(t, b.ShutdownRequested())
	require.False(t, b.ReloadRequested())

	b.reloadRequested.Store(true)
	require.True(t, b.ReloadRequested())
	require.False(t, b.ShutdownRequested())

	b.shutdownRequested.Store(true)
	require.True(t, b.ShutdownRequested())
}
