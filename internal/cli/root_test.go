package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhound/voxhound/internal/config"
)

func testConfig() *config.Config {
	return config.DefaultConfig()
}

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()

	assert.Equal(t, "voxhound", root.Use)
	assert.Equal(t, version, root.Version)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestStartCommandFlags(t *testing.T) {
	start, _, err := GetRootCmd().Find([]string{"start"})
	require.NoError(t, err)
	require.Equal(t, "start", start.Use)

	for _, flag := range []string{
		"data-dir", "http-port", "storage",
		"s3-bucket", "s3-region", "s3-prefix", "s3-endpoint",
		"idle-timeout", "sweep-interval", "retry-attempts", "usage-telemetry",
	} {
		assert.NotNil(t, start.Flags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestBuildBackendUnknownType(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Type = "gcs"

	_, err := buildBackend(t.Context(), cfg)
	assert.Error(t, err)
}

func TestBuildBackendLocal(t *testing.T) {
	cfg := testConfig()
	cfg.DataDir = t.TempDir()

	b, err := buildBackend(t.Context(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, b)
}
