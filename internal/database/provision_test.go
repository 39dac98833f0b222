package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryci/gantry/internal/config"
)

func TestDeriveURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		job  string
		want string
	}{
		{"simple", "postgres://postgres@localhost/cargo_registry", "stable", "postgres://postgres@localhost/cargo_registry_stable"},
		{"with port", "postgres://postgres@localhost:5432/cargo_registry", "beta", "postgres://postgres@localhost:5432/cargo_registry_beta"},
		{"job name sanitized", "postgres://localhost/registry", "Nightly Build", "postgres://localhost/registry_nightly_build"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DeriveURL(tc.url, tc.job)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeriveURLRejectsMissingDatabaseName(t *testing.T) {
	_, err := DeriveURL("postgres://localhost/", "stable")
	require.Error(t, err)
	_, err = DeriveURL("postgres://localhost", "stable")
	require.Error(t, err)
}

func TestProvisionReturnsIsolatedOverrides(t *testing.T) {
	p := NewProvisioner(config.DatabaseConfig{}, map[string]string{
		EnvDatabaseURL:     "postgres://localhost/registry",
		EnvTestDatabaseURL: "postgres://localhost/registry_test",
	})

	overrides, cleanup, err := p.Provision(context.Background(), "stable")
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "postgres://localhost/registry_stable", overrides[EnvDatabaseURL])
	assert.Equal(t, "postgres://localhost/registry_test_stable", overrides[EnvTestDatabaseURL])
}

func TestProvisionRunsSetupCommandWithDerivedEnv(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "setup.txt")
	p := NewProvisioner(config.DatabaseConfig{
		SetupCommand: "echo \"$DATABASE_URL\" > " + marker,
	}, map[string]string{
		EnvDatabaseURL: "postgres://localhost/registry",
	})

	_, cleanup, err := p.Provision(context.Background(), "beta")
	require.NoError(t, err)
	defer cleanup()

	content, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Contains(t, string(content), "postgres://localhost/registry_beta")
}

func TestProvisionSetupFailureIsFatal(t *testing.T) {
	p := NewProvisioner(config.DatabaseConfig{
		SetupCommand: "exit 9",
	}, map[string]string{
		EnvDatabaseURL: "postgres://localhost/registry",
	})

	_, _, err := p.Provision(context.Background(), "stable")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup command failed")
}

func TestCleanupRunsDropCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "drop.txt")
	p := NewProvisioner(config.DatabaseConfig{
		DropCommand: "echo dropped > " + marker,
	}, map[string]string{
		EnvDatabaseURL: "postgres://localhost/registry",
	})

	_, cleanup, err := p.Provision(context.Background(), "stable")
	require.NoError(t, err)
	cleanup()

	assert.FileExists(t, marker)
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewProvisioner(config.DatabaseConfig{}, nil).Enabled())
	assert.True(t, NewProvisioner(config.DatabaseConfig{}, map[string]string{EnvDatabaseURL: "postgres://x/y"}).Enabled())
}
