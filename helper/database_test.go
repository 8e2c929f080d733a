package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabaseConfiguration(t *testing.T) {
	t.Run("Valid configuration from environment", func(t *testing.T) {
		SetTestDatabaseConfigEnvs(t, "5432")

		config, err := NewDatabaseConfiguration()
		require.NoError(t, err, "Expected NewDatabaseConfiguration to not return an error")
		assert.Equal(t, "localhost", config.Host, "Expected the host from the environment")
		assert.Equal(t, "5432", config.Port, "Expected the port from the environment")
		assert.Equal(t, "database", config.Database, "Expected the database name from the environment")
	})

	t.Run("Missing required variables fail as config mismatch", func(t *testing.T) {
		t.Setenv("DB_HOST", "")
		t.Setenv("DB_PORT", "")
		t.Setenv("DB_DATABASE", "")
		t.Setenv("DB_USERNAME", "")

		_, err := NewDatabaseConfiguration()
		require.Error(t, err, "Expected NewDatabaseConfiguration to fail without required variables")
		assert.True(t, IsKind(err, KindConfigMismatch), "Expected a config mismatch kind")
	})

	t.Run("Schema and sslmode default when unset", func(t *testing.T) {
		SetTestDatabaseConfigEnvs(t, "5432")
		t.Setenv("DB_SCHEMA", "")
		t.Setenv("DB_SSLMODE", "")

		config, err := NewDatabaseConfiguration()
		require.NoError(t, err, "Expected NewDatabaseConfiguration to not return an error")
		assert.Equal(t, "public", config.Schema, "Expected the schema to default to public")
		assert.Equal(t, "disable", config.SSLMode, "Expected sslmode to default to disable")
	})
}
