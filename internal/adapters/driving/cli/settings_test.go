package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

func TestSettingsCmd_IsSettingsOnly(t *testing.T) {
	assert.Equal(t, "true", settingsCmd.Annotations[annotationSettingsOnly])
}

func TestSettingsCmd_ShowsSections(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand(t, "", "settings")
	require.NoError(t, err)

	for _, want := range []string{
		"[Chunking]", "[Preprocess]", "[Embedding]", "[Vector Store]",
		"[Relational Store]", "[Audit]", "[Retrieval]", "[Timeouts]", "[Scheduler]",
	} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "Max tokens:")
	assert.Contains(t, out, "512")
	assert.Contains(t, out, "localhost:6333")
	assert.Contains(t, out, "world_knowledge")
	assert.Contains(t, out, "5m0s")
}

func TestSettingsCmd_MasksSecrets(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	s := domain.DefaultSettings()
	s.Embedding.Provider = domain.EmbeddingProviderOpenAI
	s.Embedding.APIKey = "sk-abcdefghijklmnop"
	s.Relational.Driver = domain.RelationalPostgres
	s.Relational.Password = "hunter2"
	ts.settings.settings = &s

	out, err := executeCommand(t, "", "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "sk-a...mnop")
	assert.NotContains(t, out, "sk-abcdefghijklmnop")
	assert.NotContains(t, out, "hunter2")
}

func TestSettingsCmd_InvalidStoredSettings(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.settings.getErr = fmt.Errorf("%w: unknown vector provider \"milvus\"", domain.ErrInvalidInput)

	out, err := executeCommand(t, "", "settings")
	require.NoError(t, err)
	assert.Contains(t, out, "Warning:")
	assert.Contains(t, out, "milvus")
	assert.Contains(t, out, "Showing defaults")
}

func TestSettingsSetCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand(t, "", "settings", "set", "chunking.max_tokens", "256")
	require.NoError(t, err)
	assert.Equal(t, "256", ts.settings.set["chunking.max_tokens"])
	assert.Contains(t, out, "Set chunking.max_tokens = 256")
}

func TestSettingsSetCmd_SecretFromStdin(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand(t, "sk-abcdefghijklmnop\n", "settings", "set", "embedding.api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-abcdefghijklmnop", ts.settings.set["embedding.api_key"])
	assert.Contains(t, out, "Set embedding.api_key = sk-a...mnop")
}

func TestSettingsSetCmd_MissingValue(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := executeCommand(t, "", "settings", "set", "vector.host")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing value for vector.host")
}

func TestSettingsSetCmd_Rejected(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.settings.setErr = fmt.Errorf("%w: unknown setting key %q", domain.ErrInvalidInput, "nope")

	_, err := executeCommand(t, "", "settings", "set", "nope", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "settings keys")
}

func TestSettingsSetCmd_SaveFailure(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.settings.setErr = errors.New("disk full")

	_, err := executeCommand(t, "", "settings", "set", "vector.host", "qdrant")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save setting: disk full")
}

func TestSettingsKeysCmd(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand(t, "", "settings", "keys")
	require.NoError(t, err)
	assert.Equal(t, "chunking.max_tokens\nembedding.api_key\nvector.provider\n", out)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "abcd...mnop", maskSecret("abcdefghijklmnop"))
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://kb:secret@db:5432/kb", "postgres://kb:****@db:5432/kb"},
		{"postgres://kb@db/kb", "postgres://kb@db/kb"},
		{"host=db user=kb", "host=db user=kb"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskDSN(tt.dsn))
	}
}
