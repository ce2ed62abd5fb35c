package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeWritesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levd.log")
	t.Setenv("LOG_FILE", path)

	Initialize("info")
	Get().Info().Msg("file sink check")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file sink check")
}

func TestInitializeWithoutLogFile(t *testing.T) {
	t.Setenv("LOG_FILE", "")

	Initialize("info")
	Get().Info().Msg("console only")
}
