package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithSinkWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgercored.log")

	sink := NewFileSink(FileSinkConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	logger := SetupWithSink("ledgercored", "test", sink)
	logger.Info("hello")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"message":"hello"`)
	require.Contains(t, string(contents), `"service":"ledgercored"`)
}
