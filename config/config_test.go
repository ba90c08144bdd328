package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgercored.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "listen: \":9090\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.ListenAddress)
	require.EqualValues(t, 86400, cfg.SpendAuth.WindowDurationSeconds)
	require.Equal(t, 200, cfg.SpendAuth.MaxRecordsPerEOA)
	require.Equal(t, 1000, cfg.Allowance.MaxSpendingBps)
	require.Equal(t, 200, cfg.Allowance.IncreaseThresholdBps)
	require.EqualValues(t, 2700, cfg.Allowance.MaxStalenessSeconds)
	require.Equal(t, 2000, cfg.Allowance.AbsoluteMaxSpendingBps)
	require.EqualValues(t, 60, cfg.EventSource.ConfirmationBlocks)
	require.Equal(t, 1000, cfg.EventSource.MaxBlockHashCache)
	require.EqualValues(t, 1000, cfg.EventSource.MaxBlocksPerQuery)
	require.EqualValues(t, 2_592_000, cfg.EventSource.MaxHistoricalBlocks)
	require.EqualValues(t, 3600, cfg.PriceOracle.MaxOracleAgeSeconds)
	require.EqualValues(t, 3600, cfg.PriceOracle.MaxSafeValueAgeSeconds)
	require.EqualValues(t, 86400, cfg.PriceOracle.MaxPriceFeedAgeSeconds)
	require.Equal(t, "kv", cfg.Allowance.PersistenceBackend)
}

func TestLoadRejectsSQLiteBackendWithoutDSN(t *testing.T) {
	path := writeTempConfig(t, `
allowance:
  persistence_backend: sqlite
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAcceptsSQLiteBackendWithDSN(t *testing.T) {
	path := writeTempConfig(t, `
allowance:
  persistence_backend: sqlite
  sqlite_dsn: "/tmp/ledgercored-allowance.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Allowance.PersistenceBackend)
}

func TestLoadHonoursExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
listen: ":7777"
spend_authorizer:
  window_duration_seconds: 3600
  max_records_per_eoa: 50
allowance:
  absolute_max_spending_bps: 500
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.EqualValues(t, 3600, cfg.SpendAuth.WindowDurationSeconds)
	require.Equal(t, 50, cfg.SpendAuth.MaxRecordsPerEOA)
	require.Equal(t, 500, cfg.Allowance.AbsoluteMaxSpendingBps)
}

func TestLoadRejectsInvalidAbsoluteMaxSpendingBps(t *testing.T) {
	path := writeTempConfig(t, `
allowance:
  absolute_max_spending_bps: 20000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsOversizedMaxBlocksPerQuery(t *testing.T) {
	path := writeTempConfig(t, `
event_source:
  max_blocks_per_query: 5000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestAdminBearerTokenFromFile(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("s3cr3t"), 0o600))

	path := writeTempConfig(t, "admin:\n  bearer_token_file: \"" + tokenPath + "\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", cfg.Admin.BearerToken)
}
