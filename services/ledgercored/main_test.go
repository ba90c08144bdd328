package ledgercored

import (
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/config"
	"subledger/native/allowance"
	"subledger/native/kvstore"
	"subledger/storage"
)

func TestBuildAllowanceBackendDefaultsToKVStore(t *testing.T) {
	kv := kvstore.New(storage.NewMemDB())
	backend, err := buildAllowanceBackend(config.Config{}, kv)
	require.NoError(t, err)
	require.IsType(t, &allowance.Store{}, backend)
}

func TestBuildAllowanceBackendSelectsSQLite(t *testing.T) {
	cfg := config.Config{}
	cfg.Allowance.PersistenceBackend = "sqlite"
	cfg.Allowance.SQLiteDSN = "file:" + t.Name() + "?mode=memory&cache=shared"

	backend, err := buildAllowanceBackend(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &allowance.SQLStore{}, backend)
}
