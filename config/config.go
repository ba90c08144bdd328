// Package config loads the authorization and accounting core's runtime
// configuration from YAML, grounded on services/swapd's Config/Load pattern:
// a root Config struct composed of per-component sub-structs, applyDefaults,
// and validate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for ledgercored, covering every
// option enumerated in the specification's configuration list.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DatabasePath  string          `yaml:"database"`
	SpendAuth     SpendAuthConfig `yaml:"spend_authorizer"`
	Allowance     AllowanceConfig `yaml:"allowance"`
	EventSource   EventSourceCfg  `yaml:"event_source"`
	PriceOracle   PriceOracleCfg  `yaml:"price_oracle"`
	Admin         AdminConfig     `yaml:"admin"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// LoggingConfig optionally redirects structured logs to a rotating file
// sink instead of stdout (spec's ambient logging concern: operators running
// ledgercored as a long-lived daemon need bounded on-disk log retention).
type LoggingConfig struct {
	// FilePath, when set, routes logs through a rotating file sink instead
	// of stdout.
	FilePath string `yaml:"file_path"`
	// MaxSizeMB caps a single log file's size before rotation.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups bounds how many rotated files are retained.
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays bounds how long a rotated file is retained.
	MaxAgeDays int `yaml:"max_age_days"`
}

// SpendAuthConfig tunes the Spend Authorizer.
type SpendAuthConfig struct {
	WindowDurationSeconds int64 `yaml:"window_duration_seconds"`
	MaxRecordsPerEOA      int   `yaml:"max_records_per_eoa"`
}

// AllowanceConfig tunes the Allowance Calculator & Pusher.
type AllowanceConfig struct {
	MaxSpendingBps         int   `yaml:"max_spending_bps"`
	IncreaseThresholdBps   int   `yaml:"allowance_increase_threshold_bps"`
	MaxStalenessSeconds    int64 `yaml:"max_staleness_seconds"`
	AbsoluteMaxSpendingBps int   `yaml:"absolute_max_spending_bps"`

	// SubstrateRPCEndpoint is the EVM JSON-RPC endpoint the EVMSubmitter
	// broadcasts batch_update transactions against.
	SubstrateRPCEndpoint string `yaml:"substrate_rpc_endpoint"`
	// ContractAddress is the enforcement substrate contract exposing
	// batch_update(address,uint256,address[],uint256[]).
	ContractAddress string `yaml:"contract_address"`
	// SignerKeyFile points at a hex-encoded ECDSA private key authorizing
	// batch_update submissions, read the way oracle-attesterd reads its
	// attestation signing key.
	SignerKeyFile string `yaml:"signer_key_file"`

	// PersistenceBackend selects where PushState/confirmation bookkeeping is
	// durably stored: "kv" (default, the embedded store), "sqlite", or
	// "postgres". The latter two trade the embedded KV store for a
	// relational one queryable outside the daemon.
	PersistenceBackend string `yaml:"persistence_backend"`
	// SQLiteDSN is the sqlite file path used when PersistenceBackend is "sqlite".
	SQLiteDSN string `yaml:"sqlite_dsn"`
	// PostgresDSN is the connection string used when PersistenceBackend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EventSourceCfg tunes the reorg-safe Event Source.
type EventSourceCfg struct {
	ConfirmationBlocks  uint64 `yaml:"confirmation_blocks"`
	MaxBlockHashCache   int    `yaml:"max_block_hash_cache"`
	MaxBlocksPerQuery   uint64 `yaml:"max_blocks_per_query"`
	MaxHistoricalBlocks uint64 `yaml:"max_historical_blocks"`

	// GraphQLEndpoint is the indexer's primary transport (spec §4.4).
	GraphQLEndpoint string `yaml:"graphql_endpoint"`
	// RPCEndpoints lists the chunked-direct-RPC fallback ring, tried in
	// order with per-endpoint failure rotation.
	RPCEndpoints []string `yaml:"rpc_endpoints"`
	// CollectorAddress is the contract emitting Transfer/ProtocolExecution
	// logs the Event Source tails.
	CollectorAddress string `yaml:"collector_address"`
	// DNSServer/DNSService, when both set, resolve a SRV record naming the
	// substrate RPC fleet ahead of the static RPCEndpoints list.
	DNSServer  string `yaml:"dns_server"`
	DNSService string `yaml:"dns_service"`
}

// PriceOracleCfg tunes the price feed cache.
type PriceOracleCfg struct {
	MaxOracleAgeSeconds    int64 `yaml:"max_oracle_age_seconds"`
	MaxSafeValueAgeSeconds int64 `yaml:"max_safe_value_age_seconds"`
	MaxPriceFeedAgeSeconds int64 `yaml:"max_price_feed_age_seconds"`
}

// AdminConfig secures the operator CLI's RPC surface, mirrored on swapd's
// AdminConfig.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// Load reads and validates configuration from path, applying defaults for
// every option the spec documents.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/ledgercored.db"
	}
	if cfg.SpendAuth.WindowDurationSeconds == 0 {
		cfg.SpendAuth.WindowDurationSeconds = 86400
	}
	if cfg.SpendAuth.MaxRecordsPerEOA == 0 {
		cfg.SpendAuth.MaxRecordsPerEOA = 200
	}
	if cfg.Allowance.MaxSpendingBps == 0 {
		cfg.Allowance.MaxSpendingBps = 1000
	}
	if cfg.Allowance.PersistenceBackend == "" {
		cfg.Allowance.PersistenceBackend = "kv"
	}
	if cfg.Allowance.IncreaseThresholdBps == 0 {
		cfg.Allowance.IncreaseThresholdBps = 200
	}
	if cfg.Allowance.MaxStalenessSeconds == 0 {
		cfg.Allowance.MaxStalenessSeconds = 2700
	}
	if cfg.Allowance.AbsoluteMaxSpendingBps == 0 {
		cfg.Allowance.AbsoluteMaxSpendingBps = 2000
	}
	if cfg.EventSource.ConfirmationBlocks == 0 {
		cfg.EventSource.ConfirmationBlocks = 60
	}
	if cfg.EventSource.MaxBlockHashCache == 0 {
		cfg.EventSource.MaxBlockHashCache = 1000
	}
	if cfg.EventSource.MaxBlocksPerQuery == 0 {
		cfg.EventSource.MaxBlocksPerQuery = 1000
	}
	if cfg.EventSource.MaxHistoricalBlocks == 0 {
		cfg.EventSource.MaxHistoricalBlocks = 2_592_000
	}
	if cfg.PriceOracle.MaxOracleAgeSeconds == 0 {
		cfg.PriceOracle.MaxOracleAgeSeconds = 3600
	}
	if cfg.PriceOracle.MaxSafeValueAgeSeconds == 0 {
		cfg.PriceOracle.MaxSafeValueAgeSeconds = 3600
	}
	if cfg.PriceOracle.MaxPriceFeedAgeSeconds == 0 {
		cfg.PriceOracle.MaxPriceFeedAgeSeconds = 86400
	}
	if cfg.Logging.FilePath != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 7
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
}

func validate(cfg Config) error {
	if cfg.SpendAuth.WindowDurationSeconds <= 0 {
		return fmt.Errorf("spend_authorizer.window_duration_seconds must be positive")
	}
	if cfg.SpendAuth.MaxRecordsPerEOA <= 0 {
		return fmt.Errorf("spend_authorizer.max_records_per_eoa must be positive")
	}
	if cfg.Allowance.AbsoluteMaxSpendingBps <= 0 || cfg.Allowance.AbsoluteMaxSpendingBps > 10000 {
		return fmt.Errorf("allowance.absolute_max_spending_bps must be within (0, 10000]")
	}
	if cfg.EventSource.MaxBlocksPerQuery == 0 || cfg.EventSource.MaxBlocksPerQuery > 1000 {
		return fmt.Errorf("event_source.max_blocks_per_query must be within (0, 1000]")
	}
	switch cfg.Allowance.PersistenceBackend {
	case "kv":
	case "sqlite":
		if cfg.Allowance.SQLiteDSN == "" {
			return fmt.Errorf("allowance.sqlite_dsn is required when persistence_backend is sqlite")
		}
	case "postgres":
		if cfg.Allowance.PostgresDSN == "" {
			return fmt.Errorf("allowance.postgres_dsn is required when persistence_backend is postgres")
		}
	default:
		return fmt.Errorf("allowance.persistence_backend must be one of kv, sqlite, postgres")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return nil
	}
	if a.BearerTokenFile != "" {
		contents, err := os.ReadFile(a.BearerTokenFile)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		a.BearerToken = string(contents)
	}
	return nil
}
