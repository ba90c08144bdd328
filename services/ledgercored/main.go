package ledgercored

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"subledger/config"
	"subledger/crypto"
	"subledger/native/allowance"
	"subledger/native/calldata"
	"subledger/native/eventsource"
	"subledger/native/kvstore"
	"subledger/native/ledger"
	"subledger/native/priceoracle"
	"subledger/native/spendauth"
	"subledger/native/system/quotas"
	"subledger/observability/logging"
	telemetry "subledger/observability/otel"
	"subledger/storage"
)

// Main runs the ledgercored daemon using the provided command line flags,
// grounded on services/oracle-attesterd's Main() wiring.
func Main() error {
	var cfgPath, feedSetPath string
	flag.StringVar(&cfgPath, "config", "services/ledgercored/config.yaml", "path to ledgercored config")
	flag.StringVar(&feedSetPath, "feeds", "", "path to TOML price feed set (optional)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEDGERCORED_ENV"))
	logging.Setup("ledgercored", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgercored",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Logging.FilePath != "" {
		sink := logging.NewFileSink(logging.FileSinkConfig{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})
		logging.SetupWithSink("ledgercored", env, sink)
	}

	db, err := storage.NewLevelDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	kv := kvstore.New(db)

	ledgerStore := ledger.NewStore(kv)
	subStore := spendauth.NewStore(kv)
	quotaStore := quotas.NewStore(kv)

	allowanceStore, err := buildAllowanceBackend(cfg, kv)
	if err != nil {
		return fmt.Errorf("build allowance persistence backend: %w", err)
	}

	authorizer := spendauth.NewAuthorizer(subStore)
	authorizer.SetWindow(cfg.SpendAuth.WindowDurationSeconds)
	authorizer.SetMaxRecords(cfg.SpendAuth.MaxRecordsPerEOA)

	priceCache := priceoracle.NewCache(priceoracle.Config{
		MaxOracleAgeSeconds:    cfg.PriceOracle.MaxOracleAgeSeconds,
		MaxPriceFeedAgeSeconds: cfg.PriceOracle.MaxPriceFeedAgeSeconds,
		MaxSafeValueAgeSeconds: cfg.PriceOracle.MaxSafeValueAgeSeconds,
	})

	evmClient, err := ethclient.Dial(strings.TrimSpace(cfg.Allowance.SubstrateRPCEndpoint))
	if err != nil {
		return fmt.Errorf("dial substrate rpc: %w", err)
	}
	defer evmClient.Close()

	if feedSetPath != "" {
		if !priceoracle.FeedSetFileExists(feedSetPath) {
			log.Printf("ledgercored: feed set %s not found, running with no registered feeds", feedSetPath)
		} else {
			feedSet, err := priceoracle.LoadFeedSet(feedSetPath)
			if err != nil {
				return fmt.Errorf("load feed set: %w", err)
			}
			if err := feedSet.RegisterAll(priceCache, evmClient); err != nil {
				return fmt.Errorf("register feeds: %w", err)
			}
		}
	}

	decimals := NewTokenDecimalsRegistry(nil)

	keyBytes, err := hex.DecodeString(strings.TrimSpace(readKeyFile(cfg.Allowance.SignerKeyFile)))
	if err != nil {
		return fmt.Errorf("decode signer key: %w", err)
	}
	signer, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("load signer key: %w", err)
	}

	submitter, err := allowance.NewEVMSubmitter(evmClient, common.HexToAddress(cfg.Allowance.ContractAddress), signer.PrivateKey)
	if err != nil {
		return fmt.Errorf("build evm submitter: %w", err)
	}
	policy := allowance.DefaultPolicy(int64(cfg.Allowance.MaxSpendingBps))
	policy.IncreaseThresholdBps = int64(cfg.Allowance.IncreaseThresholdBps)
	policy.MaxStalenessSeconds = cfg.Allowance.MaxStalenessSeconds
	policy.AbsoluteMaxSpendingBps = int64(cfg.Allowance.AbsoluteMaxSpendingBps)
	pusher := allowance.NewPusher(submitter, allowanceStore)

	registry := calldata.NewRegistry()
	if cfg.EventSource.CollectorAddress != "" {
		collector, err := crypto.DecodeAddress(cfg.EventSource.CollectorAddress)
		if err != nil {
			return fmt.Errorf("decode collector address: %w", err)
		}
		registry.Register(collector, calldata.ConstantParser{AcceptSelector: true})
	}

	chainClient, err := buildChainClient(cfg, evmClient, registry)
	if err != nil {
		return fmt.Errorf("build event source chain client: %w", err)
	}
	source := eventsource.NewSource(chainClient, ledgerStore, eventsource.Config{
		ConfirmationDepth: cfg.EventSource.ConfirmationBlocks,
		MaxBlocksPerQuery: cfg.EventSource.MaxBlocksPerQuery,
	})

	cycle := NewCycle(source, ledgerStore, subStore, priceCache, decimals, pusher, allowanceStore, policy, 4)

	hub := NewEventHub()
	cycle.SetEventHub(hub)

	admin := NewAdminServer(authorizer, quotaStore, NewAdminAuth(cfg.Admin.BearerToken))
	admin.SetEventHub(hub)
	daemon := NewDaemon(cycle, admin, cfg.ListenAddress)

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.RunOnce(stopCtx); err != nil {
		log.Printf("ledgercored: initial cycle failed: %v", err)
	}
	return daemon.Run(stopCtx)
}

// buildChainClient assembles the Event Source's transport, preferring
// GraphQL with a direct-RPC fallback ring, grounded on SPEC_FULL.md's
// ambient Event Source wiring.
func buildChainClient(cfg config.Config, evmClient *ethclient.Client, registry *calldata.Registry) (eventsource.ChainClient, error) {
	collector := common.Address{}
	if cfg.EventSource.CollectorAddress != "" {
		addr, err := crypto.DecodeAddress(cfg.EventSource.CollectorAddress)
		if err != nil {
			return nil, err
		}
		collector = common.BytesToAddress(addr.Bytes())
	}

	named := make(map[string]eventsource.ChainClient)
	var order []string

	if cfg.EventSource.GraphQLEndpoint != "" {
		named["graphql"] = eventsource.NewGraphQLClient(cfg.EventSource.GraphQLEndpoint)
		order = append(order, "graphql")
	}

	rpcEndpoints := cfg.EventSource.RPCEndpoints
	if cfg.EventSource.DNSServer != "" && cfg.EventSource.DNSService != "" {
		resolved, err := eventsource.ResolveSRV(cfg.EventSource.DNSServer, cfg.EventSource.DNSService)
		if err != nil {
			log.Printf("ledgercored: dns srv resolution failed, falling back to static rpc_endpoints: %v", err)
		} else {
			rpcEndpoints = append(resolved, rpcEndpoints...)
		}
	}
	for i, endpoint := range rpcEndpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			log.Printf("ledgercored: dial rpc endpoint %s failed: %v", endpoint, err)
			continue
		}
		name := fmt.Sprintf("rpc-%d", i)
		named[name] = eventsource.NewRPCClient(client, collector, registry)
		order = append(order, name)
	}

	if len(named) == 0 {
		named["direct"] = eventsource.NewRPCClient(evmClient, collector, registry)
		order = append(order, "direct")
	}
	return eventsource.NewFallbackRing(named, order), nil
}

// allowanceBackend is the persistence surface both the kv-backed
// allowance.Store and the relational allowance.SQLStore satisfy, letting
// buildAllowanceBackend swap the durability layer without touching Cycle or
// Pusher wiring.
type allowanceBackend interface {
	allowanceStateReader
	allowance.ConfirmationTracker
}

// buildAllowanceBackend selects the PushState/confirmation persistence layer
// per cfg.Allowance.PersistenceBackend: the embedded KV store by default, or
// a relational sqlite/postgres store when an operator needs durability
// queryable outside the daemon.
func buildAllowanceBackend(cfg config.Config, kv *kvstore.Store) (allowanceBackend, error) {
	switch cfg.Allowance.PersistenceBackend {
	case "sqlite":
		return allowance.NewSQLiteStore(cfg.Allowance.SQLiteDSN)
	case "postgres":
		return allowance.NewPostgresStore(cfg.Allowance.PostgresDSN)
	default:
		return allowance.NewStore(kv), nil
	}
}

func readKeyFile(path string) string {
	if path == "" {
		return ""
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		log.Printf("ledgercored: read signer key file %s: %v", path, err)
		return ""
	}
	return string(contents)
}
