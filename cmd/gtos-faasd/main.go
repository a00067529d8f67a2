// Command gtos-faasd wires up the blockchain FaaS execution pipeline
// (C1-C8) into one process: KvStore, Gas-Bank ledger, Function
// registry, Sandbox executor, Trigger evaluator (used internally by the
// event processor), Event processor, Callback orchestrator, and Meta-tx
// relayer.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/gtos-faas/internal/callback"
	"github.com/tos-network/gtos-faas/internal/eventproc"
	"github.com/tos-network/gtos-faas/internal/flags"
	"github.com/tos-network/gtos-faas/internal/gasbank"
	"github.com/tos-network/gtos-faas/internal/gtosmetrics"
	"github.com/tos-network/gtos-faas/internal/hostcall"
	"github.com/tos-network/gtos-faas/internal/ratelimit"
	"github.com/tos-network/gtos-faas/internal/registry"
	"github.com/tos-network/gtos-faas/internal/relayer"
	"github.com/tos-network/gtos-faas/internal/sandbox"
	"github.com/tos-network/gtos-faas/kvstore"
	"github.com/tos-network/gtos-faas/log"
)

var (
	gitCommit = ""
	gitDate   = ""
)

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace (parsed but not applied; every level is logged)",
		Value:    int(log.LvlInfo),
		Category: flags.LoggingCategory,
	}

	kvStoreBackendFlag = &cli.StringFlag{
		Name:     "kvstore.backend",
		Usage:    "kvstore backend: memory or leveldb",
		Category: flags.KvStoreCategory,
	}
	kvStoreDirFlag = &cli.StringFlag{
		Name:     "kvstore.dir",
		Usage:    "leveldb data directory (unused for the memory backend)",
		Category: flags.KvStoreCategory,
	}

	gasBankBaselineFlag = &cli.Uint64Flag{
		Name:     "gasbank.baseline",
		Usage:    "flat gas cost charged per invocation",
		Category: flags.GasBankCategory,
	}
	gasBankPerMsFlag = &cli.Uint64Flag{
		Name:     "gasbank.per-ms",
		Usage:    "gas cost per millisecond of execution",
		Category: flags.GasBankCategory,
	}
	gasBankPerMBFlag = &cli.Uint64Flag{
		Name:     "gasbank.per-mb",
		Usage:    "gas cost per MB of peak memory",
		Category: flags.GasBankCategory,
	}

	registryCacheSizeFlag = &cli.IntFlag{
		Name:     "registry.cache-size",
		Usage:    "number of FunctionVersions cached in memory by the registry",
		Category: flags.RegistryCategory,
	}

	sandboxProgramCacheBytesFlag = &cli.IntFlag{
		Name:     "sandbox.program-cache-bytes",
		Usage:    "memory budget for the compiled-program cache",
		Category: flags.SandboxCategory,
	}

	relayerChainRPCURLFlag = &cli.StringFlag{
		Name:     "relayer.chain-rpc-url",
		Usage:    "JSON-RPC endpoint stored in the relayer config; gtos-faasd submits through its in-process dev chain client and does not connect to it",
		Category: flags.RelayerCategory,
	}

	rateLimitGlobalFlag = &cli.IntFlag{
		Name:     "ratelimit.global-per-minute",
		Usage:    "global invocation rate limit per minute",
		Category: flags.RateLimitCategory,
	}
	rateLimitPerIPFlag = &cli.IntFlag{
		Name:     "ratelimit.per-ip-per-minute",
		Usage:    "per-IP invocation rate limit per minute",
		Category: flags.RateLimitCategory,
	}
	rateLimitPerPrincipalFlag = &cli.IntFlag{
		Name:     "ratelimit.per-principal-per-minute",
		Usage:    "per-principal invocation rate limit per minute",
		Category: flags.RateLimitCategory,
	}

	metricsInfluxURLFlag = &cli.StringFlag{
		Name:     "metrics.influx-url",
		Usage:    "InfluxDB URL invocation and ledger metrics are written to",
		Category: flags.MetricsCategory,
	}
	metricsInfluxTokenFlag = &cli.StringFlag{
		Name:     "metrics.influx-token",
		Usage:    "InfluxDB auth token",
		Category: flags.MetricsCategory,
	}
	metricsInfluxOrgFlag = &cli.StringFlag{
		Name:     "metrics.influx-org",
		Usage:    "InfluxDB organization",
		Category: flags.MetricsCategory,
	}
	metricsInfluxBucketFlag = &cli.StringFlag{
		Name:     "metrics.influx-bucket",
		Usage:    "InfluxDB bucket",
		Category: flags.MetricsCategory,
	}
)

var appFlags = []cli.Flag{
	configFlag, verbosityFlag,
	kvStoreBackendFlag, kvStoreDirFlag,
	gasBankBaselineFlag, gasBankPerMsFlag, gasBankPerMBFlag,
	registryCacheSizeFlag,
	sandboxProgramCacheBytesFlag,
	relayerChainRPCURLFlag,
	rateLimitGlobalFlag, rateLimitPerIPFlag, rateLimitPerPrincipalFlag,
	metricsInfluxURLFlag, metricsInfluxTokenFlag, metricsInfluxOrgFlag, metricsInfluxBucketFlag,
}

func main() {
	app := cli.NewApp()
	app.Name = "gtos-faasd"
	app.Usage = "blockchain FaaS execution pipeline"
	app.Flags = appFlags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags overlays any CLI flags the operator actually set onto cfg,
// which already holds config-file/default values; an unset flag never
// clobbers a config-file setting.
func applyFlags(c *cli.Context, cfg *faasConfig) {
	if c.IsSet(kvStoreBackendFlag.Name) {
		cfg.KvStore.Backend = c.String(kvStoreBackendFlag.Name)
	}
	if c.IsSet(kvStoreDirFlag.Name) {
		cfg.KvStore.Dir = c.String(kvStoreDirFlag.Name)
	}
	if c.IsSet(gasBankBaselineFlag.Name) {
		cfg.GasBank.Baseline = c.Uint64(gasBankBaselineFlag.Name)
	}
	if c.IsSet(gasBankPerMsFlag.Name) {
		cfg.GasBank.PerMs = c.Uint64(gasBankPerMsFlag.Name)
	}
	if c.IsSet(gasBankPerMBFlag.Name) {
		cfg.GasBank.PerMB = c.Uint64(gasBankPerMBFlag.Name)
	}
	if c.IsSet(registryCacheSizeFlag.Name) {
		cfg.Registry.CacheSize = c.Int(registryCacheSizeFlag.Name)
	}
	if c.IsSet(sandboxProgramCacheBytesFlag.Name) {
		cfg.Sandbox.ProgramCacheBytes = c.Int(sandboxProgramCacheBytesFlag.Name)
	}
	if c.IsSet(relayerChainRPCURLFlag.Name) {
		cfg.Relayer.ChainRPCURL = c.String(relayerChainRPCURLFlag.Name)
	}
	if c.IsSet(rateLimitGlobalFlag.Name) {
		cfg.RateLimit.GlobalPerMinute = c.Int(rateLimitGlobalFlag.Name)
	}
	if c.IsSet(rateLimitPerIPFlag.Name) {
		cfg.RateLimit.PerIPPerMinute = c.Int(rateLimitPerIPFlag.Name)
	}
	if c.IsSet(rateLimitPerPrincipalFlag.Name) {
		cfg.RateLimit.PerPrincipalPerMin = c.Int(rateLimitPerPrincipalFlag.Name)
	}
	if c.IsSet(metricsInfluxURLFlag.Name) {
		cfg.Metrics.InfluxURL = c.String(metricsInfluxURLFlag.Name)
	}
	if c.IsSet(metricsInfluxTokenFlag.Name) {
		cfg.Metrics.InfluxToken = c.String(metricsInfluxTokenFlag.Name)
	}
	if c.IsSet(metricsInfluxOrgFlag.Name) {
		cfg.Metrics.InfluxOrg = c.String(metricsInfluxOrgFlag.Name)
	}
	if c.IsSet(metricsInfluxBucketFlag.Name) {
		cfg.Metrics.InfluxBucket = c.String(metricsInfluxBucketFlag.Name)
	}
}

// pipeline bundles every wired component so run's caller (or a test)
// can drive it without re-parsing CLI flags.
type pipeline struct {
	store    kvstore.Store
	ledger   *gasbank.Ledger
	registry *registry.Registry
	executor *sandbox.Executor
	relayer  *relayer.Relayer
	events   *eventproc.Service
	metrics  *gtosmetrics.Sink
	limiter  *ratelimit.Limiter
}

func run(c *cli.Context) error {
	log.SetHandler(log.StreamHandler(os.Stderr))

	cfg := defaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return fmt.Errorf("gtos-faasd: load config: %w", err)
		}
	}
	applyFlags(c, &cfg)

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.metrics.Close()

	log.Info("gtos-faasd started", "kvstore_backend", cfg.KvStore.Backend)
	select {} // demo entrypoint: block forever; a real deployment serves an API here
}

func buildPipeline(cfg faasConfig) (*pipeline, error) {
	store, err := openStore(cfg.KvStore)
	if err != nil {
		return nil, fmt.Errorf("gtos-faasd: open kvstore: %w", err)
	}

	metricsSink := gtosmetrics.NewSink(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)

	ledger := gasbank.New(store)
	ledger.OnEntry = func(entryType, principal string, amount, fee uint64) {
		metricsSink.RecordLedgerEntry(context.Background(), principal, entryType, amount, fee)
	}

	reg, err := registry.New(store, cfg.Registry.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("gtos-faasd: open registry: %w", err)
	}

	exec := sandbox.NewWithCacheSize(hostcall.Surface{
		Oracle: hostcall.NewMockOracle(),
		TEE:    hostcall.MockTEE{},
		FHE:    hostcall.MockFHE{},
		ZK:     hostcall.MockZK{},
	}, cfg.Sandbox.ProgramCacheBytes)
	exec.GasQuery = func(principal string) (uint64, error) {
		acct, err := ledger.GetAccount(principal)
		if err != nil {
			return 0, err
		}
		return acct.Balance, nil
	}

	coeffs := callback.GasCoefficients{Baseline: cfg.GasBank.Baseline, PerMs: cfg.GasBank.PerMs, PerMB: cfg.GasBank.PerMB}
	orch := callback.New(store, exec, ledger, coeffs)
	orch.OnInvocation = func(functionID, principal, status string, executionMs int64, memoryPeakMB float64, gasCharged uint64) {
		metricsSink.RecordInvocation(context.Background(), functionID, principal, status, executionMs, memoryPeakMB, gasCharged)
	}

	chainClient := newDevChainClient()
	rel, err := relayer.New(store, ledger, chainClient)
	if err != nil {
		return nil, fmt.Errorf("gtos-faasd: open relayer: %w", err)
	}
	rel.OnStatus = func(sender, status, reason string) {
		metricsSink.RecordMetaTx(context.Background(), sender, status, reason)
	}

	svc := eventproc.NewService(orch)

	limiter := ratelimit.NewLimiter(cfg.RateLimit.GlobalPerMinute, cfg.RateLimit.PerIPPerMinute, cfg.RateLimit.PerPrincipalPerMin)

	return &pipeline{
		store:    store,
		ledger:   ledger,
		registry: reg,
		executor: exec,
		relayer:  rel,
		events:   svc,
		metrics:  metricsSink,
		limiter:  limiter,
	}, nil
}

func openStore(cfg kvStoreConfig) (kvstore.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return kvstore.NewMemStore(), nil
	case "leveldb":
		return kvstore.OpenLevelStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("gtos-faasd: unknown kvstore backend %q", cfg.Backend)
	}
}
