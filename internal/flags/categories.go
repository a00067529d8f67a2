package flags

import "github.com/urfave/cli/v2"

// Categories group gtos-faasd's CLI flags in `--help` output, one per
// wired component of the execution pipeline (C1-C8) plus the daemon's
// own cross-cutting concerns. Unlike the teacher's chain-node flag set,
// every category here is bound to an actual gtos-faasd flag.
const (
	KvStoreCategory   = "KVSTORE"
	GasBankCategory   = "GAS BANK"
	RegistryCategory  = "FUNCTION REGISTRY"
	SandboxCategory   = "SANDBOX"
	RelayerCategory   = "META-TX RELAYER"
	RateLimitCategory = "RATE LIMIT"
	MetricsCategory   = "METRICS AND STATS"
	LoggingCategory   = "LOGGING AND DEBUGGING"
	MiscCategory      = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
