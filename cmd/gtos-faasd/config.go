package main

import (
	"os"
	"reflect"

	"github.com/naoina/toml"
)

// tomlSettings mirrors the teacher's config-loading convention: field
// names pass through unchanged and an unrecognized field is ignored
// rather than treated as an error, since deployments evolve config
// files independently of binary releases.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return nil
	},
}

// faasConfig is the top-level on-disk configuration for gtos-faasd.
type faasConfig struct {
	KvStore   kvStoreConfig
	GasBank   gasBankConfig
	Registry  registryConfig
	Sandbox   sandboxConfig
	Relayer   relayerConfig
	Metrics   metricsConfig
	RateLimit rateLimitConfig
}

type kvStoreConfig struct {
	// Backend is "memory" or "leveldb".
	Backend string
	// Dir is the leveldb data directory; unused for the memory backend.
	Dir string
}

type gasBankConfig struct {
	Baseline uint64
	PerMs    uint64
	PerMB    uint64
}

type registryConfig struct {
	CacheSize int
}

type sandboxConfig struct {
	// ProgramCacheBytes bounds the compiled-goja-program cache; see
	// sandbox.NewWithCacheSize.
	ProgramCacheBytes int
}

type relayerConfig struct {
	ChainRPCURL string
}

type metricsConfig struct {
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

type rateLimitConfig struct {
	GlobalPerMinute    int
	PerIPPerMinute     int
	PerPrincipalPerMin int
}

func defaultConfig() faasConfig {
	return faasConfig{
		KvStore:  kvStoreConfig{Backend: "memory"},
		GasBank:  gasBankConfig{Baseline: 10, PerMs: 1, PerMB: 2},
		Registry: registryConfig{CacheSize: 256},
		Sandbox:  sandboxConfig{ProgramCacheBytes: 8 * 1024 * 1024},
		RateLimit: rateLimitConfig{
			GlobalPerMinute:    6000,
			PerIPPerMinute:     600,
			PerPrincipalPerMin: 300,
		},
	}
}

func loadConfigFile(path string, cfg *faasConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return tomlSettings.NewDecoder(f).Decode(cfg)
}
