package sandbox

import (
	"time"

	"github.com/tos-network/gtos-faas/internal/registry"
)

// Caps are the resource and capability limits derived from a
// registry.SecurityLevel, per the table in spec.md §4.4.
type Caps struct {
	MaxHeapMiB    int
	Timeout       time.Duration
	Network       bool
	Filesystem    bool
	Env           bool
	Subprocess    bool
	HighResClock  bool
}

var levelCaps = map[registry.SecurityLevel]Caps{
	registry.SecurityHigh: {
		MaxHeapMiB: 64, Timeout: 5 * time.Second,
		Network: false, Filesystem: false, Env: false, Subprocess: false, HighResClock: false,
	},
	registry.SecurityMedium: {
		MaxHeapMiB: 128, Timeout: 10 * time.Second,
		Network: true, Filesystem: false, Env: false, Subprocess: false, HighResClock: true,
	},
	registry.SecurityLow: {
		MaxHeapMiB: 256, Timeout: 30 * time.Second,
		Network: true, Filesystem: true, Env: true, Subprocess: false, HighResClock: true,
	},
}

// CapsForLevel returns the resource table entry for level, defaulting to
// the strictest (high) level for any unrecognized value.
func CapsForLevel(level registry.SecurityLevel) Caps {
	if c, ok := levelCaps[level]; ok {
		return c
	}
	return levelCaps[registry.SecurityHigh]
}

// EffectivePermissions intersects the level's hard ceiling with the
// function's requested permission set: a capability is only granted when
// both the security level and the registered permissions allow it.
func EffectivePermissions(level registry.SecurityLevel, requested registry.Permissions) registry.Permissions {
	caps := CapsForLevel(level)
	return registry.Permissions{
		Network:    caps.Network && requested.Network,
		Filesystem: caps.Filesystem && requested.Filesystem,
		Env:        caps.Env && requested.Env,
		Subprocess: caps.Subprocess && requested.Subprocess,
		// Oracle/TEE/FHE/ZK are not gated by security_level in §4.4's
		// table (they're permissioned leaf services, not raw OS
		// capabilities), only by the function's own permission set.
		Oracle: requested.Oracle,
		TEE:    requested.TEE,
		FHE:    requested.FHE,
		ZK:     requested.ZK,
	}
}
