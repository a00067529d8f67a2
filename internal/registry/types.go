// Package registry implements the Function registry (C3): a versioned
// store of user code plus its trigger spec, permission set, and resource
// caps. Adapted from the teacher's agent.Registry in-memory index
// pattern, but with the kvstore tables as the source of truth (an agent
// registry indexed on-chain state; a function registry indexes a
// kvstore.Store instead).
package registry

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	TableFunctions       = "functions"
	TableFunctionHistory = "function_history"

	MinNameLen = 3
	MaxNameLen = 50
	MaxDescriptionLen = 500
	MinCodeLen        = 1
	MaxCodeLen        = 1_000_000
)

// RuntimeTag selects the language dialect the sandbox compiles code as.
type RuntimeTag string

const (
	RuntimeJS RuntimeTag = "js"
	RuntimeTS RuntimeTag = "ts"
)

// SecurityLevel selects the sandbox resource caps (see internal/sandbox).
type SecurityLevel string

const (
	SecurityHigh   SecurityLevel = "high"
	SecurityMedium SecurityLevel = "medium"
	SecurityLow    SecurityLevel = "low"
)

// TriggerTag tags the TriggerSpec union.
type TriggerTag string

const (
	TriggerBlockchain TriggerTag = "blockchain"
	TriggerTime       TriggerTag = "time"
	TriggerMarket     TriggerTag = "market"
	TriggerCustom     TriggerTag = "custom"
)

// MarketCondition is the comparison operator of a Market trigger.
type MarketCondition string

const (
	MarketAbove MarketCondition = "above"
	MarketBelow MarketCondition = "below"
	MarketEqual MarketCondition = "equal"
)

// TriggerSpec is the tagged union over {Blockchain, Time, Market, Custom}.
type TriggerSpec struct {
	Tag TriggerTag `json:"tag"`

	// Blockchain
	Network         string `json:"network,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
	EventName       string `json:"event_name,omitempty"`
	MethodName      string `json:"method_name,omitempty"`
	MinBlockNumber  *uint64 `json:"min_block_number,omitempty"`

	// Time
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Market
	AssetPair string          `json:"asset_pair,omitempty"`
	Condition MarketCondition `json:"condition,omitempty"`
	Price     float64         `json:"price,omitempty"`

	// Custom
	MatchPayload map[string]interface{} `json:"match_payload,omitempty"`
}

// Validate enforces the required-fields invariant of spec.md §3 per tag.
func (t TriggerSpec) Validate() error {
	switch t.Tag {
	case TriggerBlockchain:
		if t.Network == "" {
			return ErrInvalidTrigger
		}
	case TriggerTime:
		if t.Cron == "" {
			return ErrInvalidTrigger
		}
	case TriggerMarket:
		if t.AssetPair == "" || t.Condition == "" {
			return ErrInvalidTrigger
		}
		switch t.Condition {
		case MarketAbove, MarketBelow, MarketEqual:
		default:
			return ErrInvalidTrigger
		}
	case TriggerCustom:
		if t.EventName == "" {
			return ErrInvalidTrigger
		}
	default:
		return ErrInvalidTrigger
	}
	return nil
}

// Permissions is the capability set a function's code is allowed to
// exercise through the sandbox host-call surface (supplemented from
// original_source/r3e-worker/src/sandbox.rs's capability enum, per
// SPEC_FULL.md §5).
type Permissions struct {
	Network    bool `json:"network"`
	Filesystem bool `json:"filesystem"`
	Env        bool `json:"env"`
	Subprocess bool `json:"subprocess"`
	Oracle     bool `json:"oracle"`
	TEE        bool `json:"tee"`
	FHE        bool `json:"fhe"`
	ZK         bool `json:"zk"`
}

// Resources are the resource caps requested at registration. They are
// stored with the function; the sandbox executor does not read them and
// applies only the security_level caps (sandbox.CapsForLevel).
type Resources struct {
	MaxHeapMiB   int `json:"max_heap_mib,omitempty"`
	TimeoutSec   int `json:"timeout_sec,omitempty"`
}

// FunctionVersion is one immutable, versioned snapshot of a registered function.
type FunctionVersion struct {
	ID            string        `json:"id"`
	Principal     string        `json:"principal"`
	Version       uint64        `json:"version"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Code          string        `json:"code"`
	RuntimeTag    RuntimeTag    `json:"runtime_tag"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Trigger       TriggerSpec   `json:"trigger"`
	Permissions   Permissions   `json:"permissions"`
	Resources     Resources     `json:"resources"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Hash          string        `json:"hash"`
}

// RegisterRequest is the ingress shape for Register (§6).
type RegisterRequest struct {
	ID          string
	Principal   string
	Name        string
	Description string
	Code        string
	RuntimeTag  RuntimeTag
	Security    SecurityLevel
	Trigger     TriggerSpec
	Permissions Permissions
	Resources   Resources
}

// UpdateRequest selectively overwrites provided (non-nil) fields.
type UpdateRequest struct {
	ID          string
	Name        *string
	Description *string
	Code        *string
	Security    *SecurityLevel
	Trigger     *TriggerSpec
	Permissions *Permissions
	Resources   *Resources
}

var (
	ErrInvalidName        = errors.New("registry: name length out of bounds")
	ErrInvalidDescription = errors.New("registry: description too long")
	ErrInvalidCode        = errors.New("registry: code length out of bounds")
	ErrInvalidTrigger     = errors.New("registry: trigger spec missing required fields")
	ErrNotFound           = errors.New("registry: function not found")
	ErrAlreadyExists      = errors.New("registry: function id already exists")
)

func marshalFn(f *FunctionVersion) ([]byte, error) { return json.Marshal(f) }
func unmarshalFn(b []byte) (*FunctionVersion, error) {
	var f FunctionVersion
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
