// Package events defines the heterogeneous event value ingested at §6 and
// passed through C6 -> C5 -> C7.
package events

import "time"

// Tag identifies the shape of an Event's payload.
type Tag string

const (
	TagNeoBlock             Tag = "neo_block"
	TagNeoTransaction       Tag = "neo_transaction"
	TagNeoContractEvent     Tag = "neo_contract_event"
	TagEthereumBlock        Tag = "ethereum_block"
	TagEthereumTransaction  Tag = "ethereum_transaction"
	TagEthereumContractEvent Tag = "ethereum_contract_event"
	TagCustom               Tag = "custom"
	TagMarketTick           Tag = "market_tick"
	TagSchedulerTick        Tag = "scheduler_tick"
)

// ContractEvent is one emitted log/event entry of a contract event batch.
type ContractEvent struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event is the tagged union ingested by the event processor. Not every
// field applies to every Tag; the trigger evaluator only reads the fields
// relevant to the TriggerSpec it is matching against.
type Event struct {
	Tag Tag `json:"tag"`

	// Blockchain-shaped tags (neo_*/ethereum_*)
	Network         string          `json:"network,omitempty"`
	BlockNumber     uint64          `json:"block_number,omitempty"`
	ContractAddress string          `json:"contract_address,omitempty"`
	MethodName      string          `json:"method_name,omitempty"`
	Events          []ContractEvent `json:"events,omitempty"`
	Block           map[string]interface{} `json:"block,omitempty"`
	Transaction     map[string]interface{} `json:"transaction,omitempty"`

	// Market
	AssetPair string  `json:"asset_pair,omitempty"`
	Price     float64 `json:"price,omitempty"`

	// Time / scheduling
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Custom
	EventName string                 `json:"event_name,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
