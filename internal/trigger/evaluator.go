// Package trigger implements the Trigger evaluator (C5): a pure,
// deterministic function from (TriggerSpec, Event) to a boolean. No I/O,
// per spec.md §4.5.
package trigger

import (
	"math"
	"time"

	"github.com/tos-network/gtos-faas/internal/events"
	"github.com/tos-network/gtos-faas/internal/registry"
)

const marketEqualEpsilon = 1e-6

// Evaluate decides whether spec fires for ev. Errors in the spec itself
// (e.g. an unparseable cron expression) are treated as non-matches rather
// than propagated. registry.Register/Update reject specs with missing
// required fields or an unknown tag, but do not parse the cron
// expression, so an unparseable cron reaches here and never fires.
func Evaluate(spec registry.TriggerSpec, ev events.Event) bool {
	switch spec.Tag {
	case registry.TriggerBlockchain:
		return evalBlockchain(spec, ev)
	case registry.TriggerTime:
		return evalTime(spec, ev)
	case registry.TriggerMarket:
		return evalMarket(spec, ev)
	case registry.TriggerCustom:
		return evalCustom(spec, ev)
	default:
		return false
	}
}

func evalBlockchain(spec registry.TriggerSpec, ev events.Event) bool {
	switch ev.Tag {
	case events.TagNeoBlock, events.TagNeoTransaction, events.TagNeoContractEvent,
		events.TagEthereumBlock, events.TagEthereumTransaction, events.TagEthereumContractEvent:
	default:
		return false
	}
	if spec.Network != "" && spec.Network != ev.Network {
		return false
	}
	if spec.ContractAddress != "" && spec.ContractAddress != ev.ContractAddress {
		return false
	}
	if spec.MethodName != "" && spec.MethodName != ev.MethodName {
		return false
	}
	if spec.EventName != "" {
		found := false
		for _, e := range ev.Events {
			if e.Name == spec.EventName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if spec.MinBlockNumber != nil {
		if ev.BlockNumber < *spec.MinBlockNumber {
			return false
		}
	}
	return true
}

func evalTime(spec registry.TriggerSpec, ev events.Event) bool {
	if ev.Timestamp.IsZero() {
		return false
	}
	loc := time.UTC
	if spec.Timezone != "" {
		if l, err := time.LoadLocation(spec.Timezone); err == nil {
			loc = l
		}
	}
	cs, err := parseCron(spec.Cron)
	if err != nil {
		return false
	}
	// Round to whole-second resolution, then truncate to the minute for
	// cron matching (sub-minute jitter in delivery must not cause a miss).
	t := ev.Timestamp.Round(time.Second).In(loc).Truncate(time.Minute)
	return cs.Matches(t)
}

func evalMarket(spec registry.TriggerSpec, ev events.Event) bool {
	if spec.AssetPair != ev.AssetPair {
		return false
	}
	switch spec.Condition {
	case registry.MarketAbove:
		return ev.Price > spec.Price
	case registry.MarketBelow:
		return ev.Price < spec.Price
	case registry.MarketEqual:
		return math.Abs(ev.Price-spec.Price) < marketEqualEpsilon
	default:
		return false
	}
}

func evalCustom(spec registry.TriggerSpec, ev events.Event) bool {
	if ev.EventName != spec.EventName {
		return false
	}
	if len(spec.MatchPayload) == 0 {
		return true
	}
	return matchesLeafPaths(spec.MatchPayload, ev.Payload)
}

// matchesLeafPaths checks that every leaf value in want equals the
// corresponding leaf in got, recursing into nested maps.
func matchesLeafPaths(want, got map[string]interface{}) bool {
	for k, wv := range want {
		gv, ok := got[k]
		if !ok {
			return false
		}
		wm, wIsMap := wv.(map[string]interface{})
		if wIsMap {
			gm, gIsMap := gv.(map[string]interface{})
			if !gIsMap || !matchesLeafPaths(wm, gm) {
				return false
			}
			continue
		}
		if wv != gv {
			return false
		}
	}
	return true
}
