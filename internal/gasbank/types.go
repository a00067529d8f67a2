// Package gasbank implements the Gas-Bank ledger (C2): per-principal
// balances, credit limits, fee-model application, and an append-only
// transaction log, applied transactionally against a kvstore.Store.
package gasbank

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
)

const (
	TableGasAccounts = "gas_accounts"
	TableLedger      = "ledger"
	TableContractMap = "contract_account_map"
)

// AccountStatus is the lifecycle state of a GasAccount.
type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusFrozen AccountStatus = "frozen"
)

// FeeModelKind tags the FeeModel union.
type FeeModelKind string

const (
	FeeFixed      FeeModelKind = "fixed"
	FeePercentage FeeModelKind = "percentage"
	FeeTiered     FeeModelKind = "tiered"
	FeeDynamic    FeeModelKind = "dynamic"
	FeeFree       FeeModelKind = "free"
)

// Tier is one (threshold, fee) pair of a Tiered fee model, sorted by
// ascending Threshold.
type Tier struct {
	Threshold uint64 `json:"threshold"`
	Fee       uint64 `json:"fee"`
}

// FeeModel is the tagged union over Fixed/Percentage/Tiered/Dynamic/Free.
type FeeModel struct {
	Kind       FeeModelKind `json:"kind"`
	Fixed      uint64       `json:"fixed,omitempty"`
	Percentage float64      `json:"percentage,omitempty"`
	Tiers      []Tier       `json:"tiers,omitempty"`
}

// NewFixedFee builds a Fixed(x) fee model.
func NewFixedFee(x uint64) FeeModel { return FeeModel{Kind: FeeFixed, Fixed: x} }

// NewPercentageFee builds a Percentage(p) fee model; p is clamped to [0,100]
// by the caller's responsibility per the data model invariant.
func NewPercentageFee(p float64) FeeModel { return FeeModel{Kind: FeePercentage, Percentage: p} }

// NewTieredFee builds a Tiered fee model; tiers are sorted by threshold.
func NewTieredFee(tiers []Tier) FeeModel {
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })
	return FeeModel{Kind: FeeTiered, Tiers: sorted}
}

// NewDynamicFee builds a Dynamic fee model (resolved via an oracle at call time).
func NewDynamicFee() FeeModel { return FeeModel{Kind: FeeDynamic} }

// NewFreeFee builds a Free (zero-fee) model.
func NewFreeFee() FeeModel { return FeeModel{Kind: FeeFree} }

// GasAccount is the billing account of one principal.
type GasAccount struct {
	Principal   string        `json:"principal"`
	Balance     uint64        `json:"balance"`
	CreditLimit uint64        `json:"credit_limit"`
	UsedCredit  uint64        `json:"used_credit"`
	FeeModel    FeeModel      `json:"fee_model"`
	Status      AccountStatus `json:"status"`
	Seq         uint64        `json:"seq"` // next ledger sequence number for this principal
}

// LedgerEntryType tags the kind of value-changing operation recorded.
type LedgerEntryType string

const (
	EntryDeposit     LedgerEntryType = "Deposit"
	EntryWithdrawal  LedgerEntryType = "Withdrawal"
	EntryGasPayment  LedgerEntryType = "GasPayment"
	EntryRefund      LedgerEntryType = "Refund"
	EntryServiceFee  LedgerEntryType = "ServiceFee"
)

// LedgerEntry is one append-only row in a principal's ledger.
type LedgerEntry struct {
	ID        string          `json:"id"`
	Principal string          `json:"principal"`
	Type      LedgerEntryType `json:"type"`
	Amount    uint64          `json:"amount"`
	Fee       uint64          `json:"fee"`
	Reference string          `json:"reference"`
	Timestamp int64           `json:"timestamp"`
	TxHash    string          `json:"tx_hash,omitempty"` // idempotency key for Deposit/pay_gas
}

var (
	ErrAlreadyExists     = errors.New("gasbank: account already exists")
	ErrInsufficientFunds = errors.New("gasbank: insufficient funds")
	ErrAccountNotFound   = errors.New("gasbank: account not found")
	ErrInvalidFeeModel   = errors.New("gasbank: invalid fee model")
)

func marshalAccount(a *GasAccount) ([]byte, error) { return json.Marshal(a) }
func unmarshalAccount(b []byte) (*GasAccount, error) {
	var a GasAccount
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalEntry(e *LedgerEntry) ([]byte, error) { return json.Marshal(e) }
func unmarshalEntry(b []byte) (*LedgerEntry, error) {
	var e LedgerEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// CalculateFee applies model to amount per spec §4.2.
//   - Fixed(x): x
//   - Percentage(p): floor(amount*p/100)
//   - Tiered: smallest threshold >= amount; above the top tier, use the top fee
//   - Dynamic: caller-supplied oracle value (see Ledger.DynamicFeeOracle)
//   - Free: 0
func CalculateFee(amount uint64, model FeeModel, dynamicOracle func() uint64) uint64 {
	switch model.Kind {
	case FeeFixed:
		return model.Fixed
	case FeePercentage:
		return uint64(math.Floor(float64(amount) * model.Percentage / 100))
	case FeeTiered:
		if len(model.Tiers) == 0 {
			return 0
		}
		for _, t := range model.Tiers {
			if t.Threshold >= amount {
				return t.Fee
			}
		}
		return model.Tiers[len(model.Tiers)-1].Fee
	case FeeDynamic:
		if dynamicOracle != nil {
			return dynamicOracle()
		}
		return 0
	case FeeFree:
		return 0
	default:
		return 0
	}
}
