// Package relayer implements the Meta-Tx Relayer (C8): verifies
// off-chain signatures over a sponsored transaction request, bills the
// sponsor account, and submits the rebuilt transaction through a
// chain.Client, per spec.md §4.8.
//
// The multi-curve signer normalization here is written in the style of
// the teacher's accountsigner.NormalizeSigner/AddressFromSigner
// functions, adapted to not depend on the teacher's internal crypto
// package (never retrieved into the example pack) — built instead
// directly against golang.org/x/crypto/sha3, btcsuite/btcd/btcec/v2, and
// the standard library's P256/ed25519 primitives.
package relayer

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	TableMetaTx = "meta_tx"
)

// Blockchain selects the target chain family of a MetaTxRequest.
type Blockchain string

const (
	BlockchainEthereum Blockchain = "ethereum"
	BlockchainNeo      Blockchain = "neo"
)

// Curve is the signature scheme of a MetaTxRequest's signature field.
type Curve string

const (
	CurveSecp256k1 Curve = "secp256k1"
	CurveSecp256r1 Curve = "secp256r1"
	CurveEd25519   Curve = "ed25519"
)

// FeeModelKind selects how fee_amount is interpreted when billing the
// sponsor. Meta-tx fees are always a flat amount quoted by the caller
// (fee_amount); FeeModelKind is only carried into the signed EIP-712
// MetaTransaction struct and does not change what the ledger charges,
// unlike gasbank.FeeModel's computed tiers.
type FeeModelKind string

const (
	FeeModelFlat       FeeModelKind = "flat"
	FeeModelPercentage FeeModelKind = "percentage"
)

// Status is the lifecycle state of a MetaTxRecord.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// RejectReason tags why a request was Rejected.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectExpired          RejectReason = "expired"
	RejectNonceReused      RejectReason = "nonce_reused"
	RejectBadSignature     RejectReason = "bad_signature"
	RejectInvalidCurve     RejectReason = "invalid_curve"
	RejectInsufficientFunds RejectReason = "insufficient_funds"
)

// MetaTxRequest is the ingress shape of spec.md §4.8.
type MetaTxRequest struct {
	TxData         []byte     `json:"tx_data"`
	Sender         string     `json:"sender"`
	Signature      string     `json:"signature"` // hex-encoded, recovery byte appended for secp256k1
	Nonce          uint64     `json:"nonce"`
	Deadline       time.Time  `json:"deadline"`
	FeeModel       FeeModelKind `json:"fee_model"`
	FeeAmount      uint64     `json:"fee_amount"`
	Blockchain     Blockchain `json:"blockchain"`
	Curve          Curve      `json:"curve"`
	TargetContract string     `json:"target_contract,omitempty"`

	// EIP-712 domain fields, required when Blockchain == Ethereum.
	DomainName    string `json:"domain_name,omitempty"`
	DomainVersion string `json:"domain_version,omitempty"`
	ChainID       uint64 `json:"chain_id,omitempty"`
	Salt          []byte `json:"salt,omitempty"`
}

// MetaTxRecord is the persisted record in the `meta_tx` table, keyed by
// RequestID, with secondary scans by Sender.
type MetaTxRecord struct {
	RequestID   string       `json:"request_id"`
	Sender      string       `json:"sender"`
	Nonce       uint64       `json:"nonce"`
	Status      Status       `json:"status"`
	Reason      RejectReason `json:"reason,omitempty"`
	RelayedHash string       `json:"relayed_hash,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

var (
	ErrExpired            = errors.New("relayer: request deadline has passed")
	ErrNonceReused        = errors.New("relayer: nonce already used by a non-rejected record")
	ErrBadSignature       = errors.New("relayer: signature verification failed")
	ErrInvalidCurve       = errors.New("relayer: curve not valid for the given blockchain")
	ErrInsufficientFunds  = errors.New("relayer: sponsor account cannot cover fee_amount")
	ErrNotFound           = errors.New("relayer: request not found")
)

func marshalRecord(r *MetaTxRecord) ([]byte, error) { return json.Marshal(r) }
func unmarshalRecord(b []byte) (*MetaTxRecord, error) {
	var r MetaTxRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
