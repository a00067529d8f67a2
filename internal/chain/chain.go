// Package chain declares the ChainClient seam: the only way the core
// touches a concrete blockchain, per spec.md §1 ("concrete blockchain RPC
// clients" are named only by this interface, out of scope to implement).
package chain

import "context"

// Client is the opaque collaborator the relayer (C8) and, indirectly,
// the event processor's TaskSource implementations submit transactions
// through and poll receipts from.
type Client interface {
	SubmitRawTx(ctx context.Context, raw []byte) (txHash string, err error)
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// ReceiptStatus is the terminal on-chain outcome of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// Receipt is the minimal on-chain confirmation shape the relayer needs to
// transition a MetaTxRecord to Confirmed or Failed.
type Receipt struct {
	TxHash      string
	Status      ReceiptStatus
	BlockNumber uint64
}
