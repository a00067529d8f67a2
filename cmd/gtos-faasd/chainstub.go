package main

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/sha3"

	"github.com/tos-network/gtos-faas/internal/chain"
)

// devChainClient is a local stand-in for a real chain.Client: it hashes
// submitted payloads into a deterministic tx_hash and immediately marks
// every receipt successful. It exists only to let gtos-faasd run
// end-to-end without a live blockchain node; a real deployment wires a
// concrete RPC client behind the same chain.Client interface (out of
// scope for this core, per spec.md §1).
type devChainClient struct {
	height uint64

	mu       sync.Mutex
	receipts map[string]*chain.Receipt
}

func newDevChainClient() *devChainClient {
	return &devChainClient{receipts: make(map[string]*chain.Receipt)}
}

func (d *devChainClient) SubmitRawTx(_ context.Context, raw []byte) (string, error) {
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	txHash := "0x" + hex.EncodeToString(h.Sum(nil))

	block := atomic.AddUint64(&d.height, 1)
	d.mu.Lock()
	d.receipts[txHash] = &chain.Receipt{TxHash: txHash, Status: chain.ReceiptSuccess, BlockNumber: block}
	d.mu.Unlock()
	return txHash, nil
}

func (d *devChainClient) GetReceipt(_ context.Context, txHash string) (*chain.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.receipts[txHash]; ok {
		return r, nil
	}
	return &chain.Receipt{TxHash: txHash, Status: chain.ReceiptPending}, nil
}

func (d *devChainClient) GetBlockHeight(_ context.Context) (uint64, error) {
	return atomic.LoadUint64(&d.height), nil
}
