package relayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tos-network/gtos-faas/internal/chain"
	"github.com/tos-network/gtos-faas/internal/gasbank"
	"github.com/tos-network/gtos-faas/kvstore"
	"github.com/tos-network/gtos-faas/log"
)

// Relayer is the C8 Meta-Tx Relayer. Per-sender nonce bookkeeping is
// guarded by a per-sender lock, mirroring gasbank.Ledger's per-principal
// lock (the relayer owns MetaTxRecord, per spec.md §5's ownership rule).
type Relayer struct {
	store  kvstore.Store
	ledger *gasbank.Ledger
	chain  chain.Client
	log    log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// observedNonce tracks the highest nonce seen per sender across any
	// non-Rejected record, for get_next_nonce.
	observedNonce map[string]uint64

	// OnStatus, if set, observes every terminal Submit/PollReceipt
	// status change. Wired to an observability sink; nil is a no-op.
	OnStatus func(sender, status, reason string)
}

// New creates a Relayer backed by store, billing through ledger, and
// submitting through chainClient. observedNonce is rehydrated from the
// persisted meta_tx table so get_next_nonce survives a restart.
func New(store kvstore.Store, ledger *gasbank.Ledger, chainClient chain.Client) (*Relayer, error) {
	r := &Relayer{
		store:         store,
		ledger:        ledger,
		chain:         chainClient,
		log:           log.New("component", "relayer"),
		locks:         make(map[string]*sync.Mutex),
		observedNonce: make(map[string]uint64),
	}
	if err := r.loadObservedNonces(); err != nil {
		return nil, fmt.Errorf("relayer: rehydrate nonces: %w", err)
	}
	return r, nil
}

// loadObservedNonces scans the meta_tx table and rebuilds observedNonce
// from every non-Rejected record, so a restart does not reset
// get_next_nonce back to 1 even though nonce-replay protection
// (nonceIsTaken, store-backed) already survives restarts on its own.
func (r *Relayer) loadObservedNonces() error {
	res, err := r.store.Scan(TableMetaTx, kvstore.ScanOptions{})
	if err != nil {
		return err
	}
	for _, kv := range res.Pairs {
		record, err := unmarshalRecord(kv.Value)
		if err != nil {
			// nonce-index entry (value is a bare request_id, not JSON);
			// the record it points to is scanned separately.
			continue
		}
		if record.Status != StatusRejected {
			r.recordNonce(record.Sender, record.Nonce)
		}
	}
	return nil
}

func (r *Relayer) lockFor(sender string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sender]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sender] = l
	}
	return l
}

func nonceKey(sender string, nonce uint64) string {
	return fmt.Sprintf("%s:%020d", sender, nonce)
}

// Submit runs the 6-step pipeline of spec.md §4.8 for one MetaTxRequest.
func (r *Relayer) Submit(ctx context.Context, req MetaTxRequest) (*MetaTxRecord, error) {
	lock := r.lockFor(req.Sender)
	lock.Lock()
	defer lock.Unlock()

	requestID := uuid.NewString()
	now := time.Now()

	// Step 1: expiry.
	if now.After(req.Deadline) {
		return r.reject(requestID, req, RejectExpired)
	}

	// Step 2: nonce reuse.
	if reused, err := r.nonceIsTaken(req.Sender, req.Nonce); err != nil {
		return nil, err
	} else if reused {
		return r.reject(requestID, req, RejectNonceReused)
	}

	// Step 3: signature verification.
	if err := verifySignature(req); err != nil {
		return r.reject(requestID, req, RejectBadSignature)
	}

	// Step 4: bill the sponsor.
	txHash := "metatx:" + requestID
	if _, err := r.ledger.PayGas(txHash, req.Sender, req.FeeAmount); err != nil {
		if err == gasbank.ErrInsufficientFunds {
			return r.reject(requestID, req, RejectInsufficientFunds)
		}
		return nil, err
	}

	// Step 5: rebuild + submit.
	relayedHash, err := r.chain.SubmitRawTx(ctx, req.TxData)
	if err != nil {
		return nil, fmt.Errorf("relayer: submit_raw_tx: %w", err)
	}
	record := &MetaTxRecord{
		RequestID:   requestID,
		Sender:      req.Sender,
		Nonce:       req.Nonce,
		Status:      StatusSubmitted,
		RelayedHash: relayedHash,
		CreatedAt:   now,
		UpdatedAt:   time.Now(),
	}
	if err := r.persist(record); err != nil {
		return nil, err
	}
	r.recordNonce(req.Sender, req.Nonce)
	if r.OnStatus != nil {
		r.OnStatus(record.Sender, string(record.Status), string(record.Reason))
	}

	return record, nil
}

func (r *Relayer) reject(requestID string, req MetaTxRequest, reason RejectReason) (*MetaTxRecord, error) {
	record := &MetaTxRecord{
		RequestID: requestID,
		Sender:    req.Sender,
		Nonce:     req.Nonce,
		Status:    StatusRejected,
		Reason:    reason,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.persist(record); err != nil {
		return nil, err
	}
	// (sender, nonce) is released back to the pool from Rejected: no
	// call to recordNonce here, per spec.md §4.8 step 6.
	if r.OnStatus != nil {
		r.OnStatus(record.Sender, string(record.Status), string(record.Reason))
	}
	return record, nil
}

// PollReceipt advances a Submitted record to Confirmed or Failed based
// on the ChainClient's receipt for its relayed_hash.
func (r *Relayer) PollReceipt(ctx context.Context, requestID string) (*MetaTxRecord, error) {
	record, err := r.Get(requestID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusSubmitted {
		return record, nil
	}
	receipt, err := r.chain.GetReceipt(ctx, record.RelayedHash)
	if err != nil {
		return nil, fmt.Errorf("relayer: get_receipt: %w", err)
	}
	switch receipt.Status {
	case chain.ReceiptSuccess:
		record.Status = StatusConfirmed
	case chain.ReceiptFailed:
		record.Status = StatusFailed
	default:
		return record, nil
	}
	record.UpdatedAt = time.Now()
	if err := r.persist(record); err != nil {
		return nil, err
	}
	if r.OnStatus != nil {
		r.OnStatus(record.Sender, string(record.Status), string(record.Reason))
	}
	return record, nil
}

func (r *Relayer) nonceIsTaken(sender string, nonce uint64) (bool, error) {
	raw, err := r.store.Get(TableMetaTx, []byte(nonceKey(sender, nonce)))
	if err == kvstore.ErrNoSuchKey {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	requestID := string(raw)
	record, err := r.Get(requestID)
	if err != nil {
		return false, err
	}
	return record.Status != StatusRejected, nil
}

func (r *Relayer) recordNonce(sender string, nonce uint64) {
	if nonce > r.observedNonce[sender] {
		r.observedNonce[sender] = nonce
	}
}

func (r *Relayer) persist(record *MetaTxRecord) error {
	b, err := marshalRecord(record)
	if err != nil {
		return err
	}
	entries := []kvstore.PutEntry{
		{Table: TableMetaTx, Key: []byte(record.RequestID), Value: b},
	}
	if record.Status != StatusRejected {
		entries = append(entries, kvstore.PutEntry{
			Table: TableMetaTx,
			Key:   []byte(nonceKey(record.Sender, record.Nonce)),
			Value: []byte(record.RequestID),
		})
	}
	_, err = r.store.MultiPut(entries)
	return err
}

// Get fetches a MetaTxRecord by request_id.
func (r *Relayer) Get(requestID string) (*MetaTxRecord, error) {
	raw, err := r.store.Get(TableMetaTx, []byte(requestID))
	if err == kvstore.ErrNoSuchKey {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalRecord(raw)
}

// GetStatus is the `get_status(request_id)` egress operation.
func (r *Relayer) GetStatus(requestID string) (Status, error) {
	record, err := r.Get(requestID)
	if err != nil {
		return "", err
	}
	return record.Status, nil
}

// GetTransactionsBySender scans all MetaTxRecords for sender.
func (r *Relayer) GetTransactionsBySender(sender string) ([]*MetaTxRecord, error) {
	res, err := r.store.Scan(TableMetaTx, kvstore.ScanOptions{})
	if err != nil {
		return nil, err
	}
	var out []*MetaTxRecord
	for _, kv := range res.Pairs {
		record, err := unmarshalRecord(kv.Value)
		if err != nil {
			continue // skip nonce-index entries, whose value is a bare request_id, not JSON
		}
		if record.Sender == sender {
			out = append(out, record)
		}
	}
	return out, nil
}

// GetNextNonce is `get_next_nonce(sender)` = 1 + max observed nonce, or 1.
func (r *Relayer) GetNextNonce(sender string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observedNonce[sender] + 1
}
