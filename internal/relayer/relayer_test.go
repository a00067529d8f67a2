package relayer

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos-faas/internal/chain"
	"github.com/tos-network/gtos-faas/internal/gasbank"
	"github.com/tos-network/gtos-faas/kvstore"
)

type fakeChain struct {
	nextHash string
	receipt  *chain.Receipt
}

func (f *fakeChain) SubmitRawTx(ctx context.Context, raw []byte) (string, error) {
	return f.nextHash, nil
}

func (f *fakeChain) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return f.receipt, nil
}

func (f *fakeChain) GetBlockHeight(ctx context.Context) (uint64, error) { return 100, nil }

func signedEthRequest(t *testing.T, nonce uint64, deadline time.Time) MetaTxRequest {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sender := addressFromPubkey(priv.PubKey())

	req := MetaTxRequest{
		Sender:         sender,
		TxData:         []byte("payload"),
		Nonce:          nonce,
		Deadline:       deadline,
		FeeModel:       FeeModelFlat,
		FeeAmount:      5,
		Blockchain:     BlockchainEthereum,
		Curve:          CurveSecp256k1,
		TargetContract: "0x" + hex.EncodeToString(make([]byte, 20)),
		DomainName:     "gtos-faas",
		DomainVersion:  "1",
		ChainID:        1,
	}
	mt := MetaTransaction{
		From: sender, To: req.TargetContract, Data: req.TxData,
		Nonce: req.Nonce, Deadline: uint64(req.Deadline.Unix()),
		FeeModel: string(req.FeeModel), FeeAmount: req.FeeAmount,
	}
	digest := eip712Digest(req, mt)
	compactSig, err := btcecdsa.SignCompact(priv, digest, false)
	require.NoError(t, err)
	recID := compactSig[0] - 27
	sig := append(append([]byte{}, compactSig[1:]...), recID+27)
	req.Signature = hex.EncodeToString(sig)
	return req
}

func newTestRelayer(t *testing.T, fc *fakeChain) (*Relayer, *gasbank.Ledger) {
	t.Helper()
	store := kvstore.NewMemStore()
	ledger := gasbank.New(store)
	r, err := New(store, ledger, fc)
	require.NoError(t, err)
	return r, ledger
}

func TestSubmit_HappyPath(t *testing.T) {
	fc := &fakeChain{nextHash: "0xrelayed"}
	r, ledger := newTestRelayer(t, fc)
	req := signedEthRequest(t, 1, time.Now().Add(time.Hour))
	_, err := ledger.CreateAccount(req.Sender, gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed", req.Sender, 1000)
	require.NoError(t, err)

	record, err := r.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, record.Status)
	require.Equal(t, "0xrelayed", record.RelayedHash)

	require.Equal(t, uint64(2), r.GetNextNonce(req.Sender))
}

func TestSubmit_ExpiredRejected(t *testing.T) {
	fc := &fakeChain{nextHash: "0xrelayed"}
	r, _ := newTestRelayer(t, fc)
	req := signedEthRequest(t, 1, time.Now().Add(-time.Minute))

	record, err := r.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, record.Status)
	require.Equal(t, RejectExpired, record.Reason)
}

func TestSubmit_NonceReusedRejected(t *testing.T) {
	fc := &fakeChain{nextHash: "0xrelayed"}
	r, ledger := newTestRelayer(t, fc)
	req := signedEthRequest(t, 1, time.Now().Add(time.Hour))
	_, err := ledger.CreateAccount(req.Sender, gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed", req.Sender, 1000)
	require.NoError(t, err)

	_, err = r.Submit(context.Background(), req)
	require.NoError(t, err)

	// Re-submit with the same (sender, nonce): expect rejection.
	again, err := r.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, again.Status)
	require.Equal(t, RejectNonceReused, again.Reason)
}

func TestSubmit_InsufficientFundsRejected(t *testing.T) {
	fc := &fakeChain{nextHash: "0xrelayed"}
	r, ledger := newTestRelayer(t, fc)
	req := signedEthRequest(t, 1, time.Now().Add(time.Hour))
	_, err := ledger.CreateAccount(req.Sender, gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	// No deposit: balance is zero.

	record, err := r.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, record.Status)
	require.Equal(t, RejectInsufficientFunds, record.Reason)
}

func TestSubmit_BadSignatureRejected(t *testing.T) {
	fc := &fakeChain{nextHash: "0xrelayed"}
	r, ledger := newTestRelayer(t, fc)
	req := signedEthRequest(t, 1, time.Now().Add(time.Hour))
	req.Signature = hex.EncodeToString(make([]byte, 65)) // garbage signature
	_, err := ledger.CreateAccount(req.Sender, gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed", req.Sender, 1000)
	require.NoError(t, err)

	record, err := r.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, record.Status)
	require.Equal(t, RejectBadSignature, record.Reason)
}

func TestPollReceipt_ConfirmsOnSuccess(t *testing.T) {
	fc := &fakeChain{nextHash: "0xrelayed", receipt: &chain.Receipt{TxHash: "0xrelayed", Status: chain.ReceiptSuccess, BlockNumber: 5}}
	r, ledger := newTestRelayer(t, fc)
	req := signedEthRequest(t, 1, time.Now().Add(time.Hour))
	_, err := ledger.CreateAccount(req.Sender, gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed", req.Sender, 1000)
	require.NoError(t, err)

	record, err := r.Submit(context.Background(), req)
	require.NoError(t, err)

	confirmed, err := r.PollReceipt(context.Background(), record.RequestID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)
}

func TestGetTransactionsBySender(t *testing.T) {
	fc := &fakeChain{nextHash: "0xrelayed"}
	r, ledger := newTestRelayer(t, fc)
	req := signedEthRequest(t, 1, time.Now().Add(time.Hour))
	_, err := ledger.CreateAccount(req.Sender, gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed", req.Sender, 1000)
	require.NoError(t, err)

	_, err = r.Submit(context.Background(), req)
	require.NoError(t, err)

	txs, err := r.GetTransactionsBySender(req.Sender)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestGetNextNonce_SurvivesRestart(t *testing.T) {
	store := kvstore.NewMemStore()
	ledger := gasbank.New(store)
	fc := &fakeChain{nextHash: "0xrelayed"}
	r, err := New(store, ledger, fc)
	require.NoError(t, err)

	req := signedEthRequest(t, 1, time.Now().Add(time.Hour))
	_, err = ledger.CreateAccount(req.Sender, gasbank.NewFreeFee(), 0)
	require.NoError(t, err)
	_, err = ledger.Deposit("seed", req.Sender, 1000)
	require.NoError(t, err)
	_, err = r.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, uint64(2), r.GetNextNonce(req.Sender))

	// Simulate a process restart: a fresh Relayer over the same store
	// must rehydrate observedNonce from the persisted meta_tx table
	// rather than resetting get_next_nonce back to 1.
	restarted, err := New(store, ledger, fc)
	require.NoError(t, err)
	require.Equal(t, uint64(2), restarted.GetNextNonce(req.Sender))
}
