package relayer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"
)

func TestVerifyEthereum_ValidSignatureRecoversSender(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sender := addressFromPubkey(priv.PubKey())

	req := MetaTxRequest{
		Sender:         sender,
		TxData:         []byte("payload"),
		Nonce:          1,
		Deadline:       time.Now().Add(time.Hour),
		FeeModel:       FeeModelFlat,
		FeeAmount:      10,
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
	// btcecdsa.SignCompact returns [recovery_byte || R || S]; our
	// verifier expects [R || S || V], so reorder before hex-encoding.
	recID := compactSig[0] - 27
	sig := append(append(append([]byte{}, compactSig[1:]...)), recID+27)
	req.Signature = hex.EncodeToString(sig)

	require.NoError(t, verifySignature(req))
}

func TestVerifyEthereum_WrongSenderFails(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	req := MetaTxRequest{
		Sender:         addressFromPubkey(other.PubKey()),
		TxData:         []byte("payload"),
		Deadline:       time.Now().Add(time.Hour),
		Blockchain:     BlockchainEthereum,
		Curve:          CurveSecp256k1,
		TargetContract: "0x" + hex.EncodeToString(make([]byte, 20)),
	}
	mt := MetaTransaction{From: req.Sender, To: req.TargetContract, Data: req.TxData}
	digest := eip712Digest(req, mt)
	compactSig, err := btcecdsa.SignCompact(priv, digest, false)
	require.NoError(t, err)
	recID := compactSig[0] - 27
	sig := append(append([]byte{}, compactSig[1:]...), recID+27)
	req.Signature = hex.EncodeToString(sig)

	require.ErrorIs(t, verifySignature(req), ErrBadSignature)
}

func TestVerifyEthereum_WrongCurveRejected(t *testing.T) {
	req := MetaTxRequest{Blockchain: BlockchainEthereum, Curve: CurveSecp256r1}
	require.ErrorIs(t, verifySignature(req), ErrInvalidCurve)
}

func TestVerifyNeo_ValidWitness(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubBytes := append([]byte{0x04}, append(leftPad32(priv.PublicKey.X.Bytes()), leftPad32(priv.PublicKey.Y.Bytes())...)...)

	req := MetaTxRequest{
		Sender:     "0x" + hex.EncodeToString(pubBytes),
		TxData:     []byte("neo-tx-payload"),
		Blockchain: BlockchainNeo,
		Curve:      CurveSecp256r1,
	}
	hash := keccak256(req.TxData)
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash)
	require.NoError(t, err)
	sig := append(leftPad32(r.Bytes()), leftPad32(s.Bytes())...)
	req.Signature = hex.EncodeToString(sig)

	require.NoError(t, verifySignature(req))
}

func TestVerifyNeo_TamperedPayloadFails(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubBytes := append([]byte{0x04}, append(leftPad32(priv.PublicKey.X.Bytes()), leftPad32(priv.PublicKey.Y.Bytes())...)...)

	req := MetaTxRequest{
		Sender:     "0x" + hex.EncodeToString(pubBytes),
		TxData:     []byte("original"),
		Blockchain: BlockchainNeo,
		Curve:      CurveSecp256r1,
	}
	hash := keccak256(req.TxData)
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash)
	require.NoError(t, err)
	sig := append(leftPad32(r.Bytes()), leftPad32(s.Bytes())...)
	req.Signature = hex.EncodeToString(sig)
	req.TxData = []byte("tampered")

	require.ErrorIs(t, verifySignature(req), ErrBadSignature)
}

func TestLeftPad32(t *testing.T) {
	small := leftPad32([]byte{0x01})
	require.Len(t, small, 32)
	require.Equal(t, byte(0x01), small[31])

	full := make([]byte, 40)
	full[39] = 0xAB
	padded := leftPad32(full)
	require.Len(t, padded, 32)
	require.Equal(t, byte(0xAB), padded[31])
}
