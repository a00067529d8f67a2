package relayer

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// MetaTransaction is the EIP-712 typed-data struct hashed for the
// Ethereum verification path of spec.md §4.8 step 3.
type MetaTransaction struct {
	From      string
	To        string
	Data      []byte
	Nonce     uint64
	Deadline  uint64
	FeeModel  string
	FeeAmount uint64
}

var metaTransactionTypeHash = keccak256([]byte(
	"MetaTransaction(address from,address to,bytes data,uint256 nonce,uint256 deadline,string feeModel,uint256 feeAmount)",
))

var eip712DomainTypeHash = keccak256([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract,bytes32 salt)",
))

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	if len(b) >= 32 {
		copy(out, b[len(b)-32:])
		return out
	}
	copy(out[32-len(b):], b)
	return out
}

func addressBytes(addr string) []byte {
	addr = strings.TrimPrefix(addr, "0x")
	b, _ := hex.DecodeString(addr)
	return leftPad32(b)
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return leftPad32(b)
}

// domainSeparator hashes the EIP-712 domain of a MetaTxRequest.
func domainSeparator(req MetaTxRequest) []byte {
	salt := req.Salt
	if salt == nil {
		salt = make([]byte, 32)
	}
	return keccak256(
		eip712DomainTypeHash,
		keccak256([]byte(req.DomainName)),
		keccak256([]byte(req.DomainVersion)),
		leftPad32(new(big.Int).SetUint64(req.ChainID).Bytes()),
		addressBytes(req.TargetContract),
		leftPad32(salt),
	)
}

// structHash hashes the MetaTransaction struct per its typeHash.
func structHash(mt MetaTransaction) []byte {
	return keccak256(
		metaTransactionTypeHash,
		addressBytes(mt.From),
		addressBytes(mt.To),
		keccak256(mt.Data),
		leftPad32(new(big.Int).SetUint64(mt.Nonce).Bytes()),
		leftPad32(new(big.Int).SetUint64(mt.Deadline).Bytes()),
		keccak256([]byte(mt.FeeModel)),
		leftPad32(new(big.Int).SetUint64(mt.FeeAmount).Bytes()),
	)
}

// eip712Digest computes the final "\x19\x01" || domainSeparator || structHash digest.
func eip712Digest(req MetaTxRequest, mt MetaTransaction) []byte {
	return keccak256([]byte{0x19, 0x01}, domainSeparator(req), structHash(mt))
}

// addressFromPubkey derives a 20-byte Ethereum-style address from an
// uncompressed secp256k1 public key, matching the teacher's
// AddressFromSigner convention (last 20 bytes of Keccak256 of the
// uncompressed pubkey's X||Y).
func addressFromPubkey(pub *btcec.PublicKey) string {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	hash := keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(hash[12:])
}

// verifyEthereum recovers the signer from a 65-byte R||S||V compact
// signature over the EIP-712 digest and compares it against sender.
func verifyEthereum(req MetaTxRequest, sender string) error {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil || len(sigBytes) != 65 {
		return ErrBadSignature
	}
	mt := MetaTransaction{
		From:      sender,
		To:        req.TargetContract,
		Data:      req.TxData,
		Nonce:     req.Nonce,
		Deadline:  uint64(req.Deadline.Unix()),
		FeeModel:  string(req.FeeModel),
		FeeAmount: req.FeeAmount,
	}
	digest := eip712Digest(req, mt)

	r, s, v := sigBytes[:32], sigBytes[32:64], sigBytes[64]
	recID := v
	if recID >= 27 {
		recID -= 27
	}
	compact := make([]byte, 65)
	compact[0] = recID + 27
	copy(compact[1:33], r)
	copy(compact[33:], s)

	pub, _, err := btcecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return ErrBadSignature
	}
	recovered := addressFromPubkey(pub)
	if !strings.EqualFold(recovered, sender) {
		return ErrBadSignature
	}
	return nil
}

// verifyNeo checks a Neo-style witness: a raw (R||S) secp256r1 signature
// over the keccak256-hashed tx_data, verified against sender's public key
// (sender is expected to be the hex-encoded, uncompressed public key
// point for this path, per Neo witness conventions).
func verifyNeo(req MetaTxRequest, sender string) error {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil || len(sigBytes) != 64 {
		return ErrBadSignature
	}
	pubBytes, err := hex.DecodeString(strings.TrimPrefix(sender, "0x"))
	if err != nil || len(pubBytes) != 65 || pubBytes[0] != 0x04 {
		return ErrBadSignature
	}
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(pubBytes[1:33])
	y := new(big.Int).SetBytes(pubBytes[33:])
	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}

	hash := keccak256(req.TxData)
	r := new(big.Int).SetBytes(sigBytes[:32])
	s := new(big.Int).SetBytes(sigBytes[32:])
	if !ecdsa.Verify(pub, hash, r, s) {
		return ErrBadSignature
	}
	return nil
}

// verifyEd25519 checks a raw ed25519 signature over tx_data; sender is
// the hex-encoded 32-byte public key. Not reached by the Ethereum/Neo
// paths defined in spec.md §4.8 step 3; used only when a deployment
// extends the blockchain set beyond the two named there.
func verifyEd25519(req MetaTxRequest, sender string) error {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	pubBytes, err := hex.DecodeString(strings.TrimPrefix(sender, "0x"))
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), req.TxData, sigBytes) {
		return ErrBadSignature
	}
	return nil
}

// verifySignature dispatches on (Blockchain, Curve) per spec.md §4.8 step 3.
func verifySignature(req MetaTxRequest) error {
	switch req.Blockchain {
	case BlockchainEthereum:
		if req.Curve != CurveSecp256k1 {
			return ErrInvalidCurve
		}
		if req.TargetContract == "" {
			return fmt.Errorf("relayer: %w: target_contract required for ethereum", ErrInvalidCurve)
		}
		return verifyEthereum(req, req.Sender)
	case BlockchainNeo:
		if req.Curve != CurveSecp256r1 {
			return ErrInvalidCurve
		}
		return verifyNeo(req, req.Sender)
	default:
		if req.Curve == CurveEd25519 {
			return verifyEd25519(req, req.Sender)
		}
		return ErrInvalidCurve
	}
}
