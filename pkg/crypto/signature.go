package crypto

import (
	"crypto/sha256"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignatureSize is the length, in bytes, of a compact R||S ECDSA signature.
const SignatureSize = 64

// CryptoError reports a malformed key, signature, or message.
type CryptoError struct {
	Reason string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto: %s", e.Reason)
}

func cryptoErrorf(format string, args ...any) *CryptoError {
	return &CryptoError{Reason: fmt.Sprintf(format, args...)}
}

// Signer signs messages with a private key using ECDSA/secp256k1.
type Signer interface {
	// Sign hashes message with SHA-256 and produces a 64-byte compact
	// R||S signature over the digest.
	Sign(message []byte) ([]byte, error)
	// PublicKey returns the compressed 33-byte public key.
	PublicKey() []byte
}

// Verifier verifies ECDSA/secp256k1 signatures.
type Verifier interface {
	// Verify checks a 64-byte compact signature against a message and a
	// compressed public key.
	Verify(message, signature, publicKey []byte) bool
}

// PrivateKey wraps a secp256k1 private key for ECDSA signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key from the OS RNG.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, cryptoErrorf("generate key: %v", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, cryptoErrorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// Sign hashes message with SHA-256 internally, then produces a 64-byte
// compact R||S ECDSA signature over the digest.
func (pk *PrivateKey) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig := ecdsa.Sign(pk.key, digest[:])
	compact, err := compactFromDER(sig.Serialize())
	if err != nil {
		return nil, cryptoErrorf("encode signature: %v", err)
	}
	return compact, nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// VerifySignature hashes message with SHA-256 and verifies a 64-byte
// compact R||S ECDSA signature against a compressed public key. Returns
// false on any malformed input rather than an error, matching the
// boolean contract used throughout transaction validation.
func VerifySignature(message, signature, publicKey []byte) bool {
	if len(signature) != SignatureSize {
		return false
	}
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(signature[:32]); overflow {
		return false
	}
	if overflow := s.SetByteSlice(signature[32:64]); overflow {
		return false
	}
	sig := ecdsa.NewSignature(&r, &s)

	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pubKey)
}

// ECDSAVerifier implements the Verifier interface.
type ECDSAVerifier struct{}

// Verify checks a compact ECDSA signature against a message and compressed
// public key.
func (v ECDSAVerifier) Verify(message, signature, publicKey []byte) bool {
	return VerifySignature(message, signature, publicKey)
}

// derSignature mirrors the ASN.1 SEQUENCE{ INTEGER r, INTEGER s } layout
// produced by (*ecdsa.Signature).Serialize(), letting us convert it to the
// fixed 64-byte compact form the wire and storage formats require without
// reaching into the ecdsa package's unexported fields.
type derSignature struct {
	R, S *big.Int
}

func compactFromDER(der []byte) ([]byte, error) {
	var parsed derSignature
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return nil, fmt.Errorf("decode DER signature: %w", err)
	}
	out := make([]byte, SignatureSize)
	rb := parsed.R.Bytes()
	sb := parsed.S.Bytes()
	if len(rb) > 32 || len(sb) > 32 {
		return nil, fmt.Errorf("signature component overflow")
	}
	copy(out[32-len(rb):32], rb)
	copy(out[64-len(sb):64], sb)
	return out, nil
}
