package clearing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signer wraps a secp256k1 key. Two non-overlapping roles use it:
//
//   - The durable identity key signs only the auth challenge. It is loaded
//     from configuration and never leaves the process.
//   - A fresh ephemeral key per connection signs every channel message.
//
// The roles are kept as two separate Signer values on the client, never
// unified, so a compromised session key cannot impersonate the identity.
type Signer struct {
	priv *secp256k1.PrivateKey
}

// NewSigner generates a fresh key, used for ephemeral session keys.
func NewSigner() (*Signer, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// NewSignerFromHex loads a durable key from its hex encoding.
func NewSignerFromHex(h string) (*Signer, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return &Signer{priv: secp256k1.PrivKeyFromBytes(b)}, nil
}

// PublicKeyHex returns the compressed public key as hex.
func (s *Signer) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(s.priv.PubKey().SerializeCompressed())
}

// Address returns the 20-byte address derived from the public key.
func (s *Signer) Address() string {
	return pubKeyAddress(s.priv.PubKey())
}

// Sign produces a compact recoverable signature over sha256(payload).
func (s *Signer) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig := ecdsa.SignCompact(s.priv, digest[:], true)
	return "0x" + hex.EncodeToString(sig), nil
}

// SignPayload implements ports.ChannelSigner for locally held session keys.
func (s *Signer) SignPayload(_ context.Context, payload []byte) (string, error) {
	return s.Sign(payload)
}

// VerifySignature recovers the signer from a compact signature and checks
// it against the expected address.
func VerifySignature(payload []byte, sigHex, address string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}

	digest := sha256.Sum256(payload)
	pub, _, err := ecdsa.RecoverCompact(raw, digest[:])
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}

	if !strings.EqualFold(pubKeyAddress(pub), address) {
		return fmt.Errorf("signature recovers to %s, want %s", pubKeyAddress(pub), address)
	}
	return nil
}

func pubKeyAddress(pub *secp256k1.PublicKey) string {
	sum := sha256.Sum256(pub.SerializeCompressed())
	return "0x" + hex.EncodeToString(sum[12:])
}
