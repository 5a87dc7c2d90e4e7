package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// SeedSize is the size of the secret session seed in bytes.
const SeedSize = 32

// Seed is the secret value a session's outcomes are bound to. Its hash is
// published at open; the seed itself stays server-side until close.
type Seed [SeedSize]byte

// NewSeed draws a fresh random seed.
func NewSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("failed to draw seed: %w", err)
	}
	return s, nil
}

// ParseSeed decodes a hex-encoded seed.
func ParseSeed(h string) (Seed, error) {
	var s Seed
	b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return Seed{}, fmt.Errorf("invalid seed encoding: %w", err)
	}
	if len(b) != SeedSize {
		return Seed{}, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// Hex returns the seed as lowercase hex.
func (s Seed) Hex() string {
	return hex.EncodeToString(s[:])
}

// SeedHash is the public commitment to the seed, published before round 0.
func SeedHash(seed Seed) [32]byte {
	return sha256.Sum256(seed[:])
}

// SessionHash binds the seed to a player identity. This is the value
// anchored on chain, so the packing must match the on-chain scheme:
// seed bytes followed by the player's address bytes.
func SessionHash(seed Seed, player string) [32]byte {
	h := sha256.New()
	h.Write(seed[:])
	h.Write(addressBytes(player))
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// RoundNonce derives the house nonce for round n. Both operands are packed
// as fixed-width 32-byte big-endian integers so on-chain and off-chain
// verifiers produce identical bytes. The nonce is a pure function of
// (seed, n) and unpredictable before the seed is revealed.
func RoundNonce(seed Seed, n uint64) [32]byte {
	var round [32]byte
	binary.BigEndian.PutUint64(round[24:], n)

	h := sha256.New()
	h.Write(seed[:])
	h.Write(round[:])
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Commitment hashes a player's raw choice payload together with a nonce.
// The choice bytes are used exactly as submitted, never re-encoded, so the
// commitment is byte-identical wherever it is recomputed.
func Commitment(choice []byte, nonce [32]byte) [32]byte {
	h := sha256.New()
	h.Write(choice)
	h.Write(nonce[:])
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// NonceCommitment hashes a house nonce so it can be acknowledged to the
// player before the nonce itself is disclosed.
func NonceCommitment(nonce [32]byte) [32]byte {
	return sha256.Sum256(nonce[:])
}

// Roll maps a house nonce to a uniform draw in [0,1) using the first
// eight bytes as an unsigned big-endian integer.
func Roll(nonce [32]byte) float64 {
	n := new(big.Int).SetBytes(nonce[:8])
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	f, _ := new(big.Rat).SetFrac(n, max).Float64()
	return f
}

// Hex encodes a 32-byte digest as lowercase hex.
func Hex(d [32]byte) string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a hex-encoded 32-byte digest.
func ParseDigest(h string) ([32]byte, error) {
	var d [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return d, fmt.Errorf("invalid digest encoding: %w", err)
	}
	if len(b) != 32 {
		return d, fmt.Errorf("digest must be 32 bytes, got %d", len(b))
	}
	copy(d[:], b)
	return d, nil
}

// addressBytes normalizes a player address to raw bytes. Odd-length hex is
// left-padded so "0xABC" and "0x0abc" pack identically.
func addressBytes(player string) []byte {
	h := strings.ToLower(strings.TrimPrefix(player, "0x"))
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		// Not hex: fall back to the raw string bytes.
		return []byte(player)
	}
	return b
}
