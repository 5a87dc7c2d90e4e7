package fairness

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/clearstake/clearstake/internal/domain"
)

func TestSeedHashMatchesCommitment(t *testing.T) {
	seed, err := NewSeed()
	require.NoError(t, err)

	committed := Hex(SeedHash(seed))

	// Round-trip through the public encoding, as a verifier would.
	parsed, err := ParseSeed(seed.Hex())
	require.NoError(t, err)
	assert.Equal(t, committed, Hex(SeedHash(parsed)))
}

func TestSessionHashPacking(t *testing.T) {
	// seed=12345 as a fixed-width integer, player=0xABC.
	var seed Seed
	binary.BigEndian.PutUint64(seed[24:], 12345)

	want := sha256.New()
	want.Write(seed[:])
	want.Write([]byte{0x0a, 0xbc})

	got := SessionHash(seed, "0xABC")
	assert.Equal(t, want.Sum(nil), got[:])

	// Case and left-padding must not change the packing.
	assert.Equal(t, got, SessionHash(seed, "0x0abc"))
}

func TestRoundNonceDeterministic(t *testing.T) {
	seed, err := NewSeed()
	require.NoError(t, err)

	for n := uint64(0); n < 16; n++ {
		assert.Equal(t, RoundNonce(seed, n), RoundNonce(seed, n))
	}
	assert.NotEqual(t, RoundNonce(seed, 0), RoundNonce(seed, 1))
}

func TestRoundNoncePacking(t *testing.T) {
	var seed Seed
	seed[31] = 7

	var round [32]byte
	binary.BigEndian.PutUint64(round[24:], 3)

	want := sha256.New()
	want.Write(seed[:])
	want.Write(round[:])

	got := RoundNonce(seed, 3)
	assert.Equal(t, want.Sum(nil), got[:])
}

func TestRollRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var nonce [32]byte
		copy(nonce[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "nonce"))

		r := Roll(nonce)
		assert.GreaterOrEqual(t, r, 0.0)
		assert.Less(t, r, 1.0)
	})
}

func TestVerifyCommitment(t *testing.T) {
	choice := []byte(`{"guess":"high"}`)
	var nonce [32]byte
	nonce[0] = 0xff

	commitment := Hex(Commitment(choice, nonce))
	require.NoError(t, VerifyCommitment(choice, nonce, commitment))

	// Altered choice must fail.
	err := VerifyCommitment([]byte(`{"guess":"low"}`), nonce, commitment)
	assert.ErrorIs(t, err, domain.ErrCommitmentMismatch)
}

func TestVerifySession(t *testing.T) {
	seed, err := NewSeed()
	require.NoError(t, err)

	session := &domain.Session{
		ID:       "s-1",
		Seed:     seed.Hex(),
		SeedHash: Hex(SeedHash(seed)),
	}

	choice := []byte(`{"pick":2}`)
	var clientNonce [32]byte
	clientNonce[5] = 9

	for n := uint64(0); n < 5; n++ {
		nonce := RoundNonce(seed, n)
		session.Rounds = append(session.Rounds, domain.Round{
			ID:              "r",
			Number:          n,
			Choice:          choice,
			ClientNonce:     Hex(clientNonce),
			Commitment:      Hex(Commitment(choice, clientNonce)),
			HouseCommitment: Hex(NonceCommitment(nonce)),
			HouseNonce:      Hex(nonce),
			PlayedAt:        time.Now(),
		})
	}

	report, err := VerifySession(session)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.True(t, report.SeedHashOK)
	require.Len(t, report.Rounds, 5)
	for _, check := range report.Rounds {
		assert.True(t, check.NonceOK)
		assert.True(t, check.CommitmentOK)
	}
}

func TestVerifySessionDetectsForgedNonce(t *testing.T) {
	seed, err := NewSeed()
	require.NoError(t, err)

	nonce := RoundNonce(seed, 0)
	forged := nonce
	forged[0] ^= 1

	session := &domain.Session{
		ID:       "s-2",
		Seed:     seed.Hex(),
		SeedHash: Hex(SeedHash(seed)),
		Rounds: []domain.Round{{
			Number:          0,
			HouseCommitment: Hex(NonceCommitment(nonce)),
			HouseNonce:      Hex(forged),
		}},
	}

	report, err := VerifySession(session)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.False(t, report.Rounds[0].NonceOK)
}

func TestVerifySessionRequiresSeed(t *testing.T) {
	_, err := VerifySession(&domain.Session{ID: "s-3"})
	assert.Error(t, err)
}
