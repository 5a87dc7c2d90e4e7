package fairness

import (
	"fmt"

	"github.com/clearstake/clearstake/internal/domain"
)

// RoundCheck is the verification result for a single round.
type RoundCheck struct {
	Number        uint64 `json:"number"`
	Nonce         string `json:"nonce"`
	NonceOK       bool   `json:"nonce_ok"`
	CommitmentOK  bool   `json:"commitment_ok"`
	AffectedState bool   `json:"affected_state"`
}

// Report is the full post-close verification of a session: the seed hash
// check plus every round's nonce and commitment recomputed from the
// revealed seed. It never depends on the on-chain anchor being reachable.
type Report struct {
	SessionID  string       `json:"session_id"`
	SeedHashOK bool         `json:"seed_hash_ok"`
	Rounds     []RoundCheck `json:"rounds"`
	Valid      bool         `json:"valid"`
}

// VerifySession recomputes every disclosed round nonce and commitment from
// the revealed seed. It can be run by anyone holding the public session
// record once the seed is disclosed.
func VerifySession(session *domain.Session) (*Report, error) {
	if session.Seed == "" {
		return nil, fmt.Errorf("session %s has no revealed seed", session.ID)
	}
	seed, err := ParseSeed(session.Seed)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SessionID:  session.ID,
		SeedHashOK: Hex(SeedHash(seed)) == session.SeedHash,
	}
	report.Valid = report.SeedHashOK

	for _, round := range session.Rounds {
		check := RoundCheck{
			Number:        round.Number,
			Nonce:         round.HouseNonce,
			AffectedState: round.HouseNonce != "",
		}

		nonce := RoundNonce(seed, round.Number)
		check.NonceOK = round.HouseNonce == Hex(nonce) &&
			round.HouseCommitment == Hex(NonceCommitment(nonce))

		if round.Commitment != "" && len(round.Choice) > 0 {
			check.CommitmentOK = verifyPlayerCommitment(round)
		}

		if check.AffectedState && !check.NonceOK {
			report.Valid = false
		}
		report.Rounds = append(report.Rounds, check)
	}

	return report, nil
}

// VerifyCommitment recomputes hash(choice || nonce) and compares it to the
// commitment submitted at bet time. A mismatch is a fatal fairness
// violation for that round.
func VerifyCommitment(choice []byte, nonce [32]byte, commitment string) error {
	if Hex(Commitment(choice, nonce)) != commitment {
		return domain.ErrCommitmentMismatch
	}
	return nil
}

func verifyPlayerCommitment(round domain.Round) bool {
	nonce, err := ParseDigest(round.ClientNonce)
	if err != nil {
		return false
	}
	return Hex(Commitment(round.Choice, nonce)) == round.Commitment
}
