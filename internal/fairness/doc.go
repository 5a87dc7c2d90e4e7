// Package fairness implements the commit-reveal engine binding round
// outcomes to a pre-committed secret seed.
//
// Two independent commitments protect each side:
//   - The seed hash, published before any round, proves the house fixed
//     every future nonce in advance.
//   - The player commitment, hash(choice || nonce), proves the player
//     fixed a choice before seeing the house response.
//
// After close, anyone can recompute every round nonce from the revealed
// seed and confirm the pre-committed hash.
package fairness
