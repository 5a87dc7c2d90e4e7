// Package orchestrator implements the session state machine.
//
// The manager coordinates each wagering session by:
//   - Generating the session seed and publishing its commitment
//   - Matching the deposit from the liquidity pool and opening the
//     clearing channel
//   - Serializing rounds per session through the commit/reveal exchange
//   - Closing the channel, revealing the seed, and settling the pool
//
// The validator rejects malformed open requests before any session state
// exists for them.
package orchestrator
