// Package liquidity implements the pooled-capital ledger.
//
// Passive depositors fund the pool and hold proportional shares; the
// operator draws per-channel allocations bounded by a percentage cap and
// an absolute per-channel cap, and settles each channel back at close.
// The owner role controls the operator and both caps.
package liquidity
