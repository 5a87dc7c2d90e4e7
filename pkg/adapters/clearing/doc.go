// Package clearing implements the channel coordinator for the external
// clearing network.
//
// The client owns one duplex websocket per identity and speaks the
// JSON-framed wire protocol: requests are {req:[id,method,params,ts]},
// responses {res:[id,method,result,ts],sig:[...]}. Responses are
// dispatched to pending calls by correlation id from a single reader.
//
// Channel opens are multi-party: each participant signs the identical
// open payload with its own ephemeral session key, signatures are ordered
// to match the participant list, and the platform submits the fully
// signed message once. When the platform's clearing balance cannot cover
// an allocation, the client tops up through the on-chain vault and polls
// the clearing ledger before retrying.
package clearing
