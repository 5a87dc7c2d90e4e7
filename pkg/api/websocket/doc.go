// Package websocket implements the player-facing duplex protocol.
//
// Clients connect to /ws and exchange typed JSON messages:
//
//	create_session -> session_created
//	place_bet      -> bet_accepted
//	reveal         -> round_result
//	cashout        -> cashout_result
//	close_session  -> session_closed
//
// Any rejected request produces an error message with a stable code; the
// connection stays open.
package websocket
