// Package protocol is the arena wire format. Every message travels as
//
//	[uint32 big-endian payload length][UTF-8 JSON object]
//
// and the object always carries "action".
package protocol

// Client -> Server
// login: {}
//   reply login{player_id}
//
// ping:
//   timestamp: number (seconds, echoed unchanged)
//
// lock:
//   bubble_id: number
//   player_id: string (informational; the server uses the session's id)
//
// status: {}
//   reply status{players: {<player_id>: {score: number}}}
//
// Server -> Client
// bubble_added:
//   id: number
//   position: [x, y]
//   radius: number
//   color: [r, g, b]
//   value: number
//   hold_time: number (seconds)
//
// bubble_expired:
//   bubble_id: number
//
// bubble_locked:
//   bubble_id: number
//   player_id: string
//
// bubble_lock_failed (only to the requester):
//   bubble_id: number
//
// bubble_consumed:
//   bubble_id: number
//   player_id: string
//   value: number
//
// game_over:
//   winner: string
//
// heartbeat:
//   server_time: number (unix seconds)
