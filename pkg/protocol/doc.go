// Package protocol implements the delta-net binary wire protocol.
//
// The protocol is optimized for many participants each publishing a handful
// of slowly-varying integer components. Instead of sending values, the server
// sends the change in each participant's per-tick delta ("delta-delta"), so a
// component that moves at a constant rate costs one zero byte per tick.
//
// # Wire Format
//
// Every WebSocket binary message carries exactly one protocol message:
//
//	┌──────────────┬──────────────────────────────────────┐
//	│ Message Type │ Payload                              │
//	│ (1 byte)     │ (message specific)                   │
//	└──────────────┴──────────────────────────────────────┘
//
// # Message Types
//
// Server to client:
//
//   - MessageInitialCheckout (1): Full snapshot for a newly joined connection
//   - MessageServerCustom (2): Application-defined message
//   - MessageUserIndex (3): Index assigned to the connection
//   - MessageTick (4): Per-tick delta-deltas, state updates, removals
//   - MessagePing (5): Keepalive with a server counter
//   - MessageError (6): Typed error, always followed by a close
//
// Client to server:
//
//   - MessageConnectUser (64): Authentication token and initial values
//   - MessageSetUserComponents (65): Component and state updates
//   - MessagePong (66): Keepalive reply
//   - MessageClientCustom (67): Application-defined message
//
// # Encoding
//
//   - Varint: ids, indices and counts (protobuf-style, 7 bits per byte)
//   - ZigZag: component values, deltas and delta-deltas
//   - Length-prefixed: strings and opaque state bytes
//
// # Subprotocol
//
// Clients negotiate the "delta-net-v0.1" WebSocket subprotocol. A server that
// cannot find a supported entry in the client's list closes the socket.
package protocol
