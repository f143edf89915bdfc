// Package deltanet implements a delta-state synchronization server.
//
// Every participant occupies a dense index and publishes integer components
// and opaque byte states. The Server batches all changes into ticks: each
// tick it broadcasts, per component, the change in every participant's
// emitted delta, and per state, only the values written since the last tick.
// Clients reconstruct values by accumulating delta-deltas into deltas and
// deltas into values.
//
// # Lifecycle
//
// The transport calls AddConnection when a socket opens, feeds every binary
// frame to Connection.HandleMessage and calls RemoveConnection when the
// socket closes. A connection authenticates with connectUser; after the
// OnJoiner callback accepts it, the next Tick assigns its index, sends it
// userIndex and an initial checkout, and from then on includes it in the
// tick broadcast. Observers follow the same path but never get an index and
// may not write.
//
// # Validation
//
// Callbacks return a Verdict. Accept, AcceptStates and Reject answer
// immediately; Await runs a function on its own goroutine with a context
// that is cancelled when the connection is disposed. A newer write to the
// same state supersedes a validation still in flight, and results that
// arrive after their connection is gone are dropped.
//
// # Errors
//
// Any error ends the connection: the client receives one error message with
// a type and a retryable flag, then a close frame with code 4000. Panics in
// callbacks are recovered and reported as INTERNAL_ERROR.
package deltanet
