package deltanet

import "context"

// Verdict is the answer of a validation callback. The zero Verdict accepts.
//
// A callback that needs I/O returns Await; the function runs on its own
// goroutine and its context is cancelled if the connection goes away first.
type Verdict struct {
	err    error
	states map[uint32][]byte
	await  func(ctx context.Context) Verdict
}

// Accept approves the request unchanged.
func Accept() Verdict {
	return Verdict{}
}

// AcceptStates approves the request and replaces the listed state values.
func AcceptStates(overrides map[uint32][]byte) Verdict {
	return Verdict{states: overrides}
}

// Reject refuses the request. A nil err rejects with a generic message.
func Reject(err error) Verdict {
	if err == nil {
		err = errRejected
	}
	return Verdict{err: err}
}

// Await defers the verdict to fn, which runs asynchronously.
func Await(fn func(ctx context.Context) Verdict) Verdict {
	return Verdict{await: fn}
}

// Pending reports whether the verdict must be awaited.
func (v Verdict) Pending() bool {
	return v.await != nil
}

// Err returns the rejection error, if any.
func (v Verdict) Err() error {
	return v.err
}

// States returns the state overrides of an accepting verdict.
func (v Verdict) States() map[uint32][]byte {
	return v.states
}

// outcome is a resolved verdict.
type outcome struct {
	states map[uint32][]byte
	err    *Error
}

var errRejected = &Error{Message: "rejected"}
