package deltanet

// Socket is the transport side of a connection.
//
// Send must not block: the server calls it while holding its lock. A transport
// that cannot keep up should drop the socket rather than wait.
type Socket interface {
	Send(data []byte) error
	Close(code int, reason string) error
}
