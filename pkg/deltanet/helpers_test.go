package deltanet

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/deltanet/pkg/protocol"
)

var testTime = time.UnixMilli(1700000000000)

// fakeSocket records frames instead of writing them anywhere.
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	code   int
	reason string
}

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("socket closed")
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.code = code
		f.reason = reason
	}
	return nil
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// drain decodes and forgets every frame received so far.
func (f *fakeSocket) drain(t *testing.T) []protocol.ServerMessage {
	t.Helper()
	f.mu.Lock()
	frames := f.frames
	f.frames = nil
	f.mu.Unlock()

	msgs := make([]protocol.ServerMessage, 0, len(frames))
	for _, data := range frames {
		m, err := protocol.DecodeServerMessage(data)
		if err != nil {
			t.Fatalf("DecodeServerMessage() error: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// lastError returns the error message a closed socket received.
func (f *fakeSocket) lastError(t *testing.T) *protocol.ErrorMessage {
	t.Helper()
	msgs := f.drain(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if em, ok := msgs[i].(*protocol.ErrorMessage); ok {
			return em
		}
	}
	t.Fatalf("no error message among %d frames", len(msgs))
	return nil
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Now = func() time.Time { return testTime }
	return cfg
}

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	s := New(cfg)
	t.Cleanup(s.Dispose)
	return s
}

func send(c *Connection, m protocol.ClientMessage) {
	c.HandleMessage(protocol.EncodeClientMessage(m))
}

// join connects a socket and sends connectUser.
func join(t *testing.T, s *Server, m *protocol.ConnectUser) (*Connection, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	c := s.AddConnection(sock)
	send(c, m)
	return c, sock
}

// joinParticipant joins with one component and one state and runs a tick.
func joinParticipant(t *testing.T, s *Server, component int64, state []byte) (*Connection, *fakeSocket) {
	t.Helper()
	c, sock := join(t, s, &protocol.ConnectUser{
		Components: []protocol.ComponentValue{{ID: 1, Value: component}},
		States:     []protocol.StateValue{{ID: 1, Value: state}},
	})
	s.Tick()
	sock.drain(t)
	return c, sock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func tickOf(t *testing.T, msgs []protocol.ServerMessage) *protocol.Tick {
	t.Helper()
	for _, m := range msgs {
		if tick, ok := m.(*protocol.Tick); ok {
			return tick
		}
	}
	t.Fatalf("no tick message among %d frames", len(msgs))
	return nil
}

func checkoutOf(t *testing.T, msgs []protocol.ServerMessage) *protocol.InitialCheckout {
	t.Helper()
	for _, m := range msgs {
		if ic, ok := m.(*protocol.InitialCheckout); ok {
			return ic
		}
	}
	t.Fatalf("no initial checkout among %d frames", len(msgs))
	return nil
}
