package deltanet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/vango-dev/deltanet/pkg/protocol"
)

// phase is the authentication state of a connection.
type phase int

const (
	phasePending phase = iota
	phaseAuthenticating
	phaseAuthenticated
	phaseDisposed
)

// String returns the string representation of the phase.
func (p phase) String() string {
	switch p {
	case phasePending:
		return "pending"
	case phaseAuthenticating:
		return "authenticating"
	case phaseAuthenticated:
		return "authenticated"
	case phaseDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// joinDraft holds the values a connection asked to join with. It exists only
// between connectUser and the tick that admits the connection.
type joinDraft struct {
	components map[uint32]int64
	states     map[uint32][]byte
	queued     bool
}

// stateValidation is the in-flight validation of one state id.
type stateValidation struct {
	cancel context.CancelFunc
}

// Connection is one client socket attached to a Server.
//
// Connections are created by Server.AddConnection and fed raw messages by the
// transport through HandleMessage. All mutable fields are guarded by the
// owning server's mutex.
type Connection struct {
	id      uint64
	session ulid.ULID
	server  *Server
	logger  *slog.Logger

	closeOnce sync.Once

	socket      Socket
	phase       phase
	observer    bool
	draft       *joinDraft
	authCancel  context.CancelFunc
	validations map[uint32]*stateValidation
}

// ID returns the server-assigned connection id.
func (c *Connection) ID() uint64 {
	return c.id
}

// Session returns the connection's log correlation tag.
func (c *Connection) Session() string {
	return c.session.String()
}

// Observer reports whether the connection joined as an observer.
func (c *Connection) Observer() bool {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.observer
}

// Authenticated reports whether the connection has been admitted by a tick.
func (c *Connection) Authenticated() bool {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.phase == phaseAuthenticated
}

// HandleMessage decodes and dispatches one binary client message.
func (c *Connection) HandleMessage(data []byte) {
	s := c.server
	if limit := s.cfg.MaxMessageSize; len(data) > limit {
		c.fail(newProtocolError(protocol.ErrorMessageTooLarge,
			fmt.Sprintf("message is %d bytes, exceeding the maximum of %d bytes", len(data), limit), nil))
		return
	}

	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		c.fail(newProtocolError(protocol.ErrorInvalidMessage, "malformed message", err))
		return
	}
	s.metrics.messagesTotal.WithLabelValues(msg.Type().String()).Inc()

	switch m := msg.(type) {
	case *protocol.ConnectUser:
		c.handleConnectUser(m)
	case *protocol.SetUserComponents:
		c.handleSetUserComponents(m)
	case *protocol.ClientCustom:
		c.handleClientCustom(m)
	case *protocol.Pong:
		// Keepalive only.
	}
}

func (c *Connection) handleConnectUser(m *protocol.ConnectUser) {
	s := c.server

	s.mu.Lock()
	if !s.liveLocked(c) {
		s.mu.Unlock()
		return
	}
	switch c.phase {
	case phaseAuthenticated:
		s.mu.Unlock()
		c.fail(&Error{
			Kind:    KindDuplicateAuthentication,
			Type:    protocol.ErrorUserAlreadyAuthenticated,
			Message: "connection is already authenticated",
		})
		return
	case phaseAuthenticating:
		s.mu.Unlock()
		c.fail(&Error{
			Kind:    KindDuplicateAuthentication,
			Type:    protocol.ErrorAuthenticationInProgress,
			Message: "authentication is already in progress",
		})
		return
	}

	draft, derr := s.newDraftLocked(c, m)
	if derr != nil {
		s.mu.Unlock()
		c.fail(derr)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.phase = phaseAuthenticating
	c.observer = m.Observer
	c.draft = draft
	c.authCancel = cancel
	s.mu.Unlock()

	onJoiner := s.cfg.OnJoiner
	if onJoiner == nil {
		s.finishJoin(c, outcome{})
		return
	}
	req := JoinRequest{
		ConnectionID: c.id,
		Token:        m.Token,
		Observer:     m.Observer,
		Components:   cloneComponents(draft.components),
		States:       cloneStates(draft.states),
	}
	s.resolve(ctx, "onJoiner", KindAuthentication, protocol.ErrorAuthenticationFailed,
		func() Verdict { return onJoiner(req) },
		func(out outcome) { s.finishJoin(c, out) })
}

func (c *Connection) handleSetUserComponents(m *protocol.SetUserComponents) {
	s := c.server

	s.mu.Lock()
	if !s.liveLocked(c) {
		s.mu.Unlock()
		return
	}
	if c.phase != phaseAuthenticated {
		s.mu.Unlock()
		c.fail(errNotAuthenticated)
		return
	}
	if c.observer {
		s.mu.Unlock()
		c.fail(&Error{
			Kind:    KindObserverViolation,
			Type:    protocol.ErrorObserverCannotUpdate,
			Message: "observers cannot send component or state updates",
		})
		return
	}
	for _, st := range m.States {
		if len(st.Value) > s.cfg.MaxStateValueSize {
			s.mu.Unlock()
			c.fail(newStateTooLargeError(st.ID, len(st.Value), s.cfg.MaxStateValueSize))
			return
		}
	}
	s.mu.Unlock()

	if len(m.Components) > 0 {
		if veto := s.cfg.OnComponentsUpdate; veto != nil {
			values := make(map[uint32]int64, len(m.Components))
			for _, cv := range m.Components {
				values[cv.ID] = cv.Value
			}
			var vetoErr error
			if crash := safeCall("onComponentsUpdate", func() { vetoErr = veto(c.id, values) }); crash != nil {
				c.fail(crash)
				return
			}
			if vetoErr != nil {
				c.fail(normalizeError(vetoErr, KindValidation, protocol.ErrorValidationFailed))
				return
			}
		}
		s.applyComponents(c, m.Components)
	}

	for _, st := range m.States {
		c.handleStateUpdate(st.ID, st.Value)
	}
}

// handleStateUpdate validates and applies one state write. A newer write for
// the same state id supersedes one still being validated.
func (c *Connection) handleStateUpdate(stateID uint32, value []byte) {
	s := c.server

	s.mu.Lock()
	if !s.liveLocked(c) {
		s.mu.Unlock()
		return
	}
	if s.isConnectionIDState(stateID) {
		s.mu.Unlock()
		c.logger.Debug("ignoring client write to connection id state", "state_id", stateID)
		return
	}
	if prev := c.validations[stateID]; prev != nil {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &stateValidation{cancel: cancel}
	c.validations[stateID] = v
	s.mu.Unlock()

	onStates := s.cfg.OnStatesUpdate
	if onStates == nil {
		s.finishStateUpdate(c, stateID, v, value, outcome{})
		return
	}
	req := StateUpdateRequest{ConnectionID: c.id, StateID: stateID, Value: value}
	s.resolve(ctx, "onStatesUpdate", KindValidation, protocol.ErrorValidationFailed,
		func() Verdict { return onStates(req) },
		func(out outcome) { s.finishStateUpdate(c, stateID, v, value, out) })
}

func (c *Connection) handleClientCustom(m *protocol.ClientCustom) {
	s := c.server

	s.mu.Lock()
	if !s.liveLocked(c) {
		s.mu.Unlock()
		return
	}
	if c.phase != phaseAuthenticated {
		s.mu.Unlock()
		c.fail(errNotAuthenticated)
		return
	}
	s.mu.Unlock()

	if cb := s.cfg.OnCustomMessage; cb != nil {
		if crash := safeCall("onCustomMessage", func() { cb(c.id, m.CustomType, m.Contents) }); crash != nil {
			c.fail(crash)
		}
	}
}

// Dispose aborts the connection's in-flight validations and detaches it from
// its socket. It does not remove the connection from the server. Idempotent.
func (c *Connection) Dispose() {
	c.server.mu.Lock()
	c.disposeLocked()
	c.server.mu.Unlock()
}

func (c *Connection) disposeLocked() {
	if c.phase == phaseDisposed {
		return
	}
	c.phase = phaseDisposed
	c.server.dropJoinerLocked(c)
	if c.authCancel != nil {
		c.authCancel()
		c.authCancel = nil
	}
	for id, v := range c.validations {
		v.cancel()
		delete(c.validations, id)
	}
	c.draft = nil
	c.socket = nil
}

// sendLocked sends a frame if the connection still has a socket.
func (c *Connection) sendLocked(data []byte) {
	if c.socket == nil {
		return
	}
	if err := c.socket.Send(data); err != nil {
		c.logger.Debug("send failed", "error", err)
	}
}

// fail reports err to the client, closes the socket and removes the
// connection from the server.
func (c *Connection) fail(err *Error) {
	s := c.server
	s.mu.Lock()
	sock := c.socket
	s.mu.Unlock()

	c.closeWithError(sock, err)
	s.RemoveConnection(c)
}

// closeWithError sends one error frame and closes the socket. Transport
// failures are logged and otherwise ignored. Only the first call has effect.
func (c *Connection) closeWithError(sock Socket, err *Error) {
	c.closeOnce.Do(func() {
		attrs := []any{
			"kind", err.Kind.String(),
			"error_type", string(err.Type),
			"message", err.Message,
			"retryable", err.Retryable,
		}
		if err.Err != nil {
			attrs = append(attrs, "error", err.Err)
		}
		c.logger.Info("closing connection", attrs...)
		c.server.metrics.errorsTotal.WithLabelValues(err.Kind.String(), string(err.Type)).Inc()

		if sock == nil {
			return
		}
		if sendErr := sock.Send(protocol.EncodeServerMessage(err.wire())); sendErr != nil {
			c.logger.Debug("failed to send error message", "error", sendErr)
		}
		if closeErr := sock.Close(protocol.CloseCodeError, string(err.Type)); closeErr != nil {
			c.logger.Debug("failed to close socket", "error", closeErr)
		}
	})
}

var errNotAuthenticated = &Error{
	Kind:    KindProtocol,
	Type:    protocol.ErrorUserNotAuthenticated,
	Message: "connection is not authenticated",
}

func cloneComponents(m map[uint32]int64) map[uint32]int64 {
	out := make(map[uint32]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStates(m map[uint32][]byte) map[uint32][]byte {
	out := make(map[uint32][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
