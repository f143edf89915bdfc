package deltanet

import (
	"github.com/vango-dev/deltanet/pkg/protocol"
)

// SyntheticJoiner describes a participant without a socket, such as a
// server-driven bot. It occupies an index like any other participant.
type SyntheticJoiner struct {
	Components map[uint32]int64
	States     map[uint32][]byte
}

type syntheticJoin struct {
	id         uint64
	components map[uint32]int64
	states     map[uint32][]byte
}

// AddSyntheticJoiner queues a synthetic participant for the next tick and
// returns the connection id it will be known by.
func (s *Server) AddSyntheticJoiner(j SyntheticJoiner) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return 0, ErrDisposed
	}
	for id, v := range j.States {
		if len(v) > s.cfg.MaxStateValueSize {
			return 0, newStateTooLargeError(id, len(v), s.cfg.MaxStateValueSize)
		}
	}
	s.lastConnectionID++
	s.synthetic = append(s.synthetic, syntheticJoin{
		id:         s.lastConnectionID,
		components: cloneComponents(j.Components),
		states:     cloneStates(j.States),
	})
	return s.lastConnectionID, nil
}

// RemoveParticipant removes a connection or synthetic participant by id.
func (s *Server) RemoveParticipant(id uint64) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if c, ok := s.connections[id]; ok {
		s.mu.Unlock()
		s.RemoveConnection(c)
		return nil
	}
	defer s.mu.Unlock()
	if index, ok := s.indexByID[id]; ok {
		s.removed[index] = struct{}{}
		return nil
	}
	for i, j := range s.synthetic {
		if j.id == id {
			s.synthetic = append(s.synthetic[:i], s.synthetic[i+1:]...)
			return nil
		}
	}
	return ErrUnknownConnection
}

// Disconnect closes a connection with err, or with a DISCONNECTED_BY_SERVER
// error if err is nil.
func (s *Server) Disconnect(id uint64, err *Error) error {
	s.mu.Lock()
	c, ok := s.connections[id]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownConnection
	}
	if err == nil {
		err = &Error{
			Kind:    KindDisconnected,
			Type:    protocol.ErrorDisconnectedByServer,
			Message: "disconnected by server",
		}
	}
	c.fail(err)
	return nil
}

// SendCustom sends a serverCustom message to one connection.
func (s *Server) SendCustom(id uint64, customType uint32, contents string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.sendLocked(protocol.EncodeServerMessage(&protocol.ServerCustom{CustomType: customType, Contents: contents}))
	return nil
}

// BroadcastCustom sends a serverCustom message to every authenticated
// connection and returns how many it was sent to.
func (s *Server) BroadcastCustom(customType uint32, contents string) int {
	data := protocol.EncodeServerMessage(&protocol.ServerCustom{CustomType: customType, Contents: contents})

	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for _, c := range s.connections {
		if c.phase == phaseAuthenticated {
			c.sendLocked(data)
			sent++
		}
	}
	return sent
}

// Ping sends a ping with the next ping id to every connection.
func (s *Server) Ping() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return s.lastPingID
	}
	s.lastPingID++
	data := protocol.EncodeServerMessage(&protocol.Ping{Ping: s.lastPingID})
	for _, c := range s.connections {
		c.sendLocked(data)
	}
	return s.lastPingID
}

// OverrideComponents sets component targets of an indexed participant
// without running any callback.
func (s *Server) OverrideComponents(id uint64, values map[uint32]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.activeIndexLocked(id)
	if err != nil {
		return err
	}
	for cid, v := range values {
		s.componentLocked(cid).SetValue(index, v)
	}
	return nil
}

// OverrideStates sets state values of an indexed participant without running
// any callback. Values over the size limit are rejected before any write.
func (s *Server) OverrideStates(id uint64, values map[uint32][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.activeIndexLocked(id)
	if err != nil {
		return err
	}
	for sid, v := range values {
		if len(v) > s.cfg.MaxStateValueSize {
			return newStateTooLargeError(sid, len(v), s.cfg.MaxStateValueSize)
		}
	}
	for sid, v := range values {
		s.stateLocked(sid).SetValue(index, v)
	}
	return nil
}

func (s *Server) activeIndexLocked(id uint64) (int, error) {
	if s.disposed {
		return 0, ErrDisposed
	}
	index, ok := s.indexByID[id]
	if !ok {
		return 0, ErrNoIndex
	}
	if _, gone := s.removed[index]; gone {
		return 0, ErrNoIndex
	}
	return index, nil
}

// Snapshot returns the view a connection joining now would receive.
func (s *Server) Snapshot() *protocol.InitialCheckout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkoutLocked(s.serverTime())
}

// ConnectionCount returns the number of tracked connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// ObserverCount returns the number of authenticated observers.
func (s *Server) ObserverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observerCountLocked()
}

func (s *Server) observerCountLocked() int {
	n := 0
	for _, c := range s.connections {
		if c.observer && c.phase == phaseAuthenticated {
			n++
		}
	}
	return n
}

// IndexOf returns the index a connection or synthetic participant occupies.
func (s *Server) IndexOf(id uint64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.activeIndexLocked(id)
	return index, err == nil
}

// IndicesCount returns the number of occupied indices after the last tick.
func (s *Server) IndicesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idByIndex)
}

// Disposed reports whether Dispose has been called.
func (s *Server) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
