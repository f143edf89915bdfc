package deltanet

import (
	"context"
	"sort"
	"time"

	"github.com/vango-dev/deltanet/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// TickResult lists the connection ids whose indices were released and
// assigned by a tick.
type TickResult struct {
	RemovedIDs []uint64
	AddedIDs   []uint64
}

// Tick publishes everything staged since the previous tick. In order it
// compacts away removed indices, admits queued joiners and synthetic
// participants, broadcasts the tick message to connections admitted earlier,
// and sends the initial checkout to this tick's joiners.
func (s *Server) Tick() TickResult {
	start := time.Now()
	_, span := s.tracer.Start(context.Background(), "deltanet.Tick")
	defer span.End()

	result, joiners, tickBytes, indices, observers, ok := s.tickOnce()
	if !ok {
		return TickResult{}
	}

	span.SetAttributes(
		attribute.Int("deltanet.indices", indices),
		attribute.Int("deltanet.removed", len(result.RemovedIDs)),
		attribute.Int("deltanet.joiners", len(joiners)),
	)
	s.metrics.ticksTotal.Inc()
	s.metrics.tickDuration.Observe(time.Since(start).Seconds())
	s.metrics.tickBytes.Observe(float64(tickBytes))
	s.metrics.participants.Set(float64(indices))
	s.metrics.observers.Set(float64(observers))

	for _, c := range joiners {
		role := "participant"
		if c.observer {
			role = "observer"
		}
		s.metrics.joinsTotal.WithLabelValues(role).Inc()
		c.logger.Info("connection joined", "role", role)
	}
	return result
}

func (s *Server) tickOnce() (result TickResult, joiners []*Connection, tickBytes, indices, observers int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	result, joiners, tickBytes = s.tickLocked()
	return result, joiners, tickBytes, len(s.idByIndex), s.observerCountLocked(), true
}

func (s *Server) tickLocked() (TickResult, []*Connection, int) {
	var result TickResult

	// Snapshot removals.
	removed := make([]int, 0, len(s.removed))
	for index := range s.removed {
		removed = append(removed, index)
	}
	sort.Ints(removed)
	clear(s.removed)

	// Compact collections.
	for _, coll := range s.components {
		coll.RemoveIndices(removed)
	}
	for _, coll := range s.states {
		coll.RemoveIndices(removed)
	}

	// Re-pack the index maps.
	if len(removed) > 0 {
		for _, index := range removed {
			id := s.idByIndex[index]
			result.RemovedIDs = append(result.RemovedIDs, id)
			delete(s.indexByID, id)
		}
		n := len(s.idByIndex) - len(removed)
		s.idByIndex = removeSorted(s.idByIndex, removed, 0)[:n]
		for index := removed[0]; index < n; index++ {
			s.indexByID[s.idByIndex[index]] = index
		}
	}

	// Admit joiners.
	joiners := make([]*Connection, 0, len(s.joiners))
	for _, c := range s.joiners {
		if c.phase == phaseAuthenticating {
			joiners = append(joiners, c)
		}
	}
	s.joiners = nil
	for _, c := range joiners {
		if c.observer {
			continue
		}
		index := s.allocateIndexLocked(c.id)
		s.seedLocked(index, c.id, c.draft.components, c.draft.states)
		c.sendLocked(protocol.EncodeServerMessage(&protocol.UserIndex{Index: uint32(index)}))
		result.AddedIDs = append(result.AddedIDs, c.id)
	}

	// Admit synthetic participants.
	synthetic := s.synthetic
	s.synthetic = nil
	for _, j := range synthetic {
		index := s.allocateIndexLocked(j.id)
		s.seedLocked(index, j.id, j.components, j.states)
		result.AddedIDs = append(result.AddedIDs, j.id)
	}

	// Broadcast to connections admitted before this tick.
	serverTime := s.serverTime()
	tick := s.buildTickLocked(serverTime, removed)
	data := protocol.EncodeServerMessage(tick)
	for _, c := range s.connections {
		if c.phase == phaseAuthenticated {
			c.sendLocked(data)
		}
	}

	// Full view for this tick's joiners.
	if len(joiners) > 0 {
		checkout := protocol.EncodeServerMessage(s.checkoutLocked(serverTime))
		for _, c := range joiners {
			c.sendLocked(checkout)
		}
	}

	for _, c := range joiners {
		c.phase = phaseAuthenticated
		c.draft = nil
	}
	return result, joiners, len(data)
}

func (s *Server) allocateIndexLocked(id uint64) int {
	index := len(s.idByIndex)
	s.idByIndex = append(s.idByIndex, id)
	s.indexByID[id] = index
	return index
}

// seedLocked fills a newly allocated index in every collection. Collections
// the participant did not mention get zero components and empty states.
func (s *Server) seedLocked(index int, id uint64, components map[uint32]int64, states map[uint32][]byte) {
	for cid, v := range components {
		s.componentLocked(cid).SetValue(index, v)
	}
	for cid, coll := range s.components {
		if _, ok := components[cid]; !ok {
			coll.SetValue(index, 0)
		}
	}
	for sid, v := range states {
		s.stateLocked(sid).SetValue(index, v)
	}
	for sid, coll := range s.states {
		if _, ok := states[sid]; !ok {
			coll.grow(index + 1)
		}
	}
	if sid := s.cfg.ServerConnectionIDStateID; sid != nil {
		s.stateLocked(*sid).SetValue(index, connectionIDValue(id))
	}
}

func (s *Server) buildTickLocked(serverTime uint64, removed []int) *protocol.Tick {
	n := len(s.idByIndex)
	tick := &protocol.Tick{
		ServerTime:           serverTime,
		RemovedIndices:       make([]uint32, len(removed)),
		IndicesCount:         uint32(n),
		ComponentDeltaDeltas: make([]protocol.ComponentTick, 0, len(s.components)),
		States:               make([]protocol.StateTick, 0),
	}
	for i, index := range removed {
		tick.RemovedIndices[i] = uint32(index)
	}
	for _, id := range s.sortedComponentIDs() {
		_, deltaDeltas := s.components[id].Tick()
		tick.ComponentDeltaDeltas = append(tick.ComponentDeltaDeltas, protocol.ComponentTick{
			ComponentID: id,
			DeltaDeltas: fitInt64s(deltaDeltas, n),
		})
	}
	for _, id := range s.sortedStateIDs() {
		updates := s.states[id].Tick()
		if len(updates) == 0 {
			continue
		}
		st := protocol.StateTick{StateID: id, UpdatedStates: make([]protocol.IndexedState, 0, len(updates))}
		for _, u := range updates {
			if u.Index >= n {
				continue
			}
			st.UpdatedStates = append(st.UpdatedStates, protocol.IndexedState{Index: uint32(u.Index), Value: u.Value})
		}
		if len(st.UpdatedStates) == 0 {
			continue
		}
		tick.States = append(tick.States, st)
	}
	return tick
}

// checkoutLocked builds the full view of every collection.
func (s *Server) checkoutLocked(serverTime uint64) *protocol.InitialCheckout {
	n := len(s.idByIndex)
	ic := &protocol.InitialCheckout{
		ServerTime:   serverTime,
		IndicesCount: uint32(n),
		Components:   make([]protocol.ComponentCheckout, 0, len(s.components)),
		States:       make([]protocol.StateCheckout, 0, len(s.states)),
	}
	for _, id := range s.sortedComponentIDs() {
		coll := s.components[id]
		ic.Components = append(ic.Components, protocol.ComponentCheckout{
			ComponentID: id,
			Values:      fitInt64s(coll.CurrentValues(), n),
			Deltas:      fitInt64s(coll.PreviousEmittedDeltas(), n),
		})
	}
	for _, id := range s.sortedStateIDs() {
		values := s.states[id].Values()
		for len(values) < n {
			values = append(values, []byte{})
		}
		ic.States = append(ic.States, protocol.StateCheckout{StateID: id, Values: values[:n]})
	}
	return ic
}

// fitInt64s returns the first n values of s, zero-padded if s is shorter.
func fitInt64s(s []int64, n int) []int64 {
	if len(s) >= n {
		return s[:n]
	}
	return append(s, make([]int64, n-len(s))...)
}
