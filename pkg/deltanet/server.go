package deltanet

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/vango-dev/deltanet/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server owns every connection and every component and state collection.
//
// A single mutex serializes all mutation. Callbacks run without it held;
// asynchronous verdicts re-acquire it and re-check that their connection is
// still tracked before applying anything. Indices change only inside Tick,
// so everything outside Tick addresses participants by connection id.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	mu               sync.Mutex
	disposed         bool
	lastConnectionID uint64
	lastPingID       uint64
	connections      map[uint64]*Connection
	components       map[uint32]*ComponentCollection
	states           map[uint32]*StateCollection
	indexByID        map[uint64]int
	idByIndex        []uint64
	joiners          []*Connection
	synthetic        []syntheticJoin
	removed          map[int]struct{}
}

// New creates a Server. A nil config uses DefaultConfig.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}
	cfg.applyDefaults()

	return &Server{
		cfg:         cfg,
		logger:      cfg.Logger,
		metrics:     newMetrics(cfg.Registerer),
		tracer:      otel.Tracer(cfg.TracerName),
		connections: make(map[uint64]*Connection),
		components:  make(map[uint32]*ComponentCollection),
		states:      make(map[uint32]*StateCollection),
		indexByID:   make(map[uint64]int),
		removed:     make(map[int]struct{}),
	}
}

// AddConnection attaches a new socket. The connection stays pending until it
// sends connectUser. A disposed server closes the socket immediately.
func (s *Server) AddConnection(sock Socket) *Connection {
	s.mu.Lock()
	s.lastConnectionID++
	c := &Connection{
		id:          s.lastConnectionID,
		session:     ulid.Make(),
		server:      s,
		socket:      sock,
		validations: make(map[uint32]*stateValidation),
	}
	c.logger = s.logger.With("connection_id", c.id, "session", c.session.String())

	if s.disposed {
		c.phase = phaseDisposed
		s.mu.Unlock()
		c.closeWithError(sock, errShutdown)
		return c
	}
	s.connections[c.id] = c
	s.metrics.connections.Set(float64(len(s.connections)))
	s.mu.Unlock()

	c.logger.Debug("connection added")
	return c
}

// dropJoinerLocked removes c from the join queue if it is still queued.
func (s *Server) dropJoinerLocked(c *Connection) {
	if i := slices.Index(s.joiners, c); i >= 0 {
		s.joiners = slices.Delete(s.joiners, i, i+1)
	}
}

// RemoveConnection detaches c and, if it occupied an index, reports it to
// OnLeave and queues the index for removal at the next tick. Calling it
// again, or on a disposed server, only disposes the connection.
func (s *Server) RemoveConnection(c *Connection) {
	s.mu.Lock()
	if s.connections[c.id] != c {
		c.disposeLocked()
		s.mu.Unlock()
		return
	}
	delete(s.connections, c.id)
	s.metrics.connections.Set(float64(len(s.connections)))
	var leave *Leave
	if index, ok := s.indexByID[c.id]; ok {
		if _, queued := s.removed[index]; !queued {
			s.removed[index] = struct{}{}
			leave = s.leaveReportLocked(c.id, index)
		}
	}
	c.disposeLocked()
	s.mu.Unlock()

	c.logger.Debug("connection removed")
	if leave == nil {
		return
	}
	s.metrics.leavesTotal.Inc()
	if cb := s.cfg.OnLeave; cb != nil {
		if crash := safeCall("onLeave", func() { cb(*leave) }); crash != nil {
			c.logger.Error("onLeave callback failed", "error", crash.Err)
		}
	}
}

func (s *Server) leaveReportLocked(id uint64, index int) *Leave {
	leave := &Leave{
		ConnectionID: id,
		Components:   make(map[uint32]int64),
		States:       make(map[uint32][]byte),
	}
	for cid, coll := range s.components {
		if v := coll.TargetValue(index); v != 0 {
			leave.Components[cid] = v
		}
	}
	for sid, coll := range s.states {
		if v := coll.Value(index); len(v) > 0 {
			leave.States[sid] = v
		}
	}
	return leave
}

// liveLocked reports whether c is tracked by a running server.
func (s *Server) liveLocked(c *Connection) bool {
	return !s.disposed && c.phase != phaseDisposed && s.connections[c.id] == c
}

func (s *Server) isConnectionIDState(stateID uint32) bool {
	id := s.cfg.ServerConnectionIDStateID
	return id != nil && *id == stateID
}

// newDraftLocked checks the sizes of a connectUser message and collects its
// values. Later duplicates of an id win. Observers keep no values.
func (s *Server) newDraftLocked(c *Connection, m *protocol.ConnectUser) (*joinDraft, *Error) {
	for _, st := range m.States {
		if len(st.Value) > s.cfg.MaxStateValueSize {
			return nil, newStateTooLargeError(st.ID, len(st.Value), s.cfg.MaxStateValueSize)
		}
	}

	draft := &joinDraft{
		components: make(map[uint32]int64),
		states:     make(map[uint32][]byte),
	}
	if m.Observer {
		return draft, nil
	}
	for _, cv := range m.Components {
		draft.components[cv.ID] = cv.Value
	}
	for _, st := range m.States {
		if s.isConnectionIDState(st.ID) {
			c.logger.Debug("ignoring client value for connection id state", "state_id", st.ID)
			continue
		}
		draft.states[st.ID] = st.Value
	}
	return draft, nil
}

// finishJoin queues a validated connection for the next tick, or fails it.
func (s *Server) finishJoin(c *Connection, out outcome) {
	s.mu.Lock()
	if !s.liveLocked(c) || c.phase != phaseAuthenticating || c.draft == nil || c.draft.queued {
		s.mu.Unlock()
		return
	}
	if c.authCancel != nil {
		c.authCancel()
		c.authCancel = nil
	}
	if out.err != nil {
		s.mu.Unlock()
		c.fail(out.err)
		return
	}
	if !c.observer {
		for id, v := range out.states {
			if s.isConnectionIDState(id) {
				continue
			}
			c.draft.states[id] = v
		}
	}
	c.draft.queued = true
	s.joiners = append(s.joiners, c)
	s.mu.Unlock()

	c.logger.Debug("join accepted", "observer", c.observer)
}

// applyComponents writes component targets for an authenticated participant.
func (s *Server) applyComponents(c *Connection, values []protocol.ComponentValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(c) {
		return
	}
	index, ok := s.indexByID[c.id]
	if !ok {
		return
	}
	for _, cv := range values {
		s.componentLocked(cv.ID).SetValue(index, cv.Value)
	}
}

// finishStateUpdate applies a validated state write if v is still the current
// validation for stateID and the connection is still tracked.
func (s *Server) finishStateUpdate(c *Connection, stateID uint32, v *stateValidation, value []byte, out outcome) {
	s.mu.Lock()
	if c.validations[stateID] != v {
		s.mu.Unlock()
		return
	}
	delete(c.validations, stateID)
	v.cancel()
	if !s.liveLocked(c) {
		s.mu.Unlock()
		return
	}
	if out.err != nil {
		s.mu.Unlock()
		c.fail(out.err)
		return
	}
	index, ok := s.indexByID[c.id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if override, ok := out.states[stateID]; ok {
		value = override
	}
	s.stateLocked(stateID).SetValue(index, value)
	for id, override := range out.states {
		if id == stateID || s.isConnectionIDState(id) {
			continue
		}
		s.stateLocked(id).SetValue(index, override)
	}
	s.mu.Unlock()
}

func (s *Server) componentLocked(id uint32) *ComponentCollection {
	coll, ok := s.components[id]
	if !ok {
		coll = NewComponentCollection(len(s.idByIndex))
		s.components[id] = coll
	}
	return coll
}

func (s *Server) stateLocked(id uint32) *StateCollection {
	coll, ok := s.states[id]
	if !ok {
		coll = NewStateCollection(len(s.idByIndex))
		s.states[id] = coll
	}
	return coll
}

// resolve runs a validation callback without the lock held and passes its
// outcome to done. Pending verdicts are awaited on a new goroutine with ctx;
// panics anywhere in the callback become CallbackCrash errors.
func (s *Server) resolve(ctx context.Context, name string, kind ErrorKind, defaultType protocol.ErrorType, call func() Verdict, done func(outcome)) {
	v, crash := safeVerdict(name, call)
	if crash != nil {
		done(outcome{err: crash})
		return
	}
	if !v.Pending() {
		done(settle(v, kind, defaultType))
		return
	}

	s.metrics.validationsLive.Inc()
	go func() {
		defer s.metrics.validationsLive.Dec()
		ctx, span := s.tracer.Start(ctx, "deltanet."+name,
			trace.WithAttributes(attribute.String("deltanet.kind", kind.String())))
		defer span.End()

		out := outcome{}
		for v.Pending() {
			await := v.await
			v, crash = safeVerdict(name, func() Verdict { return await(ctx) })
			if crash != nil {
				break
			}
		}
		if crash != nil {
			out.err = crash
		} else {
			out = settle(v, kind, defaultType)
		}
		if out.err != nil {
			span.SetStatus(codes.Error, out.err.Message)
		}
		done(out)
	}()
}

func safeVerdict(name string, call func() Verdict) (v Verdict, crash *Error) {
	defer func() {
		if r := recover(); r != nil {
			crash = newCallbackCrash(name, r)
		}
	}()
	return call(), nil
}

func safeCall(name string, fn func()) (crash *Error) {
	defer func() {
		if r := recover(); r != nil {
			crash = newCallbackCrash(name, r)
		}
	}()
	fn()
	return nil
}

func settle(v Verdict, kind ErrorKind, defaultType protocol.ErrorType) outcome {
	if v.err != nil {
		return outcome{err: normalizeError(v.err, kind, defaultType)}
	}
	return outcome{states: v.states}
}

// Dispose closes every socket with a shutdown error and drops all state.
// Later calls are no-ops; RemoveConnection keeps working.
func (s *Server) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	type closing struct {
		c    *Connection
		sock Socket
	}
	closings := make([]closing, 0, len(s.connections))
	for _, c := range s.connections {
		closings = append(closings, closing{c: c, sock: c.socket})
	}
	s.connections = make(map[uint64]*Connection)
	s.components = make(map[uint32]*ComponentCollection)
	s.states = make(map[uint32]*StateCollection)
	s.indexByID = make(map[uint64]int)
	s.idByIndex = nil
	s.joiners = nil
	s.synthetic = nil
	s.removed = make(map[int]struct{})
	s.metrics.connections.Set(0)
	s.metrics.participants.Set(0)
	s.metrics.observers.Set(0)
	s.mu.Unlock()

	for _, cl := range closings {
		cl.c.closeWithError(cl.sock, errShutdown)
	}
	s.logger.Info("server disposed", "connections", len(closings))
}

var errShutdown = &Error{
	Kind:    KindShutdown,
	Type:    protocol.ErrorServerShutdown,
	Message: "server is shutting down",
}

func (s *Server) serverTime() uint64 {
	return uint64(s.cfg.Now().UnixMilli())
}

// sortedComponentIDs returns the component ids in ascending order.
func (s *Server) sortedComponentIDs() []uint32 {
	ids := make([]uint32, 0, len(s.components))
	for id := range s.components {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sortedStateIDs returns the state ids in ascending order.
func (s *Server) sortedStateIDs() []uint32 {
	ids := make([]uint32, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func connectionIDValue(id uint64) []byte {
	return []byte(strconv.FormatUint(id, 10))
}
