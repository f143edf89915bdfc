package deltanet

import (
	"bytes"
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/vango-dev/deltanet/pkg/protocol"
)

func TestJoinReceivesIndexAndCheckout(t *testing.T) {
	s := newTestServer(t, nil)
	_, sock := join(t, s, &protocol.ConnectUser{
		Components: []protocol.ComponentValue{{ID: 1, Value: 1}},
		States:     []protocol.StateValue{{ID: 1, Value: []byte{1, 2, 3}}},
	})

	if msgs := sock.drain(t); len(msgs) != 0 {
		t.Fatalf("received %d frames before the tick; want 0", len(msgs))
	}

	s.Tick()
	msgs := sock.drain(t)
	want := []protocol.ServerMessage{
		&protocol.UserIndex{Index: 0},
		&protocol.InitialCheckout{
			ServerTime:   uint64(testTime.UnixMilli()),
			IndicesCount: 1,
			Components: []protocol.ComponentCheckout{
				{ComponentID: 1, Values: []int64{1}, Deltas: []int64{1}},
			},
			States: []protocol.StateCheckout{
				{StateID: 1, Values: [][]byte{{1, 2, 3}}},
			},
		},
	}
	if !reflect.DeepEqual(msgs, want) {
		t.Errorf("messages = %+v; want %+v", msgs, want)
	}
}

func TestUpdateBroadcastsDeltaDeltas(t *testing.T) {
	s := newTestServer(t, nil)
	c, sock := joinParticipant(t, s, 1, []byte{1, 2, 3})

	send(c, &protocol.SetUserComponents{
		Components: []protocol.ComponentValue{{ID: 1, Value: 10}},
		States:     []protocol.StateValue{{ID: 1, Value: []byte{4, 5, 6}}},
	})
	s.Tick()

	msgs := sock.drain(t)
	want := []protocol.ServerMessage{
		&protocol.Tick{
			ServerTime:     uint64(testTime.UnixMilli()),
			RemovedIndices: []uint32{},
			IndicesCount:   1,
			ComponentDeltaDeltas: []protocol.ComponentTick{
				{ComponentID: 1, DeltaDeltas: []int64{8}},
			},
			States: []protocol.StateTick{
				{StateID: 1, UpdatedStates: []protocol.IndexedState{{Index: 0, Value: []byte{4, 5, 6}}}},
			},
		},
	}
	if !reflect.DeepEqual(msgs, want) {
		t.Errorf("messages = %+v; want %+v", msgs, want)
	}
}

func TestOversizedStateRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MaxStateValueSize = 500
	s := newTestServer(t, cfg)

	_, watcher := join(t, s, &protocol.ConnectUser{Observer: true})
	c, sock := joinParticipant(t, s, 0, []byte("small"))
	watcher.drain(t)

	send(c, &protocol.SetUserComponents{
		Components: []protocol.ComponentValue{{ID: 1, Value: 99}},
		States:     []protocol.StateValue{{ID: 1, Value: make([]byte, 600)}},
	})

	em := sock.lastError(t)
	if em.ErrorType != protocol.ErrorStateValueTooLarge || em.Retryable {
		t.Errorf("error = %+v; want non-retryable %s", em, protocol.ErrorStateValueTooLarge)
	}
	if !strings.Contains(em.Message, "600") || !strings.Contains(em.Message, "500") {
		t.Errorf("message %q does not cite both sizes", em.Message)
	}
	if !sock.isClosed() || sock.code != protocol.CloseCodeError {
		t.Errorf("socket closed=%v code=%d; want closed with %d", sock.isClosed(), sock.code, protocol.CloseCodeError)
	}

	s.Tick()
	tick := tickOf(t, watcher.drain(t))
	if len(tick.States) != 0 {
		t.Errorf("tick states = %+v; want none", tick.States)
	}
	if !reflect.DeepEqual(tick.RemovedIndices, []uint32{0}) {
		t.Errorf("removed = %v; want [0]", tick.RemovedIndices)
	}
}

func TestObserverReadsButCannotWrite(t *testing.T) {
	s := newTestServer(t, nil)
	joinParticipant(t, s, 5, []byte("p"))

	obs, sock := join(t, s, &protocol.ConnectUser{Observer: true})
	s.Tick()

	msgs := sock.drain(t)
	for _, m := range msgs {
		if _, ok := m.(*protocol.UserIndex); ok {
			t.Fatal("observer received a userIndex")
		}
	}
	ic := checkoutOf(t, msgs)
	if ic.IndicesCount != 1 || ic.Components[0].Values[0] != 5 {
		t.Errorf("checkout = %+v; want the participant's view", ic)
	}
	if !obs.Observer() || !obs.Authenticated() {
		t.Error("observer not authenticated")
	}

	before := s.Snapshot()
	send(obs, &protocol.SetUserComponents{
		Components: []protocol.ComponentValue{{ID: 1, Value: 100}},
		States:     []protocol.StateValue{{ID: 2, Value: []byte("x")}},
	})
	em := sock.lastError(t)
	if em.ErrorType != protocol.ErrorObserverCannotUpdate || em.Retryable {
		t.Errorf("error = %+v; want non-retryable %s", em, protocol.ErrorObserverCannotUpdate)
	}
	if after := s.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("snapshot changed after observer write: %+v", after)
	}
	if s.IndicesCount() != 1 {
		t.Errorf("IndicesCount() = %d; want 1", s.IndicesCount())
	}
}

func TestRemoveConnectionIdempotent(t *testing.T) {
	cfg := testConfig()
	var leaves []Leave
	cfg.OnLeave = func(l Leave) { leaves = append(leaves, l) }
	s := newTestServer(t, cfg)

	c, _ := joinParticipant(t, s, 7, []byte("bye"))
	s.RemoveConnection(c)
	s.RemoveConnection(c)

	if len(leaves) != 1 {
		t.Fatalf("OnLeave called %d times; want 1", len(leaves))
	}
	want := Leave{
		ConnectionID: c.ID(),
		Components:   map[uint32]int64{1: 7},
		States:       map[uint32][]byte{1: []byte("bye")},
	}
	if !reflect.DeepEqual(leaves[0], want) {
		t.Errorf("leave = %+v; want %+v", leaves[0], want)
	}

	res := s.Tick()
	if !reflect.DeepEqual(res.RemovedIDs, []uint64{c.ID()}) {
		t.Errorf("RemovedIDs = %v; want [%d]", res.RemovedIDs, c.ID())
	}
	s.RemoveConnection(c)
	if res := s.Tick(); len(res.RemovedIDs) != 0 {
		t.Errorf("second tick RemovedIDs = %v; want none", res.RemovedIDs)
	}
}

func TestLeaveOmitsZeroValues(t *testing.T) {
	cfg := testConfig()
	var got Leave
	cfg.OnLeave = func(l Leave) { got = l }
	s := newTestServer(t, cfg)

	c, _ := joinParticipant(t, s, 0, nil)
	s.RemoveConnection(c)
	if len(got.Components) != 0 || len(got.States) != 0 {
		t.Errorf("leave = %+v; want no values", got)
	}
}

func TestLeaveBeforeTickSkipsOnLeave(t *testing.T) {
	cfg := testConfig()
	calls := 0
	cfg.OnLeave = func(Leave) { calls++ }
	s := newTestServer(t, cfg)

	c, _ := join(t, s, &protocol.ConnectUser{Components: []protocol.ComponentValue{{ID: 1, Value: 3}}})
	s.RemoveConnection(c)
	res := s.Tick()

	if calls != 0 {
		t.Errorf("OnLeave called %d times for a connection without an index", calls)
	}
	if len(res.AddedIDs) != 0 || s.IndicesCount() != 0 {
		t.Errorf("removed joiner was admitted: %+v", res)
	}
}

// Reconstructs values the way a client does and compares with a late joiner.
func TestLateJoinerMatchesPeersMidSpread(t *testing.T) {
	s := newTestServer(t, nil)
	const start = -(1 << 62)

	a, _ := join(t, s, &protocol.ConnectUser{Components: []protocol.ComponentValue{{ID: 1, Value: start}}})
	_, watcher := join(t, s, &protocol.ConnectUser{Observer: true})
	s.Tick()
	ic := checkoutOf(t, watcher.drain(t))
	value, delta := ic.Components[0].Values[0], ic.Components[0].Deltas[0]

	apply := func(tick *protocol.Tick) {
		dd := tick.ComponentDeltaDeltas[0].DeltaDeltas[0]
		delta += dd
		value += delta
	}

	s.Tick()
	apply(tickOf(t, watcher.drain(t)))

	send(a, &protocol.SetUserComponents{Components: []protocol.ComponentValue{{ID: 1, Value: math.MaxInt64}}})
	_, late := join(t, s, &protocol.ConnectUser{Observer: true})
	s.Tick()
	apply(tickOf(t, watcher.drain(t)))

	lateView := checkoutOf(t, late.drain(t))
	if lateView.Components[0].Values[0] != value || lateView.Components[0].Deltas[0] != delta {
		t.Errorf("late joiner sees %d/%d; peers see %d/%d",
			lateView.Components[0].Values[0], lateView.Components[0].Deltas[0], value, delta)
	}
	if value == math.MaxInt64 {
		t.Fatal("spread finished in one tick; test needs a mid-spread state")
	}

	s.Tick()
	apply(tickOf(t, watcher.drain(t)))
	if value != math.MaxInt64 {
		t.Errorf("value after spread = %d; want MaxInt64", value)
	}
}

func TestReindexing(t *testing.T) {
	s := newTestServer(t, nil)

	conns := make([]*Connection, 5)
	for i := range conns {
		conns[i], _ = join(t, s, &protocol.ConnectUser{
			Components: []protocol.ComponentValue{{ID: 1, Value: int64(i+1) * 10}},
			States:     []protocol.StateValue{{ID: 1, Value: []byte{byte(i)}}},
		})
		s.Tick()
	}
	_, watcher := join(t, s, &protocol.ConnectUser{Observer: true})
	s.Tick()
	watcher.drain(t)

	s.RemoveConnection(conns[1])
	s.RemoveConnection(conns[3])
	j1, _ := join(t, s, &protocol.ConnectUser{Components: []protocol.ComponentValue{{ID: 1, Value: 60}}})
	j2, _ := join(t, s, &protocol.ConnectUser{States: []protocol.StateValue{{ID: 1, Value: []byte{7}}}})
	res := s.Tick()

	if !reflect.DeepEqual(res.RemovedIDs, []uint64{conns[1].ID(), conns[3].ID()}) {
		t.Errorf("RemovedIDs = %v", res.RemovedIDs)
	}
	if !reflect.DeepEqual(res.AddedIDs, []uint64{j1.ID(), j2.ID()}) {
		t.Errorf("AddedIDs = %v", res.AddedIDs)
	}

	wantIndex := map[uint64]int{
		conns[0].ID(): 0, conns[2].ID(): 1, conns[4].ID(): 2, j1.ID(): 3, j2.ID(): 4,
	}
	for id, want := range wantIndex {
		if got, ok := s.IndexOf(id); !ok || got != want {
			t.Errorf("IndexOf(%d) = %d, %v; want %d", id, got, ok, want)
		}
	}

	snap := s.Snapshot()
	if snap.IndicesCount != 5 {
		t.Fatalf("IndicesCount = %d; want 5", snap.IndicesCount)
	}
	if got, want := snap.Components[0].Values, []int64{10, 30, 50, 60, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("component values = %v; want %v", got, want)
	}
	if got, want := snap.States[0].Values, [][]byte{{0}, {2}, {4}, {}, {7}}; !reflect.DeepEqual(got, want) {
		t.Errorf("state values = %v; want %v", got, want)
	}

	tick := tickOf(t, watcher.drain(t))
	if !reflect.DeepEqual(tick.RemovedIndices, []uint32{1, 3}) || tick.IndicesCount != 5 {
		t.Errorf("tick removed=%v count=%d; want [1 3] and 5", tick.RemovedIndices, tick.IndicesCount)
	}
}

func TestConnectionIDState(t *testing.T) {
	s := newTestServer(t, testConfig().WithConnectionIDState(9))

	c, sock := join(t, s, &protocol.ConnectUser{
		States: []protocol.StateValue{{ID: 9, Value: []byte("forged")}},
	})
	s.Tick()
	ic := checkoutOf(t, sock.drain(t))
	if len(ic.States) != 1 || ic.States[0].StateID != 9 {
		t.Fatalf("checkout states = %+v", ic.States)
	}
	want := []byte("1")
	if !bytes.Equal(ic.States[0].Values[0], want) {
		t.Errorf("connection id state = %q; want %q", ic.States[0].Values[0], want)
	}

	send(c, &protocol.SetUserComponents{States: []protocol.StateValue{{ID: 9, Value: []byte("again")}}})
	s.Tick()
	if tick := tickOf(t, sock.drain(t)); len(tick.States) != 0 {
		t.Errorf("client write to connection id state was applied: %+v", tick.States)
	}
	if sock.isClosed() {
		t.Error("client write to connection id state closed the socket")
	}
}

func TestDuplicateAuthentication(t *testing.T) {
	t.Run("in_progress", func(t *testing.T) {
		cfg := testConfig()
		cfg.OnJoiner = func(JoinRequest) Verdict {
			return Await(func(ctx context.Context) Verdict {
				<-ctx.Done()
				return Reject(ctx.Err())
			})
		}
		s := newTestServer(t, cfg)
		c, sock := join(t, s, &protocol.ConnectUser{})
		send(c, &protocol.ConnectUser{})
		em := sock.lastError(t)
		if em.ErrorType != protocol.ErrorAuthenticationInProgress || em.Retryable {
			t.Errorf("error = %+v", em)
		}
	})

	t.Run("already_authenticated", func(t *testing.T) {
		s := newTestServer(t, nil)
		c, sock := joinParticipant(t, s, 1, nil)
		send(c, &protocol.ConnectUser{})
		em := sock.lastError(t)
		if em.ErrorType != protocol.ErrorUserAlreadyAuthenticated || em.Retryable {
			t.Errorf("error = %+v", em)
		}
	})
}

func TestMessagesBeforeAuthentication(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.ClientMessage
	}{
		{"set_user_components", &protocol.SetUserComponents{Components: []protocol.ComponentValue{{ID: 1, Value: 1}}}},
		{"client_custom", &protocol.ClientCustom{CustomType: 1, Contents: "hi"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			sock := &fakeSocket{}
			c := s.AddConnection(sock)
			send(c, tc.msg)
			em := sock.lastError(t)
			if em.ErrorType != protocol.ErrorUserNotAuthenticated || em.Retryable {
				t.Errorf("error = %+v", em)
			}
			if s.ConnectionCount() != 0 {
				t.Errorf("ConnectionCount() = %d; want 0", s.ConnectionCount())
			}
		})
	}
}

func TestPongIgnored(t *testing.T) {
	s := newTestServer(t, nil)
	sock := &fakeSocket{}
	c := s.AddConnection(sock)
	send(c, &protocol.Pong{Pong: 3})
	if sock.isClosed() {
		t.Error("pong closed a pending connection")
	}
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want protocol.ErrorType
	}{
		{"too_large", make([]byte, 64), protocol.ErrorMessageTooLarge},
		{"malformed", []byte{byte(protocol.MessageSetUserComponents), 0x05}, protocol.ErrorInvalidMessage},
		{"unknown_type", []byte{0x7F}, protocol.ErrorInvalidMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxMessageSize = 32
			s := newTestServer(t, cfg)
			sock := &fakeSocket{}
			c := s.AddConnection(sock)
			c.HandleMessage(tc.data)
			em := sock.lastError(t)
			if em.ErrorType != tc.want || em.Retryable {
				t.Errorf("error = %+v; want non-retryable %s", em, tc.want)
			}
		})
	}
}

func TestServerDispose(t *testing.T) {
	s := newTestServer(t, nil)
	c, sock := joinParticipant(t, s, 1, nil)

	s.Dispose()
	s.Dispose()

	em := sock.lastError(t)
	if em.ErrorType != protocol.ErrorServerShutdown {
		t.Errorf("error = %+v; want %s", em, protocol.ErrorServerShutdown)
	}
	if !s.Disposed() || s.ConnectionCount() != 0 || s.IndicesCount() != 0 {
		t.Error("state not cleared by Dispose")
	}
	if res := s.Tick(); len(res.AddedIDs)+len(res.RemovedIDs) != 0 {
		t.Errorf("Tick() after Dispose = %+v", res)
	}
	s.RemoveConnection(c)

	late := &fakeSocket{}
	s.AddConnection(late)
	if !late.isClosed() {
		t.Error("AddConnection after Dispose left the socket open")
	}
	if _, err := s.AddSyntheticJoiner(SyntheticJoiner{}); err != ErrDisposed {
		t.Errorf("AddSyntheticJoiner() error = %v; want ErrDisposed", err)
	}
}

func TestComponentsVeto(t *testing.T) {
	cfg := testConfig()
	cfg.OnComponentsUpdate = func(id uint64, components map[uint32]int64) error {
		if components[1] > 100 {
			return NewRetryableError(protocol.ErrorValidationFailed, "too fast")
		}
		return nil
	}
	s := newTestServer(t, cfg)
	c, sock := joinParticipant(t, s, 1, nil)

	send(c, &protocol.SetUserComponents{Components: []protocol.ComponentValue{{ID: 1, Value: 50}}})
	s.Tick()
	sock.drain(t)
	if got := s.Snapshot().Components[0].Values[0]; got != 50 {
		t.Fatalf("accepted value = %d; want 50", got)
	}

	send(c, &protocol.SetUserComponents{Components: []protocol.ComponentValue{{ID: 1, Value: 500}}})
	em := sock.lastError(t)
	if em.ErrorType != protocol.ErrorValidationFailed || !em.Retryable || em.Message != "too fast" {
		t.Errorf("error = %+v", em)
	}
}

func TestNewComponentCreatedLazily(t *testing.T) {
	s := newTestServer(t, nil)
	joinParticipant(t, s, 1, nil)
	c, _ := joinParticipant(t, s, 2, nil)

	send(c, &protocol.SetUserComponents{Components: []protocol.ComponentValue{{ID: 4, Value: -3}}})
	s.Tick()

	snap := s.Snapshot()
	if len(snap.Components) != 2 || snap.Components[1].ComponentID != 4 {
		t.Fatalf("components = %+v", snap.Components)
	}
	if got, want := snap.Components[1].Values, []int64{0, -3}; !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v; want %v", got, want)
	}
}

func TestCustomMessages(t *testing.T) {
	cfg := testConfig()
	type custom struct {
		id       uint64
		kind     uint32
		contents string
	}
	var got []custom
	cfg.OnCustomMessage = func(id uint64, kind uint32, contents string) {
		got = append(got, custom{id, kind, contents})
	}
	s := newTestServer(t, cfg)
	c, sock := joinParticipant(t, s, 1, nil)
	_, pending := join(t, s, &protocol.ConnectUser{})

	send(c, &protocol.ClientCustom{CustomType: 3, Contents: "hello"})
	if want := []custom{{c.ID(), 3, "hello"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("custom = %+v; want %+v", got, want)
	}

	if n := s.BroadcastCustom(8, "all"); n != 1 {
		t.Errorf("BroadcastCustom() reached %d; want 1", n)
	}
	if err := s.SendCustom(c.ID(), 9, "one"); err != nil {
		t.Fatalf("SendCustom() error: %v", err)
	}
	if err := s.SendCustom(999, 9, "one"); err != ErrUnknownConnection {
		t.Errorf("SendCustom(unknown) error = %v; want ErrUnknownConnection", err)
	}

	want := []protocol.ServerMessage{
		&protocol.ServerCustom{CustomType: 8, Contents: "all"},
		&protocol.ServerCustom{CustomType: 9, Contents: "one"},
	}
	if msgs := sock.drain(t); !reflect.DeepEqual(msgs, want) {
		t.Errorf("messages = %+v; want %+v", msgs, want)
	}
	if msgs := pending.drain(t); len(msgs) != 0 {
		t.Errorf("pending connection received %d frames", len(msgs))
	}
}

func TestPing(t *testing.T) {
	s := newTestServer(t, nil)
	sock := &fakeSocket{}
	s.AddConnection(sock)

	if id := s.Ping(); id != 1 {
		t.Errorf("Ping() = %d; want 1", id)
	}
	if id := s.Ping(); id != 2 {
		t.Errorf("Ping() = %d; want 2", id)
	}
	want := []protocol.ServerMessage{&protocol.Ping{Ping: 1}, &protocol.Ping{Ping: 2}}
	if msgs := sock.drain(t); !reflect.DeepEqual(msgs, want) {
		t.Errorf("messages = %+v; want %+v", msgs, want)
	}
}

func TestDisconnect(t *testing.T) {
	s := newTestServer(t, nil)
	c, sock := joinParticipant(t, s, 1, nil)

	if err := s.Disconnect(c.ID(), nil); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	em := sock.lastError(t)
	if em.ErrorType != protocol.ErrorDisconnectedByServer {
		t.Errorf("error = %+v", em)
	}
	if err := s.Disconnect(c.ID(), nil); err != ErrUnknownConnection {
		t.Errorf("second Disconnect() error = %v; want ErrUnknownConnection", err)
	}
}

func TestSyntheticJoiner(t *testing.T) {
	s := newTestServer(t, nil)
	c, sock := joinParticipant(t, s, 1, nil)

	id, err := s.AddSyntheticJoiner(SyntheticJoiner{
		Components: map[uint32]int64{1: 42},
		States:     map[uint32][]byte{2: []byte("bot")},
	})
	if err != nil {
		t.Fatalf("AddSyntheticJoiner() error: %v", err)
	}
	if id <= c.ID() {
		t.Errorf("synthetic id %d reuses a connection id", id)
	}

	res := s.Tick()
	if !reflect.DeepEqual(res.AddedIDs, []uint64{id}) {
		t.Errorf("AddedIDs = %v; want [%d]", res.AddedIDs, id)
	}
	tick := tickOf(t, sock.drain(t))
	if tick.IndicesCount != 2 || tick.ComponentDeltaDeltas[0].DeltaDeltas[1] != 42 {
		t.Errorf("tick = %+v", tick)
	}

	if err := s.OverrideComponents(id, map[uint32]int64{1: 40}); err != nil {
		t.Fatalf("OverrideComponents() error: %v", err)
	}
	s.Tick()
	if got := s.Snapshot().Components[0].Values[1]; got != 40 {
		t.Errorf("overridden value = %d; want 40", got)
	}

	if err := s.RemoveParticipant(id); err != nil {
		t.Fatalf("RemoveParticipant() error: %v", err)
	}
	if err := s.OverrideStates(id, map[uint32][]byte{2: nil}); err != ErrNoIndex {
		t.Errorf("OverrideStates() after removal error = %v; want ErrNoIndex", err)
	}
	res = s.Tick()
	if !reflect.DeepEqual(res.RemovedIDs, []uint64{id}) {
		t.Errorf("RemovedIDs = %v; want [%d]", res.RemovedIDs, id)
	}
	if err := s.RemoveParticipant(id); err != ErrUnknownConnection {
		t.Errorf("RemoveParticipant(removed) error = %v; want ErrUnknownConnection", err)
	}
}

func TestOverrideStatesSizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxStateValueSize = 4
	s := newTestServer(t, cfg)
	c, _ := joinParticipant(t, s, 1, []byte("ok"))

	err := s.OverrideStates(c.ID(), map[uint32][]byte{1: []byte("too long")})
	var de *Error
	if !errors.As(err, &de) || de.Type != protocol.ErrorStateValueTooLarge {
		t.Fatalf("OverrideStates() error = %v; want %s", err, protocol.ErrorStateValueTooLarge)
	}
	if got := s.Snapshot().States[0].Values[0]; string(got) != "ok" {
		t.Errorf("state = %q; want unchanged", got)
	}
}

func TestIntrospection(t *testing.T) {
	s := newTestServer(t, nil)
	joinParticipant(t, s, 1, nil)
	join(t, s, &protocol.ConnectUser{Observer: true})
	s.Tick()

	if n := s.ConnectionCount(); n != 2 {
		t.Errorf("ConnectionCount() = %d; want 2", n)
	}
	if n := s.ObserverCount(); n != 1 {
		t.Errorf("ObserverCount() = %d; want 1", n)
	}
	if n := s.IndicesCount(); n != 1 {
		t.Errorf("IndicesCount() = %d; want 1", n)
	}
	if _, ok := s.IndexOf(12345); ok {
		t.Error("IndexOf(unknown) reported an index")
	}
}

func TestTickSkipsStatesWithOnlyStaleIndices(t *testing.T) {
	s := newTestServer(t, nil)

	s.mu.Lock()
	s.stateLocked(4).SetValue(2, []byte("orphan"))
	tick := s.buildTickLocked(s.serverTime(), nil)
	s.mu.Unlock()

	if len(tick.States) != 0 {
		t.Errorf("States = %+v, want none", tick.States)
	}
}
