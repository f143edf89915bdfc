package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/deltanet/internal/auth"
	"github.com/vango-dev/deltanet/internal/config"
	"github.com/vango-dev/deltanet/internal/snapshot"
	"github.com/vango-dev/deltanet/pkg/deltanet"
	"github.com/vango-dev/deltanet/pkg/protocol"
	"github.com/vango-dev/deltanet/pkg/server"
)

const (
	secret         = "integration-secret"
	nameStateID    = 7
	moodStateID    = 8
	speedComponent = 1
)

const configBody = `
[server]
tick_interval = "5ms"
heartbeat_interval = "-1s"

[auth]
issuer = "integration"
allow_anonymous_observers = true
subject_state_id = 7
`

type harness struct {
	core *deltanet.Server
	srv  *server.Server
	ts   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	if err := os.WriteFile(path, []byte(configBody), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := auth.NewValidator([]byte(secret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAnonymousObservers(),
		auth.WithSubjectState(*cfg.Auth.SubjectStateID),
		auth.WithLogger(quiet),
	)
	coreCfg := cfg.CoreConfig().WithLogger(quiet)
	coreCfg.OnJoiner = validator.OnJoiner
	core := deltanet.New(coreCfg)

	srv := server.New(core, cfg.TransportConfig())
	srv.SetLogger(quiet)

	// Mounted under an application router next to its own routes.
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/*", srv.Handler())

	ts := httptest.NewServer(r)
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return &harness{core: core, srv: srv, ts: ts}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: protocol.Subprotocols, HandshakeTimeout: 2 * time.Second}
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + server.DefaultPath
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, m protocol.ClientMessage) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeClientMessage(m)); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
}

// next returns the first message matching accept, skipping the rest.
func next(t *testing.T, conn *websocket.Conn, what string, accept func(protocol.ServerMessage) bool) protocol.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		m, err := protocol.DecodeServerMessage(data)
		if err != nil {
			t.Fatalf("DecodeServerMessage() error: %v", err)
		}
		if accept(m) {
			return m
		}
		if em, ok := m.(*protocol.ErrorMessage); ok {
			t.Fatalf("waiting for %s: got error %s: %s", what, em.ErrorType, em.Message)
		}
	}
}

func isType[T protocol.ServerMessage](m protocol.ServerMessage) bool {
	_, ok := m.(T)
	return ok
}

func token(t *testing.T, subject string, observer bool) string {
	t.Helper()
	tok, err := auth.IssueToken([]byte(secret), subject, auth.TokenOptions{Issuer: "integration", Observer: observer})
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return tok
}

func TestParticipantAndObserver(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t)
	send(t, alice, &protocol.ConnectUser{
		Token:      token(t, "alice", false),
		Components: []protocol.ComponentValue{{ID: speedComponent, Value: 0}},
		States: []protocol.StateValue{
			{ID: nameStateID, Value: []byte("spoofed")},
			{ID: moodStateID, Value: []byte("calm")},
		},
	})
	ui := next(t, alice, "userIndex", isType[*protocol.UserIndex]).(*protocol.UserIndex)
	if ui.Index != 0 {
		t.Errorf("alice index = %d", ui.Index)
	}
	next(t, alice, "alice checkout", isType[*protocol.InitialCheckout])

	observer := h.dial(t)
	send(t, observer, &protocol.ConnectUser{Observer: true})
	ic := next(t, observer, "observer checkout", isType[*protocol.InitialCheckout]).(*protocol.InitialCheckout)
	if ic.IndicesCount != 1 {
		t.Fatalf("IndicesCount = %d", ic.IndicesCount)
	}
	states := map[uint32]string{}
	for _, st := range ic.States {
		states[st.StateID] = string(st.Values[0])
	}
	// The token subject overrides whatever the client claimed.
	if states[nameStateID] != "alice" || states[moodStateID] != "calm" {
		t.Errorf("checkout states = %v", states)
	}

	send(t, alice, &protocol.SetUserComponents{
		Components: []protocol.ComponentValue{{ID: speedComponent, Value: 10}},
		States:     []protocol.StateValue{{ID: moodStateID, Value: []byte("busy")}},
	})

	next(t, observer, "tick with alice's update", func(m protocol.ServerMessage) bool {
		tick, ok := m.(*protocol.Tick)
		if !ok {
			return false
		}
		var sawComponent, sawState bool
		for _, c := range tick.ComponentDeltaDeltas {
			if c.ComponentID == speedComponent && len(c.DeltaDeltas) == 1 && c.DeltaDeltas[0] == 10 {
				sawComponent = true
			}
		}
		for _, st := range tick.States {
			for _, u := range st.UpdatedStates {
				if st.StateID == moodStateID && string(u.Value) == "busy" {
					sawState = true
				}
			}
		}
		return sawComponent && sawState
	})

	if got := h.srv.Stats(); got.Participants != 1 || got.Observers != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestRejectedJoiners(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		join *protocol.ConnectUser
	}{
		{"no token", &protocol.ConnectUser{}},
		{"forged token", &protocol.ConnectUser{Token: "not-a-jwt"}},
		{"observer token as participant", &protocol.ConnectUser{Token: token(t, "dash", true)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := h.dial(t)
			send(t, conn, tt.join)
			em := next(t, conn, "error", isType[*protocol.ErrorMessage]).(*protocol.ErrorMessage)
			if em.ErrorType != protocol.ErrorAuthenticationFailed {
				t.Errorf("ErrorType = %s", em.ErrorType)
			}
			_, _, err := conn.ReadMessage()
			if !websocket.IsCloseError(err, protocol.CloseCodeError) {
				t.Errorf("read after error = %v; want close %d", err, protocol.CloseCodeError)
			}
		})
	}
}

func TestAppRoutesAndSnapshot(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("/api/health = %q", body)
	}

	if _, err := h.core.AddSyntheticJoiner(deltanet.SyntheticJoiner{
		Components: map[uint32]int64{speedComponent: 3},
		States:     map[uint32][]byte{nameStateID: []byte("bot")},
	}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.core.IndicesCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("synthetic participant never admitted")
		}
		time.Sleep(time.Millisecond)
	}

	dir := t.TempDir()
	store, err := snapshot.NewDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	key, err := snapshot.NewExporter(h.core, store, time.Minute).Export(context.Background())
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatal(err)
	}
	m, err := protocol.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("DecodeServerMessage() error: %v", err)
	}
	if ic := m.(*protocol.InitialCheckout); ic.IndicesCount != 1 || string(ic.States[0].Values[0]) != "bot" {
		t.Errorf("snapshot = %+v", ic)
	}
}
