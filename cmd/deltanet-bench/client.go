package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/deltanet/pkg/protocol"
)

const (
	positionComponentID = 1
	tokenStateID        = 1
)

// benchClient is one participant's connection.
type benchClient struct {
	conn *websocket.Conn
	rec  *recorder
}

// runClient joins, then writes updates at cfg.RPS until ctx is done. Failures
// are recorded by kind; the end of the run is not a failure.
func runClient(ctx context.Context, url string, id int, cfg benchConfig, rec *recorder) {
	dialer := websocket.Dialer{Subprotocols: protocol.Subprotocols, HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		rec.fail(ctx, "dial")
		return
	}
	defer conn.Close()
	unblock := context.AfterFunc(ctx, func() { conn.Close() })
	defer unblock()

	c := &benchClient{conn: conn, rec: rec}

	join := &protocol.ConnectUser{
		Components: []protocol.ComponentValue{{ID: positionComponentID, Value: int64(id)}},
		States:     []protocol.StateValue{{ID: tokenStateID, Value: []byte(makeToken(id, 0, cfg.PayloadBytes))}},
	}
	if err := c.write(join); err != nil {
		rec.fail(ctx, "join")
		return
	}
	conn.SetReadDeadline(time.Now().Add(cfg.UpdateTimeout))
	if err := c.awaitCheckout(); err != nil {
		rec.fail(ctx, kindOf(err, "join"))
		return
	}

	period := time.Duration(float64(time.Second) / cfg.RPS)
	for seq := uint64(1); ctx.Err() == nil; seq++ {
		token := makeToken(id, seq, cfg.PayloadBytes)
		start := time.Now()

		update := &protocol.SetUserComponents{
			Components: []protocol.ComponentValue{{ID: positionComponentID, Value: int64(seq)}},
			States:     []protocol.StateValue{{ID: tokenStateID, Value: []byte(token)}},
		}
		if err := c.write(update); err != nil {
			rec.fail(ctx, "write")
			return
		}

		conn.SetReadDeadline(time.Now().Add(cfg.UpdateTimeout))
		ticks, err := c.awaitToken(token)
		if err != nil {
			rec.fail(ctx, kindOf(err, "read"))
			return
		}
		rec.completed(time.Since(start), ticks)

		if sleep := period - time.Since(start); sleep > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(sleep):
			}
		}
	}
}

func (c *benchClient) write(m protocol.ClientMessage) error {
	data := protocol.EncodeClientMessage(m)
	if _, ok := m.(*protocol.SetUserComponents); ok {
		c.rec.sent(len(data))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// next reads one server message, answering pings on the way. An error
// message from the server is returned as the error.
func (c *benchClient) next() (protocol.ServerMessage, int, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, 0, err
		}
		m, err := protocol.DecodeServerMessage(data)
		if err != nil {
			return nil, 0, decodeError{err}
		}
		switch m := m.(type) {
		case *protocol.Ping:
			c.rec.ping()
			if err := c.write(&protocol.Pong{Pong: m.Ping}); err != nil {
				return nil, 0, err
			}
			continue
		case *protocol.ErrorMessage:
			return nil, 0, m
		}
		return m, len(data), nil
	}
}

func (c *benchClient) awaitCheckout() error {
	for {
		m, n, err := c.next()
		if err != nil {
			return err
		}
		if _, ok := m.(*protocol.InitialCheckout); ok {
			c.rec.checkout(n)
			return nil
		}
	}
}

// awaitToken reads ticks until one carries token and returns how many ticks
// arrived, including that one.
func (c *benchClient) awaitToken(token string) (int, error) {
	for ticks := 1; ; {
		m, n, err := c.next()
		if err != nil {
			return ticks, err
		}
		tick, ok := m.(*protocol.Tick)
		if !ok {
			continue
		}
		c.rec.tick(n)
		if carries(tick, token) {
			return ticks, nil
		}
		ticks++
	}
}

func carries(tick *protocol.Tick, token string) bool {
	for _, st := range tick.States {
		if st.StateID != tokenStateID {
			continue
		}
		for _, u := range st.UpdatedStates {
			if string(u.Value) == token {
				return true
			}
		}
	}
	return false
}

type decodeError struct{ err error }

func (e decodeError) Error() string { return fmt.Sprintf("decode: %v", e.err) }

// kindOf names the failure class of a read error.
func kindOf(err error, fallback string) string {
	switch e := err.(type) {
	case decodeError:
		return "decode"
	case *protocol.ErrorMessage:
		return "server_" + strings.ToLower(string(e.ErrorType))
	}
	if websocket.IsUnexpectedCloseError(err) {
		return "closed"
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return "timeout"
	}
	return fallback
}

// makeToken returns a payloadBytes long token unique per client and sequence.
func makeToken(id int, seq uint64, payloadBytes int) string {
	base := strconv.FormatUint(uint64(id), 36) + "." + strconv.FormatUint(seq, 36)
	if len(base) >= payloadBytes {
		return base
	}
	return base + strings.Repeat("-", payloadBytes-len(base))
}
