package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vango-dev/deltanet/pkg/deltanet"
	"github.com/vango-dev/deltanet/pkg/protocol"
)

var (
	// ErrSocketClosed is returned by Send after the socket was closed.
	ErrSocketClosed = errors.New("server: socket closed")

	// ErrSlowConsumer is returned by Send when the send queue is full. The
	// socket is closed.
	ErrSlowConsumer = errors.New("server: send queue full")
)

// wsSocket adapts a WebSocket connection to deltanet.Socket. Frames are
// queued and written by a single writer goroutine so Send never blocks.
type wsSocket struct {
	conn         *websocket.Conn
	queue        chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	counters     *counters
	logger       *slog.Logger

	closeOnce   sync.Once
	closeCode   int
	closeReason string
	flush       bool
}

var _ deltanet.Socket = (*wsSocket)(nil)

func newSocket(conn *websocket.Conn, queueSize int, writeTimeout time.Duration, c *counters, logger *slog.Logger) *wsSocket {
	return &wsSocket{
		conn:         conn,
		queue:        make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		counters:     c,
		logger:       logger,
	}
}

// Send queues a binary frame.
func (w *wsSocket) Send(data []byte) error {
	select {
	case <-w.done:
		return ErrSocketClosed
	default:
	}
	select {
	case w.queue <- data:
		return nil
	default:
		w.counters.slowConsumers.Add(1)
		w.logger.Warn("send queue full, closing socket", "queued", len(w.queue))
		w.close(websocket.CloseTryAgainLater, "send queue full", false)
		return ErrSlowConsumer
	}
}

// Close flushes queued frames, then sends a close frame with code and reason.
func (w *wsSocket) Close(code int, reason string) error {
	w.close(code, reason, true)
	return nil
}

func (w *wsSocket) close(code int, reason string, flush bool) {
	w.closeOnce.Do(func() {
		w.closeCode = code
		w.closeReason = reason
		w.flush = flush
		close(w.done)
	})
}

// writeLoop owns all writes to the connection and closes it on exit.
func (w *wsSocket) writeLoop() {
	defer w.conn.Close()

	for {
		select {
		case data := <-w.queue:
			if err := w.write(data); err != nil {
				w.counters.writeErrors.Add(1)
				w.logger.Debug("write failed", "error", err)
				w.close(websocket.CloseAbnormalClosure, "", false)
				return
			}
		case <-w.done:
			if w.flush {
				w.drain()
			}
			msg := websocket.FormatCloseMessage(w.closeCode, w.closeReason)
			deadline := time.Now().Add(w.writeTimeout)
			if err := w.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				w.logger.Debug("close frame failed", "error", err)
			}
			return
		}
	}
}

// drain writes whatever is still queued.
func (w *wsSocket) drain() {
	for {
		select {
		case data := <-w.queue:
			if err := w.write(data); err != nil {
				w.counters.writeErrors.Add(1)
				return
			}
		default:
			return
		}
	}
}

func (w *wsSocket) write(data []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	w.counters.framesSent.Add(1)
	w.counters.bytesSent.Add(int64(len(data)))
	return nil
}

// readLoop feeds frames to c until the socket fails or the peer goes away.
func (s *Server) readLoop(c *deltanet.Connection, sock *wsSocket, logger *slog.Logger) {
	var limiter *rate.Limiter
	if s.config.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.MessageBurst)
	}

	conn := sock.conn
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure,
				protocol.CloseCodeError,
			) {
				s.counters.readErrors.Add(1)
				logger.Debug("read error", "error", err)
			}
			return
		}
		s.counters.messagesReceived.Add(1)
		s.counters.bytesReceived.Add(int64(len(data)))

		if limiter != nil && !limiter.Allow() {
			s.counters.rateLimited.Add(1)
			s.core.Disconnect(c.ID(), deltanet.NewRetryableError(protocol.ErrorRateLimited, "too many messages"))
			return
		}
		if messageType != websocket.BinaryMessage {
			s.core.Disconnect(c.ID(), deltanet.NewError(protocol.ErrorInvalidMessage, "text frames are not supported"))
			return
		}
		c.HandleMessage(data)
	}
}
