package server

import (
	"sync/atomic"
	"time"
)

// Stats aggregates transport counters with the core's live counts.
type Stats struct {
	// Core
	Connections  int `json:"connections"`
	Observers    int `json:"observers"`
	Participants int `json:"participants"`

	// Sockets
	SocketsOpened int64 `json:"sockets_opened"`
	SocketsClosed int64 `json:"sockets_closed"`

	// Refusals
	RejectedSubprotocol int64 `json:"rejected_subprotocol"`
	RejectedIPLimit     int64 `json:"rejected_ip_limit"`
	RateLimited         int64 `json:"rate_limited"`
	SlowConsumers       int64 `json:"slow_consumers"`

	// Network
	MessagesReceived int64 `json:"messages_received"`
	BytesReceived    int64 `json:"bytes_received"`
	FramesSent       int64 `json:"frames_sent"`
	BytesSent        int64 `json:"bytes_sent"`

	// Errors
	ReadErrors  int64 `json:"read_errors"`
	WriteErrors int64 `json:"write_errors"`

	CollectedAt time.Time `json:"collected_at"`
}

// counters is updated from socket goroutines without the core lock.
type counters struct {
	socketsOpened       atomic.Int64
	socketsClosed       atomic.Int64
	rejectedSubprotocol atomic.Int64
	rejectedIPLimit     atomic.Int64
	rateLimited         atomic.Int64
	slowConsumers       atomic.Int64
	messagesReceived    atomic.Int64
	bytesReceived       atomic.Int64
	framesSent          atomic.Int64
	bytesSent           atomic.Int64
	readErrors          atomic.Int64
	writeErrors         atomic.Int64
}

// Stats collects and returns transport metrics.
func (s *Server) Stats() *Stats {
	connections := s.core.ConnectionCount()
	return &Stats{
		Connections:         connections,
		Observers:           s.core.ObserverCount(),
		Participants:        s.core.IndicesCount(),
		SocketsOpened:       s.counters.socketsOpened.Load(),
		SocketsClosed:       s.counters.socketsClosed.Load(),
		RejectedSubprotocol: s.counters.rejectedSubprotocol.Load(),
		RejectedIPLimit:     s.counters.rejectedIPLimit.Load(),
		RateLimited:         s.counters.rateLimited.Load(),
		SlowConsumers:       s.counters.slowConsumers.Load(),
		MessagesReceived:    s.counters.messagesReceived.Load(),
		BytesReceived:       s.counters.bytesReceived.Load(),
		FramesSent:          s.counters.framesSent.Load(),
		BytesSent:           s.counters.bytesSent.Load(),
		ReadErrors:          s.counters.readErrors.Load(),
		WriteErrors:         s.counters.writeErrors.Load(),
		CollectedAt:         time.Now(),
	}
}
