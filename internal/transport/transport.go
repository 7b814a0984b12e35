// Package transport carries camera notifications from a BLE bridge to the
// reassembler and capture commands back to the camera.
//
// The bridge owns discovery, pairing and GATT subscription. It forwards every
// notification of the image characteristic unchanged, one record per
// notification, and writes any command it receives to the control
// characteristic.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// DefaultQueueSize bounds the notifications buffered ahead of the consumer.
const DefaultQueueSize = 1024

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport delivers raw chunks in arrival order and accepts capture
// commands. The notification channel is closed when the transport stops.
type Transport interface {
	Notifications() <-chan []byte
	Send(ctx context.Context, cmd byte) error
	Close() error
}

// Stats reports transport counters.
type Stats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// queue is the single-producer side of a notification channel. It never
// blocks the read loop: a full queue drops the notification, which the
// reassembler then sees as a gap.
type queue struct {
	ch       chan []byte
	received atomic.Uint64
	dropped  atomic.Uint64
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queue{ch: make(chan []byte, size)}
}

func (q *queue) deliver(b []byte) {
	q.received.Add(1)
	select {
	case q.ch <- b:
	default:
		n := q.dropped.Add(1)
		slog.Debug("notification dropped, queue full", "bytes", len(b), "dropped_total", n)
	}
}

func (q *queue) stats() Stats {
	return Stats{Received: q.received.Load(), Dropped: q.dropped.Load()}
}
