// Package transport provides an in-process message transport for netsrp.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/fzdarsky/netsrp/pkg/netbuf"
)

// DefaultQueueSize is the number of messages an endpoint buffers before Send blocks.
const DefaultQueueSize = 16

// ErrClosed is returned when sending to or receiving from a closed endpoint.
var ErrClosed = errors.New("endpoint closed")

// link is shared by both endpoints of a pair.
type link struct {
	done      chan struct{}
	closeOnce sync.Once
}

// Endpoint is one side of a loopback pair. Messages are delivered in order.
type Endpoint struct {
	id    string
	inbox chan []byte
	peer  *Endpoint
	link  *link
}

// Pair creates two connected endpoints with the given IDs.
func Pair(idA, idB string) (*Endpoint, *Endpoint) {
	l := &link{done: make(chan struct{})}
	a := &Endpoint{id: idA, inbox: make(chan []byte, DefaultQueueSize), link: l}
	b := &Endpoint{id: idB, inbox: make(chan []byte, DefaultQueueSize), link: l}
	a.peer = b
	b.peer = a
	return a, b
}

// ID returns the endpoint ID.
func (e *Endpoint) ID() string { return e.id }

// Send queues the bytes of om for the peer.
func (e *Endpoint) Send(ctx context.Context, om *netbuf.Outgoing) error {
	select {
	case <-e.link.done:
		return ErrClosed
	default:
	}

	select {
	case e.peer.inbox <- om.Bytes():
		return nil
	case <-e.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv waits for the next message from the peer.
func (e *Endpoint) Recv(ctx context.Context) (*netbuf.Incoming, error) {
	select {
	case data := <-e.inbox:
		return netbuf.NewIncoming(data), nil
	case <-e.link.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both endpoints of the pair.
func (e *Endpoint) Close() error {
	e.link.closeOnce.Do(func() {
		close(e.link.done)
	})
	return nil
}
