package stack

import (
	"errors"
	"io"
	"sync"
)

// ErrWriteClosed is returned when writing to a channel whose write side has
// been closed with CloseWrite.
var ErrWriteClosed = errors.New("stack: write side closed")

// DefaultQueueSize is the number of packets an in-memory channel buffers
// before WritePacket blocks.
const DefaultQueueSize = 64

// queue is a bounded FIFO of packets with independent end-of-data and
// hard close signals.
type queue struct {
	ch        chan []byte
	closed    chan struct{}
	eof       chan struct{}
	closeOnce sync.Once
	eofOnce   sync.Once
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queue{
		ch:     make(chan []byte, size),
		closed: make(chan struct{}),
		eof:    make(chan struct{}),
	}
}

// push copies pkt into the queue, blocking while it is full.
func (q *queue) push(pkt []byte) error {
	select {
	case <-q.closed:
		return io.ErrClosedPipe
	case <-q.eof:
		return ErrWriteClosed
	default:
	}

	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	select {
	case q.ch <- cp:
		return nil
	case <-q.closed:
		return io.ErrClosedPipe
	case <-q.eof:
		return ErrWriteClosed
	}
}

// pop blocks until a packet is queued. After closeWrite the remaining
// packets are still delivered before io.EOF.
func (q *queue) pop(buf []byte) (int, error) {
	select {
	case p := <-q.ch:
		return deliver(buf, p)
	case <-q.closed:
		return 0, io.EOF
	case <-q.eof:
		select {
		case p := <-q.ch:
			return deliver(buf, p)
		default:
			return 0, io.EOF
		}
	}
}

func deliver(buf, p []byte) (int, error) {
	n := copy(buf, p)
	if n < len(p) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

func (q *queue) closeWrite() {
	q.eofOnce.Do(func() { close(q.eof) })
}

func (q *queue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
