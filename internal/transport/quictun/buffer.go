package quictun

import "sync"

// NetBuffer is a pool of packet buffers with a fixed capacity, sized to
// hold the largest frame a bridge accepts. Every bridge draws its two
// pump buffers from the pool shared by its endpoint.
type NetBuffer struct {
	capacity int
	buf      sync.Pool
}

// Get returns a byte slice of length Cap from the pool.
func (n *NetBuffer) Get() []byte {
	b := *(n.buf.Get().(*[]byte))
	return b[:n.capacity]
}

// Cap returns the capacity of the buffers handed out.
func (n *NetBuffer) Cap() int {
	return n.capacity
}

// Put places a byte slice back into the pool.
// It checks if the capacity of the byte slice matches the pool's capacity.
// If it doesn't match, the byte slice is not returned to the pool.
func (n *NetBuffer) Put(buf []byte) {
	if cap(buf) != n.capacity {
		return
	}
	n.buf.Put(&buf)
}

// NewNetBuffer creates a new NetBuffer with the specified capacity.
// The capacity must be greater than 0.
func NewNetBuffer(capacity int) *NetBuffer {
	if capacity <= 0 {
		panic("capacity must be greater than 0")
	}
	return &NetBuffer{
		capacity: capacity,
		buf: sync.Pool{
			New: func() interface{} {
				b := make([]byte, capacity)
				return &b
			},
		},
	}
}
