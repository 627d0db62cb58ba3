package core

import "context"

// PacketConn represents a packet-level channel, like a TUN device.
type PacketConn interface {
	// ReadPacket reads a single packet into buf and returns its length.
	// It blocks until a packet is available and returns io.EOF once the
	// channel is closed.
	ReadPacket(buf []byte) (int, error)
	// WritePacket writes a single packet.
	WritePacket(pkt []byte) error
	// Close closes the channel.
	Close() error
}

// WriteCloser is implemented by channels that can be told that no more
// packets will be written to them while reads continue.
type WriteCloser interface {
	CloseWrite() error
}

// ContextReader is implemented by channels whose reads return as soon as
// ctx is done, without taking a packet.
type ContextReader interface {
	ReadPacketContext(ctx context.Context, buf []byte) (int, error)
}
