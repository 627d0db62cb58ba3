package quictun

import (
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// DefaultListenAddr is where the server binds unless configured otherwise.
	DefaultListenAddr = "0.0.0.0:4444"
	// DefaultMaxPacket bounds the payload of a single forwarded packet.
	DefaultMaxPacket = 65536

	DefaultKeepAlive        = 10 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Connection level close codes.
const (
	// CloseNoError ends a connection gracefully.
	CloseNoError quic.ApplicationErrorCode = 0
	// CloseInternal ends a connection after a local failure.
	CloseInternal quic.ApplicationErrorCode = 1
)

// Stream level reset codes sent when a bridge tears a stream down.
const (
	StreamCancelled     quic.StreamErrorCode = 0
	StreamFrameTooLarge quic.StreamErrorCode = 1
	StreamMalformed     quic.StreamErrorCode = 2
	StreamChannelError  quic.StreamErrorCode = 3
)
