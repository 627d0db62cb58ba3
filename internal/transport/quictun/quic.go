package quictun

import (
	"time"

	"github.com/quic-go/quic-go"
)

// Options tune the QUIC transport. Zero values select the defaults.
type Options struct {
	KeepAlive        time.Duration
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	// MaxPacket is used to size the stream receive window so that at least
	// a few full frames fit in flight.
	MaxPacket int
}

// DefaultQuicConfig returns the QUIC configuration shared by client and
// server. Unidirectional streams are disabled since the tunnel only ever
// uses bidirectional ones.
func DefaultQuicConfig(opts Options) *quic.Config {
	if opts.KeepAlive == 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.MaxPacket <= 0 {
		opts.MaxPacket = DefaultMaxPacket
	}

	window := uint64(4 * (opts.MaxPacket + 4))
	return &quic.Config{
		HandshakeIdleTimeout:       opts.HandshakeTimeout,
		MaxIdleTimeout:             opts.IdleTimeout,
		KeepAlivePeriod:            opts.KeepAlive,
		MaxIncomingUniStreams:      -1,
		InitialStreamReceiveWindow: window,
		MaxStreamReceiveWindow:     4 * window,
	}
}
