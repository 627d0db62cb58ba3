package session

import (
	"github.com/Diniboy1123/halfpipe/internal/core"
	"github.com/Diniboy1123/halfpipe/internal/stack"
	"github.com/quic-go/quic-go"
)

// ChannelSource hands out the packet channel a new bridge forwards to.
type ChannelSource interface {
	Channel(id quic.StreamID) (core.PacketConn, error)
}

// ChannelFunc adapts a function to a ChannelSource.
type ChannelFunc func(id quic.StreamID) (core.PacketConn, error)

func (f ChannelFunc) Channel(id quic.StreamID) (core.PacketConn, error) {
	return f(id)
}

type shared struct {
	d *stack.Demux
}

// Shared returns a source that gives every stream its own port on d,
// normally wrapping the local TUN device. Releasing a stream closes its
// port, which leaves the device open and hands the packet that port was
// waiting for to the next reader.
func Shared(d *stack.Demux) ChannelSource {
	return shared{d: d}
}

func (s shared) Channel(quic.StreamID) (core.PacketConn, error) {
	return s.d.Port(), nil
}

func (s shared) Release(_ quic.StreamID, pc core.PacketConn) {
	_ = pc.Close()
}

// Releaser is implemented by sources that want each channel back.
// Release is called once the bridge of that stream ended.
type Releaser interface {
	Release(id quic.StreamID, pc core.PacketConn)
}

type perStream struct {
	newChannel func() core.PacketConn
}

// PerStream returns a source that creates a fresh channel for every
// stream and closes it when the stream's bridge ends.
func PerStream(newChannel func() core.PacketConn) ChannelSource {
	return perStream{newChannel: newChannel}
}

func (p perStream) Channel(quic.StreamID) (core.PacketConn, error) {
	return p.newChannel(), nil
}

func (p perStream) Release(_ quic.StreamID, pc core.PacketConn) {
	_ = pc.Close()
}
