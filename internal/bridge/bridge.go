// Package bridge forwards IP packets between a packet channel and one
// QUIC stream.
//
// Packets travel over the stream as frames: a 4 byte big-endian length
// followed by that many payload bytes. Each direction is pumped by its own
// goroutine so a stalled sink on one side never holds up the other.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Diniboy1123/halfpipe/internal/core"
	"github.com/Diniboy1123/halfpipe/internal/stack"
	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// Stream is the part of a *quic.Stream the bridge uses. Close finishes
// the send half only.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
	CancelRead(quic.StreamErrorCode)
	CancelWrite(quic.StreamErrorCode)
}

// State is the lifecycle state of a Bridge.
type State int32

const (
	Idle State = iota
	Running
	// HalfClosedLocal: the channel ended and the stream's send half is finished.
	HalfClosedLocal
	// HalfClosedRemote: the peer finished its send half.
	HalfClosedRemote
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case HalfClosedLocal:
		return "half-closed-local"
	case HalfClosedRemote:
		return "half-closed-remote"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrAlreadyStarted is returned by Run on a bridge that already ran.
var ErrAlreadyStarted = errors.New("bridge: already started")

// Options configure a Bridge.
type Options struct {
	// MaxPacket is the largest payload accepted in either direction.
	MaxPacket int
	// Buffers, if set, provides the pump buffers. Its capacity must be at
	// least MaxPacket+HeaderLen.
	Buffers *quictun.NetBuffer
	// Log receives the bridge's log lines.
	Log *log.Entry
}

// Stats counts the traffic a bridge forwarded.
type Stats struct {
	PacketsOut uint64
	BytesOut   uint64
	PacketsIn  uint64
	BytesIn    uint64
}

// Bridge pumps packets between ch and stream until both directions ended
// or one of them failed. The bridge never closes ch; a shared channel is
// handed to each bridge as its own stack.Port.
type Bridge struct {
	stream Stream
	ch     core.PacketConn
	opts   Options
	log    *log.Entry

	mu    sync.Mutex
	state State

	packetsOut atomic.Uint64
	bytesOut   atomic.Uint64
	packetsIn  atomic.Uint64
	bytesIn    atomic.Uint64
}

// New creates a bridge in the Idle state.
func New(stream Stream, ch core.PacketConn, opts Options) *Bridge {
	if opts.MaxPacket <= 0 {
		opts.MaxPacket = quictun.DefaultMaxPacket
	}
	if opts.Buffers != nil && opts.Buffers.Cap() < opts.MaxPacket+HeaderLen {
		opts.Buffers = nil
	}
	entry := opts.Log
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	return &Bridge{
		stream: stream,
		ch:     ch,
		opts:   opts,
		log:    entry,
		state:  Idle,
	}
}

// State returns the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		PacketsOut: b.packetsOut.Load(),
		BytesOut:   b.bytesOut.Load(),
		PacketsIn:  b.packetsIn.Load(),
		BytesIn:    b.bytesIn.Load(),
	}
}

type direction int

const (
	outbound direction = iota
	inbound
)

type pumpResult struct {
	dir direction
	err error
}

// Run forwards packets until both directions finished, one failed, the
// connection closed, or ctx is cancelled. It returns nil unless the bridge
// failed, in which case the error is a *BridgeError.
//
// When the channel is a core.ContextReader, Run returns only after both
// pumps stopped, so a shared channel is never read on behalf of an ended
// bridge. Other channels may still have a read in progress, whose packet
// is dropped.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.state != Idle {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.state = Running
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan pumpResult, 2)
	go func() { results <- pumpResult{outbound, b.pumpOutbound(ctx)} }()
	go func() { results <- pumpResult{inbound, b.pumpInbound(ctx)} }()

	pending := 2
	ended, err := b.wait(ctx, results, &pending)
	if ended {
		cancel()
		if _, ok := b.ch.(core.ContextReader); ok {
			for ; pending > 0; pending-- {
				<-results
			}
		}
		return err
	}

	b.log.WithFields(log.Fields{
		"packets_out": b.packetsOut.Load(),
		"packets_in":  b.packetsIn.Load(),
	}).Debug("Bridge closed")
	return nil
}

// wait collects pump results until both directions finished cleanly or
// the bridge ended early, which it reports with ended set.
func (b *Bridge) wait(ctx context.Context, results <-chan pumpResult, pending *int) (ended bool, err error) {
	for *pending > 0 {
		select {
		case <-ctx.Done():
			b.teardown(quictun.StreamCancelled)
			b.setState(Closed)
			b.log.Debug("Bridge cancelled")
			return true, nil
		case r := <-results:
			*pending--
			if r.err == nil {
				b.finish(r.dir)
				continue
			}
			if ctx.Err() != nil || quictun.IsGracefulClose(r.err) {
				b.teardown(quictun.StreamCancelled)
				b.setState(Closed)
				b.log.WithError(r.err).Debug("Bridge ended by connection close")
				return true, nil
			}
			return true, b.fail(r.err)
		}
	}
	return false, nil
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// finish records that one direction ended cleanly.
func (b *Bridge) finish(dir direction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == Running && dir == outbound:
		b.state = HalfClosedLocal
	case b.state == Running && dir == inbound:
		b.state = HalfClosedRemote
	default:
		b.state = Closed
	}
	b.log.WithField("state", b.state).Debug("Bridge direction finished")
}

func (b *Bridge) fail(err error) error {
	var be *BridgeError
	if !errors.As(err, &be) {
		be = &BridgeError{Kind: StreamReset, Err: err}
	}
	b.setState(Failed)
	b.teardown(be.Kind.resetCode())
	return be
}

// teardown aborts both halves of the stream, unblocking any pump that is
// waiting on it.
func (b *Bridge) teardown(code quic.StreamErrorCode) {
	b.stream.CancelRead(code)
	b.stream.CancelWrite(code)
}

func (b *Bridge) buffer(size int) ([]byte, func()) {
	if b.opts.Buffers != nil {
		buf := b.opts.Buffers.Get()
		return buf[:size], func() { b.opts.Buffers.Put(buf) }
	}
	return make([]byte, size), func() {}
}

// pumpOutbound moves packets from the channel to the stream. The frame
// header is written in front of the packet in the same buffer so that
// each packet goes out in a single stream write.
func (b *Bridge) pumpOutbound(ctx context.Context) error {
	buf, release := b.buffer(HeaderLen + b.opts.MaxPacket)
	defer release()

	for {
		n, err := b.readPacket(ctx, buf[HeaderLen:])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				// end of data: finish the send half, the peer reads EOF
				if err := b.stream.Close(); err != nil {
					return streamError(err)
				}
				return nil
			}
			return &BridgeError{Kind: ChannelError, Err: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		putHeader(buf, n)
		if _, err := b.stream.Write(buf[:HeaderLen+n]); err != nil {
			return streamError(err)
		}
		b.packetsOut.Add(1)
		b.bytesOut.Add(uint64(n))
		b.trace("out", buf[HeaderLen:HeaderLen+n])
	}
}

func (b *Bridge) readPacket(ctx context.Context, buf []byte) (int, error) {
	if cr, ok := b.ch.(core.ContextReader); ok {
		return cr.ReadPacketContext(ctx, buf)
	}
	return b.ch.ReadPacket(buf)
}

// pumpInbound moves frames from the stream to the channel.
func (b *Bridge) pumpInbound(ctx context.Context) error {
	buf, release := b.buffer(b.opts.MaxPacket)
	defer release()

	for {
		n, err := ReadFrame(b.stream, buf, b.opts.MaxPacket)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if wc, ok := b.ch.(core.WriteCloser); ok {
					if err := wc.CloseWrite(); err != nil {
						return &BridgeError{Kind: ChannelError, Err: err}
					}
				}
				return nil
			}
			return streamError(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := b.ch.WritePacket(buf[:n]); err != nil {
			return &BridgeError{Kind: ChannelError, Err: err}
		}
		b.packetsIn.Add(1)
		b.bytesIn.Add(uint64(n))
		b.trace("in", buf[:n])
	}
}

func (b *Bridge) trace(dir string, pkt []byte) {
	if !b.log.Logger.IsLevelEnabled(log.TraceLevel) {
		return
	}
	b.log.WithFields(log.Fields{
		"dir":    dir,
		"packet": stack.Describe(pkt),
	}).Trace("Forwarded packet")
}
