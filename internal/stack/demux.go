package stack

import (
	"context"
	"io"
	"sync"

	"github.com/Diniboy1123/halfpipe/internal/core"
)

// requeueSize bounds the packets held back for the next reader after the
// reader they were handed to gave up.
const requeueSize = 16

// Demux shares one channel between several readers. A single goroutine
// reads the channel and hands every packet to exactly one Port that is
// waiting for it. A Port that is closed, or whose read context is done,
// never takes a packet, so a reader that ends does not swallow the packet
// meant for the one replacing it.
type Demux struct {
	pc   core.PacketConn
	size int

	packets chan []byte
	requeue chan []byte

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	err       error // set before done is closed
}

// NewDemux creates a Demux over pc reading packets of up to size bytes.
// Reading starts with the first Port read. The Demux never closes pc.
func NewDemux(pc core.PacketConn, size int) *Demux {
	if size <= 0 {
		size = 65536
	}
	return &Demux{
		pc:      pc,
		size:    size,
		packets: make(chan []byte),
		requeue: make(chan []byte, requeueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Port returns a new handle on the shared channel.
func (d *Demux) Port() *Port {
	return &Port{d: d, closed: make(chan struct{})}
}

// Close stops the read loop once its current read returns. Ports then
// read io.EOF.
func (d *Demux) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	return nil
}

func (d *Demux) start() {
	d.startOnce.Do(func() { go d.readLoop() })
}

func (d *Demux) readLoop() {
	defer close(d.done)

	buf := make([]byte, d.size)
	for {
		n, err := d.pc.ReadPacket(buf)
		if err != nil {
			d.err = err
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		select {
		case <-d.stop:
			d.err = io.EOF
			return
		default:
		}
		select {
		case d.packets <- pkt:
		case <-d.stop:
			d.err = io.EOF
			return
		}
	}
}

func (d *Demux) read(ctx context.Context, closed <-chan struct{}, buf []byte) (int, error) {
	d.start()

	if err := portErr(ctx, closed); err != nil {
		return 0, err
	}

	var pkt []byte
	select {
	case pkt = <-d.requeue:
	default:
		select {
		case pkt = <-d.requeue:
		case pkt = <-d.packets:
		case <-d.done:
			select {
			case pkt = <-d.requeue:
			default:
				return 0, d.err
			}
		case <-closed:
			return 0, io.EOF
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	// the packet may have been taken in the same instant the reader gave
	// up; hand it to the next one
	if err := portErr(ctx, closed); err != nil {
		select {
		case d.requeue <- pkt:
		default:
		}
		return 0, err
	}
	return deliver(buf, pkt)
}

func portErr(ctx context.Context, closed <-chan struct{}) error {
	select {
	case <-closed:
		return io.EOF
	default:
	}
	return ctx.Err()
}

// Port is one reader's handle on a Demux. Writes go straight to the
// shared channel. Closing a Port does not close the channel.
type Port struct {
	d      *Demux
	once   sync.Once
	closed chan struct{}
}

var _ core.ContextReader = (*Port)(nil)

func (p *Port) ReadPacket(buf []byte) (int, error) {
	return p.d.read(context.Background(), p.closed, buf)
}

// ReadPacketContext is ReadPacket that gives up, without taking a packet,
// once ctx is done.
func (p *Port) ReadPacketContext(ctx context.Context, buf []byte) (int, error) {
	return p.d.read(ctx, p.closed, buf)
}

func (p *Port) WritePacket(pkt []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	return p.d.pc.WritePacket(pkt)
}

// CloseWrite passes end of data on to the shared channel if it supports it.
func (p *Port) CloseWrite() error {
	if wc, ok := p.d.pc.(core.WriteCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}

func (p *Port) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
