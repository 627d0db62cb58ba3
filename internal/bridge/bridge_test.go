package bridge

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Diniboy1123/halfpipe/internal/stack"
	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeStream is an in-memory Stream. Each direction is an io.Pipe, so
// writes block until the other side reads, like a stream with no flow
// control credit left.
type pipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newStreamPair() (*pipeStream, *pipeStream) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &pipeStream{r: ar, w: aw}, &pipeStream{r: br, w: bw}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *pipeStream) Close() error                { return s.w.Close() }

func (s *pipeStream) CancelRead(code quic.StreamErrorCode) {
	_ = s.r.CloseWithError(&quic.StreamError{ErrorCode: code})
}

func (s *pipeStream) CancelWrite(code quic.StreamErrorCode) {
	_ = s.w.CloseWithError(&quic.StreamError{ErrorCode: code, Remote: true})
}

type failingChannel struct {
	err error
}

func (c *failingChannel) ReadPacket([]byte) (int, error) { return 0, c.err }
func (c *failingChannel) WritePacket([]byte) error       { return nil }
func (c *failingChannel) Close() error                   { return nil }

func runBridge(t *testing.T, b *Bridge) (<-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return done, cancel
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func readFrame(t *testing.T, r io.Reader) string {
	t.Helper()
	buf := make([]byte, 1500)
	n, err := ReadFrame(r, buf, len(buf))
	require.NoError(t, err)
	return string(buf[:n])
}

func readPacket(t *testing.T, ch stack.Stack) string {
	t.Helper()
	buf := make([]byte, 1500)
	n, err := ch.ReadPacket(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestBridgeForwardsAndHalfCloses(t *testing.T) {
	bridgeCh, outside := stack.Pipe(8)
	s, peer := newStreamPair()
	b := New(s, bridgeCh, Options{MaxPacket: 1500, Buffers: quictun.NewNetBuffer(1500 + HeaderLen)})
	assert.Equal(t, Idle, b.State())
	done, _ := runBridge(t, b)

	// channel -> stream
	require.NoError(t, outside.WritePacket([]byte("why hello there")))
	assert.Equal(t, "why hello there", readFrame(t, peer))

	// stream -> channel
	require.NoError(t, WriteFrame(peer, []byte("reply")))
	assert.Equal(t, "reply", readPacket(t, outside))

	// empty packets are forwarded, not treated as end of data
	require.NoError(t, outside.WritePacket(nil))
	assert.Equal(t, "", readFrame(t, peer))
	require.NoError(t, WriteFrame(peer, nil))
	assert.Equal(t, "", readPacket(t, outside))

	// local end of data finishes the send half only
	require.NoError(t, outside.CloseWrite())
	_, err := ReadFrame(peer, make([]byte, 16), 16)
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return b.State() == HalfClosedLocal }, time.Second, 5*time.Millisecond)

	// the other direction keeps working
	require.NoError(t, WriteFrame(peer, []byte("late")))
	assert.Equal(t, "late", readPacket(t, outside))

	require.NoError(t, peer.Close())
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, Closed, b.State())

	_, err = outside.ReadPacket(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, Stats{PacketsOut: 2, BytesOut: 15, PacketsIn: 3, BytesIn: 9}, b.Stats())
}

func TestBridgeRemoteHalfClose(t *testing.T) {
	bridgeCh, outside := stack.Pipe(8)
	s, peer := newStreamPair()
	b := New(s, bridgeCh, Options{MaxPacket: 1500})
	done, _ := runBridge(t, b)

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool { return b.State() == HalfClosedRemote }, time.Second, 5*time.Millisecond)

	_, err := outside.ReadPacket(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, outside.WritePacket([]byte("still going")))
	assert.Equal(t, "still going", readFrame(t, peer))

	require.NoError(t, outside.CloseWrite())
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, Closed, b.State())
}

func TestBridgeFrameTooLarge(t *testing.T) {
	bridgeCh, outside := stack.Pipe(8)
	s, peer := newStreamPair()
	b := New(s, bridgeCh, Options{MaxPacket: 1500})
	done, _ := runBridge(t, b)

	go func() {
		frame, _ := AppendFrame(nil, make([]byte, 1501))
		_, _ = peer.Write(frame)
	}()

	err := waitRun(t, done)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, Failed, b.State())

	// the peer sees the stream reset with the matching code
	_, err = peer.Read(make([]byte, 1))
	var se *quic.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, quictun.StreamFrameTooLarge, se.ErrorCode)

	// nothing reached the channel
	require.NoError(t, bridgeCh.CloseWrite())
	_, err = outside.ReadPacket(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestBridgeMalformedFrame(t *testing.T) {
	bridgeCh, _ := stack.Pipe(8)
	s, peer := newStreamPair()
	b := New(s, bridgeCh, Options{MaxPacket: 1500})
	done, _ := runBridge(t, b)

	_, err := peer.Write([]byte{0, 0, 0, 10, 'a', 'b', 'c'})
	require.NoError(t, err)
	require.NoError(t, peer.Close())

	err = waitRun(t, done)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, Failed, b.State())
}

func TestBridgeStreamReset(t *testing.T) {
	bridgeCh, _ := stack.Pipe(8)
	s, peer := newStreamPair()
	b := New(s, bridgeCh, Options{MaxPacket: 1500})
	done, _ := runBridge(t, b)

	peer.CancelWrite(7)

	err := waitRun(t, done)
	assert.ErrorIs(t, err, ErrStreamReset)
	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, StreamReset, be.Kind)
}

func TestBridgeChannelError(t *testing.T) {
	s, _ := newStreamPair()
	gone := errors.New("device gone")
	b := New(s, &failingChannel{err: gone}, Options{MaxPacket: 1500})
	done, _ := runBridge(t, b)

	err := waitRun(t, done)
	assert.ErrorIs(t, err, ErrChannel)
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, Failed, b.State())
}

func TestBridgeConnectionClose(t *testing.T) {
	bridgeCh, _ := stack.Pipe(8)
	s, peer := newStreamPair()
	b := New(s, bridgeCh, Options{MaxPacket: 1500})
	done, _ := runBridge(t, b)

	_ = peer.w.CloseWithError(&quic.ApplicationError{Remote: true, ErrorCode: quictun.CloseNoError})

	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, Closed, b.State())
}

func TestBridgeCancel(t *testing.T) {
	bridgeCh, _ := stack.Pipe(8)
	s, _ := newStreamPair()
	b := New(s, bridgeCh, Options{MaxPacket: 1500})
	done, cancel := runBridge(t, b)

	cancel()
	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, Closed, b.State())

	assert.ErrorIs(t, b.Run(context.Background()), ErrAlreadyStarted)
}

func TestBridgeFailureLeavesSharedChannelToNextBridge(t *testing.T) {
	tunSide, outside := stack.Pipe(8)
	demux := stack.NewDemux(tunSide, 1500)
	defer demux.Close()

	first := demux.Port()
	s1, peer1 := newStreamPair()
	b1 := New(s1, first, Options{MaxPacket: 1500})
	done1, _ := runBridge(t, b1)

	// truncated header, then end of stream
	_, err := peer1.Write([]byte{0, 0})
	require.NoError(t, err)
	require.NoError(t, peer1.Close())

	err = waitRun(t, done1)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, Failed, b1.State())
	require.NoError(t, first.Close())

	s2, peer2 := newStreamPair()
	b2 := New(s2, demux.Port(), Options{MaxPacket: 1500})
	done2, cancel2 := runBridge(t, b2)

	require.NoError(t, outside.WritePacket([]byte("after failure")))
	assert.Equal(t, "after failure", readFrame(t, peer2))

	cancel2()
	assert.NoError(t, waitRun(t, done2))
	assert.Equal(t, Closed, b2.State())
}
