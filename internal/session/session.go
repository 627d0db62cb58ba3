// Package session drives one established tunnel connection: the client
// opens a single stream, the server accepts streams for as long as the
// connection lives, and every stream is handed to its own bridge.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Diniboy1123/halfpipe/internal/bridge"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// Conn is the part of a *quic.Conn a session uses.
type Conn interface {
	OpenStreamSync(ctx context.Context) (*quic.Stream, error)
	AcceptStream(ctx context.Context) (*quic.Stream, error)
	CloseWithError(code quic.ApplicationErrorCode, msg string) error
	RemoteAddr() net.Addr
	ConnectionState() quic.ConnectionState
	Context() context.Context
}

// Options configure the bridges a session starts.
type Options struct {
	MaxPacket int
	Buffers   *quictun.NetBuffer
	Log       *log.Entry
}

// Session owns one connection and the bridges running over it.
type Session struct {
	id       string
	conn     Conn
	role     tlsconf.Role
	channels ChannelSource
	opts     Options
	log      *log.Entry

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	bridges map[quic.StreamID]*bridge.Bridge
	wg      sync.WaitGroup
}

// New creates a session for conn. It does nothing until Run is called.
func New(conn Conn, role tlsconf.Role, channels ChannelSource, opts Options) *Session {
	id := uuid.New().String()
	entry := opts.Log
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	s := &Session{
		id:       id,
		conn:     conn,
		role:     role,
		channels: channels,
		opts:     opts,
		bridges:  make(map[quic.StreamID]*bridge.Bridge),
	}
	s.log = entry.WithFields(log.Fields{
		"session": id,
		"role":    role.String(),
		"peer":    conn.RemoteAddr().String(),
		"peer_cn": s.PeerName(),
	})
	return s
}

// ID returns the unique id of the session.
func (s *Session) ID() string {
	return s.id
}

// PeerName returns the common name of the verified peer certificate.
func (s *Session) PeerName() string {
	certs := s.conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return ""
	}
	return certs[0].Subject.CommonName
}

// Bridges returns the number of bridges currently running.
func (s *Session) Bridges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bridges)
}

// Run drives the session until the connection ends or ctx is cancelled.
// An application close of the connection ends the session with a nil
// error. For the client, a failure of its single bridge is returned; the
// server only logs bridge failures and keeps accepting streams.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer s.wg.Wait()
	defer cancel()

	switch s.role {
	case tlsconf.RoleClient:
		return s.runClient(ctx)
	case tlsconf.RoleServer:
		return s.runServer(ctx)
	}
	return fmt.Errorf("session: unknown role %s", s.role)
}

func (s *Session) runClient(ctx context.Context) error {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		if quictun.IsGracefulClose(err) || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open stream: %w", err)
	}
	s.log.WithField("stream", stream.StreamID()).Info("Opened tunnel stream")
	return s.runBridge(ctx, stream)
}

func (s *Session) runServer(ctx context.Context) error {
	for {
		stream, err := s.conn.AcceptStream(ctx)
		if err != nil {
			if quictun.IsGracefulClose(err) || ctx.Err() != nil {
				s.log.Info("Connection closed")
				return nil
			}
			return fmt.Errorf("accept stream: %w", err)
		}

		s.log.WithField("stream", stream.StreamID()).Debug("Accepted tunnel stream")
		if !s.track(ctx) {
			stream.CancelRead(quictun.StreamCancelled)
			stream.CancelWrite(quictun.StreamCancelled)
			return nil
		}
		go func() {
			defer s.wg.Done()
			if err := s.runBridge(ctx, stream); err != nil {
				s.log.WithError(err).WithField("stream", stream.StreamID()).Warn("Bridge failed")
			}
		}()
	}
}

// track registers a bridge goroutine with the wait group unless the
// session is closing.
func (s *Session) track(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// runBridge forwards stream until its bridge ends.
func (s *Session) runBridge(ctx context.Context, stream *quic.Stream) error {
	id := stream.StreamID()
	ch, err := s.channels.Channel(id)
	if err != nil {
		stream.CancelRead(quictun.StreamChannelError)
		stream.CancelWrite(quictun.StreamChannelError)
		return &bridge.BridgeError{Kind: bridge.ChannelError, Err: err}
	}

	b := bridge.New(stream, ch, bridge.Options{
		MaxPacket: s.opts.MaxPacket,
		Buffers:   s.opts.Buffers,
		Log:       s.log.WithField("stream", id),
	})

	s.mu.Lock()
	s.bridges[id] = b
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.bridges, id)
		s.mu.Unlock()
		if r, ok := s.channels.(Releaser); ok {
			r.Release(id, ch)
		}
	}()

	err = b.Run(ctx)
	stats := b.Stats()
	s.log.WithFields(log.Fields{
		"stream":      id,
		"state":       b.State().String(),
		"packets_out": stats.PacketsOut,
		"packets_in":  stats.PacketsIn,
	}).Debug("Bridge ended")
	return err
}

// Close closes the connection gracefully and waits for all bridges.
func (s *Session) Close() error {
	err := s.conn.CloseWithError(quictun.CloseNoError, "done")

	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
