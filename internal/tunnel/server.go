package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/core"
	"github.com/Diniboy1123/halfpipe/internal/session"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Server accepts tunnel connections and bridges every stream they open
// into the local stack. A failing connection is logged and dropped; the
// server keeps accepting until Close.
//
// The tunnel is point to point. Unless the stack is echo, all connections
// share one TUN device, and a packet read from it goes to whichever
// bridge asks first, whatever its destination. A second live connection
// is accepted but logged as a warning.
type Server struct {
	*service
	endpoint *quictun.Endpoint

	mu       sync.Mutex
	sessions map[string]*session.Session
}

var _ core.Inbound = (*Server)(nil)

// NewServer creates a server service. Nothing happens until Start.
func NewServer(ctx context.Context, conf *config.Config, opts Options) *Server {
	return &Server{
		service:  newService(ctx, config.RoleServer, conf, opts),
		sessions: make(map[string]*session.Session),
	}
}

// Start binds the listen address and begins accepting in the background.
func (s *Server) Start() error {
	s.log.WithField("listen", s.conf.Server.Listen).Info("Starting tunnel server")

	tlsConf, err := buildTLS(s.conf, tlsconf.RoleServer)
	if err != nil {
		return err
	}

	channels, err := s.openChannels(tlsconf.RoleServer)
	if err != nil {
		return err
	}

	endpoint, err := quictun.NewEndpoint(s.conf.Server.Listen, s.quicConfig())
	if err != nil {
		s.closeLocalStack()
		return err
	}
	if err := endpoint.Listen(tlsConf); err != nil {
		_ = endpoint.Close()
		s.closeLocalStack()
		return fmt.Errorf("listen: %w", err)
	}
	s.endpoint = endpoint
	s.log.WithField("addr", endpoint.LocalAddr().String()).Info("Listening")

	group, ctx := errgroup.WithContext(s.ctx)
	group.Go(func() error {
		return s.acceptLoop(ctx, group, channels)
	})
	go func() {
		s.stop(group.Wait(), s.endpoint.Close)
	}()
	return nil
}

func (s *Server) closeLocalStack() {
	if s.demux != nil {
		_ = s.demux.Close()
		s.demux = nil
	}
	if s.localStack != nil {
		_ = s.localStack.Close()
		s.localStack = nil
	}
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.endpoint == nil {
		return ""
	}
	return s.endpoint.LocalAddr().String()
}

func (s *Server) acceptLoop(ctx context.Context, group *errgroup.Group, channels session.ChannelSource) error {
	for {
		conn, err := s.endpoint.Accept(ctx)
		if err != nil {
			if errors.Is(err, quictun.ErrEndpointClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		sess := session.New(conn, tlsconf.RoleServer, channels, s.sessionOptions())
		s.register(sess)
		group.Go(func() error {
			defer s.unregister(sess)
			if err := sess.Run(ctx); err != nil {
				s.log.WithError(err).WithField("session", sess.ID()).Warn("Connection failed")
			}
			return nil
		})
	}
}

func (s *Server) register(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	entry := s.log.WithFields(log.Fields{
		"session":  sess.ID(),
		"peer_cn":  sess.PeerName(),
		"sessions": n,
	})
	entry.Info("Connection accepted")
	if n > 1 && s.demux != nil {
		entry.Warn("More than one connection shares the local stack; outbound packets go to whichever reads first")
	}
}

func (s *Server) unregister(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
	s.log.WithField("session", sess.ID()).Info("Connection finished")
}

// Sessions returns the number of live connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting, closes every connection and waits until all
// sessions ended.
func (s *Server) Close() error {
	if s.endpoint == nil {
		s.stop(nil, nil)
		return nil
	}
	err := s.endpoint.Close()
	s.cancel()
	<-s.done
	return err
}
