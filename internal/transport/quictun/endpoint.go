package quictun

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// Endpoint is the single UDP socket a process speaks QUIC on. A server
// endpoint accepts connections after Listen, a client endpoint dials with
// Connect; both may hold any number of connections at once.
type Endpoint struct {
	mu       sync.Mutex
	udpConn  *net.UDPConn
	tr       *quic.Transport
	quicConf *quic.Config
	listener *quic.Listener
	conns    map[*quic.Conn]struct{}
	closed   bool
}

// NewEndpoint binds a UDP socket on bindAddr. Use "0.0.0.0:0" or "[::]:0"
// for an ephemeral client port.
func NewEndpoint(bindAddr string, quicConf *quic.Config) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, classifyBindError(bindAddr, err)
	}
	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, classifyBindError(bindAddr, err)
	}
	if quicConf == nil {
		quicConf = DefaultQuicConfig(Options{})
	}

	return &Endpoint{
		udpConn:  udpConn,
		tr:       &quic.Transport{Conn: udpConn},
		quicConf: quicConf,
		conns:    make(map[*quic.Conn]struct{}),
	}, nil
}

// LocalAddr returns the address the endpoint is bound to.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.udpConn.LocalAddr()
}

// Listen starts accepting incoming connections authenticated with tlsConf.
func (e *Endpoint) Listen(tlsConf *tls.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEndpointClosed
	}
	if e.listener != nil {
		return errors.New("quictun: endpoint is already listening")
	}
	ln, err := e.tr.Listen(tlsConf, e.quicConf)
	if err != nil {
		return err
	}
	e.listener = ln
	return nil
}

// Accept returns the next connection that completed its handshake.
// Handshakes run concurrently inside quic-go, so a peer that fails or
// stalls its handshake never holds up the connections behind it.
func (e *Endpoint) Accept(ctx context.Context) (*quic.Conn, error) {
	e.mu.Lock()
	ln := e.listener
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return nil, ErrEndpointClosed
	}
	if ln == nil {
		return nil, errors.New("quictun: endpoint is not listening")
	}

	conn, err := ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, quic.ErrTransportClosed) {
			return nil, ErrEndpointClosed
		}
		return nil, err
	}
	if !e.track(conn) {
		_ = conn.CloseWithError(CloseNoError, "endpoint shutdown")
		return nil, ErrEndpointClosed
	}
	return conn, nil
}

// Connect dials remote and blocks until the handshake completed. The
// server certificate must be valid for serverName.
func (e *Endpoint) Connect(ctx context.Context, remote, serverName string, tlsConf *tls.Config) (*quic.Conn, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEndpointClosed
	}

	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, &ConnectError{Kind: Resolve, Addr: remote, Err: err}
	}

	conf := tlsConf.Clone()
	conf.ServerName = serverName

	log.WithFields(log.Fields{
		"remote":      remote,
		"server_name": serverName,
	}).Debug("Dialing tunnel endpoint")

	conn, err := e.tr.Dial(ctx, addr, conf, e.quicConf)
	if err != nil {
		return nil, classifyDialError(remote, err)
	}
	if !e.track(conn) {
		_ = conn.CloseWithError(CloseNoError, "endpoint shutdown")
		return nil, ErrEndpointClosed
	}
	return conn, nil
}

// track registers conn until it is closed. It returns false if the
// endpoint was closed in the meantime.
func (e *Endpoint) track(conn *quic.Conn) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go func() {
		<-conn.Context().Done()
		e.mu.Lock()
		delete(e.conns, conn)
		e.mu.Unlock()
	}()
	return true
}

// Connections returns the number of open connections.
func (e *Endpoint) Connections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Close stops accepting, closes every open connection gracefully and then
// releases the socket.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ln := e.listener
	conns := make([]*quic.Conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	var errs *multierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, quic.ErrServerClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	for _, c := range conns {
		// CloseWithError returns once the close frame was queued and the
		// connection's run loop has ended.
		_ = c.CloseWithError(CloseNoError, "endpoint shutdown")
	}
	if err := e.tr.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := e.udpConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
