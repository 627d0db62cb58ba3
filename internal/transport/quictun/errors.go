package quictun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/quic-go/quic-go"
)

// ErrEndpointClosed is returned by Accept and Connect after Close.
var ErrEndpointClosed = errors.New("quictun: endpoint closed")

// ConnectKind classifies a ConnectError.
type ConnectKind int

const (
	Timeout ConnectKind = iota + 1
	HandshakeFailed
	AddressInUse
	Resolve
	BindFailed
)

func (k ConnectKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case HandshakeFailed:
		return "handshake failed"
	case AddressInUse:
		return "address in use"
	case Resolve:
		return "resolve"
	case BindFailed:
		return "bind failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ConnectError is returned when an endpoint cannot be bound or a
// connection cannot be established.
type ConnectError struct {
	Kind ConnectKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("quictun: %s %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// classifyDialError maps a failed quic dial to a ConnectError.
func classifyDialError(addr string, err error) *ConnectError {
	var (
		idle      *quic.IdleTimeoutError
		handshake *quic.HandshakeTimeoutError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &idle),
		errors.As(err, &handshake):
		return &ConnectError{Kind: Timeout, Addr: addr, Err: err}
	case errors.Is(err, syscall.EADDRINUSE):
		return &ConnectError{Kind: AddressInUse, Addr: addr, Err: err}
	}
	return &ConnectError{Kind: HandshakeFailed, Addr: addr, Err: err}
}

// classifyBindError maps a failed UDP bind to a ConnectError.
func classifyBindError(addr string, err error) *ConnectError {
	if errors.Is(err, syscall.EADDRINUSE) {
		return &ConnectError{Kind: AddressInUse, Addr: addr, Err: err}
	}
	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	if errors.As(err, &dnsErr) || errors.As(err, &addrErr) {
		return &ConnectError{Kind: Resolve, Addr: addr, Err: err}
	}
	return &ConnectError{Kind: BindFailed, Addr: addr, Err: err}
}

// IsGracefulClose reports whether err is the result of an application
// level close of the connection, from either side, or of the endpoint
// shutting down. Idle timeouts, stateless resets and transport errors are
// not graceful.
func IsGracefulClose(err error) bool {
	if err == nil {
		return false
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return true
	}
	return errors.Is(err, ErrEndpointClosed) ||
		errors.Is(err, quic.ErrServerClosed) ||
		errors.Is(err, quic.ErrTransportClosed)
}
