package bridge

import (
	"errors"
	"fmt"

	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	"github.com/quic-go/quic-go"
)

// Kind classifies a BridgeError.
type Kind int

const (
	// ChannelError means reading from or writing to the packet channel failed.
	ChannelError Kind = iota + 1
	// FrameTooLarge means the peer announced a payload above the maximum.
	FrameTooLarge
	// StreamReset means the stream was reset or its connection failed.
	StreamReset
	// MalformedFrame means the stream ended in the middle of a frame.
	MalformedFrame
)

func (k Kind) String() string {
	switch k {
	case ChannelError:
		return "channel error"
	case FrameTooLarge:
		return "frame too large"
	case StreamReset:
		return "stream reset"
	case MalformedFrame:
		return "malformed frame"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matching each Kind, usable with errors.Is.
var (
	ErrChannel        = errors.New("packet channel failed")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum packet size")
	ErrStreamReset    = errors.New("stream reset")
	ErrMalformedFrame = errors.New("malformed frame")
)

// BridgeError is the terminal error of a failed bridge.
type BridgeError struct {
	Kind Kind
	Err  error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge: %s: %v", e.Kind, e.Err)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *BridgeError) Is(target error) bool {
	switch target {
	case ErrChannel:
		return e.Kind == ChannelError
	case ErrFrameTooLarge:
		return e.Kind == FrameTooLarge
	case ErrStreamReset:
		return e.Kind == StreamReset
	case ErrMalformedFrame:
		return e.Kind == MalformedFrame
	}
	return false
}

// resetCode is the stream error code the bridge resets its stream with
// after failing with kind.
func (k Kind) resetCode() quic.StreamErrorCode {
	switch k {
	case FrameTooLarge:
		return quictun.StreamFrameTooLarge
	case MalformedFrame:
		return quictun.StreamMalformed
	case ChannelError:
		return quictun.StreamChannelError
	}
	return quictun.StreamCancelled
}

// streamError wraps an error returned by the stream. Errors caused by the
// connection being closed are passed through unchanged so the caller can
// tell them apart with quictun.IsGracefulClose.
func streamError(err error) error {
	var be *BridgeError
	if errors.As(err, &be) || quictun.IsGracefulClose(err) {
		return err
	}
	return &BridgeError{Kind: StreamReset, Err: err}
}
