package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderLen is the size of the length prefix in front of every packet.
const HeaderLen = 4

// AppendFrame appends the framed form of pkt to dst.
func AppendFrame(dst, pkt []byte) ([]byte, error) {
	if uint64(len(pkt)) > math.MaxUint32 {
		return dst, &BridgeError{Kind: FrameTooLarge, Err: fmt.Errorf("%d bytes", len(pkt))}
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(pkt)))
	return append(dst, pkt...), nil
}

// WriteFrame writes pkt to w prefixed with its length as a 4 byte
// big-endian unsigned integer.
func WriteFrame(w io.Writer, pkt []byte) error {
	frame, err := AppendFrame(make([]byte, 0, HeaderLen+len(pkt)), pkt)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads one frame from r into buf and returns the payload length.
// It returns io.EOF only if r ended exactly on a frame boundary. A header
// announcing more than maxLen bytes fails with FrameTooLarge before any
// payload is consumed.
func ReadFrame(r io.Reader, buf []byte, maxLen int) (int, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, &BridgeError{Kind: MalformedFrame, Err: fmt.Errorf("truncated header: %w", err)}
		}
		return 0, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if uint64(size) > uint64(maxLen) {
		return 0, &BridgeError{Kind: FrameTooLarge, Err: fmt.Errorf("announced %d bytes, maximum is %d", size, maxLen)}
	}
	if int(size) > len(buf) {
		return 0, io.ErrShortBuffer
	}

	if _, err := io.ReadFull(r, buf[:size]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, &BridgeError{Kind: MalformedFrame, Err: fmt.Errorf("truncated payload of %d bytes: %w", size, io.ErrUnexpectedEOF)}
		}
		return 0, err
	}
	return int(size), nil
}

// putHeader writes the length prefix for an n byte payload into buf[:HeaderLen].
func putHeader(buf []byte, n int) {
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(n))
}
