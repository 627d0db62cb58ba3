package stack

import (
	"errors"
	"io"
	"os"

	"github.com/Diniboy1123/halfpipe/internal/core"
	"github.com/songgao/water"
	"golang.zx2c4.com/wireguard/tun"
)

// Stack is an alias for core.PacketConn, representing a TUN device
// that can read and write IP packets.
type Stack core.PacketConn

// closedToEOF maps the errors devices return after Close to io.EOF so the
// bridge sees a clean end of data.
func closedToEOF(err error) error {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return io.EOF
	}
	return err
}

// --- Netstack Adapter ---

// NetstackAdapter wraps a tun.Device (from wireguard-go/tun or its netstack)
// to satisfy the Stack interface.
type NetstackAdapter struct {
	dev tun.Device
}

func (n *NetstackAdapter) ReadPacket(buf []byte) (int, error) {
	// The device's Read takes a slice of buffers and a slice of sizes.
	// We adapt it to work with a single buffer.
	bufs := [][]byte{buf}
	sizes := []int{0}
	_, err := n.dev.Read(bufs, sizes, 0)
	if err != nil {
		return 0, closedToEOF(err)
	}
	return sizes[0], nil
}

func (n *NetstackAdapter) WritePacket(pkt []byte) error {
	_, err := n.dev.Write([][]byte{pkt}, 0)
	return err
}

func (n *NetstackAdapter) Close() error {
	return n.dev.Close()
}

// NewNetstackAdapter creates a new NetstackAdapter.
func NewNetstackAdapter(dev tun.Device) Stack {
	return &NetstackAdapter{dev: dev}
}

// --- Water Adapter ---

// WaterAdapter wraps a *water.Interface to satisfy the Stack interface.
type WaterAdapter struct {
	iface *water.Interface
}

func (w *WaterAdapter) ReadPacket(buf []byte) (int, error) {
	n, err := w.iface.Read(buf)
	if err != nil {
		return n, closedToEOF(err)
	}
	return n, nil
}

func (w *WaterAdapter) WritePacket(pkt []byte) error {
	_, err := w.iface.Write(pkt)
	return err
}

func (w *WaterAdapter) Close() error {
	return w.iface.Close()
}

// Name returns the name of the underlying interface.
func (w *WaterAdapter) Name() string {
	return w.iface.Name()
}

// NewWaterAdapter creates a new WaterAdapter.
func NewWaterAdapter(iface *water.Interface) Stack {
	return &WaterAdapter{iface: iface}
}
