package stack

// Echo is an in-memory channel that hands every written packet back to
// the reader. A server configured with it returns each packet to the peer
// on the stream it arrived on.
type Echo struct {
	q *queue
}

// NewEcho creates an Echo channel buffering up to size packets.
func NewEcho(size int) *Echo {
	return &Echo{q: newQueue(size)}
}

func (e *Echo) ReadPacket(buf []byte) (int, error) {
	return e.q.pop(buf)
}

func (e *Echo) WritePacket(pkt []byte) error {
	return e.q.push(pkt)
}

// CloseWrite marks that no more packets will be written. Queued packets
// can still be read, after which ReadPacket returns io.EOF.
func (e *Echo) CloseWrite() error {
	e.q.closeWrite()
	return nil
}

func (e *Echo) Close() error {
	e.q.close()
	return nil
}

// PipeEnd is one side of an in-memory channel pair created by Pipe.
type PipeEnd struct {
	in  *queue
	out *queue
}

// Pipe returns two connected channels: packets written to one are read
// from the other.
func Pipe(size int) (*PipeEnd, *PipeEnd) {
	ab := newQueue(size)
	ba := newQueue(size)
	return &PipeEnd{in: ba, out: ab}, &PipeEnd{in: ab, out: ba}
}

func (p *PipeEnd) ReadPacket(buf []byte) (int, error) {
	return p.in.pop(buf)
}

func (p *PipeEnd) WritePacket(pkt []byte) error {
	return p.out.push(pkt)
}

// CloseWrite signals end of data to the other side; it reads the packets
// already written and then io.EOF.
func (p *PipeEnd) CloseWrite() error {
	p.out.closeWrite()
	return nil
}

// Close stops reads on this side and ends the data flowing to the other.
func (p *PipeEnd) Close() error {
	p.in.close()
	p.out.closeWrite()
	return nil
}
