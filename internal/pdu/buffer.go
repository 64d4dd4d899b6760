package pdu

import (
	"fmt"
)

type phase int

const (
	phaseEmpty phase = iota
	phaseFilled
	phaseDecoded
)

func (p phase) String() string {
	switch p {
	case phaseEmpty:
		return "empty"
	case phaseFilled:
		return "filled"
	case phaseDecoded:
		return "decoded"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PacketBuffer is the single buffer a dispatch cycle decodes from and encodes
// into. The phases are enforced: a datagram must be loaded, then decoded,
// before a response may overwrite the buffer.
type PacketBuffer struct {
	buf   []byte
	n     int
	phase phase
}

// NewPacketBuffer allocates a buffer of the given capacity.
func NewPacketBuffer(size int) *PacketBuffer {
	return &PacketBuffer{buf: make([]byte, size)}
}

// Load fills the buffer using read, which receives the whole buffer and
// returns the number of bytes it stored.
func (b *PacketBuffer) Load(read func(p []byte) (int, error)) (int, error) {
	b.Reset()
	n, err := read(b.buf)
	if err != nil {
		return n, err
	}
	if n < 0 || n > len(b.buf) {
		return n, fmt.Errorf("read returned invalid length %d", n)
	}
	b.n = n
	b.phase = phaseFilled
	return n, nil
}

// Set copies a datagram into the buffer.
func (b *PacketBuffer) Set(datagram []byte) error {
	_, err := b.Load(func(p []byte) (int, error) {
		if len(datagram) > len(p) {
			return 0, fmt.Errorf("datagram of %d bytes exceeds buffer of %d", len(datagram), len(p))
		}
		return copy(p, datagram), nil
	})
	return err
}

// Decode parses the loaded datagram and marks decoding complete. On failure
// the buffer returns to the empty phase.
func (b *PacketBuffer) Decode() (*Request, error) {
	if b.phase != phaseFilled {
		return nil, fmt.Errorf("%w: decode in %s phase", ErrPhase, b.phase)
	}

	req, err := Parse(b.buf[:b.n])
	if err != nil {
		b.Reset()
		return nil, err
	}
	b.phase = phaseDecoded
	return req, nil
}

// Encode serializes resp over the decoded datagram. The returned slice
// aliases the buffer and is valid until the next Load.
func (b *PacketBuffer) Encode(resp *Response) ([]byte, error) {
	if b.phase != phaseDecoded {
		return nil, fmt.Errorf("%w: encode in %s phase", ErrPhase, b.phase)
	}

	n, err := Serialize(resp, b.buf)
	b.Reset()
	if err != nil {
		return nil, err
	}
	return b.buf[:n], nil
}

// Reset discards the buffer contents.
func (b *PacketBuffer) Reset() {
	b.n = 0
	b.phase = phaseEmpty
}
