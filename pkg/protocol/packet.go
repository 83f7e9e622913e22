package protocol

import (
	"github.com/fzdarsky/netsrp/pkg/netbuf"
)

// Packet is one of the three handshake packets.
//
// A packet built in memory may be written exactly once. A packet filled by
// ReadPacket is read-only and may never be written.
type Packet interface {
	// Name is the packet type name reported in corrupt-packet errors.
	Name() string
	// ByteSize is the encoded size of the packet fields in bytes.
	ByteSize() int
	// IsMessageGenerated reports whether the packet has been written.
	IsMessageGenerated() bool
	// IsReadOnly reports whether the packet was read from the wire.
	IsReadOnly() bool

	writeFields(om *netbuf.Outgoing) error
	readFields(im *netbuf.Incoming) error
	lifecycle() *packetBase
}

type packetBase struct {
	marked   bool
	readOnly bool
}

func (b *packetBase) IsMessageGenerated() bool { return b.marked }

func (b *packetBase) IsReadOnly() bool { return b.readOnly }

func (b *packetBase) lifecycle() *packetBase { return b }

// WritePacket serializes p into om between two byte-boundary pads.
func WritePacket(om *netbuf.Outgoing, p Packet) error {
	lc := p.lifecycle()
	if lc.readOnly {
		return NewMisuseError("cannot write read-only " + p.Name())
	}
	if lc.marked {
		return NewMisuseError(p.Name() + " has already been written")
	}

	om.WritePadBits()
	if err := p.writeFields(om); err != nil {
		return err
	}
	om.WritePadBits()

	lc.marked = true
	return nil
}

// ReadPacket fills p from im. Any low-level read failure is reported as a
// CORRUPT_PACKET error naming the packet type.
func ReadPacket(im *netbuf.Incoming, p Packet) error {
	lc := p.lifecycle()
	if lc.readOnly || lc.marked {
		return NewMisuseError("cannot read into a used " + p.Name())
	}

	im.SkipPadBits()
	if err := p.readFields(im); err != nil {
		return NewCorruptPacketError(p.Name(), err)
	}
	im.SkipPadBits()

	lc.readOnly = true
	return nil
}

// readBlock reads an int32 byte count followed by that many bytes.
func readBlock(im *netbuf.Incoming) ([]byte, error) {
	n, err := im.ReadInt32()
	if err != nil {
		return nil, err
	}
	return im.ReadBytes(int(n))
}

func writeBlock(om *netbuf.Outgoing, b []byte) {
	om.WriteInt32(int32(len(b))) //nolint:gosec // packet fields are far below 2 GiB
	om.WriteBytes(b)
}

// stringSize is the encoded size of s including its variable-length prefix.
func stringSize(s string) int {
	n := len(s)
	size := 1
	for v := uint32(n); v >= 0x80; v >>= 7 { //nolint:gosec // bounded by len
		size++
	}
	return size + n
}

// blockSize is the encoded size of an int32-prefixed byte block.
func blockSize(n int) int {
	return 4 + n
}
