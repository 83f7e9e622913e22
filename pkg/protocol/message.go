package protocol

import (
	"github.com/fzdarsky/netsrp/pkg/netbuf"
)

// NewMessage builds an outgoing message carrying tag followed by p.
func NewMessage(tag Content, p Packet) (*netbuf.Outgoing, error) {
	om := netbuf.NewOutgoing(2 + p.ByteSize())
	om.WriteUint8(uint8(tag))
	if err := WritePacket(om, p); err != nil {
		return nil, err
	}
	return om, nil
}

// NewReasonMessage builds a Denied, Error or Expired message carrying reason.
func NewReasonMessage(tag Content, reason string) *netbuf.Outgoing {
	om := netbuf.NewOutgoing(1 + stringSize(reason))
	om.WriteUint8(uint8(tag))
	om.WriteString(reason)
	return om
}

// ReadContent reads the leading content tag of a message.
func ReadContent(im *netbuf.Incoming) (Content, error) {
	b, err := im.ReadUint8()
	if err != nil {
		return ContentNone, NewCorruptPacketError("Content", err)
	}
	return Content(b), nil
}

// ReadReason reads the reason string of a Denied, Error or Expired message.
// A message without a reason yields an empty string.
func ReadReason(im *netbuf.Incoming) string {
	if im.RemainingBits() == 0 {
		return ""
	}
	reason, err := im.ReadString()
	if err != nil {
		return ""
	}
	return reason
}
