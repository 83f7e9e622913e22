package protocol

import (
	"errors"
	"math/big"

	"github.com/fzdarsky/netsrp/pkg/netbuf"
	"github.com/fzdarsky/netsrp/pkg/srp"
)

// Request is the first handshake packet, sent by the active party.
type Request struct {
	packetBase

	Username string
	Data     []byte
	A        *big.Int
}

// NewRequest creates a write-capable request.
func NewRequest(username string, data []byte, A *big.Int) *Request { //nolint:gocritic // A per RFC 5054
	return &Request{Username: username, Data: data, A: A}
}

// Name implements Packet.
func (r *Request) Name() string { return "Request" }

// ByteSize implements Packet.
func (r *Request) ByteSize() int {
	size := stringSize(r.Username) + blockSize(len(r.Data))
	if r.A != nil {
		size += blockSize(len(srp.Bytes(r.A)))
	}
	return size
}

func (r *Request) writeFields(om *netbuf.Outgoing) error {
	if r.A == nil {
		return NewMisuseError("request has no public value")
	}
	om.WriteString(r.Username)
	writeBlock(om, r.Data)
	writeBlock(om, srp.Bytes(r.A))
	return nil
}

func (r *Request) readFields(im *netbuf.Incoming) error {
	username, err := im.ReadString()
	if err != nil {
		return err
	}
	data, err := readBlock(im)
	if err != nil {
		return err
	}
	ab, err := readBlock(im)
	if err != nil {
		return err
	}
	if len(ab) == 0 {
		return errors.New("empty public value")
	}

	r.Username = username
	r.Data = data
	r.A = new(big.Int).SetBytes(ab)
	return nil
}
