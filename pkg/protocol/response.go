package protocol

import (
	"errors"
	"math/big"

	"github.com/fzdarsky/netsrp/pkg/netbuf"
	"github.com/fzdarsky/netsrp/pkg/srp"
)

// Response is the passive party's answer to a Request.
type Response struct {
	packetBase

	Salt []byte
	B    *big.Int
}

// NewResponse creates a write-capable response.
func NewResponse(salt []byte, B *big.Int) *Response { //nolint:gocritic // B per RFC 5054
	return &Response{Salt: salt, B: B}
}

// Name implements Packet.
func (r *Response) Name() string { return "Response" }

// ByteSize implements Packet.
func (r *Response) ByteSize() int {
	size := blockSize(len(r.Salt))
	if r.B != nil {
		size += blockSize(len(srp.Bytes(r.B)))
	}
	return size
}

func (r *Response) writeFields(om *netbuf.Outgoing) error {
	if r.B == nil {
		return NewMisuseError("response has no public value")
	}
	writeBlock(om, srp.Bytes(r.B))
	writeBlock(om, r.Salt)
	return nil
}

func (r *Response) readFields(im *netbuf.Incoming) error {
	bb, err := readBlock(im)
	if err != nil {
		return err
	}
	if len(bb) == 0 {
		return errors.New("empty public value")
	}
	salt, err := readBlock(im)
	if err != nil {
		return err
	}

	r.B = new(big.Int).SetBytes(bb)
	r.Salt = salt
	return nil
}
