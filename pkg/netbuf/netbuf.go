// Package netbuf provides bit-granular outgoing and incoming message buffers.
//
// Bits are packed least-significant first. Multi-byte integers are written
// little-endian, strings carry a 7-bit variable-length byte count, and raw
// byte blocks are written without a prefix. Pad markers advance to the next
// byte boundary so that whatever follows starts on a whole byte.
package netbuf

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrUnderrun is returned when a read runs past the end of the message.
	ErrUnderrun = errors.New("read past end of message")

	// ErrNegativeLength is returned for a negative block length.
	ErrNegativeLength = errors.New("negative length")

	// ErrMalformedVarint is returned when a variable-length integer exceeds 32 bits.
	ErrMalformedVarint = errors.New("malformed variable-length integer")

	// ErrInvalidUTF8 is returned when a string field is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("string is not valid UTF-8")
)

// Outgoing is an append-only message buffer.
type Outgoing struct {
	buf  []byte
	bits int
}

// NewOutgoing creates an outgoing buffer with capacity for sizeHint bytes.
func NewOutgoing(sizeHint int) *Outgoing {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Outgoing{buf: make([]byte, 0, sizeHint)}
}

func (o *Outgoing) writeBits(v uint8, n int) {
	need := (o.bits + n + 7) / 8
	for len(o.buf) < need {
		o.buf = append(o.buf, 0)
	}

	v &= uint8((uint16(1) << n) - 1)
	idx, off := o.bits/8, o.bits%8
	o.buf[idx] |= v << off
	if off+n > 8 {
		o.buf[idx+1] |= v >> (8 - off)
	}
	o.bits += n
}

// WriteBool appends a single bit.
func (o *Outgoing) WriteBool(b bool) {
	var v uint8
	if b {
		v = 1
	}
	o.writeBits(v, 1)
}

// WriteUint8 appends one byte.
func (o *Outgoing) WriteUint8(v uint8) {
	o.writeBits(v, 8)
}

// WriteUint32 appends v as 4 little-endian bytes.
func (o *Outgoing) WriteUint32(v uint32) {
	for i := 0; i < 4; i++ {
		o.writeBits(uint8(v>>(8*i)), 8)
	}
}

// WriteInt32 appends v as 4 little-endian bytes.
func (o *Outgoing) WriteInt32(v int32) {
	o.WriteUint32(uint32(v))
}

// WriteVarUint32 appends v 7 bits at a time with a continuation bit.
func (o *Outgoing) WriteVarUint32(v uint32) {
	for v >= 0x80 {
		o.WriteUint8(uint8(v) | 0x80)
		v >>= 7
	}
	o.WriteUint8(uint8(v))
}

// WriteBytes appends b without a length prefix.
func (o *Outgoing) WriteBytes(b []byte) {
	if o.bits%8 == 0 {
		o.buf = append(o.buf[:o.bits/8], b...)
		o.bits += len(b) * 8
		return
	}
	for _, c := range b {
		o.writeBits(c, 8)
	}
}

// WriteString appends the UTF-8 byte count followed by the bytes of s.
func (o *Outgoing) WriteString(s string) {
	o.WriteVarUint32(uint32(len(s)))
	o.WriteBytes([]byte(s))
}

// WritePadBits advances to the next byte boundary.
func (o *Outgoing) WritePadBits() {
	if rem := o.bits % 8; rem != 0 {
		o.writeBits(0, 8-rem)
	}
}

// LengthBits returns the number of bits written.
func (o *Outgoing) LengthBits() int { return o.bits }

// LengthBytes returns the number of bytes needed to hold the written bits.
func (o *Outgoing) LengthBytes() int { return (o.bits + 7) / 8 }

// Bytes returns a copy of the written bytes.
func (o *Outgoing) Bytes() []byte {
	out := make([]byte, o.LengthBytes())
	copy(out, o.buf)
	return out
}

// Incoming is a read cursor over a received message.
type Incoming struct {
	buf  []byte
	bits int
	pos  int
}

// NewIncoming wraps data for reading. The slice is not copied.
func NewIncoming(data []byte) *Incoming {
	return &Incoming{buf: data, bits: len(data) * 8}
}

func (in *Incoming) readBits(n int) (uint8, error) {
	if in.pos+n > in.bits {
		return 0, ErrUnderrun
	}

	idx, off := in.pos/8, in.pos%8
	v := in.buf[idx] >> off
	if off+n > 8 {
		v |= in.buf[idx+1] << (8 - off)
	}
	in.pos += n
	return v & uint8((uint16(1)<<n)-1), nil
}

// ReadBool reads a single bit.
func (in *Incoming) ReadBool() (bool, error) {
	v, err := in.readBits(1)
	return v == 1, err
}

// ReadUint8 reads one byte.
func (in *Incoming) ReadUint8() (uint8, error) {
	return in.readBits(8)
}

// ReadUint32 reads 4 little-endian bytes.
func (in *Incoming) ReadUint32() (uint32, error) {
	if in.RemainingBits() < 32 {
		return 0, ErrUnderrun
	}
	var v uint32
	for i := 0; i < 4; i++ {
		b, _ := in.readBits(8)
		v |= uint32(b) << (8 * i)
	}
	return v, nil
}

// ReadInt32 reads 4 little-endian bytes.
func (in *Incoming) ReadInt32() (int32, error) {
	v, err := in.ReadUint32()
	return int32(v), err
}

// ReadVarUint32 reads a 7-bit variable-length integer.
func (in *Incoming) ReadVarUint32() (uint32, error) {
	var v uint32
	for shift := 0; shift < 35; shift += 7 {
		b, err := in.ReadUint8()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrMalformedVarint
}

// ReadBytes reads n raw bytes.
func (in *Incoming) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeLength, n)
	}
	if n*8 > in.RemainingBits() {
		return nil, fmt.Errorf("%w: want %d bytes, have %d bits", ErrUnderrun, n, in.RemainingBits())
	}

	out := make([]byte, n)
	if in.pos%8 == 0 {
		copy(out, in.buf[in.pos/8:])
		in.pos += n * 8
		return out, nil
	}
	for i := range out {
		out[i], _ = in.readBits(8)
	}
	return out, nil
}

// ReadString reads a string written by WriteString.
func (in *Incoming) ReadString() (string, error) {
	n, err := in.ReadVarUint32()
	if err != nil {
		return "", err
	}
	if uint64(n)*8 > uint64(in.RemainingBits()) {
		return "", fmt.Errorf("%w: string of %d bytes", ErrUnderrun, n)
	}
	b, err := in.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// SkipPadBits advances to the next byte boundary.
func (in *Incoming) SkipPadBits() {
	if rem := in.pos % 8; rem != 0 {
		in.pos += 8 - rem
		if in.pos > in.bits {
			in.pos = in.bits
		}
	}
}

// PositionBits returns the read position in bits.
func (in *Incoming) PositionBits() int { return in.pos }

// RemainingBits returns the number of unread bits.
func (in *Incoming) RemainingBits() int { return in.bits - in.pos }
