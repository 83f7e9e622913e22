package protocol

import (
	"github.com/fzdarsky/netsrp/pkg/netbuf"
)

// Verification carries a proof: M from the active party, M2 from the passive one.
type Verification struct {
	packetBase

	Proof []byte
}

// NewVerification creates a write-capable verification.
func NewVerification(proof []byte) *Verification {
	return &Verification{Proof: proof}
}

// Name implements Packet.
func (v *Verification) Name() string { return "Verification" }

// ByteSize implements Packet.
func (v *Verification) ByteSize() int { return blockSize(len(v.Proof)) }

func (v *Verification) writeFields(om *netbuf.Outgoing) error {
	writeBlock(om, v.Proof)
	return nil
}

func (v *Verification) readFields(im *netbuf.Incoming) error {
	proof, err := readBlock(im)
	if err != nil {
		return err
	}
	v.Proof = proof
	return nil
}
