package auth

import (
	"crypto/subtle"

	"github.com/fzdarsky/netsrp/pkg/protocol"
	"github.com/fzdarsky/netsrp/pkg/srp"
)

// BeginRequest generates the ephemeral pair a/A and returns the Request to
// send. Calling it again returns a Request with the same A.
func (h *Handshake) BeginRequest(username, password string, data []byte) (*protocol.Request, error) {
	if h.role != RoleActive {
		return nil, protocol.NewMisuseError("passive handshake cannot begin a request")
	}
	if h.state != StateNotInitialized {
		if h.public == nil {
			return nil, protocol.NewMisuseError("handshake is " + h.state.String())
		}
		return protocol.NewRequest(h.username, h.data, h.public), nil
	}
	if username == "" {
		return nil, protocol.NewInvalidInputError("username is required")
	}
	if password == "" {
		return nil, protocol.NewInvalidInputError("password is required")
	}

	a, err := srp.GenerateEphemeralPrivate()
	if err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("failed to generate ephemeral value", err))
	}
	A, err := srp.ComputeActivePublic(h.group.N, h.group.G, a)
	if err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("failed to compute public value", err))
	}
	if err := srp.ValidatePublic(A, h.group.N); err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("invalid public value A", err))
	}

	h.private = a
	h.public = A
	h.username = username
	h.password = password
	h.data = data
	h.state = StateRequesting
	h.startTimer()

	return protocol.NewRequest(username, data, A), nil
}

// ReceiveResponse derives S and K from the passive side's salt and B and
// returns the Verification carrying M. Calling it again after success
// returns the same M.
func (h *Handshake) ReceiveResponse(resp *protocol.Response) (*protocol.Verification, error) {
	if h.role != RoleActive {
		return nil, protocol.NewMisuseError("passive handshake cannot receive a response")
	}
	if h.state != StateRequesting {
		if h.proof == nil {
			return nil, protocol.NewMisuseError("handshake is " + h.state.String())
		}
		return protocol.NewVerification(h.proof), nil
	}
	if h.expired() {
		return nil, h.fail(StateExpired, protocol.NewExpiredError())
	}

	N, g := h.group.N, h.group.G
	if err := srp.ValidatePublic(resp.B, N); err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("invalid public value B", err))
	}
	u := srp.ComputeScrambler(h.public, resp.B)
	if err := srp.ValidateScrambler(u); err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("invalid scrambler", err))
	}

	x := srp.ComputePrivateKey(resp.Salt, h.username, h.password)
	h.secret = srp.ComputeActiveSecret(N, g, resp.B, h.k, x, h.private, u)
	h.sessionKey = srp.DeriveSessionKey(h.secret)
	h.proof = srp.ComputeActiveProof(N, g, h.username, resp.Salt, h.public, resp.B, h.sessionKey)
	h.salt = resp.Salt
	h.remote = resp.B
	h.state = StateVerificating

	return protocol.NewVerification(h.proof), nil
}

// VerifyPassiveProof checks M2 from the passive side and marks the
// handshake Succeeded.
func (h *Handshake) VerifyPassiveProof(v *protocol.Verification) error {
	if h.role != RoleActive {
		return protocol.NewMisuseError("passive handshake cannot verify a passive proof")
	}
	if h.state == StateSucceeded {
		return nil
	}
	if h.state != StateVerificating {
		return protocol.NewMisuseError("handshake is " + h.state.String())
	}

	expected := srp.ComputePassiveProof(h.public, h.proof, h.sessionKey)
	if subtle.ConstantTimeCompare(expected, v.Proof) != 1 {
		return h.fail(StateFailed, protocol.NewProofMismatchError("server proof did not match"))
	}
	if h.expired() {
		return h.fail(StateExpired, protocol.NewExpiredError())
	}

	h.finish(StateSucceeded)
	return nil
}

// Retry starts a fresh active handshake with the same options and credentials
// and returns it together with its Request. It is used after the passive side
// reported that the exchange expired.
func (h *Handshake) Retry() (*Handshake, *protocol.Request, error) {
	if h.role != RoleActive {
		return nil, nil, protocol.NewMisuseError("passive handshake cannot be retried")
	}
	if h.password == "" {
		return nil, nil, protocol.NewMisuseError("handshake has no credentials to retry with")
	}

	next, err := New(RoleActive, h.keySize, h.opts...)
	if err != nil {
		return nil, nil, err
	}
	req, err := next.BeginRequest(h.username, h.password, h.data)
	if err != nil {
		return nil, nil, err
	}
	return next, req, nil
}
