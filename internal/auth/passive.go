package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/fzdarsky/netsrp/pkg/protocol"
	"github.com/fzdarsky/netsrp/pkg/srp"
)

// BuildResponse looks up the requesting user's verifier, generates the
// ephemeral pair b/B and returns the Response to send. Calling it again
// returns the same Response.
func (h *Handshake) BuildResponse(req *protocol.Request) (*protocol.Response, error) {
	if h.role != RolePassive {
		return nil, protocol.NewMisuseError("active handshake cannot build a response")
	}
	if h.state != StateNotInitialized {
		if !h.responded {
			return nil, protocol.NewMisuseError("handshake is " + h.state.String())
		}
		return protocol.NewResponse(h.salt, h.public), nil
	}
	if h.store == nil {
		return nil, protocol.NewMisuseError("passive handshake has no credential store")
	}

	h.startTimer()
	N, g := h.group.N, h.group.G

	if err := srp.ValidatePublic(req.A, N); err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("invalid public value A", err))
	}

	cred, err := h.lookup(req.Username, req.Data)
	switch {
	case errors.Is(err, ErrCredentialNotFound):
		return nil, h.fail(StateDenied, protocol.NewCredentialDeniedError())
	case err != nil:
		return nil, h.fail(StateFailed, protocol.NewStoreFailureError(err))
	case cred == nil || cred.Verifier == nil:
		return nil, h.fail(StateDenied, protocol.NewCredentialDeniedError())
	}

	b, err := srp.GenerateEphemeralPrivate()
	if err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("failed to generate ephemeral value", err))
	}
	B, err := srp.ComputePassivePublic(N, g, h.k, b, cred.Verifier)
	if err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("failed to compute public value", err))
	}
	if err := srp.ValidatePublic(B, N); err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("invalid public value B", err))
	}

	h.username = req.Username
	if cred.Username != "" {
		h.username = cred.Username
	}
	h.data = req.Data
	h.salt = cred.Salt
	h.verifier = cred.Verifier
	h.remote = req.A
	h.private = b
	h.public = B
	h.responded = true
	h.state = StateResponding

	return protocol.NewResponse(h.salt, h.public), nil
}

// errStorePanic marks a credential store that panicked during Lookup.
var errStorePanic = errors.New("credential store panicked")

// lookup calls the store and converts a panic into an error.
func (h *Handshake) lookup(username string, data []byte) (cred *Credential, err error) {
	defer func() {
		if r := recover(); r != nil {
			cred, err = nil, fmt.Errorf("%w: %v", errStorePanic, r)
		}
	}()
	return h.store.Lookup(username, data)
}

// ReceiveVerification derives S and K, checks M from the active side and
// returns the Verification carrying M2. Calling it again after success
// returns the same M2.
func (h *Handshake) ReceiveVerification(v *protocol.Verification) (*protocol.Verification, error) {
	if h.role != RolePassive {
		return nil, protocol.NewMisuseError("active handshake cannot receive a verification")
	}
	if h.state != StateResponding {
		if h.passiveProof == nil {
			return nil, protocol.NewMisuseError("handshake is " + h.state.String())
		}
		return protocol.NewVerification(h.passiveProof), nil
	}

	N, g := h.group.N, h.group.G
	u := srp.ComputeScrambler(h.remote, h.public)
	if err := srp.ValidateScrambler(u); err != nil {
		return nil, h.fail(StateFailed, protocol.NewProtocolViolationError("invalid scrambler", err))
	}

	h.secret = srp.ComputePassiveSecret(N, h.remote, h.verifier, u, h.private)
	h.sessionKey = srp.DeriveSessionKey(h.secret)
	h.proof = srp.ComputeActiveProof(N, g, h.username, h.salt, h.remote, h.public, h.sessionKey)
	h.state = StateVerificating

	if subtle.ConstantTimeCompare(h.proof, v.Proof) != 1 {
		return nil, h.fail(StateDenied|StateFailed, protocol.NewProofMismatchError("wrong username or password"))
	}
	if h.expired() {
		return nil, h.fail(StateExpired, protocol.NewExpiredError())
	}

	h.passiveProof = srp.ComputePassiveProof(h.remote, h.proof, h.sessionKey)
	return protocol.NewVerification(h.passiveProof), nil
}

// MarkSucceeded completes a passive handshake once M2 has been handed to
// the transport.
func (h *Handshake) MarkSucceeded() error {
	if h.role != RolePassive {
		return protocol.NewMisuseError("active handshake succeeds by verifying the passive proof")
	}
	if h.state == StateSucceeded {
		return nil
	}
	if h.state != StateVerificating || h.passiveProof == nil {
		return protocol.NewMisuseError("handshake is " + h.state.String())
	}
	h.finish(StateSucceeded)
	return nil
}
