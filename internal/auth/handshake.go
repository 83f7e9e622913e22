package auth

import (
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/xtea"

	"github.com/fzdarsky/netsrp/pkg/protocol"
	"github.com/fzdarsky/netsrp/pkg/srp"
)

// DefaultExpiration is how long a handshake may take from its first message
// to the acceptance of the far side's proof.
const DefaultExpiration = 22 * time.Second

// State is a set of handshake state flags. Failure causes combine, so a
// handshake can be Denied and Failed at the same time.
type State uint8

// Handshake states.
const (
	StateNotInitialized State = 0
	StateRequesting     State = 1 << 0
	StateResponding     State = 1 << 1
	StateVerificating   State = 1 << 2
	StateSucceeded      State = 1 << 3
	StateExpired        State = 1 << 4
	StateFailed         State = 1 << 5
	StateDenied         State = 1 << 6
)

const terminalStates = StateSucceeded | StateExpired | StateFailed | StateDenied

var stateNames = []struct {
	flag State
	name string
}{
	{StateRequesting, "Requesting"},
	{StateResponding, "Responding"},
	{StateVerificating, "Verificating"},
	{StateSucceeded, "Succeeded"},
	{StateExpired, "Expired"},
	{StateFailed, "Failed"},
	{StateDenied, "Denied"},
}

// Has reports whether every flag of f is set in s.
func (s State) Has(f State) bool {
	return f != 0 && s&f == f
}

// IsTerminal reports whether no further computation is allowed from s.
func (s State) IsTerminal() bool {
	return s&terminalStates != 0
}

func (s State) String() string {
	if s == StateNotInitialized {
		return "NotInitialized"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Role selects which side of the exchange a handshake plays.
type Role int

const (
	// RoleActive is the claimant that knows the password.
	RoleActive Role = iota
	// RolePassive is the verifier that looks up the stored verifier.
	RolePassive
)

func (r Role) String() string {
	if r == RolePassive {
		return "passive"
	}
	return "active"
}

// Option configures a Handshake.
type Option func(*Handshake)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(h *Handshake) {
		h.now = now
	}
}

// WithExpiration sets the expiration window.
func WithExpiration(d time.Duration) Option {
	return func(h *Handshake) {
		h.expiration = d
	}
}

// WithStore sets the credential store used by the passive role.
func WithStore(store CredentialStore) Option {
	return func(h *Handshake) {
		h.store = store
	}
}

// Handshake is one party's state for a single SRP-6a exchange.
//
// A Handshake is not safe for concurrent use; callers serialize access per
// connection.
type Handshake struct {
	role       Role
	keySize    int
	group      *srp.Group
	k          *big.Int
	store      CredentialStore
	now        func() time.Time
	expiration time.Duration
	opts       []Option

	state     State
	expiresAt time.Time

	// Ephemeral pair: a/A for the active role, b/B for the passive role.
	private *big.Int
	public  *big.Int

	username string
	password string
	data     []byte
	salt     []byte
	verifier *big.Int
	remote   *big.Int

	secret     *big.Int
	sessionKey []byte

	// proof is M: computed on the active side, expected on the passive side.
	proof        []byte
	passiveProof []byte
	responded    bool
}

// New creates a handshake for role using the group of keySize bits.
func New(role Role, keySize int, opts ...Option) (*Handshake, error) {
	group, err := srp.GetGroup(keySize)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrCodeInvalidInput, "unsupported key size", err)
	}

	h := &Handshake{
		role:       role,
		keySize:    keySize,
		group:      group,
		k:          srp.DeriveMultiplier(group.N, group.G),
		now:        time.Now,
		expiration: DefaultExpiration,
		opts:       opts,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// NewCompleted creates a handshake that is already Succeeded with the given
// session key. Keys shorter than srp.SessionKeyBytes are zero-padded and
// longer keys are truncated.
func NewCompleted(username string, key []byte) *Handshake {
	h := &Handshake{
		role:       RoleActive,
		now:        time.Now,
		expiration: DefaultExpiration,
		state:      StateSucceeded,
		username:   username,
		sessionKey: make([]byte, srp.SessionKeyBytes),
	}
	copy(h.sessionKey, key)
	return h
}

// Role returns the role the handshake plays.
func (h *Handshake) Role() Role { return h.role }

// State returns the current state flags.
func (h *Handshake) State() State { return h.state }

// KeySize returns the group size in bits.
func (h *Handshake) KeySize() int { return h.keySize }

// Username returns the active side's claimed username, or on the passive
// side the canonical username returned by the credential store.
func (h *Handshake) Username() string { return h.username }

// Data returns the application data carried in the request.
func (h *Handshake) Data() []byte { return h.data }

// ExpiresAt returns the absolute expiration time. It is zero until the
// first message of the exchange has been produced.
func (h *Handshake) ExpiresAt() time.Time { return h.expiresAt }

// SessionKey returns K, or all zeros unless the handshake derived it and
// has not failed.
func (h *Handshake) SessionKey() [srp.SessionKeyBytes]byte {
	var key [srp.SessionKeyBytes]byte
	copy(key[:], h.sessionKey)
	return key
}

// CipherKey returns the symmetric cipher key derived from the session key.
func (h *Handshake) CipherKey() [srp.CipherKeyBytes]byte {
	key := h.SessionKey()
	return srp.DeriveCipherKey(key[:])
}

// Cipher returns an XTEA block cipher keyed with CipherKey. It is only
// available once the handshake has succeeded.
func (h *Handshake) Cipher() (*xtea.Cipher, error) {
	if h.state != StateSucceeded {
		return nil, protocol.NewMisuseError("cipher requested before handshake succeeded")
	}
	key := h.CipherKey()
	c, err := xtea.NewCipher(key[:])
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrCodeMisuse, "failed to create cipher", err)
	}
	return c, nil
}

// ClearSecrets zeroes the ephemeral private scalar and the raw shared
// secret. The session key is kept only once the handshake has Succeeded.
// The password is kept while the handshake is Expired so that the exchange
// can be retried.
func (h *Handshake) ClearSecrets() {
	if h.private != nil {
		h.private.SetInt64(0)
		h.private = nil
	}
	if h.secret != nil {
		h.secret.SetInt64(0)
		h.secret = nil
	}
	if !h.state.IsTerminal() {
		return
	}
	if h.state != StateSucceeded {
		clear(h.sessionKey)
		h.sessionKey = nil
	}
	if !h.state.Has(StateExpired) {
		h.password = ""
	}
}

func (h *Handshake) startTimer() {
	h.expiresAt = h.now().Add(h.expiration)
}

func (h *Handshake) expired() bool {
	return !h.expiresAt.IsZero() && h.now().After(h.expiresAt)
}

// finish moves the handshake into a terminal state and drops its secrets.
func (h *Handshake) finish(s State) {
	h.state = s
	h.ClearSecrets()
}

// fail is finish for error paths.
func (h *Handshake) fail(s State, err *protocol.HandshakeError) error {
	h.finish(s)
	return err
}
