package srp

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 is the SRP-6a H function shared by both parties
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
)

const (
	// SaltBytes is the length of a generated salt.
	SaltBytes = 10

	// EphemeralBits is the size of the random private scalars a and b.
	EphemeralBits = 1024

	// SessionKeyBytes is the length of K.
	SessionKeyBytes = sha256.Size

	// ProofBytes is the length of M and M2.
	ProofBytes = sha1.Size
)

var (
	// ErrMissingGroup is returned when N or g is absent.
	ErrMissingGroup = errors.New("group parameters N and g are required")

	// ErrZeroPublic is returned when A mod N or B mod N is zero.
	ErrZeroPublic = errors.New("public value is zero mod N")

	// ErrZeroScrambler is returned when u is zero.
	ErrZeroScrambler = errors.New("scrambler u is zero")
)

var zero = big.NewInt(0)

// Bytes encodes x as minimal big-endian two's complement. A leading zero
// byte is added when the top bit of the magnitude is set, and zero encodes
// as a single zero byte. Both parties hash this encoding.
func Bytes(x *big.Int) []byte {
	b := x.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0}, b...)
	}
	return b
}

// hash computes H over the concatenation of parts.
func hash(parts ...[]byte) []byte {
	h := sha1.New() //nolint:gosec // see import
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func hashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(hash(parts...))
}

// IsZeroMod reports whether x mod n is zero.
func IsZeroMod(x, n *big.Int) bool {
	return new(big.Int).Mod(x, n).Sign() == 0
}

// DeriveMultiplier computes k = H(N | g).
func DeriveMultiplier(N, g *big.Int) *big.Int { //nolint:gocritic // N per RFC 5054
	return hashInt(Bytes(N), Bytes(g))
}

// GenerateEphemeralPrivate returns a uniformly random EphemeralBits-bit scalar.
// It is used for both a and b.
func GenerateEphemeralPrivate() (*big.Int, error) {
	buf := make([]byte, EphemeralBits/8)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral private value: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// ComputeActivePublic computes A = g^a mod N.
//
//nolint:gocritic // N per RFC 5054
func ComputeActivePublic(N, g, a *big.Int) (*big.Int, error) {
	if N == nil || g == nil {
		return nil, ErrMissingGroup
	}
	return new(big.Int).Exp(g, a, N), nil
}

// ComputePassivePublic computes B = (k*v + g^b) mod N.
//
//nolint:gocritic // N per RFC 5054
func ComputePassivePublic(N, g, k, b, v *big.Int) (*big.Int, error) {
	if N == nil || g == nil {
		return nil, ErrMissingGroup
	}
	kv := new(big.Int).Mul(k, v)
	gb := new(big.Int).Exp(g, b, N)
	B := kv.Add(kv, gb)
	return B.Mod(B, N), nil
}

// ComputeScrambler computes u = H(A | B).
//
//nolint:gocritic // A, B per RFC 5054
func ComputeScrambler(A, B *big.Int) *big.Int {
	return hashInt(Bytes(A), Bytes(B))
}

// ComputePrivateKey computes x = H(salt | username ":" password).
func ComputePrivateKey(salt []byte, username, password string) *big.Int {
	return hashInt(salt, []byte(username+":"+password))
}

// ComputeVerifier computes v = g^x mod N.
//
//nolint:gocritic // N per RFC 5054
func ComputeVerifier(N, g, x *big.Int) *big.Int {
	return new(big.Int).Exp(g, x, N)
}

// ComputeActiveSecret computes S = (B - k*g^x)^(a + u*x) mod N. The base is
// formed as B + (N - (k*g^x mod N)) so it never goes negative.
//
//nolint:gocritic // N, B per RFC 5054
func ComputeActiveSecret(N, g, B, k, x, a, u *big.Int) *big.Int {
	kgx := new(big.Int).Exp(g, x, N)
	kgx.Mul(kgx, k)
	kgx.Mod(kgx, N)

	base := new(big.Int).Sub(N, kgx)
	base.Add(base, B)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)

	return new(big.Int).Exp(base, exp, N)
}

// ComputePassiveSecret computes S = (A * v^u)^b mod N.
//
//nolint:gocritic // N, A per RFC 5054
func ComputePassiveSecret(N, A, v, u, b *big.Int) *big.Int {
	base := new(big.Int).Exp(v, u, N)
	base.Mul(base, A)
	return base.Exp(base, b, N)
}

// DeriveSessionKey computes K = SHA-256(S).
func DeriveSessionKey(S *big.Int) []byte { //nolint:gocritic // S per RFC 5054
	sum := sha256.Sum256(Bytes(S))
	return sum[:]
}

// ComputeActiveProof computes M = H(H(N) XOR H(g), H(username), salt, A, B, K).
//
//nolint:gocritic // N, A, B per RFC 5054
func ComputeActiveProof(N, g *big.Int, username string, salt []byte, A, B *big.Int, K []byte) []byte {
	hN := hash(Bytes(N))
	hg := hash(Bytes(g))
	for i := range hN {
		hN[i] ^= hg[i]
	}
	hI := hash([]byte(username))
	return hash(hN, hI, salt, Bytes(A), Bytes(B), K)
}

// ComputePassiveProof computes M2 = H(A, M, K).
//
//nolint:gocritic // A, M, K per RFC 5054
func ComputePassiveProof(A *big.Int, M, K []byte) []byte {
	return hash(Bytes(A), M, K)
}

// GenerateSalt returns SaltBytes of cryptographically random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DerivePasswordVerifier computes the verifier a credential store keeps for
// username: v = g^H(salt | username ":" password) mod N.
//
//nolint:gocritic // N per RFC 5054
func DerivePasswordVerifier(username, password string, salt []byte, N, g *big.Int) *big.Int {
	return ComputeVerifier(N, g, ComputePrivateKey(salt, username, password))
}

// CipherKeyBytes is the length of the derived symmetric cipher key.
const CipherKeyBytes = 16

// DeriveCipherKey hashes the session key with H and folds every further
// 16-byte block of the digest into the first 16 bytes with XOR. With a
// 160-bit H only the first block is complete, so the result is a truncation.
func DeriveCipherKey(sessionKey []byte) [CipherKeyBytes]byte {
	digest := hash(sessionKey)

	var key [CipherKeyBytes]byte
	for i := range key {
		key[i] = digest[i]
		for j := 1; j < len(digest)/CipherKeyBytes; j++ {
			key[i] ^= digest[i+j*CipherKeyBytes]
		}
	}
	return key
}

// ValidatePublic returns ErrZeroPublic if x mod N is zero.
//
//nolint:gocritic // N per RFC 5054
func ValidatePublic(x, N *big.Int) error {
	if x == nil || IsZeroMod(x, N) {
		return ErrZeroPublic
	}
	return nil
}

// ValidateScrambler returns ErrZeroScrambler if u is zero.
func ValidateScrambler(u *big.Int) error {
	if u.Cmp(zero) == 0 {
		return ErrZeroScrambler
	}
	return nil
}
