package auth

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/fzdarsky/netsrp/pkg/srp"
)

// PasswordVerifier generates a random salt and computes the verifier a
// credential store keeps for username: v = g^H(salt | username ":" password) mod N.
func PasswordVerifier(username, password string, keySize int) (salt []byte, verifier *big.Int, err error) {
	group, err := srp.GetGroup(keySize)
	if err != nil {
		return nil, nil, err
	}
	if username == "" {
		return nil, nil, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, nil, fmt.Errorf("password is required")
	}

	salt, err = srp.GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	return salt, srp.DerivePasswordVerifier(username, password, salt, group.N, group.G), nil
}

// ParseCredential decodes a base64 salt and a hex verifier as stored in
// configuration files.
func ParseCredential(username, saltBase64, verifierHex string) (Credential, error) {
	if username == "" {
		return Credential{}, fmt.Errorf("username is required")
	}

	salt, err := base64.StdEncoding.DecodeString(saltBase64)
	if err != nil {
		return Credential{}, fmt.Errorf("salt must be valid base64: %w", err)
	}
	if len(salt) == 0 {
		return Credential{}, fmt.Errorf("salt is required")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(verifierHex, "0x"))
	if err != nil {
		return Credential{}, fmt.Errorf("verifier must be valid hex: %w", err)
	}
	verifier := new(big.Int).SetBytes(raw)
	if verifier.Sign() == 0 {
		return Credential{}, fmt.Errorf("verifier must be non-zero")
	}

	return Credential{Username: username, Salt: salt, Verifier: verifier}, nil
}

// FormatCredential encodes cred the way ParseCredential expects it.
func FormatCredential(cred Credential) (saltBase64, verifierHex string) {
	return base64.StdEncoding.EncodeToString(cred.Salt), hex.EncodeToString(cred.Verifier.Bytes())
}
