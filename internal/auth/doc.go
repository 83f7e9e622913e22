// Package auth implements the SRP-6a handshake state machine for both the
// active (claimant) and passive (verifier) roles, the credential store the
// passive role looks verifiers up in, and a per-connection handshake registry.
package auth

//go:generate go tool mockgen -destination=mock_credentials.go -package=auth github.com/fzdarsky/netsrp/internal/auth CredentialStore
