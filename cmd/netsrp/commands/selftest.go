package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fzdarsky/netsrp/internal/auth"
	"github.com/fzdarsky/netsrp/internal/config"
	"github.com/fzdarsky/netsrp/internal/lobby"
	"github.com/fzdarsky/netsrp/internal/logging"
	"github.com/fzdarsky/netsrp/internal/transport"
)

// ErrSelfTestFailed is returned when the loopback handshake does not succeed.
var ErrSelfTestFailed = errors.New("self-test handshake failed")

type outcome struct {
	state     string
	reason    string
	handshake *auth.Handshake
}

type selfTestResult struct {
	Outcome     string
	Reason      string
	KeySize     int
	Fingerprint string
}

func selftestCmd(a *app) *cobra.Command {
	var (
		username string
		password string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run a handshake between two in-process peers",
		Long: `Run a complete handshake over an in-memory connection pair using the
configured group size, expiration and credentials. A user absent from the
configured credentials is registered with the given password first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := runSelfTest(ctx, a.cfg, a.logger, username, password)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "key size:    %d\n", res.KeySize)
			fmt.Fprintf(w, "outcome:     %s\n", res.Outcome)
			if res.Reason != "" {
				fmt.Fprintf(w, "reason:      %s\n", res.Reason)
			}
			if res.Fingerprint != "" {
				fmt.Fprintf(w, "fingerprint: %s\n", res.Fingerprint)
			}

			if res.Outcome != "succeeded" {
				return ErrSelfTestFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "test", "username to authenticate")
	cmd.Flags().StringVarP(&password, "password", "p", "pass", "password to authenticate with")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall time limit")

	return cmd
}

func runSelfTest(ctx context.Context, cfg *config.Config, logger *logging.Logger, username, password string) (*selfTestResult, error) {
	expiration, err := cfg.GetExpiration()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.GetRegistryTTL()
	if err != nil {
		return nil, err
	}

	store, err := cfg.CredentialStore()
	if err != nil {
		return nil, err
	}
	if _, err := store.Lookup(username, nil); errors.Is(err, auth.ErrCredentialNotFound) {
		if err := store.Register(username, password, cfg.SRP.KeySize); err != nil {
			return nil, fmt.Errorf("failed to register %q: %w", username, err)
		}
	}
	logger.Debug("credential store ready", map[string]any{"entries": store.Count()})

	activeDone := make(chan outcome, 1)
	passiveDone := make(chan outcome, 1)

	active, err := newPeer(cfg, logger, expiration, ttl, activeDone, nil)
	if err != nil {
		return nil, err
	}
	passive, err := newPeer(cfg, logger, expiration, ttl, passiveDone, store)
	if err != nil {
		return nil, err
	}

	activeConn, passiveConn := transport.Pair("active", "passive")
	defer func() { _ = activeConn.Close() }()

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	prune := max(ttl/2, time.Millisecond)
	go active.registry.Run(serveCtx, prune)
	go passive.registry.Run(serveCtx, prune)
	go func() { _ = active.Serve(serveCtx, activeConn) }()
	go func() { _ = passive.Serve(serveCtx, passiveConn) }()

	if err := active.Authenticate(ctx, activeConn, username, password, nil); err != nil {
		return nil, err
	}

	res := &selfTestResult{KeySize: cfg.SRP.KeySize}

	var got outcome
	select {
	case got = <-activeDone:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for handshake: %w", ctx.Err())
	}
	res.Outcome, res.Reason = got.state, got.reason
	if got.state != "succeeded" {
		return res, nil
	}

	// The passive side marks success right after sending its proof.
	var other outcome
	select {
	case other = <-passiveDone:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for passive peer: %w", ctx.Err())
	}
	if other.handshake == nil || other.handshake.CipherKey() != got.handshake.CipherKey() {
		return nil, fmt.Errorf("%w: peers derived different keys", ErrSelfTestFailed)
	}

	logger.Debug("handshakes attached", map[string]any{
		"active":  active.registry.Count(),
		"passive": passive.registry.Count(),
	})

	key := got.handshake.CipherKey()
	sum := sha256.Sum256(key[:])
	res.Fingerprint = hex.EncodeToString(sum[:8])
	return res, nil
}

type peer struct {
	*lobby.Dispatcher
	registry *auth.Registry
}

func newPeer(cfg *config.Config, logger *logging.Logger, expiration, ttl time.Duration, done chan<- outcome, store auth.CredentialStore) (*peer, error) {
	report := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}

	registry := auth.NewRegistry(ttl)
	opts := []lobby.Option{
		lobby.WithExpiration(expiration),
		lobby.WithRegistry(registry),
		lobby.WithLogger(logger),
		lobby.WithEvents(lobby.Events{
			OnSucceeded: func(_ lobby.Conn, h *auth.Handshake) {
				report(outcome{state: "succeeded", handshake: h})
			},
			OnDenied: func(_ lobby.Conn, reason string) {
				report(outcome{state: "denied", reason: reason})
			},
			OnExpired: func(_ lobby.Conn, reason string) {
				report(outcome{state: "expired", reason: reason})
			},
			OnError: func(_ lobby.Conn, reason string) {
				report(outcome{state: "error", reason: reason})
			},
		}),
	}
	if store != nil {
		opts = append(opts, lobby.WithStore(store))
	}

	d, err := lobby.New(cfg.SRP.KeySize, opts...)
	if err != nil {
		return nil, err
	}
	return &peer{Dispatcher: d, registry: registry}, nil
}
