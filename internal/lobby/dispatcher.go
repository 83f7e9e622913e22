// Package lobby dispatches inbound SRP handshake messages to the handshake
// attached to each connection and sends the replies.
package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/fzdarsky/netsrp/internal/auth"
	"github.com/fzdarsky/netsrp/internal/logging"
	"github.com/fzdarsky/netsrp/pkg/netbuf"
	"github.com/fzdarsky/netsrp/pkg/protocol"
	"github.com/fzdarsky/netsrp/pkg/srp"
)

// Conn is a connection the dispatcher can reply on.
type Conn interface {
	ID() string
	Send(ctx context.Context, om *netbuf.Outgoing) error
}

// Events are the notifications raised by a Dispatcher. Nil callbacks are skipped.
type Events struct {
	OnSucceeded func(conn Conn, h *auth.Handshake)
	OnDenied    func(conn Conn, reason string)
	OnExpired   func(conn Conn, reason string)
	OnError     func(conn Conn, reason string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStore sets the credential store for inbound (passive) handshakes.
func WithStore(store auth.CredentialStore) Option {
	return func(d *Dispatcher) {
		d.store = store
	}
}

// WithExpiration sets the handshake expiration window.
func WithExpiration(expiration time.Duration) Option {
	return func(d *Dispatcher) {
		d.expiration = expiration
	}
}

// WithRegistry sets the registry handshakes are attached to.
func WithRegistry(registry *auth.Registry) Option {
	return func(d *Dispatcher) {
		d.registry = registry
	}
}

// WithEvents sets the event callbacks.
func WithEvents(events Events) Option {
	return func(d *Dispatcher) {
		d.events = events
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClock replaces the clock handshakes use for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher maps each inbound content tag and the state of the connection's
// handshake to the next handshake operation.
//
// Handle may be called concurrently for different connections, but messages
// of one connection must be handled one at a time.
type Dispatcher struct {
	keySize    int
	expiration time.Duration
	store      auth.CredentialStore
	registry   *auth.Registry
	events     Events
	logger     *logging.Logger
	now        func() time.Time
}

// New creates a dispatcher whose handshakes use the keySize group.
func New(keySize int, opts ...Option) (*Dispatcher, error) {
	if !srp.IsSupportedKeySize(keySize) {
		return nil, fmt.Errorf("%w: %d", srp.ErrUnsupportedKeySize, keySize)
	}

	d := &Dispatcher{
		keySize:    keySize,
		expiration: auth.DefaultExpiration,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = auth.NewRegistry(auth.DefaultRegistryTTL)
	}
	if d.logger == nil {
		d.logger = logging.New(logging.LevelInfo, logging.FormatJSON)
	}
	return d, nil
}

// Handshake returns the handshake attached to connID, or nil.
func (d *Dispatcher) Handshake(connID string) *auth.Handshake {
	return d.registry.Get(connID)
}

// Forget detaches and clears the handshake of connID.
func (d *Dispatcher) Forget(connID string) {
	if h := d.registry.Get(connID); h != nil {
		h.ClearSecrets()
	}
	d.registry.Delete(connID)
}

func (d *Dispatcher) newHandshake(role auth.Role) (*auth.Handshake, error) {
	opts := []auth.Option{
		auth.WithExpiration(d.expiration),
		auth.WithClock(d.now),
	}
	if role == auth.RolePassive {
		opts = append(opts, auth.WithStore(d.store))
	}
	return auth.New(role, d.keySize, opts...)
}

// Authenticate starts an active handshake on conn and sends its Request.
// Invalid input is returned without sending anything.
func (d *Dispatcher) Authenticate(ctx context.Context, conn Conn, username, password string, data []byte) error {
	h, err := d.newHandshake(auth.RoleActive)
	if err != nil {
		return err
	}
	req, err := h.BeginRequest(username, password, data)
	if err != nil {
		return err
	}

	d.registry.Put(conn.ID(), h)
	d.logEvent(logging.LevelDebug, "handshake started", conn, h, protocol.ContentUsername)

	return d.sendPacket(ctx, conn, protocol.ContentUsername, req)
}

// Handle processes one inbound message on conn and returns the content that
// describes the connection afterwards: Succeeded once the handshake has
// succeeded, Expired, Denied or Error once it ended otherwise, the received
// tag for Denied and Error notices, and None while the exchange is under way.
//
// Wire-visible handshake failures are answered with a Denied, Expired or
// Error message and reported through the returned content with a nil error.
// Misuse, invalid input, unexpected content and transport errors are
// returned with None.
func (d *Dispatcher) Handle(ctx context.Context, conn Conn, im *netbuf.Incoming) (protocol.Content, error) {
	tag, err := protocol.ReadContent(im)
	if err != nil {
		if err := d.reject(ctx, conn, nil, err); err != nil {
			return protocol.ContentNone, err
		}
		return protocol.ContentError, nil
	}

	h := d.registry.Get(conn.ID())
	d.logEvent(logging.LevelDebug, "message received", conn, h, tag)

	if h != nil && h.State() == auth.StateSucceeded {
		return protocol.ContentSucceeded, nil
	}

	switch tag {
	case protocol.ContentUsername:
		err = d.handleRequest(ctx, conn, h, im)
	case protocol.ContentPassword:
		err = d.handleResponse(ctx, conn, h, im)
	case protocol.ContentVerification:
		err = d.handleVerification(ctx, conn, h, im)
	case protocol.ContentExpired:
		err = d.handleExpired(ctx, conn, h, im)
	case protocol.ContentDenied:
		reason := protocol.ReadReason(im)
		d.logEvent(logging.LevelWarn, "authentication denied by peer", conn, h, tag, map[string]any{"reason": reason})
		if d.events.OnDenied != nil {
			d.events.OnDenied(conn, reason)
		}
		return protocol.ContentDenied, nil
	case protocol.ContentError:
		reason := protocol.ReadReason(im)
		d.logEvent(logging.LevelError, "authentication error from peer", conn, h, tag, map[string]any{"reason": reason})
		if d.events.OnError != nil {
			d.events.OnError(conn, reason)
		}
		return protocol.ContentError, nil
	default:
		if tag.IsUpgrade() {
			err = protocol.NewUnexpectedContentError("protocol upgrades are not supported", tag)
		} else {
			err = unexpected(h, tag)
		}
	}
	if err != nil {
		return protocol.ContentNone, err
	}
	return outcome(d.registry.Get(conn.ID())), nil
}

// outcome maps a handshake's state to the content reported by Handle.
func outcome(h *auth.Handshake) protocol.Content {
	switch {
	case h == nil:
		return protocol.ContentNone
	case h.State() == auth.StateSucceeded:
		return protocol.ContentSucceeded
	case h.State().IsTerminal():
		return replyContent(h)
	default:
		return protocol.ContentNone
	}
}

// handleRequest runs the passive side's first step. A connection whose
// previous passive handshake expired or was denied starts over.
func (d *Dispatcher) handleRequest(ctx context.Context, conn Conn, h *auth.Handshake, im *netbuf.Incoming) error {
	switch {
	case h == nil || h.Role() == auth.RolePassive && replaceable(h.State()):
		next, err := d.newHandshake(auth.RolePassive)
		if err != nil {
			return err
		}
		h = next
		d.registry.Put(conn.ID(), h)
	case h.Role() == auth.RolePassive && h.State() == auth.StateResponding:
		// Re-delivered request; BuildResponse returns the cached Response.
	default:
		return unexpected(h, protocol.ContentUsername)
	}

	req := &protocol.Request{}
	if err := protocol.ReadPacket(im, req); err != nil {
		return d.reject(ctx, conn, h, err)
	}

	resp, err := h.BuildResponse(req)
	if err != nil {
		return d.reject(ctx, conn, h, err)
	}

	d.logEvent(logging.LevelDebug, "responding", conn, h, protocol.ContentPassword)
	return d.sendPacket(ctx, conn, protocol.ContentPassword, resp)
}

func replaceable(s auth.State) bool {
	return s == auth.StateNotInitialized || s.Has(auth.StateExpired) || s.Has(auth.StateDenied)
}

// handleResponse runs the active side's second step.
func (d *Dispatcher) handleResponse(ctx context.Context, conn Conn, h *auth.Handshake, im *netbuf.Incoming) error {
	if h == nil || h.Role() != auth.RoleActive ||
		h.State() != auth.StateRequesting && h.State() != auth.StateVerificating {
		return unexpected(h, protocol.ContentPassword)
	}

	resp := &protocol.Response{}
	if err := protocol.ReadPacket(im, resp); err != nil {
		return d.reject(ctx, conn, h, err)
	}

	proof, err := h.ReceiveResponse(resp)
	if err != nil {
		return d.reject(ctx, conn, h, err)
	}

	d.logEvent(logging.LevelDebug, "sending proof", conn, h, protocol.ContentVerification)
	return d.sendPacket(ctx, conn, protocol.ContentVerification, proof)
}

// handleVerification checks M on the passive side or M2 on the active side.
func (d *Dispatcher) handleVerification(ctx context.Context, conn Conn, h *auth.Handshake, im *netbuf.Incoming) error {
	if h == nil {
		return unexpected(h, protocol.ContentVerification)
	}

	switch {
	case h.Role() == auth.RolePassive && h.State() == auth.StateResponding:
		v := &protocol.Verification{}
		if err := protocol.ReadPacket(im, v); err != nil {
			return d.reject(ctx, conn, h, err)
		}
		m2, err := h.ReceiveVerification(v)
		if err != nil {
			return d.reject(ctx, conn, h, err)
		}
		if err := d.sendPacket(ctx, conn, protocol.ContentVerification, m2); err != nil {
			return err
		}
		if err := h.MarkSucceeded(); err != nil {
			return err
		}

	case h.Role() == auth.RoleActive && h.State() == auth.StateVerificating:
		v := &protocol.Verification{}
		if err := protocol.ReadPacket(im, v); err != nil {
			return d.reject(ctx, conn, h, err)
		}
		if err := h.VerifyPassiveProof(v); err != nil {
			return d.reject(ctx, conn, h, err)
		}

	default:
		return unexpected(h, protocol.ContentVerification)
	}

	d.logEvent(logging.LevelInfo, "handshake succeeded", conn, h, protocol.ContentVerification)
	if d.events.OnSucceeded != nil {
		d.events.OnSucceeded(conn, h)
	}
	return nil
}

// handleExpired retries on the active side and echoes the expiry on the
// passive side.
func (d *Dispatcher) handleExpired(ctx context.Context, conn Conn, h *auth.Handshake, im *netbuf.Incoming) error {
	reason := protocol.ReadReason(im)

	switch {
	case h != nil && h.Role() == auth.RoleActive &&
		(h.State() == auth.StateRequesting || h.State() == auth.StateVerificating):
		next, req, err := h.Retry()
		if err != nil {
			return err
		}
		h.ClearSecrets()
		d.registry.Put(conn.ID(), next)
		d.logEvent(logging.LevelWarn, "handshake expired, retrying", conn, next, protocol.ContentExpired, map[string]any{"reason": reason})
		return d.sendPacket(ctx, conn, protocol.ContentUsername, req)

	case h != nil && h.Role() == auth.RolePassive && h.State() == auth.StateResponding:
		d.logEvent(logging.LevelWarn, "peer reported expiry", conn, h, protocol.ContentExpired, map[string]any{"reason": reason})
		return d.send(ctx, conn, protocol.NewReasonMessage(protocol.ContentExpired, protocol.NewExpiredError().Reason()))

	default:
		return unexpected(h, protocol.ContentExpired)
	}
}

// reject answers a wire-visible handshake error with a tagged reason and
// returns everything else to the caller.
func (d *Dispatcher) reject(ctx context.Context, conn Conn, h *auth.Handshake, err error) error {
	he, ok := protocol.AsHandshakeError(err)
	if !ok || !he.WireVisible() {
		return err
	}

	tag := replyContent(h)
	reason := he.Reason()
	fields := map[string]any{"reason": reason, "code": string(he.Code)}

	var notify func(Conn, string)
	switch tag {
	case protocol.ContentExpired:
		d.logEvent(logging.LevelWarn, "handshake expired", conn, h, tag, fields)
		notify = d.events.OnExpired
	case protocol.ContentDenied:
		d.logEvent(logging.LevelWarn, "handshake denied", conn, h, tag, fields)
		notify = d.events.OnDenied
	default:
		d.logEvent(logging.LevelError, "handshake failed", conn, h, tag, fields)
		notify = d.events.OnError
	}

	if err := d.send(ctx, conn, protocol.NewReasonMessage(tag, reason)); err != nil {
		return err
	}
	if notify != nil {
		notify(conn, reason)
	}
	return nil
}

func unexpected(h *auth.Handshake, tag protocol.Content) error {
	if h == nil {
		return protocol.NewUnexpectedContentError("no handshake is attached", tag)
	}
	return protocol.NewUnexpectedContentError(h.Role().String()+" handshake is "+h.State().String(), tag)
}

// replyContent chooses the reply tag from the handshake's resulting state.
func replyContent(h *auth.Handshake) protocol.Content {
	if h == nil {
		return protocol.ContentError
	}
	switch s := h.State(); {
	case s.Has(auth.StateExpired):
		return protocol.ContentExpired
	case s.Has(auth.StateDenied):
		return protocol.ContentDenied
	default:
		return protocol.ContentError
	}
}

func (d *Dispatcher) sendPacket(ctx context.Context, conn Conn, tag protocol.Content, p protocol.Packet) error {
	om, err := protocol.NewMessage(tag, p)
	if err != nil {
		return err
	}
	return d.send(ctx, conn, om)
}

func (d *Dispatcher) send(ctx context.Context, conn Conn, om *netbuf.Outgoing) error {
	if err := conn.Send(ctx, om); err != nil {
		return fmt.Errorf("failed to send to %s: %w", conn.ID(), err)
	}
	return nil
}

// logEvent logs a handshake event with the connection, tag and state.
func (d *Dispatcher) logEvent(level logging.LogLevel, msg string, conn Conn, h *auth.Handshake, tag protocol.Content, extra ...map[string]any) {
	ev := logging.HandshakeEvent{Conn: conn.ID(), Content: tag.String()}
	if h != nil {
		ev.Role = h.Role().String()
		ev.State = h.State().String()
		ev.Username = h.Username()
	}
	d.logger.Handshake(level, msg, ev, extra...)
}
