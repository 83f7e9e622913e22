package lobby_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/fzdarsky/netsrp/internal/auth"
	"github.com/fzdarsky/netsrp/internal/lobby"
	"github.com/fzdarsky/netsrp/internal/logging"
	"github.com/fzdarsky/netsrp/pkg/netbuf"
	"github.com/fzdarsky/netsrp/pkg/protocol"
)

// recordConn captures every message sent on it.
type recordConn struct {
	id   string
	sent [][]byte
	err  error
}

func (c *recordConn) ID() string { return c.id }

func (c *recordConn) Send(_ context.Context, om *netbuf.Outgoing) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, om.Bytes())
	return nil
}

func (c *recordConn) last(t *testing.T) []byte {
	t.Helper()
	require.NotEmpty(t, c.sent, "nothing was sent on %s", c.id)
	return c.sent[len(c.sent)-1]
}

func tagOf(t *testing.T, msg []byte) protocol.Content {
	t.Helper()
	tag, err := protocol.ReadContent(netbuf.NewIncoming(msg))
	require.NoError(t, err)
	return tag
}

func reasonOf(t *testing.T, msg []byte) string {
	t.Helper()
	im := netbuf.NewIncoming(msg)
	_, err := protocol.ReadContent(im)
	require.NoError(t, err)
	return protocol.ReadReason(im)
}

type recorder struct {
	mu        sync.Mutex
	succeeded []*auth.Handshake
	denied    []string
	expired   []string
	errors    []string
}

func (r *recorder) events() lobby.Events {
	return lobby.Events{
		OnSucceeded: func(_ lobby.Conn, h *auth.Handshake) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.succeeded = append(r.succeeded, h)
		},
		OnDenied: func(_ lobby.Conn, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.denied = append(r.denied, reason)
		},
		OnExpired: func(_ lobby.Conn, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.expired = append(r.expired, reason)
		},
		OnError: func(_ lobby.Conn, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, reason)
		},
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logging.Logger {
	l := logging.New(logging.LevelDebug, logging.FormatJSON)
	l.SetOutput(io.Discard, io.Discard)
	return l
}

type fixture struct {
	client       *lobby.Dispatcher
	server       *lobby.Dispatcher
	clientConn   *recordConn
	serverConn   *recordConn
	clientEvents *recorder
	serverEvents *recorder
	serverClock  *testClock
}

func newFixture(t *testing.T, store auth.CredentialStore) *fixture {
	t.Helper()

	f := &fixture{
		clientConn:   &recordConn{id: "to-server"},
		serverConn:   &recordConn{id: "to-client"},
		clientEvents: &recorder{},
		serverEvents: &recorder{},
		serverClock:  &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	var err error
	f.client, err = lobby.New(1024,
		lobby.WithEvents(f.clientEvents.events()),
		lobby.WithLogger(quietLogger()))
	require.NoError(t, err)

	f.server, err = lobby.New(1024,
		lobby.WithStore(store),
		lobby.WithEvents(f.serverEvents.events()),
		lobby.WithLogger(quietLogger()),
		lobby.WithClock(f.serverClock.Now),
		lobby.WithRegistry(auth.NewRegistry(time.Hour)))
	require.NoError(t, err)

	return f
}

func testStore(t *testing.T) *auth.MemoryStore {
	t.Helper()
	store := auth.NewMemoryStore()
	require.NoError(t, store.Register("test", "pass", 1024))
	return store
}

// toServer delivers the client's last message to the server.
func (f *fixture) toServer(t *testing.T) error {
	t.Helper()
	_, err := f.server.Handle(context.Background(), f.serverConn, netbuf.NewIncoming(f.clientConn.last(t)))
	return err
}

// toClient delivers the server's last message to the client.
func (f *fixture) toClient(t *testing.T) error {
	t.Helper()
	_, err := f.client.Handle(context.Background(), f.clientConn, netbuf.NewIncoming(f.serverConn.last(t)))
	return err
}

func TestDispatcher_FullExchange(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", []byte("lobby")))
	assert.Equal(t, protocol.ContentUsername, tagOf(t, f.clientConn.last(t)))
	assert.Equal(t, auth.StateRequesting, f.client.Handshake(f.clientConn.ID()).State())

	require.NoError(t, f.toServer(t))
	assert.Equal(t, protocol.ContentPassword, tagOf(t, f.serverConn.last(t)))
	assert.Equal(t, auth.StateResponding, f.server.Handshake(f.serverConn.ID()).State())

	require.NoError(t, f.toClient(t))
	assert.Equal(t, protocol.ContentVerification, tagOf(t, f.clientConn.last(t)))

	require.NoError(t, f.toServer(t))
	assert.Equal(t, protocol.ContentVerification, tagOf(t, f.serverConn.last(t)))
	require.Len(t, f.serverEvents.succeeded, 1)

	require.NoError(t, f.toClient(t))
	require.Len(t, f.clientEvents.succeeded, 1)

	clientHS := f.client.Handshake(f.clientConn.ID())
	serverHS := f.server.Handshake(f.serverConn.ID())
	assert.Equal(t, auth.StateSucceeded, clientHS.State())
	assert.Equal(t, auth.StateSucceeded, serverHS.State())
	assert.Equal(t, clientHS.CipherKey(), serverHS.CipherKey())
	assert.Equal(t, []byte("lobby"), serverHS.Data())

	// A succeeded handshake short-circuits everything
	sent := len(f.serverConn.sent)
	require.NoError(t, f.toServer(t))
	assert.Len(t, f.serverConn.sent, sent)

	assert.Empty(t, f.clientEvents.errors)
	assert.Empty(t, f.serverEvents.errors)
}

func TestDispatcher_UnknownUserDenied(t *testing.T) {
	f := newFixture(t, auth.NewMemoryStore())

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "ghost", "boo", nil))
	require.NoError(t, f.toServer(t))

	reply := f.serverConn.last(t)
	assert.Equal(t, protocol.ContentDenied, tagOf(t, reply))
	assert.Equal(t, "wrong username or password", reasonOf(t, reply))
	assert.Equal(t, auth.StateDenied, f.server.Handshake(f.serverConn.ID()).State())
	assert.Equal(t, []string{"wrong username or password"}, f.serverEvents.denied)

	require.NoError(t, f.toClient(t))
	assert.Equal(t, []string{"wrong username or password"}, f.clientEvents.denied)
	assert.Equal(t, auth.StateRequesting, f.client.Handshake(f.clientConn.ID()).State())
}

func TestDispatcher_WrongPasswordDenied(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "wrong", nil))
	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toClient(t))
	require.NoError(t, f.toServer(t))

	assert.Equal(t, protocol.ContentDenied, tagOf(t, f.serverConn.last(t)))
	assert.Equal(t, auth.StateDenied|auth.StateFailed, f.server.Handshake(f.serverConn.ID()).State())
	assert.Empty(t, f.serverEvents.succeeded)

	// A denied connection may start over
	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NoError(t, f.toServer(t))
	assert.Equal(t, protocol.ContentPassword, tagOf(t, f.serverConn.last(t)))
}

func TestDispatcher_TamperedProof(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toClient(t))

	msg := f.clientConn.last(t)
	msg[len(msg)-1] ^= 0x01

	require.NoError(t, f.toServer(t))
	assert.Equal(t, protocol.ContentDenied, tagOf(t, f.serverConn.last(t)))
	assert.Empty(t, f.serverEvents.succeeded)
}

func TestDispatcher_TamperedPassiveProof(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toClient(t))
	require.NoError(t, f.toServer(t))

	msg := f.serverConn.last(t)
	msg[len(msg)-1] ^= 0x80

	require.NoError(t, f.toClient(t))
	assert.Equal(t, protocol.ContentError, tagOf(t, f.clientConn.last(t)))
	assert.Equal(t, auth.StateFailed, f.client.Handshake(f.clientConn.ID()).State())
	assert.Empty(t, f.clientEvents.succeeded)
	assert.Len(t, f.clientEvents.errors, 1)
}

func TestDispatcher_ExpiryRetry(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toClient(t))
	first := f.client.Handshake(f.clientConn.ID())

	f.serverClock.Advance(auth.DefaultExpiration + time.Second)
	require.NoError(t, f.toServer(t))

	reply := f.serverConn.last(t)
	assert.Equal(t, protocol.ContentExpired, tagOf(t, reply))
	assert.Equal(t, auth.StateExpired, f.server.Handshake(f.serverConn.ID()).State())
	assert.Len(t, f.serverEvents.expired, 1)
	assert.Empty(t, f.serverEvents.succeeded)

	// The client silently retries with a fresh request
	require.NoError(t, f.toClient(t))
	assert.Equal(t, protocol.ContentUsername, tagOf(t, f.clientConn.last(t)))
	retried := f.client.Handshake(f.clientConn.ID())
	assert.NotSame(t, first, retried)
	assert.Equal(t, auth.StateRequesting, retried.State())

	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toClient(t))
	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toClient(t))

	assert.Equal(t, auth.StateSucceeded, f.client.Handshake(f.clientConn.ID()).State())
	assert.Equal(t, auth.StateSucceeded, f.server.Handshake(f.serverConn.ID()).State())
}

func TestDispatcher_HandleReportsOutcome(t *testing.T) {
	f := newFixture(t, testStore(t))
	ctx := context.Background()

	toServer := func() protocol.Content {
		content, err := f.server.Handle(ctx, f.serverConn, netbuf.NewIncoming(f.clientConn.last(t)))
		require.NoError(t, err)
		return content
	}
	toClient := func() protocol.Content {
		content, err := f.client.Handle(ctx, f.clientConn, netbuf.NewIncoming(f.serverConn.last(t)))
		require.NoError(t, err)
		return content
	}

	require.NoError(t, f.client.Authenticate(ctx, f.clientConn, "test", "pass", nil))
	assert.Equal(t, protocol.ContentNone, toServer())
	assert.Equal(t, protocol.ContentNone, toClient())
	assert.Equal(t, protocol.ContentSucceeded, toServer())
	assert.Equal(t, protocol.ContentSucceeded, toClient())

	// Anything arriving after success short-circuits without a reply.
	sent := len(f.serverConn.sent)
	assert.Equal(t, protocol.ContentSucceeded, toServer())
	assert.Len(t, f.serverConn.sent, sent)
}

func TestDispatcher_HandleReportsDenial(t *testing.T) {
	f := newFixture(t, testStore(t))
	ctx := context.Background()

	require.NoError(t, f.client.Authenticate(ctx, f.clientConn, "test", "wrong", nil))
	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toClient(t))

	content, err := f.server.Handle(ctx, f.serverConn, netbuf.NewIncoming(f.clientConn.last(t)))
	require.NoError(t, err)
	assert.Equal(t, protocol.ContentDenied, content)

	content, err = f.client.Handle(ctx, f.clientConn, netbuf.NewIncoming(f.serverConn.last(t)))
	require.NoError(t, err)
	assert.Equal(t, protocol.ContentDenied, content)
}

func TestDispatcher_ExpiredWhileResponding(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NoError(t, f.toServer(t))

	im := netbuf.NewIncoming(protocol.NewReasonMessage(protocol.ContentExpired, "late").Bytes())
	content, err := f.server.Handle(context.Background(), f.serverConn, im)
	require.NoError(t, err)
	assert.Equal(t, protocol.ContentNone, content)

	assert.Equal(t, protocol.ContentExpired, tagOf(t, f.serverConn.last(t)))
	assert.Equal(t, auth.StateResponding, f.server.Handshake(f.serverConn.ID()).State())
}

func TestDispatcher_RequestRedelivery(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NoError(t, f.toServer(t))
	require.NoError(t, f.toServer(t))

	require.Len(t, f.serverConn.sent, 2)
	assert.Equal(t, f.serverConn.sent[0], f.serverConn.sent[1])
}

func TestDispatcher_UnexpectedContent(t *testing.T) {
	f := newFixture(t, testStore(t))

	tests := []struct {
		name string
		tag  protocol.Content
	}{
		{name: "response without handshake", tag: protocol.ContentPassword},
		{name: "verification without handshake", tag: protocol.ContentVerification},
		{name: "expired without handshake", tag: protocol.ContentExpired},
		{name: "upgrade request", tag: protocol.ContentUpgradeRequest},
		{name: "none", tag: protocol.ContentNone},
		{name: "succeeded", tag: protocol.ContentSucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := netbuf.NewIncoming([]byte{byte(tt.tag)})
			content, err := f.server.Handle(context.Background(), f.serverConn, im)
			assert.Equal(t, protocol.ErrCodeUnexpectedContent, protocol.CodeOf(err))
			assert.Equal(t, protocol.ContentNone, content)
			assert.Empty(t, f.serverConn.sent)
		})
	}

	t.Run("upgrade is refused", func(t *testing.T) {
		_, err := f.server.Handle(context.Background(), f.serverConn, netbuf.NewIncoming([]byte{byte(protocol.ContentUpgradeResponse)}))
		assert.Equal(t, protocol.ErrCodeUnexpectedContent, protocol.CodeOf(err))
		assert.Contains(t, err.Error(), "upgrades are not supported")
	})

	t.Run("request on active connection", func(t *testing.T) {
		require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
		_, err := f.client.Handle(context.Background(), f.clientConn, netbuf.NewIncoming(f.clientConn.last(t)))
		assert.Equal(t, protocol.ErrCodeUnexpectedContent, protocol.CodeOf(err))
	})
}

func TestDispatcher_CorruptMessages(t *testing.T) {
	t.Run("empty message", func(t *testing.T) {
		f := newFixture(t, testStore(t))
		content, err := f.server.Handle(context.Background(), f.serverConn, netbuf.NewIncoming(nil))
		require.NoError(t, err)
		assert.Equal(t, protocol.ContentError, content)
		assert.Equal(t, protocol.ContentError, tagOf(t, f.serverConn.last(t)))
	})

	t.Run("truncated request", func(t *testing.T) {
		f := newFixture(t, testStore(t))
		msg := []byte{byte(protocol.ContentUsername), 4, 't', 'e'}
		content, err := f.server.Handle(context.Background(), f.serverConn, netbuf.NewIncoming(msg))
		require.NoError(t, err)
		assert.Equal(t, protocol.ContentError, content)

		reply := f.serverConn.last(t)
		assert.Equal(t, protocol.ContentError, tagOf(t, reply))
		assert.Contains(t, reasonOf(t, reply), "Request")
		assert.Len(t, f.serverEvents.errors, 1)
	})
}

func TestDispatcher_ZeroPublicValue(t *testing.T) {
	f := newFixture(t, testStore(t))

	om, err := protocol.NewMessage(protocol.ContentUsername, protocol.NewRequest("test", nil, big.NewInt(0)))
	require.NoError(t, err)
	content, err := f.server.Handle(context.Background(), f.serverConn, netbuf.NewIncoming(om.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, protocol.ContentError, content)

	assert.Equal(t, protocol.ContentError, tagOf(t, f.serverConn.last(t)))
	assert.Equal(t, auth.StateFailed, f.server.Handshake(f.serverConn.ID()).State())
}

func TestDispatcher_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := auth.NewMockCredentialStore(ctrl)
	store.EXPECT().Lookup("test", gomock.Any()).Return(nil, errors.New("connection refused")).Times(1)

	f := newFixture(t, store)

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NoError(t, f.toServer(t))

	reply := f.serverConn.last(t)
	assert.Equal(t, protocol.ContentError, tagOf(t, reply))
	assert.Equal(t, "credential lookup failed", reasonOf(t, reply))
	assert.Equal(t, []string{"credential lookup failed"}, f.serverEvents.errors)
}

type panickingStore struct{}

func (panickingStore) Lookup(string, []byte) (*auth.Credential, error) {
	panic("db driver exploded")
}

func TestDispatcher_StorePanic(t *testing.T) {
	f := newFixture(t, panickingStore{})

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NotPanics(t, func() {
		require.NoError(t, f.toServer(t))
	})

	reply := f.serverConn.last(t)
	assert.Equal(t, protocol.ContentError, tagOf(t, reply))
	assert.Equal(t, "credential lookup failed", reasonOf(t, reply))
	assert.Equal(t, auth.StateFailed, f.server.Handshake(f.serverConn.ID()).State())
}

func TestDispatcher_AuthenticateInvalidInput(t *testing.T) {
	f := newFixture(t, testStore(t))

	err := f.client.Authenticate(context.Background(), f.clientConn, "test", "", nil)
	assert.Equal(t, protocol.ErrCodeInvalidInput, protocol.CodeOf(err))
	assert.Empty(t, f.clientConn.sent)
	assert.Nil(t, f.client.Handshake(f.clientConn.ID()))
}

func TestDispatcher_PassiveWithoutStore(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	err := f.toServer(t)
	assert.Equal(t, protocol.ErrCodeMisuse, protocol.CodeOf(err))
	assert.Empty(t, f.serverConn.sent)
}

func TestDispatcher_SendFailure(t *testing.T) {
	f := newFixture(t, testStore(t))
	f.clientConn.err = errors.New("link down")

	err := f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link down")

	// The handshake is attached before sending
	assert.NotNil(t, f.client.Handshake(f.clientConn.ID()))
}

func TestDispatcher_Forget(t *testing.T) {
	f := newFixture(t, testStore(t))

	require.NoError(t, f.client.Authenticate(context.Background(), f.clientConn, "test", "pass", nil))
	require.NotNil(t, f.client.Handshake(f.clientConn.ID()))

	f.client.Forget(f.clientConn.ID())
	assert.Nil(t, f.client.Handshake(f.clientConn.ID()))
}

func TestNew_UnsupportedKeySize(t *testing.T) {
	_, err := lobby.New(1000)
	assert.Error(t, err)
}
