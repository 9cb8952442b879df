package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chatcore/pkg/logger"
	"chatcore/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestClient(buffer int) *Client {
	return NewClient(nil, buffer)
}

// drain returns whatever is queued on c without blocking.
func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []Envelope, t MessageType) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.MessageType == t {
			out = append(out, e)
		}
	}
	return out
}

func TestSendToUser_OfflineIsNoop(t *testing.T) {
	r := NewRouter(logger.Nop())
	bystander := newTestClient(4)
	r.Attach(bystander)

	r.SendToUser("bob", Envelope{Message: "hello?"})

	require.False(t, r.IsOnline("bob"))
	require.Empty(t, drain(bystander))
}

func TestSendToUser_ReachesEveryConnection(t *testing.T) {
	r := NewRouter(logger.Nop())
	phone, laptop, other := newTestClient(4), newTestClient(4), newTestClient(4)
	for _, c := range []*Client{phone, laptop, other} {
		r.Attach(c)
	}
	r.RegisterConnection("bob", phone)
	r.RegisterConnection("bob", laptop)
	r.RegisterConnection("carol", other)
	drain(phone)
	drain(laptop)
	drain(other)

	r.SendToUser("bob", Envelope{Message: "hi", MessageType: TypeChat})

	require.Len(t, drain(phone), 1)
	require.Len(t, drain(laptop), 1)
	require.Empty(t, drain(other))
}

func TestRegisterConnection_Idempotent(t *testing.T) {
	r := NewRouter(logger.Nop())
	c := newTestClient(8)
	r.Attach(c)

	r.RegisterConnection("alice", c)
	r.RegisterConnection("alice", c)

	require.Len(t, ofType(drain(c), TypeUserConnected), 1)
	require.Equal(t, "alice", c.User())
	require.Equal(t, []string{"alice"}, r.OnlineUsers())
}

func TestPresencePolicy_Transition(t *testing.T) {
	r := NewRouter(logger.Nop(), WithPresencePolicy(PolicyTransition))
	watcher := newTestClient(16)
	r.Attach(watcher)
	first, second := newTestClient(4), newTestClient(4)
	r.Attach(first)
	r.Attach(second)

	r.RegisterConnection("alice", first)
	r.RegisterConnection("alice", second)
	r.UnregisterConnection("alice", first)
	require.True(t, r.IsOnline("alice"))
	r.UnregisterConnection("alice", second)
	require.False(t, r.IsOnline("alice"))

	got := drain(watcher)
	require.Len(t, ofType(got, TypeUserConnected), 1)
	require.Len(t, ofType(got, TypeUserDisconnected), 1)

	on := ofType(got, TypeUserConnected)[0]
	require.Equal(t, SystemSender, on.Sender)
	require.Equal(t, "alice is now online", on.Message)
	require.Equal(t, "alice has disconnected", ofType(got, TypeUserDisconnected)[0].Message)
}

func TestPresencePolicy_PerConnection(t *testing.T) {
	r := NewRouter(logger.Nop(), WithPresencePolicy(PolicyPerConnection))
	watcher := newTestClient(16)
	r.Attach(watcher)
	first, second := newTestClient(4), newTestClient(4)

	r.RegisterConnection("alice", first)
	r.RegisterConnection("alice", second)
	r.UnregisterConnection("alice", first)
	r.UnregisterConnection("alice", second)

	got := drain(watcher)
	require.Len(t, ofType(got, TypeUserConnected), 2)
	require.Len(t, ofType(got, TypeUserDisconnected), 2)
}

func TestParsePresencePolicy(t *testing.T) {
	p, err := ParsePresencePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyTransition, p)

	p, err = ParsePresencePolicy("per_connection")
	require.NoError(t, err)
	require.Equal(t, PolicyPerConnection, p)

	_, err = ParsePresencePolicy("sometimes")
	require.Error(t, err)
}

func TestRegisterConnection_MovesBetweenUsers(t *testing.T) {
	r := NewRouter(logger.Nop())
	c := newTestClient(8)

	r.RegisterConnection("alice", c)
	r.RegisterConnection("mallory", c)

	require.False(t, r.IsOnline("alice"))
	require.True(t, r.IsOnline("mallory"))
	require.Equal(t, "mallory", c.User())
}

func TestDetach_DropsPresenceAndRooms(t *testing.T) {
	r := NewRouter(logger.Nop())
	c, peer := newTestClient(8), newTestClient(8)
	r.Attach(c)
	r.Attach(peer)
	r.RegisterConnection("alice", c)
	r.JoinRoom("lobby", c)
	r.JoinRoom("lobby", peer)

	r.Detach(c)

	require.False(t, r.IsOnline("alice"))
	require.False(t, r.InRoom("lobby", c))
	require.True(t, r.InRoom("lobby", peer))
	require.Len(t, ofType(drain(peer), TypeUserDisconnected), 1)
}

func TestSendToRoom_OnlySubscribers(t *testing.T) {
	r := NewRouter(logger.Nop())
	in1, in2, out := newTestClient(4), newTestClient(4), newTestClient(4)
	r.JoinRoom("alice_bob", in1)
	r.JoinRoom("alice_bob", in2)
	r.JoinRoom("elsewhere", out)

	r.SendToRoom("alice_bob", Envelope{Message: "room post"})

	require.Len(t, drain(in1), 1)
	require.Len(t, drain(in2), 1)
	require.Empty(t, drain(out))

	r.LeaveRoom("alice_bob", in2)
	r.SendToRoom("alice_bob", Envelope{Message: "again"})
	require.Len(t, drain(in1), 1)
	require.Empty(t, drain(in2))
}

func TestBroadcast_ReachesAnonymousSessions(t *testing.T) {
	r := NewRouter(logger.Nop())
	anon, named := newTestClient(4), newTestClient(4)
	r.Attach(anon)
	r.Attach(named)
	r.RegisterConnection("alice", named)
	drain(anon)
	drain(named)

	r.Broadcast(Envelope{Message: "hello all"})

	require.Len(t, drain(anon), 1)
	require.Len(t, drain(named), 1)
}

func TestDelivery_FullQueueDrops(t *testing.T) {
	m := metrics.New()
	r := NewRouter(logger.Nop(), WithMetrics(m))
	slow, fast := newTestClient(1), newTestClient(8)
	r.RegisterConnection("bob", slow)
	r.RegisterConnection("bob", fast)
	drain(slow)
	drain(fast)

	r.SendToUser("bob", Envelope{Message: "one"})
	r.SendToUser("bob", Envelope{Message: "two"})

	require.Len(t, drain(slow), 1)
	require.Len(t, drain(fast), 2)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("user")))
}

func TestDelivery_ClosedClientSkipped(t *testing.T) {
	r := NewRouter(logger.Nop())
	c := newTestClient(4)
	r.RegisterConnection("bob", c)
	drain(c)
	c.Close()
	c.Close()

	r.SendToUser("bob", Envelope{Message: "late"})
	require.Empty(t, drain(c))
}

func TestRouter_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRouter(logger.Nop())
	watcher := newTestClient(4096)
	r.Attach(watcher)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(64)
			r.RegisterConnection("alice", c)
			r.SendToUser("alice", Envelope{Message: "ping"})
			r.UnregisterConnection("alice", c)
		}()
	}
	wg.Wait()

	require.False(t, r.IsOnline("alice"))
	got := drain(watcher)
	require.Equal(t, len(ofType(got, TypeUserConnected)), len(ofType(got, TypeUserDisconnected)))
}

// fakeRelay loops published envelopes straight back to the router, standing
// in for a Redis round trip.
type fakeRelay struct {
	mu         sync.Mutex
	deliver    func(Target, Envelope)
	published  []Target
	presence   map[string]int64
	publishErr error
	ready      chan struct{}
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{presence: make(map[string]int64), ready: make(chan struct{})}
}

func (f *fakeRelay) Publish(_ context.Context, t Target, env Envelope) error {
	f.mu.Lock()
	if f.publishErr != nil {
		f.mu.Unlock()
		return f.publishErr
	}
	f.published = append(f.published, t)
	deliver := f.deliver
	f.mu.Unlock()
	if deliver != nil {
		deliver(t, env)
	}
	return nil
}

func (f *fakeRelay) Run(ctx context.Context, deliver func(Target, Envelope)) error {
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	close(f.ready)
	<-ctx.Done()
	return nil
}

func (f *fakeRelay) AdjustPresence(_ context.Context, user string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence[user] += delta
	return f.presence[user], nil
}

func (f *fakeRelay) Online(_ context.Context, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presence[user] > 0, nil
}

func (f *fakeRelay) Close() error { return nil }

func TestRelay_FanOutGoesThroughRelay(t *testing.T) {
	relay := newFakeRelay()
	r := NewRouter(logger.Nop(), WithRelay(relay))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartRelay(ctx)
	<-relay.ready

	bob := newTestClient(8)
	r.Attach(bob)
	r.RegisterConnection("bob", bob)
	drain(bob)

	r.SendToUser("bob", Envelope{Message: "via redis"})

	got := drain(bob)
	require.Len(t, got, 1)
	require.Equal(t, "via redis", got[0].Message)
	relay.mu.Lock()
	require.Contains(t, relay.published, Target{Kind: TargetUser, ID: "bob"})
	relay.mu.Unlock()
}

func TestRelay_PublishFailureFallsBackToLocal(t *testing.T) {
	relay := newFakeRelay()
	relay.publishErr = errors.New("redis down")
	m := metrics.New()
	r := NewRouter(logger.Nop(), WithRelay(relay), WithMetrics(m))

	bob := newTestClient(8)
	r.RegisterConnection("bob", bob)
	drain(bob)

	r.SendToUser("bob", Envelope{Message: "local"})

	require.Len(t, drain(bob), 1)
	require.GreaterOrEqual(t, testutil.ToFloat64(m.RelayErrors.WithLabelValues("publish")), 1.0)
}

func TestRelay_PresenceIsClusterWide(t *testing.T) {
	relay := newFakeRelay()
	relay.presence["carol"] = 1 // connected on another instance
	r := NewRouter(logger.Nop(), WithRelay(relay))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartRelay(ctx)
	<-relay.ready

	watcher := newTestClient(8)
	r.Attach(watcher)

	require.True(t, r.IsOnline("carol"))

	c := newTestClient(4)
	r.RegisterConnection("carol", c)
	require.Empty(t, ofType(drain(watcher), TypeUserConnected))

	r.UnregisterConnection("carol", c)
	require.Empty(t, ofType(drain(watcher), TypeUserDisconnected))
	require.True(t, r.IsOnline("carol"))
}
