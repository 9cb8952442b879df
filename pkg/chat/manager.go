package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one open connection. Send is drained by the connection's write
// loop and is never closed; Done is closed exactly once when the connection
// goes away.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan Envelope
	Done chan struct{}

	closeOnce sync.Once

	mu   sync.Mutex
	user string
}

func NewClient(conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan Envelope, buffer),
		Done: make(chan struct{}),
	}
}

// User returns the identity bound to the connection, or "" before chat.addUser.
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) setUser(user string) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// enqueue never blocks. It reports false when the queue is full or the
// connection is closed.
func (c *Client) enqueue(env Envelope) bool {
	select {
	case <-c.Done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

type PresencePolicy string

const (
	// PolicyTransition announces a user once when their first connection
	// registers and once when their last one goes away.
	PolicyTransition PresencePolicy = "transition"
	// PolicyPerConnection announces every register and unregister.
	PolicyPerConnection PresencePolicy = "per_connection"
)

func ParsePresencePolicy(s string) (PresencePolicy, error) {
	switch PresencePolicy(s) {
	case "", PolicyTransition:
		return PolicyTransition, nil
	case PolicyPerConnection:
		return PolicyPerConnection, nil
	}
	return "", fmt.Errorf("unknown presence policy %q", s)
}

type userEntry struct {
	mu      sync.Mutex
	conns   map[*Client]struct{}
	removed bool
}

// Router tracks which connections belong to which user and room and fans
// envelopes out to them. The users map lock only guards entry lookup, insert
// and delete; per-user state is guarded by the entry's own mutex.
type Router struct {
	mu    sync.RWMutex
	users map[string]*userEntry

	sessMu   sync.RWMutex
	sessions map[*Client]struct{}

	roomMu   sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	memberOf map[*Client]map[string]struct{}

	policy       PresencePolicy
	relay        Relay
	relayTimeout time.Duration
	metrics      *metrics.Metrics
	log          logger.Logger
}

type RouterOption func(*Router)

func WithPresencePolicy(p PresencePolicy) RouterOption {
	return func(r *Router) { r.policy = p }
}

func WithRelay(relay Relay) RouterOption {
	return func(r *Router) { r.relay = relay }
}

func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(log logger.Logger, opts ...RouterOption) *Router {
	if log == nil {
		log = logger.Nop()
	}
	r := &Router{
		users:        make(map[string]*userEntry),
		sessions:     make(map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
		memberOf:     make(map[*Client]map[string]struct{}),
		policy:       PolicyTransition,
		relayTimeout: 2 * time.Second,
		log:          log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartRelay pumps relayed envelopes into local delivery until ctx ends. It
// is a no-op without a relay.
func (r *Router) StartRelay(ctx context.Context) {
	if r.relay == nil {
		return
	}
	go func() {
		for {
			err := r.relay.Run(ctx, r.deliverLocal)
			if ctx.Err() != nil {
				return
			}
			r.relayError("subscribe", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
}

func (r *Router) Attach(c *Client) {
	r.sessMu.Lock()
	r.sessions[c] = struct{}{}
	n := len(r.sessions)
	r.sessMu.Unlock()
	if r.metrics != nil {
		r.metrics.Connections.Set(float64(n))
	}
}

// Detach forgets the connection entirely: rooms, presence and the session set.
func (r *Router) Detach(c *Client) {
	r.roomMu.Lock()
	for room := range r.memberOf[c] {
		r.dropMember(room, c)
	}
	delete(r.memberOf, c)
	r.roomMu.Unlock()

	if user := c.User(); user != "" {
		r.UnregisterConnection(user, c)
	}

	r.sessMu.Lock()
	delete(r.sessions, c)
	n := len(r.sessions)
	r.sessMu.Unlock()
	if r.metrics != nil {
		r.metrics.Connections.Set(float64(n))
	}
}

func (r *Router) entry(user string) *userEntry {
	r.mu.RLock()
	e, ok := r.users[user]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.users[user]; ok {
		return e
	}
	e = &userEntry{conns: make(map[*Client]struct{})}
	r.users[user] = e
	if r.metrics != nil {
		r.metrics.OnlineUsers.Set(float64(len(r.users)))
	}
	return e
}

// RegisterConnection binds c to user. Registering the same pair twice is a
// no-op. A connection bound to another user is moved.
func (r *Router) RegisterConnection(user string, c *Client) {
	if prev := c.User(); prev != "" && prev != user {
		r.UnregisterConnection(prev, c)
	}
	for {
		e := r.entry(user)
		e.mu.Lock()
		if e.removed {
			// lost a race with the last unregister; the map no longer holds e
			e.mu.Unlock()
			continue
		}
		if _, ok := e.conns[c]; ok {
			e.mu.Unlock()
			return
		}
		e.conns[c] = struct{}{}
		c.setUser(user)
		announce := r.policy == PolicyPerConnection || len(e.conns) == 1
		if r.relay != nil {
			if n, ok := r.adjustPresence(user, 1); ok && r.policy == PolicyTransition {
				announce = n == 1
			}
		}
		if announce {
			r.Broadcast(presenceEnvelope(user, true))
		}
		e.mu.Unlock()
		r.log.Debug("connection registered", "user", user, "client", c.ID)
		return
	}
}

func (r *Router) UnregisterConnection(user string, c *Client) {
	r.mu.RLock()
	e, ok := r.users[user]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.conns[c]; !ok {
		return
	}
	delete(e.conns, c)
	if c.User() == user {
		c.setUser("")
	}
	last := len(e.conns) == 0
	announce := r.policy == PolicyPerConnection || last
	if r.relay != nil {
		if n, ok := r.adjustPresence(user, -1); ok && r.policy == PolicyTransition {
			announce = n == 0
		}
	}
	if announce {
		r.Broadcast(presenceEnvelope(user, false))
	}
	if last {
		e.removed = true
		r.mu.Lock()
		if r.users[user] == e {
			delete(r.users, user)
		}
		n := len(r.users)
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.OnlineUsers.Set(float64(n))
		}
	}
	r.log.Debug("connection unregistered", "user", user, "client", c.ID)
}

func (r *Router) adjustPresence(user string, delta int64) (int64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.relayTimeout)
	defer cancel()
	n, err := r.relay.AdjustPresence(ctx, user, delta)
	if err != nil {
		r.relayError("presence", err)
		return 0, false
	}
	return n, true
}

func presenceEnvelope(user string, online bool) Envelope {
	env := Envelope{
		Sender:    SystemSender,
		Recipient: user,
		Timestamp: nowMillis(),
	}
	if online {
		env.MessageType = TypeUserConnected
		env.Message = user + " is now online"
	} else {
		env.MessageType = TypeUserDisconnected
		env.Message = user + " has disconnected"
	}
	return env
}

// IsOnline reports whether user has a registered connection here or, with a
// relay, on any instance.
func (r *Router) IsOnline(user string) bool {
	r.mu.RLock()
	e, ok := r.users[user]
	r.mu.RUnlock()
	if ok {
		e.mu.Lock()
		n := len(e.conns)
		e.mu.Unlock()
		if n > 0 {
			return true
		}
	}
	if r.relay == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.relayTimeout)
	defer cancel()
	online, err := r.relay.Online(ctx, user)
	if err != nil {
		r.relayError("presence", err)
		return false
	}
	return online
}

// OnlineUsers lists users with a connection on this instance, sorted.
func (r *Router) OnlineUsers() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

func (r *Router) JoinRoom(room string, c *Client) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
	joined, ok := r.memberOf[c]
	if !ok {
		joined = make(map[string]struct{})
		r.memberOf[c] = joined
	}
	joined[room] = struct{}{}
}

func (r *Router) LeaveRoom(room string, c *Client) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	r.dropMember(room, c)
	if joined, ok := r.memberOf[c]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.memberOf, c)
		}
	}
}

// dropMember expects roomMu held.
func (r *Router) dropMember(room string, c *Client) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func (r *Router) InRoom(room string, c *Client) bool {
	r.roomMu.RLock()
	defer r.roomMu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

// SendToUser delivers env to every connection of user. Offline users are a
// silent no-op.
func (r *Router) SendToUser(user string, env Envelope) {
	r.route(Target{Kind: TargetUser, ID: user}, env)
}

func (r *Router) SendToRoom(room string, env Envelope) {
	r.route(Target{Kind: TargetRoom, ID: room}, env)
}

func (r *Router) Broadcast(env Envelope) {
	r.route(Target{Kind: TargetBroadcast}, env)
}

func (r *Router) route(t Target, env Envelope) {
	if r.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.relayTimeout)
		err := r.relay.Publish(ctx, t, env)
		cancel()
		if err == nil {
			return
		}
		r.relayError("publish", err)
	}
	r.deliverLocal(t, env)
}

func (r *Router) deliverLocal(t Target, env Envelope) {
	switch t.Kind {
	case TargetUser:
		r.mu.RLock()
		e, ok := r.users[t.ID]
		r.mu.RUnlock()
		if !ok {
			return
		}
		e.mu.Lock()
		for c := range e.conns {
			r.deliver(c, t, env)
		}
		e.mu.Unlock()
	case TargetRoom:
		r.roomMu.RLock()
		for c := range r.rooms[t.ID] {
			r.deliver(c, t, env)
		}
		r.roomMu.RUnlock()
	case TargetBroadcast:
		r.sessMu.RLock()
		for c := range r.sessions {
			r.deliver(c, t, env)
		}
		r.sessMu.RUnlock()
	}
}

func (r *Router) deliver(c *Client, t Target, env Envelope) {
	if c.enqueue(env) {
		if r.metrics != nil {
			r.metrics.Deliveries.WithLabelValues(string(t.Kind)).Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.Dropped.WithLabelValues(string(t.Kind)).Inc()
	}
	r.log.Warn("dropped envelope for connection", "client", c.ID, "user", c.User(), "target", string(t.Kind), "type", string(env.MessageType))
}

func (r *Router) relayError(stage string, err error) {
	if r.metrics != nil {
		r.metrics.RelayErrors.WithLabelValues(stage).Inc()
	}
	r.log.Error("relay failure", "stage", stage, "error", err)
}
