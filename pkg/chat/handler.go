package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatcore/pkg/apperrors"
	"chatcore/pkg/logger"
	"chatcore/pkg/messages"
	"chatcore/pkg/metrics"
	"chatcore/pkg/response"
	"chatcore/pkg/sendemail"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Directory is the slice of the user directory the gateway needs.
type Directory interface {
	TouchLastSeen(ctx context.Context, username string) error
}

type OfflineNotifier interface {
	Notify(ctx context.Context, notice sendemail.OfflineNotice) error
}

type HandlerConfig struct {
	StrictRooms     bool
	BroadcastAllow  []string
	SendBuffer      int
	MaxMessageBytes int64
	PongWait        time.Duration
	PingPeriod      time.Duration
	WriteWait       time.Duration
	StoreTimeout    time.Duration
	RateLimit       rate.Limit
	RateBurst       int
	AllowAnyOrigin  bool
	AllowedOrigins  []string
}

func (c *HandlerConfig) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = rate.Inf
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// Handler is the session gateway: it owns the websocket transport and turns
// inbound frames into service calls and router deliveries.
type Handler struct {
	router    *Router
	service   messages.MessageService
	directory Directory
	notifier  OfflineNotifier
	metrics   *metrics.Metrics
	log       logger.Logger
	cfg       HandlerConfig

	broadcastAllow map[string]struct{}
	upgrader       websocket.Upgrader
}

func NewHandler(router *Router, service messages.MessageService, log logger.Logger, cfg HandlerConfig) *Handler {
	cfg.defaults()
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{
		router:         router,
		service:        service,
		log:            log.With("component", "chat"),
		cfg:            cfg,
		broadcastAllow: make(map[string]struct{}, len(cfg.BroadcastAllow)),
	}
	for _, u := range cfg.BroadcastAllow {
		if u = strings.TrimSpace(u); u != "" {
			h.broadcastAllow[u] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetDirectory enables last-seen tracking on identify and disconnect.
func (h *Handler) SetDirectory(d Directory) {
	h.directory = d
}

// SetNotifier enables e-mail notices for messages to offline recipients.
func (h *Handler) SetNotifier(n OfflineNotifier) {
	h.notifier = n
}

func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// session is the per-connection state the read loop carries.
type session struct {
	client  *Client
	limiter *rate.Limiter
	closed  bool
}

type State string

const (
	StateConnected  State = "CONNECTED"
	StateIdentified State = "IDENTIFIED"
	StateClosed     State = "CLOSED"
)

func (s *session) state() State {
	switch {
	case s.closed:
		return StateClosed
	case s.client.User() != "":
		return StateIdentified
	default:
		return StateConnected
	}
}

func (h *Handler) newSession(c *Client) *session {
	return &session{client: c, limiter: rate.NewLimiter(h.cfg.RateLimit, h.cfg.RateBurst)}
}

// HandleWebSocket upgrades the request. A non-empty user identifies the
// connection straight away, as chat.addUser would.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, user string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := NewClient(conn, h.cfg.SendBuffer)
	h.router.Attach(client)
	s := h.newSession(client)
	h.log.Info("connection opened", "client", client.ID, "remote", r.RemoteAddr)

	if user = strings.TrimSpace(user); user != "" {
		h.identify(client, user)
	}

	go h.readLoop(s)
	go h.writeLoop(client)
}

// HandleWebSocketGin godoc
// @Summary Open a chat connection
// @Description Upgrades to a websocket carrying {"op","payload"} frames. user_id optionally identifies the connection.
// @Tags chat
// @Param user_id query string false "Identity to bind on connect"
// @Success 101
// @Router /ws/chat [get]
func (h *Handler) HandleWebSocketGin(c *gin.Context) {
	h.HandleWebSocket(c.Writer, c.Request, c.Query("user_id"))
}

func (h *Handler) readLoop(s *session) {
	client := s.client
	defer h.disconnect(s)

	client.Conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = client.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "client", client.ID, "user", client.User(), "error", err)
			}
			return
		}
		h.handleFrame(s, data)
	}
}

func (h *Handler) disconnect(s *session) {
	client := s.client
	user := client.User()
	h.router.Detach(client)
	client.Close()
	_ = client.Conn.Close()
	s.closed = true

	if user != "" {
		h.touch(user)
	}
	h.log.Info("connection closed", "client", client.ID, "user", user)
}

func (h *Handler) writeLoop(client *Client) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
		_ = client.Conn.Close()
	}()

	for {
		select {
		case <-client.Done:
			_ = client.Conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(h.cfg.WriteWait))
			return

		case env := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := client.Conn.WriteJSON(env); err != nil {
				h.log.Warn("websocket write failed", "client", client.ID, "user", client.User(), "error", err)
				return
			}

		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Debug("ping failed", "client", client.ID, "error", err)
				return
			}
		}
	}
}

// handleFrame processes one inbound frame. Nothing that happens here closes
// the connection; every failure is answered with an error envelope.
func (h *Handler) handleFrame(s *session, data []byte) {
	client := s.client
	op := Op("unknown")
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic while handling frame", "op", string(op), "client", client.ID, "panic", fmt.Sprint(rec))
			h.fail(client, op, apperrors.Internal(fmt.Errorf("panic: %v", rec)))
		}
	}()

	if !s.limiter.Allow() {
		if h.metrics != nil {
			h.metrics.RateLimited.Inc()
		}
		h.reply(client, errorEnvelope(client.User(), "rate limit exceeded"))
		return
	}

	cmd, err := ParseFrame(data)
	if err != nil {
		h.fail(client, op, err)
		return
	}
	op = cmd.op()
	if h.metrics != nil {
		h.metrics.FramesReceived.WithLabelValues(string(op)).Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()
	if err := h.dispatch(ctx, client, cmd); err != nil {
		h.fail(client, op, err)
	}
}

func (h *Handler) fail(client *Client, op Op, err error) {
	kind := apperrors.KindName(err)
	if h.metrics != nil {
		h.metrics.FrameErrors.WithLabelValues(string(op), kind).Inc()
	}
	if kind == "internal" {
		h.log.Error("frame failed", "op", string(op), "client", client.ID, "user", client.User(), "error", err)
	} else {
		h.log.Debug("frame rejected", "op", string(op), "client", client.ID, "kind", kind, "error", err)
	}
	h.reply(client, errorEnvelope(client.User(), apperrors.Message(err)))
}

// reply answers on the requesting connection only.
func (h *Handler) reply(client *Client, env Envelope) {
	if !client.enqueue(env) {
		h.log.Warn("dropped reply", "client", client.ID, "type", string(env.MessageType))
	}
}

// toSelf reaches every connection of the requester once identified, and the
// requesting connection otherwise.
func (h *Handler) toSelf(client *Client, env Envelope) {
	if user := client.User(); user != "" {
		h.router.SendToUser(user, env)
		return
	}
	h.reply(client, env)
}

func (h *Handler) touch(user string) {
	if h.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()
	if err := h.directory.TouchLastSeen(ctx, user); err != nil {
		h.log.Warn("last seen update failed", "user", user, "error", err)
	}
}

// GetStatusGin godoc
// @Summary Get online users
// @Description Returns the users with an identified connection on this instance
// @Tags chat
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /chat/status [get]
func (h *Handler) GetStatusGin(c *gin.Context) {
	users := h.router.OnlineUsers()
	response.SendAPIResponse(c, http.StatusOK, true, "online status", gin.H{
		"online_users": users,
		"count":        len(users),
	})
}

// IsUserOnlineGin godoc
// @Summary Check a user's presence
// @Tags chat
// @Param username path string true "Username"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /chat/status/{username} [get]
func (h *Handler) IsUserOnlineGin(c *gin.Context) {
	user := c.Param("username")
	response.SendAPIResponse(c, http.StatusOK, true, "presence", gin.H{
		"username": user,
		"online":   h.router.IsOnline(user),
	})
}
