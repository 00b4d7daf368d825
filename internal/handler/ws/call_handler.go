package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"junction-backend/internal/database"
	"junction-backend/internal/domain"
	"junction-backend/internal/middleware"
	"junction-backend/internal/service/call"
	"junction-backend/pkg/constants"
	apperrors "junction-backend/pkg/errors"
	"junction-backend/pkg/logger"
	"junction-backend/pkg/metrics"
	"junction-backend/pkg/response"
)

// CallService is the part of the call service driven by socket events
type CallService interface {
	Start(ctx context.Context, userID string, input *call.StartCallInput) error
	Accept(ctx context.Context, userID, callID string) error
	Reject(ctx context.Context, userID, callID string) error
	Cancel(ctx context.Context, userID, callID string) error
	Leave(ctx context.Context, userID, callID string) error
	Signal(ctx context.Context, userID string, input *call.SignalInput) error
	Disconnect(ctx context.Context, userID string) int
}

// PresenceRepository records which users hold an open call socket
type PresenceRepository interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	RefreshPresence(ctx context.Context, userID string) error
}

// CallHubConfig holds limits for the call socket
type CallHubConfig struct {
	MaxConnections int
	SendBuffer     int
	AllowedOrigins []string
	EventTimeout   time.Duration
}

var errUnknownEvent = errors.New("unknown event")

// CallHub keeps every call socket of every user connected to this
// instance and pushes call events to them. Inbound frames are decoded and
// handed to the call service; nothing is ever answered to the sender.
type CallHub struct {
	// Registered clients per user
	clients map[string]map[*CallClient]struct{}
	mu      sync.RWMutex
	count   int

	service  CallService
	redis    *database.RedisClient
	presence PresenceRepository
	metrics  *metrics.Metrics
	cfg      CallHubConfig

	register   chan *CallClient
	unregister chan *CallClient
	outbound   chan *outboundEvent
	done       chan struct{}

	// subscribed is true while the Redis pattern subscription is live;
	// only then do events take the Redis route.
	subscribed atomic.Bool

	upgrader  websocket.Upgrader
	semaphore chan struct{}
}

// CallClient is one WebSocket connection of a user
type CallClient struct {
	hub       *CallHub
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	closeOnce sync.Once
}

type outboundEvent struct {
	userID string
	data   []byte
}

// NewCallHub creates a hub. redisClient and presence may be nil, in which
// case events are delivered to local sockets only.
func NewCallHub(cfg CallHubConfig, redisClient *database.RedisClient, presence PresenceRepository, m *metrics.Metrics) *CallHub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = constants.WebSocketSendBuffer
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = constants.CallEventTimeout
	}

	h := &CallHub{
		clients:    make(map[string]map[*CallClient]struct{}),
		redis:      redisClient,
		presence:   presence,
		metrics:    m,
		cfg:        cfg,
		register:   make(chan *CallClient),
		unregister: make(chan *CallClient),
		outbound:   make(chan *outboundEvent, 4*cfg.SendBuffer),
		done:       make(chan struct{}),
		semaphore:  make(chan struct{}, cfg.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Attach sets the service inbound events are dispatched to.
// It must be called before Run.
func (h *CallHub) Attach(service CallService) {
	h.service = service
}

// checkOrigin admits native clients (no Origin) and the configured web
// origins. Sockets authenticate with a bearer token, never a cookie.
func (h *CallHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Run processes registrations and outbound events until ctx is done
func (h *CallHub) Run(ctx context.Context) {
	defer close(h.done)

	if h.redis != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			if last := h.removeClient(client); last {
				go h.userOffline(client.userID)
			}

		case event := <-h.outbound:
			h.route(ctx, event)
		}
	}
}

// SendToUser queues an event for every socket of userID. It never blocks;
// when the queue is full the event is dropped.
func (h *CallHub) SendToUser(userID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal call event", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(domain.Envelope{Event: event, Data: data})
	if err != nil {
		logger.Error("Failed to marshal call envelope", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case h.outbound <- &outboundEvent{userID: userID, data: frame}:
		h.metrics.RecordWebSocketMessage(event, "outbound")
	default:
		h.metrics.RecordOutboundDropped("hub_queue_full")
		logger.Warn("Call event dropped: hub queue full",
			zap.String("user_id", userID),
			zap.String("event", event))
	}
}

// route publishes to Redis when the subscription is live so sockets on
// every instance receive the event, and falls back to local delivery.
func (h *CallHub) route(ctx context.Context, event *outboundEvent) {
	if h.redis != nil && h.subscribed.Load() {
		err := h.redis.SafePublish(ctx, constants.CallUserChannelPrefix+event.userID, event.data).Err()
		if err == nil {
			return
		}
		if !errors.Is(err, database.ErrRedisDegraded) {
			h.metrics.RecordRedisPublishError()
			logger.Warn("Failed to publish call event, delivering locally",
				zap.String("user_id", event.userID),
				zap.Error(err))
		}
	}
	h.deliverLocal(event.userID, event.data)
}

// deliverLocal writes data to every local socket of userID. A socket
// whose queue is full is closed; the client reconnects and resyncs.
func (h *CallHub) deliverLocal(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- data:
		default:
			h.metrics.RecordOutboundDropped("client_queue_full")
			logger.Warn("Closing slow call socket", zap.String("user_id", userID))
			client.close()
		}
	}
}

// subscribe keeps a pattern subscription on every per-user call channel
// and retries while Redis is unavailable.
func (h *CallHub) subscribe(ctx context.Context) {
	for {
		if err := h.consume(ctx); err != nil {
			logger.Warn("Call channel subscription lost", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(constants.RedisHealthCheckInterval):
		}
	}
}

func (h *CallHub) consume(ctx context.Context) error {
	pubsub := h.redis.SafePSubscribe(ctx, constants.CallUserChannelPattern)
	if pubsub == nil {
		return database.ErrRedisDegraded
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to call channels: %w", err)
	}

	h.subscribed.Store(true)
	defer h.subscribed.Store(false)
	logger.Info("Subscribed to call channels", zap.String("pattern", constants.CallUserChannelPattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("call channel closed")
			}
			userID := strings.TrimPrefix(msg.Channel, constants.CallUserChannelPrefix)
			h.deliverLocal(userID, []byte(msg.Payload))
		}
	}
}

func (h *CallHub) addClient(client *CallClient) {
	h.mu.Lock()
	sockets, ok := h.clients[client.userID]
	if !ok {
		sockets = make(map[*CallClient]struct{})
		h.clients[client.userID] = sockets
	}
	sockets[client] = struct{}{}
	h.count++
	count := h.count
	h.mu.Unlock()

	h.metrics.SetWebSocketConnections(count)
	logger.Debug("Call socket registered",
		zap.String("user_id", client.userID),
		zap.Int("user_sockets", len(sockets)))
}

// removeClient reports whether the user has no socket left on this instance
func (h *CallHub) removeClient(client *CallClient) bool {
	h.mu.Lock()
	sockets, ok := h.clients[client.userID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if _, exists := sockets[client]; !exists {
		h.mu.Unlock()
		return false
	}
	delete(sockets, client)
	close(client.send)
	h.count--
	count := h.count
	last := len(sockets) == 0
	if last {
		delete(h.clients, client.userID)
	}
	h.mu.Unlock()

	<-h.semaphore
	h.metrics.SetWebSocketConnections(count)
	return last
}

// userOffline runs once the user's last socket on this instance is gone
func (h *CallHub) userOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.EventTimeout)
	defer cancel()

	if h.service != nil {
		if left := h.service.Disconnect(ctx, userID); left > 0 {
			logger.Info("Left calls after disconnect", zap.String("user_id", userID), zap.Int("calls", left))
		}
	}
	if h.presence != nil {
		if err := h.presence.SetUserOffline(ctx, userID); err != nil {
			logger.Debug("Failed to mark user offline", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// ConnectedSockets returns how many local sockets userID holds
func (h *CallHub) ConnectedSockets(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *CallHub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sockets := range h.clients {
		for client := range sockets {
			client.close()
		}
	}
}

// ServeWS upgrades an authenticated request to a call socket
func (h *CallHub) ServeWS(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Unauthorized")
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("Call socket rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		response.AppError(c, apperrors.ServiceUnavailableError("Server at capacity, please try again later"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		h.metrics.RecordWebSocketError("upgrade")
		logger.Warn("WebSocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := &CallClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		userID: userID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		<-h.semaphore
		conn.Close()
		return
	}

	if h.presence != nil {
		if err := h.presence.SetUserOnline(c.Request.Context(), userID); err != nil {
			logger.Debug("Failed to mark user online", zap.String("user_id", userID), zap.Error(err))
		}
	}

	go client.writePump()
	go client.readPump()
}

// handleMessage decodes one inbound frame and applies it. Failures are
// logged and metered; the sender never gets an error back.
func (h *CallHub) handleMessage(userID string, raw []byte) {
	var envelope domain.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Event == "" {
		h.metrics.RecordEventDropped("unknown", "malformed")
		logger.Debug("Malformed call frame dropped", zap.String("user_id", userID), zap.Error(err))
		return
	}
	h.metrics.RecordWebSocketMessage(envelope.Event, "inbound")

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.EventTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			h.metrics.RecordEventDropped(envelope.Event, "panic")
			logger.Error("Panic while handling call event",
				zap.String("user_id", userID),
				zap.String("event", envelope.Event),
				zap.Any("panic", r))
		}
	}()

	if err := h.dispatch(ctx, userID, &envelope); err != nil {
		reason := call.DropReason(err)
		if errors.Is(err, errUnknownEvent) {
			reason = "unknown_event"
		}
		h.metrics.RecordEventDropped(envelope.Event, reason)
		logger.Debug("Call event dropped",
			zap.String("user_id", userID),
			zap.String("event", envelope.Event),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (h *CallHub) dispatch(ctx context.Context, userID string, envelope *domain.Envelope) error {
	switch envelope.Event {
	case domain.EventCallStart:
		var p domain.CallStartPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return h.service.Start(ctx, userID, &call.StartCallInput{
			CallID:         p.CallID,
			ConversationID: p.ConversationID,
			CallType:       p.CallType,
			Mode:           p.Mode,
			TargetUserIDs:  p.TargetUserIDs,
		})

	case domain.EventCallAccept, domain.EventCallReject, domain.EventCallCancel, domain.EventCallLeave:
		var p domain.CallRefPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		switch envelope.Event {
		case domain.EventCallAccept:
			return h.service.Accept(ctx, userID, p.CallID)
		case domain.EventCallReject:
			return h.service.Reject(ctx, userID, p.CallID)
		case domain.EventCallCancel:
			return h.service.Cancel(ctx, userID, p.CallID)
		default:
			return h.service.Leave(ctx, userID, p.CallID)
		}

	case domain.EventCallSignal:
		var p domain.CallSignalPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return h.service.Signal(ctx, userID, &call.SignalInput{
			CallID:   p.CallID,
			ToUserID: p.ToUserID,
			Data:     p.Data,
		})

	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, envelope.Event)
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return call.ErrInvalidInput
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", call.ErrInvalidInput, err)
	}
	return nil
}

func (c *CallClient) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// readPump reads frames until the socket fails, then unregisters
func (c *CallClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.close()
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		if c.hub.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = c.hub.presence.RefreshPresence(ctx, c.userID)
		}
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.metrics.RecordWebSocketError("read")
				logger.Debug("Call socket closed unexpectedly",
					zap.String("user_id", c.userID),
					zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		c.hub.handleMessage(c.userID, message)
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *CallClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWebSocketError("write")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
