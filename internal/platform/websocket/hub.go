// Package websocket pushes household change notifications to connected
// clients. Clients subscribe to topics and every subscription is checked
// against a TopicAuthorizer before it is recorded.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carehub/carehub/internal/platform/auth"
)

const accountTopicPrefix = "account:"

// AccountTopic is the topic carrying changes to one household.
func AccountTopic(accountID uuid.UUID) string {
	return accountTopicPrefix + accountID.String()
}

// ParseAccountTopic returns the account id of an account topic.
func ParseAccountTopic(topic string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(topic, accountTopicPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Event is a notification sent to subscribers of Topic.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	AccountID uuid.UUID       `json:"account_id"`
	ActorID   uuid.UUID       `json:"actor_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// TopicAuthorizer decides whether an actor may receive a topic's events.
type TopicAuthorizer interface {
	CanSubscribe(ctx context.Context, actorID uuid.UUID, topic string) bool
}

// TopicAuthorizerFunc adapts a function to TopicAuthorizer.
type TopicAuthorizerFunc func(ctx context.Context, actorID uuid.UUID, topic string) bool

func (f TopicAuthorizerFunc) CanSubscribe(ctx context.Context, actorID uuid.UUID, topic string) bool {
	return f(ctx, actorID, topic)
}

// Client is one WebSocket connection.
type Client struct {
	ID      string
	ActorID uuid.UUID
	Topics  []string
	Send    chan []byte
}

// Hub tracks clients and their topic subscriptions. It is safe for
// concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	recheck TopicAuthorizer
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// SetPublishAuthorizer makes Publish re-check every subscriber before
// delivery. Subscribers that no longer pass are unsubscribed from the topic.
func (h *Hub) SetPublishAuthorizer(authz TopicAuthorizer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recheck = authz
}

// Register adds a client and its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(client, topic)
	}
}

func (h *Hub) addLocked(client *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client. Callers are expected to have
// authorized the topics.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if _, ok := h.clients[topic][client]; ok {
			continue
		}
		h.addLocked(client, topic)
		client.Topics = append(client.Topics, topic)
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		if subscribers, ok := h.clients[t]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, t)
			}
		}
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage applies a client request. Topics the authorizer rejects are
// dropped and returned.
func (h *Hub) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage, authz TopicAuthorizer) []string {
	switch msg.Action {
	case "subscribe":
		var allowed, rejected []string
		for _, topic := range msg.Topics {
			if authz != nil && authz.CanSubscribe(ctx, client.ActorID, topic) {
				allowed = append(allowed, topic)
			} else {
				rejected = append(rejected, topic)
			}
		}
		if len(rejected) > 0 {
			h.logger.Warn().
				Str("client_id", client.ID).
				Str("actor_id", client.ActorID.String()).
				Strs("topics", rejected).
				Msg("subscription rejected")
		}
		h.Subscribe(client, allowed)
		return rejected
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
	return nil
}

// Broadcast sends event to every subscriber of topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	h.deliver(topic, event, nil)
}

// deliver sends to subscribers of topic that pass keep (all when keep is nil).
// Membership is re-read under the lock so that unregistered clients, whose
// Send channel is closed, are never written to.
func (h *Hub) deliver(topic string, event Event, keep map[*Client]bool) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		if keep != nil && !keep[client] {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Debug().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
}

func (h *Hub) subscribers(topic string) ([]*Client, TopicAuthorizer) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients[topic]))
	for c := range h.clients[topic] {
		out = append(out, c)
	}
	return out, h.recheck
}

// Publish implements EventPublisher. With a publish authorizer set, actors
// that lost access since subscribing (removed, suspended) are dropped from
// the topic instead of receiving the event.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	subs, authz := h.subscribers(event.Topic)
	if authz == nil {
		h.Broadcast(event.Topic, event)
		return nil
	}
	keep := make(map[*Client]bool, len(subs))
	for _, c := range subs {
		if authz.CanSubscribe(ctx, c.ActorID, event.Topic) {
			keep[c] = true
			continue
		}
		h.logger.Info().
			Str("client_id", c.ID).
			Str("actor_id", c.ActorID.String()).
			Str("topic", event.Topic).
			Msg("subscription revoked")
		h.Unsubscribe(c, []string{event.Topic})
	}
	h.deliver(event.Topic, event, keep)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	hub      *Hub
	authz    TopicAuthorizer
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds a handler. allowedOrigins empty accepts any origin.
func NewHandler(hub *Hub, authz TopicAuthorizer, allowedOrigins []string) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimSpace(o)] = true
	}
	return &Handler{
		hub:   hub,
		authz: authz,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection and starts the read and write pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	actorID := auth.ActorIDFromContext(c.Request().Context())
	if actorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:      uuid.New().String(),
		ActorID: actorID,
		Topics:  []string{},
		Send:    make(chan []byte, 256),
	}
	wsh.hub.Register(client)

	// The request context and its pooled connection are released when the
	// handler returns, so the pumps run on a fresh context.
	go wsh.writePump(client, ws)
	go wsh.readPump(context.Background(), client, ws)
	return nil
}

func (wsh *Handler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(ctx, client, msg, wsh.authz)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
