package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carehub/carehub/internal/platform/auth"
)

func newTestClient(id string, topics ...string) *Client {
	return &Client{ID: id, ActorID: uuid.New(), Topics: topics, Send: make(chan []byte, 256)}
}

// allowAccount admits subscriptions to a single account topic.
func allowAccount(accountID uuid.UUID) TopicAuthorizer {
	return TopicAuthorizerFunc(func(_ context.Context, _ uuid.UUID, topic string) bool {
		id, ok := ParseAccountTopic(topic)
		return ok && id == accountID
	})
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := AccountTopic(uuid.New())
	client := newTestClient("client-1", topic)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 client on %s, got %d/%d", topic, hub.ClientCount(), hub.TopicCount(topic))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(topic) != 0 {
		t.Fatal("expected client removed")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel closed")
	}
	// Second unregister is a no-op.
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	accountA, accountB := uuid.New(), uuid.New()
	subscriber := newTestClient("sub-1", AccountTopic(accountA))
	other := newTestClient("sub-2", AccountTopic(accountB))
	hub.Register(subscriber)
	hub.Register(other)

	hub.Broadcast(AccountTopic(accountA), Event{
		Type:      "shopping.updated",
		Topic:     AccountTopic(accountA),
		AccountID: accountA,
		Timestamp: time.Now(),
	})

	select {
	case msg := <-subscriber.Send:
		var got Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "shopping.updated" || got.AccountID != accountA {
			t.Errorf("unexpected event %+v", got)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}
	select {
	case <-other.Send:
		t.Fatal("other household received event")
	default:
	}
}

func TestHub_BroadcastSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := AccountTopic(uuid.New())
	slow := &Client{ID: "slow", Topics: []string{topic}, Send: make(chan []byte)}
	hub.Register(slow)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(topic, Event{Type: "shopping.updated", Topic: topic})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

func TestHub_SubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := AccountTopic(uuid.New())
	client := newTestClient("c")
	hub.Register(client)

	hub.Subscribe(client, []string{topic, topic})
	hub.Subscribe(client, []string{topic})
	if len(client.Topics) != 1 {
		t.Errorf("expected 1 topic, got %v", client.Topics)
	}
	hub.Unsubscribe(client, []string{topic})
	if len(client.Topics) != 0 || hub.TopicCount(topic) != 0 {
		t.Errorf("expected topic removed, got %v", client.Topics)
	}
}

func TestHub_ProcessMessage_Authorizes(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mine, theirs := uuid.New(), uuid.New()
	client := newTestClient("c")
	hub.Register(client)

	rejected := hub.ProcessMessage(context.Background(), client, ClientMessage{
		Action: "subscribe",
		Topics: []string{AccountTopic(mine), AccountTopic(theirs), "global"},
	}, allowAccount(mine))

	if len(rejected) != 2 {
		t.Errorf("expected 2 rejected topics, got %v", rejected)
	}
	if hub.TopicCount(AccountTopic(mine)) != 1 {
		t.Error("expected subscription to own account")
	}
	if hub.TopicCount(AccountTopic(theirs)) != 0 {
		t.Error("subscription to another account must be rejected")
	}

	hub.ProcessMessage(context.Background(), client, ClientMessage{
		Action: "unsubscribe",
		Topics: []string{AccountTopic(mine)},
	}, nil)
	if hub.TopicCount(AccountTopic(mine)) != 0 {
		t.Error("expected unsubscribe")
	}
}

func TestHub_ProcessMessage_NilAuthorizerRejects(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("c")
	hub.Register(client)
	rejected := hub.ProcessMessage(context.Background(), client, ClientMessage{
		Action: "subscribe",
		Topics: []string{AccountTopic(uuid.New())},
	}, nil)
	if len(rejected) != 1 || len(client.Topics) != 0 {
		t.Errorf("expected subscription rejected, got %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := AccountTopic(uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(uuid.NewString(), topic)
			hub.Register(c)
			hub.Broadcast(topic, Event{Type: "shopping.updated", Topic: topic})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	accountID := uuid.New()
	client := newTestClient("c", AccountTopic(accountID))
	hub.Register(client)

	var pub EventPublisher = hub
	if err := pub.Publish(context.Background(), Event{Type: "shopping.updated", Topic: AccountTopic(accountID)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 queued event, got %d", len(client.Send))
	}
}

func TestHub_PublishDropsRevokedSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	accountID := uuid.New()
	topic := AccountTopic(accountID)
	member := newTestClient("member", topic)
	removed := newTestClient("removed", topic)
	hub.Register(member)
	hub.Register(removed)

	var mu sync.Mutex
	revoked := map[uuid.UUID]bool{}
	hub.SetPublishAuthorizer(TopicAuthorizerFunc(func(_ context.Context, actorID uuid.UUID, _ string) bool {
		mu.Lock()
		defer mu.Unlock()
		return !revoked[actorID]
	}))

	if err := hub.Publish(context.Background(), Event{Type: "shopping.updated", Topic: topic}); err != nil {
		t.Fatal(err)
	}
	if len(member.Send) != 1 || len(removed.Send) != 1 {
		t.Fatalf("before revocation both clients should get the event, got %d/%d", len(member.Send), len(removed.Send))
	}

	mu.Lock()
	revoked[removed.ActorID] = true
	mu.Unlock()

	if err := hub.Publish(context.Background(), Event{Type: "shopping.updated", Topic: topic}); err != nil {
		t.Fatal(err)
	}
	if len(member.Send) != 2 {
		t.Errorf("member should keep receiving, got %d events", len(member.Send))
	}
	if len(removed.Send) != 1 {
		t.Errorf("revoked actor must not receive new events, got %d", len(removed.Send))
	}
	if hub.TopicCount(topic) != 1 {
		t.Errorf("revoked client should be unsubscribed, topic has %d clients", hub.TopicCount(topic))
	}
	if len(removed.Topics) != 0 {
		t.Errorf("revoked client topics = %v", removed.Topics)
	}

	// Unregistering after revocation still closes the channel exactly once.
	hub.Unregister(removed)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}
}

func TestParseAccountTopic(t *testing.T) {
	id := uuid.New()
	if got, ok := ParseAccountTopic(AccountTopic(id)); !ok || got != id {
		t.Errorf("round trip failed: %v %v", got, ok)
	}
	for _, topic := range []string{"", "account:", "account:nope", "patient:" + id.String()} {
		if _, ok := ParseAccountTopic(topic); ok {
			t.Errorf("expected %q to be rejected", topic)
		}
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestHandler_HandleConnectRequiresActor(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, nil, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleConnect(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	accountID := uuid.New()
	actorID := uuid.New()
	handler := NewHandler(hub, allowAccount(accountID), nil)

	e := echo.New()
	g := e.Group("", auth.DevAuthMiddleware(nil, nil))
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(auth.ActorIDHeader, actorID.String())

	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	topic := AccountTopic(accountID)
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{topic}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(topic) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 subscriber on %s", topic)
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(topic, Event{Type: "shopping.updated", Topic: topic, AccountID: accountID, ActorID: actorID, Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "shopping.updated" || received.AccountID != accountID {
		t.Fatalf("unexpected event %+v", received)
	}
}
