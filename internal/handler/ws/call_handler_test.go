package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junction-backend/internal/database"
	"junction-backend/internal/domain"
	"junction-backend/internal/middleware"
	redisRepo "junction-backend/internal/repository/redis"
	"junction-backend/internal/service/call"
	"junction-backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret       = "call-hub-test-secret"
	testConversation = "conv-1"
)

type staticMembers map[string][]string

func (m staticMembers) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	for _, id := range m[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m staticMembers) ListActiveMembers(ctx context.Context, conversationID string) ([]string, error) {
	return m[conversationID], nil
}

type noProfiles struct{}

func (noProfiles) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return nil, nil
}

type hubFixture struct {
	hub     *CallHub
	service *call.Service
	server  *httptest.Server
	jwt     *jwt.JWTManager
}

func newHubFixture(t *testing.T, cfg CallHubConfig) *hubFixture {
	return newHubFixtureWithRedis(t, cfg, nil, nil)
}

func newHubFixtureWithRedis(t *testing.T, cfg CallHubConfig, redisClient *database.RedisClient, presence PresenceRepository) *hubFixture {
	t.Helper()
	members := staticMembers{testConversation: {"alice", "bob", "carol"}}

	hub := NewCallHub(cfg, redisClient, presence, nil)
	service := call.NewService(members, noProfiles{}, hub, nil)
	hub.Attach(service)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	manager := jwt.NewJWTManager(testSecret, "junction-auth", "", time.Minute)
	router := gin.New()
	router.GET("/v1/calls/ws", middleware.AuthMiddleware(manager, nil), hub.ServeWS)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &hubFixture{hub: hub, service: service, server: server, jwt: manager}
}

func (f *hubFixture) url(token string) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/calls/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (f *hubFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	before := f.hub.ConnectedSockets(userID)
	token, err := f.jwt.GenerateAccessToken(userID, "")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(f.url(token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return f.hub.ConnectedSockets(userID) == before+1
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(domain.Envelope{Event: event, Data: data}))
}

func expect(t *testing.T, conn *websocket.Conn, event string, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var envelope domain.Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	require.Equal(t, event, envelope.Event)
	if v != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, v))
	}
}

func startCall(t *testing.T, conn *websocket.Conn, callID string, targets ...string) {
	t.Helper()
	send(t, conn, domain.EventCallStart, domain.CallStartPayload{
		CallID:         callID,
		ConversationID: testConversation,
		CallType:       domain.CallTypeVideo,
		Mode:           domain.CallModePrivate,
		TargetUserIDs:  targets,
	})
}

func TestCallHub_StartRingsTargets(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{})
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	startCall(t, alice, "call-1", "bob")

	var joined domain.CallJoinedEvent
	expect(t, alice, domain.EventCallJoined, &joined)
	require.Len(t, joined.Participants, 1)
	assert.Equal(t, "alice", joined.Participants[0].UserID)

	var incoming domain.CallIncomingEvent
	expect(t, bob, domain.EventCallIncoming, &incoming)
	assert.Equal(t, "call-1", incoming.CallID)
	assert.Equal(t, testConversation, incoming.ConversationID)
	assert.Equal(t, domain.CallTypeVideo, incoming.CallType)
	assert.Equal(t, "alice", incoming.FromUser.UserID)
}

func TestCallHub_SignalUsesAuthenticatedSender(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{})
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	startCall(t, alice, "call-1", "bob")
	expect(t, alice, domain.EventCallJoined, nil)
	expect(t, bob, domain.EventCallIncoming, nil)

	send(t, bob, domain.EventCallAccept, domain.CallRefPayload{CallID: "call-1"})
	expect(t, bob, domain.EventCallJoined, nil)
	expect(t, alice, domain.EventCallParticipantJoined, nil)

	offer := json.RawMessage(`{"type":"offer","sdp":{"type":"offer","sdp":"v=0\r\n"}}`)
	send(t, alice, domain.EventCallSignal, map[string]any{
		"callId":     "call-1",
		"toUserId":   "bob",
		"fromUserId": "mallory",
		"data":       offer,
	})

	var signal domain.CallSignalEvent
	expect(t, bob, domain.EventCallSignal, &signal)
	assert.Equal(t, "alice", signal.FromUserID)
	assert.Equal(t, "bob", signal.ToUserID)
	assert.JSONEq(t, string(offer), string(signal.Data))
}

func TestCallHub_LastSocketCloseDisconnectsUser(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{})
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	startCall(t, alice, "call-1", "bob")
	expect(t, alice, domain.EventCallJoined, nil)
	expect(t, bob, domain.EventCallIncoming, nil)
	send(t, bob, domain.EventCallAccept, domain.CallRefPayload{CallID: "call-1"})
	expect(t, bob, domain.EventCallJoined, nil)
	expect(t, alice, domain.EventCallParticipantJoined, nil)

	require.NoError(t, alice.Close())

	var ended domain.CallEndedEvent
	expect(t, bob, domain.EventCallEnded, &ended)
	assert.Equal(t, "call-1", ended.CallID)
	assert.Equal(t, domain.EndReasonDisconnected, ended.Reason)
	assert.Equal(t, "alice", ended.EndedBy)

	assert.Eventually(t, func() bool { return f.service.ActiveCalls() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCallHub_EverySocketOfUserReceivesEvents(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{})
	alice := f.dial(t, "alice")
	bobPhone := f.dial(t, "bob")
	bobLaptop := f.dial(t, "bob")

	startCall(t, alice, "call-1", "bob")
	expect(t, alice, domain.EventCallJoined, nil)
	expect(t, bobPhone, domain.EventCallIncoming, nil)
	expect(t, bobLaptop, domain.EventCallIncoming, nil)

	send(t, bobPhone, domain.EventCallAccept, domain.CallRefPayload{CallID: "call-1"})
	expect(t, bobPhone, domain.EventCallJoined, nil)
	expect(t, bobLaptop, domain.EventCallJoined, nil)
	expect(t, alice, domain.EventCallParticipantJoined, nil)

	// Closing one of two sockets keeps bob in the call.
	require.NoError(t, bobLaptop.Close())
	require.Eventually(t, func() bool { return f.hub.ConnectedSockets("bob") == 1 }, 2*time.Second, 5*time.Millisecond)

	view, ok := f.service.Session("call-1")
	require.True(t, ok)
	assert.Len(t, view.Participants, 2)
}

func TestCallHub_InvalidFramesAreDroppedSilently(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{})
	alice := f.dial(t, "alice")
	f.dial(t, "bob")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, alice, "call-teleport", domain.CallRefPayload{CallID: "call-1"})
	send(t, alice, domain.EventCallStart, map[string]any{"callId": "call-1"})
	send(t, alice, domain.EventCallStart, domain.CallStartPayload{
		CallID:         "call-x",
		ConversationID: "someone-elses-conversation",
		CallType:       domain.CallTypeAudio,
		Mode:           domain.CallModePrivate,
	})
	send(t, alice, domain.EventCallLeave, domain.CallRefPayload{CallID: "missing"})

	// The connection survives and the first frame alice sees is the answer
	// to her next valid event.
	startCall(t, alice, "call-1", "bob")
	var joined domain.CallJoinedEvent
	expect(t, alice, domain.EventCallJoined, &joined)
	assert.Equal(t, "call-1", joined.CallID)
	assert.Equal(t, 1, f.service.ActiveCalls())
}

func TestCallHub_RequiresToken(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{})

	_, resp, err := websocket.DefaultDialer.Dial(f.url(""), nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallHub_ConnectionLimit(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{MaxConnections: 1})
	f.dial(t, "alice")

	token, err := f.jwt.GenerateAccessToken("bob", "")
	require.NoError(t, err)
	_, resp, err := websocket.DefaultDialer.Dial(f.url(token), nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCallHub_RejectsForeignOrigin(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{AllowedOrigins: []string{"https://app.example.com"}})
	token, err := f.jwt.GenerateAccessToken("alice", "")
	require.NoError(t, err)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url(token), header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://app.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(f.url(token), header)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}

func TestCallHub_SendToUserWithoutSocketsIsDropped(t *testing.T) {
	f := newHubFixture(t, CallHubConfig{})

	assert.NotPanics(t, func() {
		f.hub.SendToUser("nobody", domain.EventCallEnded, &domain.CallEndedEvent{CallID: "c", Reason: domain.EndReasonEnded})
	})
}

func TestCallHub_DegradedRedisDeliversLocally(t *testing.T) {
	client := database.NewRedisDB(&database.RedisConfig{Host: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond}, nil)
	t.Cleanup(func() { client.Close() })
	require.Error(t, client.HealthCheck(context.Background()))

	f := newHubFixtureWithRedis(t, CallHubConfig{}, client, redisRepo.NewPresenceRepository(client))
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	startCall(t, alice, "call-1", "bob")

	expect(t, alice, domain.EventCallJoined, nil)
	var incoming domain.CallIncomingEvent
	expect(t, bob, domain.EventCallIncoming, &incoming)
	assert.Equal(t, "call-1", incoming.CallID)
}
