package sfu

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"junction-backend/pkg/config"
	apperrors "junction-backend/pkg/errors"
)

// MockMemberRepository is a mock implementation of MemberRepository
type MockMemberRepository struct {
	mock.Mock
}

func (m *MockMemberRepository) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

var testLiveKit = config.LiveKitConfig{
	APIKey:    "APIkey123",
	APISecret: "livekit-secret-livekit-secret-0001",
	URL:       "wss://media.example.com:7443",
	TokenTTL:  time.Hour,
}

func newTestService(members MemberRepository, cfg config.LiveKitConfig, now time.Time) *Service {
	s := NewService(members, cfg, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestCreateToken_Success(t *testing.T) {
	members := new(MockMemberRepository)
	members.On("IsActiveMember", mock.Anything, "conv-1", "alice").Return(true, nil)
	now := time.Now().Truncate(time.Second)
	s := newTestService(members, testLiveKit, now)

	out, err := s.CreateToken(context.Background(), &TokenInput{
		CallID:         "call-1",
		ConversationID: "conv-1",
		UserID:         "alice",
		Name:           "Alice",
		RequestHost:    "chat.example.com:8443",
	})

	require.NoError(t, err)
	assert.Equal(t, "call-1", out.RoomName)
	assert.Equal(t, "alice", out.Identity)
	assert.Equal(t, "wss://chat.example.com:7443", out.URL)

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(out.Token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(testLiveKit.APISecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, token.Valid)

	assert.Equal(t, "APIkey123", claims.Issuer)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	require.NotNil(t, claims.Video)
	assert.True(t, claims.Video.RoomJoin)
	assert.Equal(t, "call-1", claims.Video.Room)
	require.NotNil(t, claims.Video.CanPublish)
	assert.True(t, *claims.Video.CanPublish)
	require.NotNil(t, claims.Video.CanSubscribe)
	assert.True(t, *claims.Video.CanSubscribe)
	members.AssertExpectations(t)
}

func TestCreateToken_MissingFields(t *testing.T) {
	members := new(MockMemberRepository)
	s := newTestService(members, testLiveKit, time.Now())

	tests := []struct {
		name  string
		input TokenInput
	}{
		{"missing call id", TokenInput{ConversationID: "conv-1", UserID: "alice"}},
		{"missing conversation id", TokenInput{CallID: "call-1", UserID: "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateToken(context.Background(), &tt.input)
			appErr := apperrors.GetAppError(err)
			assert.Equal(t, apperrors.ErrCodeMissingField, appErr.Code)
			assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
		})
	}
	members.AssertNotCalled(t, "IsActiveMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateToken_NotMember(t *testing.T) {
	members := new(MockMemberRepository)
	members.On("IsActiveMember", mock.Anything, "conv-1", "eve").Return(false, nil)
	s := newTestService(members, testLiveKit, time.Now())

	_, err := s.CreateToken(context.Background(), &TokenInput{CallID: "call-1", ConversationID: "conv-1", UserID: "eve"})

	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeForbidden, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)
}

func TestCreateToken_MembershipLookupFails(t *testing.T) {
	members := new(MockMemberRepository)
	members.On("IsActiveMember", mock.Anything, "conv-1", "alice").Return(false, errors.New("connection refused"))
	s := newTestService(members, testLiveKit, time.Now())

	_, err := s.CreateToken(context.Background(), &TokenInput{CallID: "call-1", ConversationID: "conv-1", UserID: "alice"})

	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeDatabase, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
}

func TestCreateToken_NotConfigured(t *testing.T) {
	members := new(MockMemberRepository)
	members.On("IsActiveMember", mock.Anything, "conv-1", "alice").Return(true, nil)
	s := newTestService(members, config.LiveKitConfig{APIKey: "key"}, time.Now())

	_, err := s.CreateToken(context.Background(), &TokenInput{CallID: "call-1", ConversationID: "conv-1", UserID: "alice"})

	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeServiceUnavail, appErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.StatusCode)
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name        string
		configured  string
		requestHost string
		want        string
	}{
		{"no request host", "ws://livekit:7880", "", "ws://livekit:7880"},
		{"blank request host", "ws://livekit:7880", "  ", "ws://livekit:7880"},
		{"host with port", "ws://livekit:7880", "192.168.1.20:3000", "ws://192.168.1.20:7880"},
		{"forwarded list", "wss://livekit:7443", "app.example.com, proxy.internal", "wss://app.example.com:7443"},
		{"host with scheme", "ws://livekit:9000", "HTTPS://app.example.com", "ws://app.example.com:9000"},
		{"configured without port", "wss://livekit.example.com", "app.example.com", "wss://app.example.com:7880"},
		{"empty first entry", "ws://livekit:7880", ",app.example.com", "ws://livekit:7880"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicURL(tt.configured, tt.requestHost))
		})
	}
}
