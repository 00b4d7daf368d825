package sfu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"junction-backend/pkg/config"
	"junction-backend/pkg/constants"
	apperrors "junction-backend/pkg/errors"
	"junction-backend/pkg/logger"
	"junction-backend/pkg/metrics"
)

// MemberRepository answers conversation membership questions
type MemberRepository interface {
	IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// VideoGrant is the room permission set understood by the media server
type VideoGrant struct {
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	Room         string `json:"room,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

// AccessClaims is the payload of a media server access token
type AccessClaims struct {
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// Service issues media room tokens for group calls
type Service struct {
	members MemberRepository
	cfg     config.LiveKitConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a token service. m may be nil.
func NewService(members MemberRepository, cfg config.LiveKitConfig, m *metrics.Metrics) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = constants.LiveKitTokenTTL
	}
	return &Service{
		members: members,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// TokenInput contains the data needed to join a call room
type TokenInput struct {
	CallID         string
	ConversationID string
	UserID         string
	Name           string
	// RequestHost is the host the client used to reach the API, if known
	RequestHost string
}

// TokenOutput is returned to the client joining the room
type TokenOutput struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
	Identity string `json:"identity"`
}

// CreateToken checks that the caller belongs to the conversation and signs
// a room token named after the call id.
func (s *Service) CreateToken(ctx context.Context, input *TokenInput) (*TokenOutput, error) {
	switch {
	case input.CallID == "":
		return nil, apperrors.MissingFieldError("callId")
	case input.ConversationID == "":
		return nil, apperrors.MissingFieldError("conversationId")
	case input.UserID == "":
		return nil, apperrors.UnauthorizedError("Not authenticated")
	}

	ok, err := s.members.IsActiveMember(ctx, input.ConversationID, input.UserID)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to check membership: %w", err))
	}
	if !ok {
		return nil, apperrors.ForbiddenError("Not allowed to join this conversation")
	}

	if !s.cfg.Configured() {
		return nil, apperrors.ServiceUnavailableError("Media server is not configured")
	}

	token, err := s.sign(input)
	if err != nil {
		return nil, apperrors.WrapWithStatus(apperrors.ErrCodeInternal, "Failed to create token", http.StatusInternalServerError, err)
	}

	s.metrics.RecordSFUTokenIssued()
	logger.Debug("Issued media room token",
		zap.String("call_id", input.CallID),
		zap.String("user_id", input.UserID))

	return &TokenOutput{
		Token:    token,
		URL:      PublicURL(s.cfg.URL, input.RequestHost),
		RoomName: input.CallID,
		Identity: input.UserID,
	}, nil
}

func (s *Service) sign(input *TokenInput) (string, error) {
	now := s.now()
	allow := true
	claims := &AccessClaims{
		Name: input.Name,
		Video: &VideoGrant{
			RoomJoin:     true,
			Room:         input.CallID,
			CanPublish:   &allow,
			CanSubscribe: &allow,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.APIKey,
			Subject:   input.UserID,
			ID:        input.UserID,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}
	return signed, nil
}

// PublicURL points clients at the media server on the host they used to
// reach the API, keeping the configured scheme and port. Without a usable
// request host the configured URL is returned unchanged.
func PublicURL(configured, requestHost string) string {
	host := hostOnly(requestHost)
	if host == "" {
		return configured
	}

	base, err := url.Parse(configured)
	if err != nil {
		return configured
	}
	scheme := base.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := base.Port()
	if port == "" {
		port = constants.LiveKitDefaultPort
	}
	return fmt.Sprintf("%s://%s:%s", scheme, host, port)
}

// hostOnly takes the first entry of a possibly comma separated forwarded
// host and strips any scheme and port.
func hostOnly(raw string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(raw), ",")
	first = strings.TrimSpace(first)
	lower := strings.ToLower(first)
	switch {
	case strings.HasPrefix(lower, "https://"):
		first = first[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		first = first[len("http://"):]
	}
	host, _, _ := strings.Cut(first, ":")
	return host
}
