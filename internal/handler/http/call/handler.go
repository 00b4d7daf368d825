package call

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"junction-backend/internal/middleware"
	"junction-backend/internal/service/sfu"
	"junction-backend/pkg/response"
)

// TokenService issues media room tokens
type TokenService interface {
	CreateToken(ctx context.Context, input *sfu.TokenInput) (*sfu.TokenOutput, error)
}

// Handler handles call HTTP requests
type Handler struct {
	tokenService TokenService
}

// NewHandler creates a new call handler
func NewHandler(tokenService TokenService) *Handler {
	return &Handler{
		tokenService: tokenService,
	}
}

// LiveKitTokenRequest represents a room token request
type LiveKitTokenRequest struct {
	CallID         string `json:"callId" binding:"required"`
	ConversationID string `json:"conversationId" binding:"required"`
}

// CreateLiveKitToken issues a token for the group call room named by callId
// POST /v1/calls/livekit/token
func (h *Handler) CreateLiveKitToken(c *gin.Context) {
	var req LiveKitTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "callId and conversationId are required")
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	output, err := h.tokenService.CreateToken(c.Request.Context(), &sfu.TokenInput{
		CallID:         req.CallID,
		ConversationID: req.ConversationID,
		UserID:         userID,
		Name:           c.GetString(middleware.ContextName),
		RequestHost:    requestHost(c.Request),
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, output)
}

func requestHost(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		return forwarded
	}
	return r.Host
}
