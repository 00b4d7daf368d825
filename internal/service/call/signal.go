package call

import (
	"context"
	"encoding/json"

	"junction-backend/internal/domain"
)

// SignalInput carries a negotiation payload for one peer
type SignalInput struct {
	CallID   string
	ToUserID string
	Data     json.RawMessage
}

// Signal forwards input.Data to input.ToUserID. Sender and recipient must
// both have joined the call; ringing users cannot negotiate. The payload
// is passed through untouched.
func (s *Service) Signal(ctx context.Context, userID string, input *SignalInput) error {
	if userID == "" || input == nil || input.CallID == "" || input.ToUserID == "" {
		return ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.registry.Get(input.CallID)
	if !ok {
		return ErrCallNotFound
	}
	if !session.IsParticipant(userID) || !session.IsParticipant(input.ToUserID) {
		return ErrNotParticipant
	}

	s.notifier.SendToUser(input.ToUserID, domain.EventCallSignal, &domain.CallSignalEvent{
		CallID:     input.CallID,
		FromUserID: userID,
		ToUserID:   input.ToUserID,
		Data:       input.Data,
	})
	s.metrics.RecordSignalRelayed()
	return nil
}
