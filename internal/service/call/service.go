package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"junction-backend/internal/domain"
	"junction-backend/pkg/logger"
	"junction-backend/pkg/metrics"
)

// MemberRepository answers conversation membership questions
type MemberRepository interface {
	IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error)
	ListActiveMembers(ctx context.Context, conversationID string) ([]string, error)
}

// ProfileRepository returns display data for a user.
// A nil profile with a nil error means the user has no profile.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// Notifier delivers an event to every connection of a user.
// It must not block; delivery failures are not reported back.
type Notifier interface {
	SendToUser(userID, event string, payload any)
}

// Service orchestrates call sessions. All registry access goes through mu;
// repository lookups run unlocked and the state they were based on is
// checked again once the lock is re-acquired.
type Service struct {
	mu       sync.RWMutex
	registry *Registry

	members  MemberRepository
	profiles ProfileRepository
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a call service. m may be nil.
func NewService(members MemberRepository, profiles ProfileRepository, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		registry: NewRegistry(),
		members:  members,
		profiles: profiles,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// StartCallInput contains call-start data
type StartCallInput struct {
	CallID         string
	ConversationID string
	CallType       domain.CallType
	Mode           domain.CallMode
	TargetUserIDs  []string
}

// Start creates a session owned by userID and rings the targets.
// A live session with the same id is ended first.
func (s *Service) Start(ctx context.Context, userID string, input *StartCallInput) error {
	if userID == "" || input == nil || input.CallID == "" || input.ConversationID == "" {
		return ErrInvalidInput
	}
	if !input.CallType.Valid() || !input.Mode.Valid() {
		return ErrInvalidInput
	}

	isMember, err := s.members.IsActiveMember(ctx, input.ConversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !isMember {
		return ErrNotMember
	}

	memberIDs, err := s.members.ListActiveMembers(ctx, input.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}
	targets := resolveTargets(userID, input.TargetUserIDs, memberIDs)
	owner := domain.NewParticipant(userID, s.lookupProfile(ctx, userID))

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.registry.Get(input.CallID); ok {
		s.endSessionLocked(existing, domain.EndReasonEnded, userID)
	}

	session := domain.NewCallSession(input.CallID, input.ConversationID, input.CallType, input.Mode, owner, targets, s.now())
	s.registry.Set(session)
	s.registry.Track(userID, session.ID)

	s.metrics.RecordCallStarted(string(session.CallType), string(session.Mode))
	s.metrics.SetActiveCalls(s.registry.Len())
	logger.Info("Call started",
		append(logger.CallFields(session.ID, userID),
			zap.String("conversation_id", session.ConversationID),
			zap.String("call_type", string(session.CallType)),
			zap.String("mode", string(session.Mode)),
			zap.Int("ringing", session.RingingCount()))...)

	s.notifier.SendToUser(userID, domain.EventCallJoined, &domain.CallJoinedEvent{
		CallID:       session.ID,
		Participants: session.Participants(),
	})
	for _, targetID := range session.RingingIDs() {
		s.notifier.SendToUser(targetID, domain.EventCallIncoming, &domain.CallIncomingEvent{
			CallID:         session.ID,
			ConversationID: session.ConversationID,
			CallType:       session.CallType,
			Mode:           session.Mode,
			FromUser:       owner,
		})
	}
	return nil
}

// Accept moves userID from ringing into the participants.
// Accepting again while already joined refreshes the snapshot and
// repeats the notifications.
func (s *Service) Accept(ctx context.Context, userID, callID string) error {
	if userID == "" || callID == "" {
		return ErrInvalidInput
	}

	s.mu.RLock()
	session, err := s.acceptableLocked(callID, userID)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	profile := s.lookupProfile(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have ended or been replaced during the lookup.
	current, ok := s.registry.Get(callID)
	if !ok || current != session {
		return ErrCallNotFound
	}
	if _, err := s.acceptableLocked(callID, userID); err != nil {
		return err
	}

	participant := domain.NewParticipant(userID, profile)
	current.AddParticipant(participant)
	s.registry.Track(userID, callID)

	logger.Debug("Call accepted", logger.CallFields(callID, userID)...)

	s.notifier.SendToUser(userID, domain.EventCallJoined, &domain.CallJoinedEvent{
		CallID:       callID,
		Participants: current.Participants(),
	})
	s.broadcastLocked(current, domain.EventCallParticipantJoined, &domain.CallParticipantJoinedEvent{
		CallID:      callID,
		Participant: participant,
	}, userID)
	return nil
}

// Reject removes userID from the ringing set, tells the owner, and ends
// the call if nobody is left to talk to. A user who was not ringing
// only produces the owner notification.
func (s *Service) Reject(ctx context.Context, userID, callID string) error {
	if userID == "" || callID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.registry.Get(callID)
	if !ok {
		return ErrCallNotFound
	}
	session.StopRinging(userID)

	logger.Debug("Call rejected", logger.CallFields(callID, userID)...)

	s.notifier.SendToUser(session.OwnerID, domain.EventCallRejected, &domain.CallRejectedEvent{
		CallID: callID,
		UserID: userID,
	})
	s.cleanupIfIdleLocked(session)
	return nil
}

// Cancel lets the owner withdraw the call. Ringing users get call-canceled
// and the session ends whatever its state.
func (s *Service) Cancel(ctx context.Context, userID, callID string) error {
	if userID == "" || callID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.registry.Get(callID)
	if !ok {
		return ErrCallNotFound
	}
	if session.OwnerID != userID {
		return ErrNotOwner
	}

	for _, targetID := range session.RingingIDs() {
		s.notifier.SendToUser(targetID, domain.EventCallCanceled, &domain.CallCanceledEvent{CallID: callID})
	}
	s.endSessionLocked(session, domain.EndReasonCanceled, userID)
	return nil
}

// Leave removes userID from the call. The owner leaving ends it for everyone.
func (s *Service) Leave(ctx context.Context, userID, callID string) error {
	if userID == "" || callID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leaveLocked(callID, userID, domain.EndReasonHangup)
}

// Disconnect runs the leave logic for every call userID participates in.
// It returns how many calls were left.
func (s *Service) Disconnect(ctx context.Context, userID string) int {
	if userID == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	left := 0
	for _, callID := range s.registry.CallsOf(userID) {
		if err := s.leaveLocked(callID, userID, domain.EndReasonDisconnected); err != nil {
			logger.Debug("Disconnect cleanup skipped call",
				append(logger.CallFields(callID, userID), zap.Error(err))...)
			// Stale index entry; drop it so it cannot be retried forever.
			s.registry.Untrack(userID, callID)
			continue
		}
		left++
	}
	return left
}

func (s *Service) leaveLocked(callID, userID string, reason domain.EndReason) error {
	session, ok := s.registry.Get(callID)
	if !ok {
		return ErrCallNotFound
	}
	if !session.RemoveParticipant(userID) {
		return ErrNotParticipant
	}
	s.registry.Untrack(userID, callID)

	if userID == session.OwnerID {
		s.endSessionLocked(session, reason, userID)
		return nil
	}

	logger.Debug("Participant left call",
		append(logger.CallFields(callID, userID), zap.String("reason", string(reason)))...)

	s.broadcastLocked(session, domain.EventCallParticipantLeft, &domain.CallParticipantLeftEvent{
		CallID: callID,
		UserID: userID,
	}, userID)
	s.cleanupIfIdleLocked(session)
	return nil
}

// cleanupIfIdleLocked ends a session with no participants, or with a lone
// participant and nobody left ringing.
func (s *Service) cleanupIfIdleLocked(session *domain.CallSession) {
	n := session.ParticipantCount()
	if n == 0 || (n == 1 && session.RingingCount() == 0) {
		s.endSessionLocked(session, domain.EndReasonEnded, "")
	}
}

// endSessionLocked notifies every participant and ringing user, clears
// their index entries and removes the session.
func (s *Service) endSessionLocked(session *domain.CallSession, reason domain.EndReason, endedBy string) {
	if current, ok := s.registry.Get(session.ID); !ok || current != session {
		return
	}

	event := &domain.CallEndedEvent{CallID: session.ID, Reason: reason, EndedBy: endedBy}
	notify := append(session.ParticipantIDs(), session.RingingIDs()...)
	for _, id := range notify {
		s.notifier.SendToUser(id, domain.EventCallEnded, event)
		s.registry.Untrack(id, session.ID)
	}
	s.registry.Delete(session.ID)

	lifetime := s.now().Sub(session.CreatedAt)
	s.metrics.RecordCallEnded(string(session.CallType), string(reason), lifetime)
	s.metrics.SetActiveCalls(s.registry.Len())
	logger.Info("Call ended",
		zap.String("call_id", session.ID),
		zap.String("reason", string(reason)),
		zap.String("ended_by", endedBy),
		zap.Int("notified", len(notify)),
		zap.Duration("lifetime", lifetime))
}

// broadcastLocked sends to every current participant except excludeID
func (s *Service) broadcastLocked(session *domain.CallSession, event string, payload any, excludeID string) {
	for _, id := range session.ParticipantIDs() {
		if id == excludeID {
			continue
		}
		s.notifier.SendToUser(id, event, payload)
	}
}

func (s *Service) acceptableLocked(callID, userID string) (*domain.CallSession, error) {
	session, ok := s.registry.Get(callID)
	if !ok {
		return nil, ErrCallNotFound
	}
	if !session.IsRinging(userID) && !session.IsParticipant(userID) {
		return nil, ErrNotInvited
	}
	return session, nil
}

// lookupProfile tolerates a failing profile store; the participant is
// then shown without name or image.
func (s *Service) lookupProfile(ctx context.Context, userID string) *domain.Profile {
	if s.profiles == nil {
		return nil
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		logger.Warn("Failed to load caller profile", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return profile
}

// resolveTargets picks who to ring: the requested ids, or every member when
// none were requested, restricted to active members and never the caller.
func resolveTargets(callerID string, requested, memberIDs []string) []string {
	members := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}

	candidates := requested
	if len(candidates) == 0 {
		candidates = memberIDs
	}

	seen := make(map[string]struct{}, len(candidates))
	targets := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" || id == callerID {
			continue
		}
		if _, ok := members[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	return targets
}

// SessionView is a read-only copy of a session's membership
type SessionView struct {
	ID             string
	ConversationID string
	CallType       domain.CallType
	Mode           domain.CallMode
	OwnerID        string
	Participants   []domain.Participant
	Ringing        []string
	CreatedAt      time.Time
}

// Session returns a copy of the live session with callID
func (s *Service) Session(callID string) (*SessionView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.registry.Get(callID)
	if !ok {
		return nil, false
	}
	view := &SessionView{
		ID:             session.ID,
		ConversationID: session.ConversationID,
		CallType:       session.CallType,
		Mode:           session.Mode,
		OwnerID:        session.OwnerID,
		Ringing:        session.RingingIDs(),
		CreatedAt:      session.CreatedAt,
	}
	for _, p := range session.Participants() {
		view.Participants = append(view.Participants, *p)
	}
	return view, true
}

// CallsOf returns the ids of the calls userID currently participates in
func (s *Service) CallsOf(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.CallsOf(userID)
}

// ActiveCalls returns the number of live sessions
func (s *Service) ActiveCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Len()
}
