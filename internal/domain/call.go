package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// CallType represents the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallMode distinguishes one-to-one calls from group calls
type CallMode string

const (
	CallModePrivate CallMode = "PRIVATE"
	CallModeGroup   CallMode = "GROUP"
)

// Valid reports whether m is a known call mode
func (m CallMode) Valid() bool {
	return m == CallModePrivate || m == CallModeGroup
}

// EndReason is carried by call-ended
type EndReason string

const (
	EndReasonHangup       EndReason = "hangup"
	EndReasonCanceled     EndReason = "canceled"
	EndReasonRejected     EndReason = "rejected"
	EndReasonTimeout      EndReason = "timeout"
	EndReasonDisconnected EndReason = "disconnected"
	EndReasonEnded        EndReason = "ended"
)

// Profile is the display data of a user
type Profile struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

// Participant is a snapshot of a user taken when they joined the call.
// It is not refreshed if the profile changes later.
type Participant struct {
	UserID string  `json:"userId"`
	Name   *string `json:"name"`
	Image  *string `json:"image"`
}

// NewParticipant builds a participant snapshot from an optional profile
func NewParticipant(userID string, profile *Profile) *Participant {
	p := &Participant{UserID: userID}
	if profile != nil {
		p.Name = profile.Name
		p.Image = profile.Image
	}
	return p
}

// CallSession is one live call, from first ring to termination.
// The owner is a participant from creation; a user is never both
// ringing and a participant of the same session.
type CallSession struct {
	ID             string
	ConversationID string
	CallType       CallType
	Mode           CallMode
	OwnerID        string
	CreatedAt      time.Time

	participants map[string]*Participant
	order        []string
	ringing      map[string]struct{}
}

// NewCallSession creates a session with the owner as its only participant
func NewCallSession(id, conversationID string, callType CallType, mode CallMode, owner *Participant, ringing []string, now time.Time) *CallSession {
	s := &CallSession{
		ID:             id,
		ConversationID: conversationID,
		CallType:       callType,
		Mode:           mode,
		OwnerID:        owner.UserID,
		CreatedAt:      now,
		participants:   make(map[string]*Participant),
		ringing:        make(map[string]struct{}, len(ringing)),
	}
	s.AddParticipant(owner)
	for _, id := range ringing {
		if id != owner.UserID {
			s.ringing[id] = struct{}{}
		}
	}
	return s
}

// AddParticipant stores p, replacing an older snapshot of the same user,
// and clears that user from the ringing set.
func (s *CallSession) AddParticipant(p *Participant) {
	if _, ok := s.participants[p.UserID]; !ok {
		s.order = append(s.order, p.UserID)
	}
	s.participants[p.UserID] = p
	delete(s.ringing, p.UserID)
}

// RemoveParticipant reports whether userID was a participant
func (s *CallSession) RemoveParticipant(userID string) bool {
	if _, ok := s.participants[userID]; !ok {
		return false
	}
	delete(s.participants, userID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == userID })
	return true
}

func (s *CallSession) IsParticipant(userID string) bool {
	_, ok := s.participants[userID]
	return ok
}

func (s *CallSession) IsRinging(userID string) bool {
	_, ok := s.ringing[userID]
	return ok
}

// StopRinging reports whether userID was still ringing
func (s *CallSession) StopRinging(userID string) bool {
	if _, ok := s.ringing[userID]; !ok {
		return false
	}
	delete(s.ringing, userID)
	return true
}

func (s *CallSession) ParticipantCount() int { return len(s.participants) }

func (s *CallSession) RingingCount() int { return len(s.ringing) }

// Participants returns the participants in join order
func (s *CallSession) Participants() []*Participant {
	out := make([]*Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.participants[id])
	}
	return out
}

// ParticipantIDs returns participant ids in join order
func (s *CallSession) ParticipantIDs() []string {
	return slices.Clone(s.order)
}

// RingingIDs returns the ringing user ids, sorted
func (s *CallSession) RingingIDs() []string {
	ids := make([]string, 0, len(s.ringing))
	for id := range s.ringing {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Active reports whether someone other than the owner has joined
func (s *CallSession) Active() bool {
	return len(s.participants) > 1
}

// SignalKind documents the payload variants relayed by call-signal.
// The relay never inspects the payload.
type SignalKind string

const (
	SignalKindOffer  SignalKind = "offer"
	SignalKindAnswer SignalKind = "answer"
	SignalKindICE    SignalKind = "ice"
)

// Wire event names
const (
	EventCallStart             = "call-start"
	EventCallAccept            = "call-accept"
	EventCallReject            = "call-reject"
	EventCallCancel            = "call-cancel"
	EventCallLeave             = "call-leave"
	EventCallSignal            = "call-signal"
	EventCallIncoming          = "call-incoming"
	EventCallJoined            = "call-joined"
	EventCallParticipantJoined = "call-participant-joined"
	EventCallParticipantLeft   = "call-participant-left"
	EventCallRejected          = "call-rejected"
	EventCallCanceled          = "call-canceled"
	EventCallEnded             = "call-ended"
)

// Envelope is the frame exchanged over the realtime channel
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CallStartPayload is sent by a client to start a call
type CallStartPayload struct {
	CallID         string   `json:"callId"`
	ConversationID string   `json:"conversationId"`
	CallType       CallType `json:"callType"`
	Mode           CallMode `json:"mode"`
	TargetUserIDs  []string `json:"targetUserIds,omitempty"`
}

// CallRefPayload carries only a call id (accept, reject, cancel, leave)
type CallRefPayload struct {
	CallID string `json:"callId"`
}

// CallSignalPayload is sent by a client to reach one peer
type CallSignalPayload struct {
	CallID   string          `json:"callId"`
	ToUserID string          `json:"toUserId"`
	Data     json.RawMessage `json:"data"`
}

type CallIncomingEvent struct {
	CallID         string       `json:"callId"`
	ConversationID string       `json:"conversationId"`
	CallType       CallType     `json:"callType"`
	Mode           CallMode     `json:"mode"`
	FromUser       *Participant `json:"fromUser"`
}

type CallJoinedEvent struct {
	CallID       string         `json:"callId"`
	Participants []*Participant `json:"participants"`
}

type CallParticipantJoinedEvent struct {
	CallID      string       `json:"callId"`
	Participant *Participant `json:"participant"`
}

type CallParticipantLeftEvent struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

type CallRejectedEvent struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

type CallCanceledEvent struct {
	CallID string `json:"callId"`
}

type CallEndedEvent struct {
	CallID  string    `json:"callId"`
	Reason  EndReason `json:"reason"`
	EndedBy string    `json:"endedBy,omitempty"`
}

// CallSignalEvent is delivered to the recipient of a relayed signal
type CallSignalEvent struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId"`
	Data       json.RawMessage `json:"data"`
}
