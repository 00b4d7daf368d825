package call

import (
	"slices"

	"junction-backend/internal/domain"
)

// Registry stores live call sessions and, for each user, the calls
// they participate in. It has no locking of its own; Service owns it.
type Registry struct {
	sessions     map[string]*domain.CallSession
	userSessions map[string]map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[string]*domain.CallSession),
		userSessions: make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Get(callID string) (*domain.CallSession, bool) {
	s, ok := r.sessions[callID]
	return s, ok
}

func (r *Registry) Set(session *domain.CallSession) {
	r.sessions[session.ID] = session
}

func (r *Registry) Delete(callID string) {
	delete(r.sessions, callID)
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Track records that userID participates in callID
func (r *Registry) Track(userID, callID string) {
	calls, ok := r.userSessions[userID]
	if !ok {
		calls = make(map[string]struct{})
		r.userSessions[userID] = calls
	}
	calls[callID] = struct{}{}
}

// Untrack forgets callID for userID and drops the user entry once empty
func (r *Registry) Untrack(userID, callID string) {
	calls, ok := r.userSessions[userID]
	if !ok {
		return
	}
	delete(calls, callID)
	if len(calls) == 0 {
		delete(r.userSessions, userID)
	}
}

// CallsOf returns a sorted copy of the call ids tracked for userID
func (r *Registry) CallsOf(userID string) []string {
	calls := r.userSessions[userID]
	ids := make([]string, 0, len(calls))
	for id := range calls {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Tracked reports whether userID has any indexed call
func (r *Registry) Tracked(userID string) bool {
	_, ok := r.userSessions[userID]
	return ok
}
