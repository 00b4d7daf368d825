package call

import "errors"

// Errors returned by Service. Clients never see them; the transport logs
// and meters them, then drops the event.
var (
	ErrInvalidInput   = errors.New("invalid call event payload")
	ErrCallNotFound   = errors.New("call not found")
	ErrNotMember      = errors.New("user is not an active member of the conversation")
	ErrNotInvited     = errors.New("user is neither ringing nor joined")
	ErrNotOwner       = errors.New("only the call owner can do this")
	ErrNotParticipant = errors.New("user is not a participant of the call")
)

// DropReason maps an error from Service to a short metric label
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCallNotFound):
		return "call_not_found"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrNotInvited):
		return "not_invited"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	default:
		return "internal"
	}
}
