package call

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/mindconnect-server/internal/media"
	"github.com/vovakirdan/mindconnect-server/internal/signaling"
)

var (
	// ErrMediaAccessDenied aborts a call before any session is created.
	ErrMediaAccessDenied = fmt.Errorf("call aborted: %w", media.ErrAccessDenied)
	// ErrCallInProgress is returned when a start or join is already running
	// or a call is active.
	ErrCallInProgress = errors.New("call already in progress")
	// ErrWrongRole is returned when an operation does not match the role.
	ErrWrongRole = errors.New("operation not allowed for this role")
	// ErrRemoteDescriptionAlreadySet guards against applying a second remote
	// description. It is logged, never returned to callers.
	ErrRemoteDescriptionAlreadySet = errors.New("remote description already set")
	// ErrCallEnded is returned by a start or join interrupted by EndCall.
	ErrCallEnded = errors.New("call ended")
)

// Role selects which half of the negotiation a coordinator drives.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "unknown"
	}
}

// localDirection is the candidate list this role appends to.
func (r Role) localDirection() signaling.Direction {
	if r == RoleCaller {
		return signaling.DirectionOffer
	}
	return signaling.DirectionAnswer
}

// State is the negotiation state of one participant.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateLocalDescriptionSet
	StateAwaitingRemote
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring_media"
	case StateLocalDescriptionSet:
		return "local_description_set"
	case StateAwaitingRemote:
		return "awaiting_remote"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
