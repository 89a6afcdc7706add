package auth

import (
	"code.teamsync.org/golang/pkg/team"
)

// EventKind discriminates the events a Provider emits outward.
type EventKind int

const (
	// EventJoined fires when an invitation was consumed and the team admitted.
	EventJoined EventKind = iota + 1

	// EventConnected fires when a session reached its session key.
	EventConnected

	// EventUpdated fires when a share changed (team graph or document set).
	EventUpdated

	// EventDisconnected fires when a session was removed.
	EventDisconnected

	// EventLocalError fires when this side failed a session or an internal step.
	EventLocalError

	// EventRemoteError fires when the peer reported failing us.
	EventRemoteError
)

func (self EventKind) String() string {
	switch self {
	case EventJoined:
		return "joined"
	case EventConnected:
		return "connected"
	case EventUpdated:
		return "updated"
	case EventDisconnected:
		return "disconnected"
	case EventLocalError:
		return "localError"
	case EventRemoteError:
		return "remoteError"
	default:
		return "unknown"
	}
}

// Event is one outward notification. ShareID and PeerID are set whenever the
// event concerns one session; Team and User accompany EventJoined.
type Event struct {
	Kind    EventKind
	ShareID string
	PeerID  string
	Team    *team.Team
	User    *team.UserIdentity
	Err     error
}
