package membership

import "github.com/dalemusser/institutehub/internal/domain/models"

type event string

const (
	evJoin    event = "join"
	evApprove event = "approve"
	evReject  event = "reject"
	evUnblock event = "unblock"
	evLeave   event = "leave"
)

// stateNone is the absence of a request for a (user, institute) pair.
const stateNone models.RequestState = ""

var transitions = map[models.RequestState]map[event]models.RequestState{
	stateNone:              {evJoin: models.RequestPending},
	models.RequestPending:  {evApprove: models.RequestApproved, evReject: models.RequestRejected},
	models.RequestRejected: {evUnblock: stateNone},
	models.RequestApproved: {evLeave: stateNone},
}

// next reports the state reached from `from` on ev, if the edge exists.
func next(from models.RequestState, ev event) (models.RequestState, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}
