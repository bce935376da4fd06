package domain

import "time"

// FollowState is the state of a follow edge.
type FollowState string

const (
	FollowNone     FollowState = "none"
	FollowPending  FollowState = "pending"
	FollowAccepted FollowState = "accepted"
)

// Follow is a directed edge: ActorID follows TargetActorID.
type Follow struct {
	Id              string
	ActorID         string
	TargetActorID   string
	TargetActorAcct string
	URI             string // id of the Follow activity, when known
	State           FollowState
	CreatedAt       time.Time
}
