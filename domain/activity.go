package domain

import (
	"encoding/json"
	"time"
)

// ActivityRecord is an entry of the append-only activity log.
type ActivityRecord struct {
	Id           string
	ActivityURI  string
	ActivityType string
	ActorID      string
	ObjectID     string
	RawJSON      string
	Local        bool
	CreatedAt    time.Time
}

// MessageType tags a queue message.
type MessageType string

const (
	MessageInbox   MessageType = "inbox"
	MessageDeliver MessageType = "deliver"
)

// QueueMessage is the unit of work handed to the async queue.
//
// Inbox messages carry an inbound activity and the verified signer in ActorID.
// Deliver messages carry an outbound activity from the local ActorID to ToActorID;
// Recipient optionally names the inbox to post to, such as a shared inbox.
// Credentials is the id of the sender key to sign with. The key itself is
// unwrapped by the worker and never enters the queue.
type QueueMessage struct {
	Type        MessageType     `json:"type"`
	ActorID     string          `json:"actorId"`
	ToActorID   string          `json:"toActorId,omitempty"`
	Recipient   string          `json:"recipient,omitempty"`
	Activity    json.RawMessage `json:"activity"`
	Credentials string          `json:"credentials,omitempty"`
}

// QueueItem is a persisted queue message with its retry bookkeeping.
type QueueItem struct {
	Id          string
	Message     QueueMessage
	Attempts    int
	NextRetryAt time.Time
	CreatedAt   time.Time
}
