package domain

import "time"

// NotificationType is one of the Mastodon notification kinds produced by the core.
type NotificationType string

const (
	NotificationFollow    NotificationType = "follow"
	NotificationMention   NotificationType = "mention"
	NotificationFavourite NotificationType = "favourite"
	NotificationReblog    NotificationType = "reblog"
	NotificationUpdate    NotificationType = "update"
)

// Notification is append-only. ObjectID is empty for follow notifications.
type Notification struct {
	Id          string
	Type        NotificationType
	ActorID     string // recipient
	FromActorID string
	ObjectID    string
	CreatedAt   time.Time
}

// Reblog records an Announce of ObjectID by ActorID.
type Reblog struct {
	Id        string
	PublicID  string
	ActorID   string
	ObjectID  string
	URI       string
	CreatedAt time.Time
}

// Favourite records a Like of ObjectID by ActorID.
type Favourite struct {
	Id        string
	ActorID   string
	ObjectID  string
	URI       string
	CreatedAt time.Time
}

// Reply links a reply object to its parent.
type Reply struct {
	Id              string
	ActorID         string
	ObjectID        string
	InReplyToObject string
	CreatedAt       time.Time
}

// TimelineEntry is a row of an actor's inbox or outbox.
type TimelineEntry struct {
	Id            string
	ActorID       string
	ObjectID      string
	Target        string // outbox only: addressed recipient
	PublishedDate time.Time
	CreatedAt     time.Time
}

// IdempotencyKey keeps a redelivered message from re-applying side effects.
type IdempotencyKey struct {
	Key       string
	ObjectID  string
	ExpiresAt time.Time
}

// Peer is a remote hostname observed through federation.
type Peer struct {
	Domain    string
	CreatedAt time.Time
}
