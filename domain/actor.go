package domain

import (
	"fmt"
	"time"
)

// Actor is a federation participant, local or a cached remote copy.
// ID is the canonical URL and is unique across the federation.
type Actor struct {
	ID           string
	PublicID     string // sortable id exposed to local clients
	Type         string // Person, Service, Application, ...
	Username     string
	Domain       string
	DisplayName  string
	Summary      string
	IconURL      string
	Inbox        string
	Outbox       string
	Followers    string
	Following    string
	SharedInbox  string
	PublicKeyPem string

	// Local actors only. The private key is stored wrapped with the user KEK.
	PrivateKey     []byte
	PrivateKeySalt []byte

	Local         bool
	LastFetchedAt time.Time
	CreatedAt     time.Time
}

// Acct returns the user@domain handle of the actor.
func (a *Actor) Acct() string {
	return fmt.Sprintf("%s@%s", a.Username, a.Domain)
}

// KeyID returns the id of the actor's main signing key.
func (a *Actor) KeyID() string {
	return a.ID + "#main-key"
}

// InboxURL prefers the shared inbox when the actor advertises one.
func (a *Actor) InboxURL(preferShared bool) string {
	if preferShared && a.SharedInbox != "" {
		return a.SharedInbox
	}
	return a.Inbox
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tPublicId: %s \n\tAcct: %s \n\tLocal: %t \n\tCREATED_AT: %s)", a.ID, a.PublicID, a.Acct(), a.Local, a.CreatedAt)
}
