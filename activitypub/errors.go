package activitypub

import "errors"

var (
	// ErrAuthentication marks a missing, malformed or invalid signature or digest.
	ErrAuthentication = errors.New("authentication failed")
	// ErrActorGone is returned when a remote actor answers 410 Gone.
	ErrActorGone = errors.New("actor gone")
	// ErrUnknownVerb marks an activity type outside the supported vocabulary.
	ErrUnknownVerb = errors.New("unknown activity type")
	// ErrUnresolvable marks a referenced actor or object that cannot be fetched.
	ErrUnresolvable = errors.New("unresolvable reference")
	// ErrAuthorizationMismatch is returned when an actor mutates an object it does not own.
	ErrAuthorizationMismatch = errors.New("actor does not own object")
)
