package core

import "errors"

// Error codes surfaced to clients over the wire.
const (
	ErrCodeRoomNotFound     = "room_not_found"
	ErrCodeUserNotFound     = "user_not_found"
	ErrCodeNotAParticipant  = "not_a_participant"
	ErrCodeActorUnavailable = "actor_unavailable"
	ErrCodePersistence      = "persistence_error"
)

var (
	// ErrRoomNotFound means the room id has no record in the persistence
	// gateway. Fatal to session setup.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUserNotFound means the user id has no record in the persistence
	// gateway. Fatal to session setup.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotAParticipant means a post was attempted by a user that is not
	// joined to the room. A protocol violation by the client; logged and
	// ignored, never crashes the room.
	ErrNotAParticipant = errors.New("not a participant")
	// ErrActorCreationFailed means a directory factory failed. The id stays
	// resolvable for the next attempt.
	ErrActorCreationFailed = errors.New("actor creation failed")
	// ErrPersistence marks a gateway failure. Propagated to the caller of
	// the failed operation; this layer does not retry.
	ErrPersistence = errors.New("persistence failure")
	// ErrActorGone means the actor instance was evicted between resolution
	// and use. Callers re-resolve through the directory.
	ErrActorGone = errors.New("actor stopped")
)
