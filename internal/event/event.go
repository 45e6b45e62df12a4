package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSessionIssued      Type = "session.issued"
	TypeSessionRevoked     Type = "session.revoked"
	TypeSessionsRevokedAll Type = "sessions.revoked_all"
	TypeUserRegistered     Type = "user.registered"
	TypeUserRoleChanged    Type = "user.role_changed"
	TypeUserStatusChanged  Type = "user.status_changed"
	TypeUserDeleted        Type = "user.deleted"
	TypePasswordChanged    Type = "user.password_changed"
	TypePasswordReset      Type = "user.password_reset"
)

// Event payloads never carry token material or password hashes.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"`
}

func New(t Type, actorID string, payload any, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func())
}
