package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventMessageInserted      EventKind = "message.inserted"
	EventMessageUpdated       EventKind = "message.updated"
	EventConversationInserted EventKind = "conversation.inserted"
	EventConversationUpdated  EventKind = "conversation.updated"
)

func (k EventKind) IsMessage() bool {
	return k == EventMessageInserted || k == EventMessageUpdated
}

// Event - сигнал об изменении записи. Доставка at-least-once, получатель
// дедуплицирует по ID записи, а не события.
type Event struct {
	ID           uuid.UUID     `json:"id"`
	Kind         EventKind     `json:"kind"`
	Message      *Message      `json:"message,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

func NewMessageEvent(kind EventKind, msg Message) Event {
	return Event{ID: uuid.New(), Kind: kind, Message: &msg, OccurredAt: time.Now().UTC()}
}

func NewConversationEvent(kind EventKind, conv Conversation) Event {
	return Event{ID: uuid.New(), Kind: kind, Conversation: &conv, OccurredAt: time.Now().UTC()}
}

func ConversationChannel(id uuid.UUID) string {
	return "conversation:" + id.String()
}

func UserChannel(userID string) string {
	return "user:" + userID
}
