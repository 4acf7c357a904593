package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "matchchat/pkg/errors"
)

type ConversationStatus string

// Сейчас все пары создаются сразу в статусе accepted; pending/rejected
// поддерживаются схемой, но переходов между статусами нет.
const (
	ConversationPending  ConversationStatus = "pending"
	ConversationAccepted ConversationStatus = "accepted"
	ConversationRejected ConversationStatus = "rejected"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationPending, ConversationAccepted, ConversationRejected:
		return true
	}
	return false
}

// Conversation - матч между двумя участниками. Пара хранится в
// каноническом порядке: ParticipantLow < ParticipantHigh.
type Conversation struct {
	ID              uuid.UUID          `json:"id"`
	ParticipantLow  string             `json:"participant_low"`
	ParticipantHigh string             `json:"participant_high"`
	InitiatedBy     string             `json:"initiated_by"`
	Status          ConversationStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// CanonicalPair упорядочивает пару участников. (a, b) и (b, a) дают один результат.
func CanonicalPair(a, b string) (low, high string, err error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" || a == b {
		return "", "", apperrors.ErrInvalidParticipants
	}
	if a < b {
		return a, b, nil
	}
	return b, a, nil
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantLow == userID || c.ParticipantHigh == userID)
}

// OtherParticipant возвращает собеседника userID; false если userID не участник.
func (c *Conversation) OtherParticipant(userID string) (string, bool) {
	switch userID {
	case c.ParticipantLow:
		return c.ParticipantHigh, true
	case c.ParticipantHigh:
		return c.ParticipantLow, true
	default:
		return "", false
	}
}

func (c *Conversation) Participants() []string {
	return []string{c.ParticipantLow, c.ParticipantHigh}
}
