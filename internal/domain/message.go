package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "matchchat/pkg/errors"
)

// Message - запись в журнале переписки. Seq назначается хранилищем и
// вместе с CreatedAt задает полный порядок внутри матча.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	Seq            int64      `json:"seq"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	ReceiverID     string     `json:"receiver_id"`
	Content        string     `json:"content"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 200
)

// MessagePage - курсор по журналу: сообщения с Seq > After, не больше Limit.
type MessagePage struct {
	After int64
	Limit int
}

// Normalize подставляет значения по умолчанию и ограничивает Limit.
func (p MessagePage) Normalize() MessagePage {
	if p.After < 0 {
		p.After = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultMessagePageSize
	}
	if p.Limit > MaxMessagePageSize {
		p.Limit = MaxMessagePageSize
	}
	return p
}

func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", apperrors.ErrEmptyContent
	}
	return trimmed, nil
}

// CompareMessages - порядок журнала: CreatedAt, затем Seq.
func CompareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

func SortMessages(messages []Message) {
	slices.SortStableFunc(messages, CompareMessages)
}
