package realtime

import (
	"github.com/google/uuid"
	"matchchat/internal/domain"
)

// MessageSet - клиентская копия журнала матча. Слияние по ID идемпотентно,
// порядок всегда (CreatedAt, Seq) как у хранилища.
type MessageSet struct {
	byID  map[uuid.UUID]int
	items []domain.Message
}

func NewMessageSet(messages ...domain.Message) *MessageSet {
	s := &MessageSet{byID: make(map[uuid.UUID]int)}
	s.Merge(messages)
	return s
}

// Apply применяет событие. Повторный insert уже известного ID отбрасывается.
// Возвращает true, если набор изменился.
func (s *MessageSet) Apply(evt domain.Event) bool {
	if evt.Message == nil {
		return false
	}
	switch evt.Kind {
	case domain.EventMessageInserted:
		if _, ok := s.byID[evt.Message.ID]; ok {
			return false
		}
		s.insert(*evt.Message)
		s.resort()
		return true
	case domain.EventMessageUpdated:
		changed := s.upsert(*evt.Message)
		if changed {
			s.resort()
		}
		return changed
	default:
		return false
	}
}

// Merge сверяет набор с результатом полного запроса: новые ID добавляются,
// известные заменяются на месте.
func (s *MessageSet) Merge(messages []domain.Message) bool {
	changed := false
	for _, msg := range messages {
		if s.upsert(msg) {
			changed = true
		}
	}
	if changed {
		s.resort()
	}
	return changed
}

func (s *MessageSet) upsert(msg domain.Message) bool {
	i, ok := s.byID[msg.ID]
	if !ok {
		s.insert(msg)
		return true
	}
	merged := mergeMessage(s.items[i], msg)
	if sameMessage(s.items[i], merged) {
		return false
	}
	s.items[i] = merged
	return true
}

func (s *MessageSet) insert(msg domain.Message) {
	s.byID[msg.ID] = len(s.items)
	s.items = append(s.items, msg)
}

func (s *MessageSet) resort() {
	domain.SortMessages(s.items)
	for i, msg := range s.items {
		s.byID[msg.ID] = i
	}
}

// mergeMessage не дает устаревшей копии откатить прочтение: read монотонен.
func mergeMessage(current, incoming domain.Message) domain.Message {
	if current.Read && !incoming.Read {
		return current
	}
	if incoming.UpdatedAt.Before(current.UpdatedAt) {
		return current
	}
	return incoming
}

func sameMessage(a, b domain.Message) bool {
	if a.Read != b.Read || a.Seq != b.Seq || !a.UpdatedAt.Equal(b.UpdatedAt) || !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	return a.Content == b.Content
}

func (s *MessageSet) Messages() []domain.Message {
	out := make([]domain.Message, len(s.items))
	copy(out, s.items)
	return out
}

func (s *MessageSet) Len() int { return len(s.items) }
