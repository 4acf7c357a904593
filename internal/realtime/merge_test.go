package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"matchchat/internal/domain"
)

func TestMessageSetApply(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m1 := domain.Message{ID: uuid.New(), Seq: 1, Content: "first", CreatedAt: base, UpdatedAt: base}
	m2 := domain.Message{ID: uuid.New(), Seq: 2, Content: "second", CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)}

	set := NewMessageSet()
	// События могут прийти не по порядку.
	assert.True(t, set.Apply(domain.NewMessageEvent(domain.EventMessageInserted, m2)))
	assert.True(t, set.Apply(domain.NewMessageEvent(domain.EventMessageInserted, m1)))
	assert.False(t, set.Apply(domain.NewMessageEvent(domain.EventMessageInserted, m1)), "duplicate insert must be discarded")

	read := m1
	read.Read = true
	readAt := base.Add(time.Minute)
	read.ReadAt = &readAt
	read.UpdatedAt = readAt
	assert.True(t, set.Apply(domain.NewMessageEvent(domain.EventMessageUpdated, read)))

	got := set.Messages()
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"first", "second"}, []string{got[0].Content, got[1].Content})
	assert.True(t, got[0].Read)

	// Запоздавший insert с read=false не откатывает прочтение.
	assert.False(t, set.Apply(domain.NewMessageEvent(domain.EventMessageUpdated, m1)))
	assert.True(t, set.Messages()[0].Read)
}

func TestMessageSetMergeReconciles(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m1 := domain.Message{ID: uuid.New(), Seq: 1, Content: "a", CreatedAt: base, UpdatedAt: base}
	m2 := domain.Message{ID: uuid.New(), Seq: 2, Content: "b", CreatedAt: base, UpdatedAt: base}

	set := NewMessageSet(m2)
	assert.True(t, set.Merge([]domain.Message{m1, m2}))
	assert.False(t, set.Merge([]domain.Message{m1, m2}))

	got := set.Messages()
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, int64(1), got[0].Seq, "equal timestamps are ordered by seq")
}

func TestMessageSetIgnoresConversationEvents(t *testing.T) {
	set := NewMessageSet()
	assert.False(t, set.Apply(domain.NewConversationEvent(domain.EventConversationUpdated, domain.Conversation{ID: uuid.New()})))
	assert.Zero(t, set.Len())
}
