package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
	"matchchat/internal/repository/memory"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type published struct {
	evt      domain.Event
	channels []string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event, channels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{evt: evt, channels: channels})
}

func (p *recordingPublisher) kinds(channel string) []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventKind
	for _, e := range p.events {
		for _, c := range e.channels {
			if c == channel {
				out = append(out, e.evt.Kind)
			}
		}
	}
	return out
}

type fixture struct {
	store *memory.Store
	repos *repository.Repositories
	pub   *recordingPublisher
	svc   *Services
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	opts := DefaultOptions()
	opts.ReadBackoff = time.Millisecond
	opts.StoreTimeout = time.Second
	for _, m := range mutate {
		m(&opts)
	}
	store := memory.NewStore()
	repos := memory.NewRepositories(store)
	pub := &recordingPublisher{}
	return &fixture{store: store, repos: repos, pub: pub, svc: NewServices(repos, pub, opts, logger.Nop())}
}

func (f *fixture) resolve(t *testing.T, a, b string) *domain.Conversation {
	t.Helper()
	conv, err := f.svc.Resolver.Resolve(context.Background(), a, b, a)
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, convID uuid.UUID, sender, content string) *domain.Message {
	t.Helper()
	msg, err := f.svc.Message.Send(context.Background(), convID, sender, content)
	require.NoError(t, err)
	return msg
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestResolveCanonicalPairing(t *testing.T) {
	f := newFixture(t)
	ab := f.resolve(t, "alice", "bob")
	ba, err := f.svc.Resolver.Resolve(context.Background(), "bob", "alice", "bob")
	require.NoError(t, err)

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, "alice", ab.ParticipantLow)
	assert.Equal(t, "bob", ab.ParticipantHigh)
	assert.Equal(t, domain.ConversationAccepted, ab.Status)
	assert.Equal(t, 1, f.store.ConversationCount())

	assert.Equal(t, []domain.EventKind{domain.EventConversationInserted}, f.pub.kinds(domain.UserChannel("bob")))
}

func TestResolveConcurrentCreatesOneRow(t *testing.T) {
	f := newFixture(t)

	const n = 50
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := f.svc.Resolver.Resolve(context.Background(), a, b, a)
			assert.NoError(t, err)
			if conv != nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.ConversationCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.pub.kinds(domain.UserChannel("u1")), 1)
}

func TestResolveRejectsInvalidParticipants(t *testing.T) {
	f := newFixture(t)
	cases := [][3]string{
		{"u1", "u1", "u1"},
		{"", "u2", "u2"},
		{"u1", "u2", "u3"},
	}
	for _, c := range cases {
		_, err := f.svc.Resolver.Resolve(context.Background(), c[0], c[1], c[2])
		assert.ErrorIs(t, err, apperrors.ErrInvalidParticipants, c)
	}
	assert.Zero(t, f.store.ConversationCount())
}

func TestResolveStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext(1, errors.New("connection refused"))

	conv, err := f.svc.Resolver.Resolve(context.Background(), "u1", "u2", "u1")
	assert.Nil(t, conv)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.True(t, apperrors.Retryable(err))
}

// phantomConversations всегда проигрывает гонку и никогда не находит победителя.
type phantomConversations struct {
	repository.ConversationRepository
	creates int
}

func (p *phantomConversations) GetByPair(context.Context, string, string) (*domain.Conversation, error) {
	return nil, repository.ErrNotFound
}

func (p *phantomConversations) CreateIfAbsent(context.Context, *domain.Conversation) (bool, error) {
	p.creates++
	return false, nil
}

func TestResolveConflictRetryExhausted(t *testing.T) {
	repo := &phantomConversations{}
	opts := DefaultOptions()
	opts.ResolveAttempts = 3
	resolver := NewResolverService(repo, NopPublisher(), opts, logger.Nop())

	_, err := resolver.Resolve(context.Background(), "u1", "u2", "u1")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrConflictRetryExhausted)
	assert.Equal(t, 3, repo.creates)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")
	ctx := context.Background()

	_, err := f.svc.Message.Send(ctx, conv.ID, "u1", "")
	assert.ErrorIs(t, err, apperrors.ErrEmptyContent)
	_, err = f.svc.Message.Send(ctx, conv.ID, "u1", "   \n")
	assert.ErrorIs(t, err, apperrors.ErrEmptyContent)

	_, err = f.svc.Message.Send(ctx, conv.ID, "stranger", "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotAParticipant)

	_, err = f.svc.Message.Send(ctx, uuid.New(), "u1", "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	msgs, err := f.svc.Message.List(ctx, conv.ID, "u1", domain.MessagePage{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendDerivesReceiverAndPublishes(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")

	msg := f.send(t, conv.ID, "u2", "  hello ")
	assert.Equal(t, "u1", msg.ReceiverID)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.Read)
	assert.Nil(t, msg.ReadAt)

	assert.Equal(t, []domain.EventKind{domain.EventMessageInserted}, f.pub.kinds(domain.ConversationChannel(conv.ID)))
	assert.Equal(t,
		[]domain.EventKind{domain.EventConversationInserted, domain.EventMessageInserted, domain.EventConversationUpdated},
		f.pub.kinds(domain.UserChannel("u1")))
}

func TestMessageOrderingUnderConcurrentSenders(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := conv.Participants()[i%2]
			_, err := f.svc.Message.Send(context.Background(), conv.ID, sender, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := f.svc.Message.List(context.Background(), conv.ID, "u1", domain.MessagePage{Limit: 100})
	require.NoError(t, err)
	require.Len(t, msgs, 40)
	for i := 1; i < len(msgs); i++ {
		assert.Negative(t, domain.CompareMessages(msgs[i-1], msgs[i]))
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}
}

func TestListMessagesPaging(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")
	for i := 0; i < 5; i++ {
		f.send(t, conv.ID, "u1", fmt.Sprintf("m%d", i))
	}

	first, err := f.svc.Message.List(context.Background(), conv.ID, "u2", domain.MessagePage{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1"}, contents(first))

	next, err := f.svc.Message.List(context.Background(), conv.ID, "u2", domain.MessagePage{After: first[1].Seq, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, contents(next))

	_, err = f.svc.Message.List(context.Background(), conv.ID, "stranger", domain.MessagePage{})
	assert.ErrorIs(t, err, apperrors.ErrNotAParticipant)

	latest, err := f.svc.Message.Latest(context.Background(), conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "m4", latest.Content)
}

func TestLatestWithoutMessages(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")
	latest, err := f.svc.Message.Latest(context.Background(), conv.ID, "u1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestListMessagesRetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")
	f.send(t, conv.ID, "u1", "hi")

	f.store.FailNext(2, errors.New("connection reset"))
	msgs, err := f.svc.Message.List(context.Background(), conv.ID, "u2", domain.MessagePage{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, contents(msgs))

	f.store.FailNext(10, errors.New("connection reset"))
	_, err = f.svc.Message.List(context.Background(), conv.ID, "u2", domain.MessagePage{})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

// failingAppend роняет запись после того, как проверки уже прошли.
type failingAppend struct {
	repository.MessageRepository
	calls int
}

func (f *failingAppend) Append(context.Context, *domain.Message) ([]domain.Message, error) {
	f.calls++
	return nil, errors.New("connection reset by peer")
}

func TestSendIsNotRetried(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")
	repo := &failingAppend{MessageRepository: f.repos.Message}
	svc := NewMessageService(f.repos.Conversation, repo, nil, NopPublisher(), DefaultOptions(), logger.Nop())

	_, err := svc.Send(context.Background(), conv.ID, "u1", "hi")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Equal(t, 1, repo.calls)
}

func TestFailedSendKeepsRateBudget(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")
	opts := DefaultOptions()
	opts.SendRate = domain.RateLimitRule{Scope: domain.RateLimitScopeSend, Limit: 1, Window: time.Minute}
	limiter := NewRateLimitService(memory.NewRateLimitRepository(), logger.Nop())

	broken := NewMessageService(f.repos.Conversation, &failingAppend{MessageRepository: f.repos.Message}, limiter, NopPublisher(), opts, logger.Nop())
	for i := 0; i < 3; i++ {
		_, err := broken.Send(context.Background(), conv.ID, "u1", "hi")
		assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	}

	healthy := NewMessageService(f.repos.Conversation, f.repos.Message, limiter, NopPublisher(), opts, logger.Nop())
	_, err := healthy.Send(context.Background(), conv.ID, "u1", "hi")
	require.NoError(t, err)
	_, err = healthy.Send(context.Background(), conv.ID, "u1", "again")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestStoreTimeout(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.StoreTimeout = 20 * time.Millisecond
		o.ReadRetries = 0
	})
	conv := f.resolve(t, "u1", "u2")

	f.store.SetLatency(time.Second)
	_, err := f.svc.Message.Send(context.Background(), conv.ID, "u1", "hi")
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	_, err = f.svc.Aggregator.ListConversations(context.Background(), "u1", domain.DefaultListOptions())
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestSendRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.SendRate = domain.RateLimitRule{Scope: domain.RateLimitScopeSend, Limit: 2, Window: time.Minute}
	})
	conv := f.resolve(t, "u1", "u2")

	f.send(t, conv.ID, "u1", "1")
	f.send(t, conv.ID, "u1", "2")
	_, err := f.svc.Message.Send(context.Background(), conv.ID, "u1", "3")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	f.send(t, conv.ID, "u2", "other sender has own budget")
}

func TestUnreadAccountingAndReadIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.resolve(t, "a", "b")

	const k = 4
	for i := 0; i < k; i++ {
		f.send(t, conv.ID, "a", "ping")
	}

	n, err := f.svc.ReadState.UnreadCount(ctx, conv.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, k, n)
	n, err = f.svc.ReadState.UnreadCount(ctx, conv.ID, "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	updated, err := f.svc.ReadState.MarkConversationRead(ctx, conv.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, k, updated)

	n, err = f.svc.ReadState.UnreadCount(ctx, conv.ID, "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	updated, err = f.svc.ReadState.MarkConversationRead(ctx, conv.ID, "b")
	require.NoError(t, err)
	assert.Zero(t, updated)

	_, err = f.svc.ReadState.MarkConversationRead(ctx, conv.ID, "stranger")
	assert.ErrorIs(t, err, apperrors.ErrNotAParticipant)

	updates := 0
	for _, kind := range f.pub.kinds(domain.ConversationChannel(conv.ID)) {
		if kind == domain.EventMessageUpdated {
			updates++
		}
	}
	assert.Equal(t, k, updates)
}

func TestMarkSingleMessageRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.resolve(t, "a", "b")
	msg := f.send(t, conv.ID, "a", "hi")

	_, _, err := f.svc.ReadState.MarkRead(ctx, msg.ID, "a")
	assert.ErrorIs(t, err, apperrors.ErrNotAParticipant, "sender cannot mark own message")

	read, updated, err := f.svc.ReadState.MarkRead(ctx, msg.ID, "b")
	require.NoError(t, err)
	assert.True(t, updated)
	assert.True(t, read.Read)
	require.NotNil(t, read.ReadAt)

	again, updated, err := f.svc.ReadState.MarkRead(ctx, msg.ID, "b")
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, *read.ReadAt, *again.ReadAt)

	_, _, err = f.svc.ReadState.MarkRead(ctx, uuid.New(), "b")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTotalUnread(t *testing.T) {
	f := newFixture(t)
	c1 := f.resolve(t, "u1", "u2")
	c2 := f.resolve(t, "u3", "u1")
	f.send(t, c1.ID, "u2", "a")
	f.send(t, c1.ID, "u2", "b")
	f.send(t, c2.ID, "u1", "mine")
	f.send(t, c2.ID, "u3", "c")

	total, err := f.svc.ReadState.TotalUnread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestScenarioAliceAndBob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutProfile(domain.Profile{ID: "u2", Name: "Bob", Online: true})

	m1, err := f.svc.Resolver.Resolve(ctx, "u1", "u2", "u1")
	require.NoError(t, err)

	f.send(t, m1.ID, "u1", "hi")
	f.send(t, m1.ID, "u2", "hello")

	msgs, err := f.svc.Message.List(ctx, m1.ID, "u1", domain.MessagePage{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello"}, contents(msgs))

	n, err := f.svc.ReadState.UnreadCount(ctx, m1.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.svc.ReadState.UnreadCount(ctx, m1.ID, "u2")
	require.NoError(t, err)
	assert.Zero(t, n, "Bob's reply acknowledges Alice's hi")

	_, err = f.svc.ReadState.MarkConversationRead(ctx, m1.ID, "u1")
	require.NoError(t, err)
	n, err = f.svc.ReadState.UnreadCount(ctx, m1.ID, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	views, err := f.svc.Aggregator.ListConversations(ctx, "u1", domain.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, m1.ID, views[0].Conversation.ID)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, "hello", views[0].LastMessage.Content)
	assert.Equal(t, "Bob", views[0].OtherParticipant.Name)
	assert.Zero(t, views[0].UnreadCount)
}

func TestAggregatorOrderingAndPlaceholders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return clock })
	f.store.PutProfile(domain.Profile{ID: "carol", Name: "Carol"})
	f.store.PutProfile(domain.Profile{ID: "dave", Name: "Dave"})

	withCarol := f.resolve(t, "me", "carol")
	clock = clock.Add(time.Hour)
	withDave := f.resolve(t, "me", "dave")
	clock = clock.Add(time.Hour)
	withGhost := f.resolve(t, "ghost", "me")
	clock = clock.Add(time.Hour)
	f.send(t, withCarol.ID, "carol", "newest activity")

	views, err := f.svc.Aggregator.ListConversations(ctx, "me", domain.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []uuid.UUID{withCarol.ID, withGhost.ID, withDave.ID},
		[]uuid.UUID{views[0].Conversation.ID, views[1].Conversation.ID, views[2].Conversation.ID})
	assert.Equal(t, domain.UnknownProfileName, views[1].OtherParticipant.Name)
	assert.Nil(t, views[1].LastMessage)
	assert.Equal(t, 1, views[0].UnreadCount)

	unread, err := f.svc.Aggregator.ListConversations(ctx, "me", domain.ListOptions{Filter: domain.FilterUnread, Sort: domain.SortNewest})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, withCarol.ID, unread[0].Conversation.ID)

	search, err := f.svc.Aggregator.ListConversations(ctx, "me", domain.ListOptions{Filter: domain.FilterAll, Sort: domain.SortOldest, Query: "da"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, withDave.ID, search[0].Conversation.ID)

	empty, err := f.svc.Aggregator.ListConversations(ctx, "nobody", domain.DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.resolve(t, "u1", "u2")

	got, err := f.svc.Resolver.Get(context.Background(), conv.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = f.svc.Resolver.Get(context.Background(), conv.ID, "u3")
	assert.ErrorIs(t, err, apperrors.ErrNotAParticipant)

	_, err = f.svc.Resolver.Get(context.Background(), uuid.New(), "u1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
