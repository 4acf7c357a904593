package repository

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"matchchat/internal/domain"
	"matchchat/pkg/logger"
)

var (
	testPool  *pgxpool.Pool
	testRedis *redis.Client
	testLog   = logger.Nop()
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("matchchat"),
		postgres.WithUsername("chat"),
		postgres.WithPassword("chat"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Printf("failed to start postgres container, integration tests skipped: %s", err)
		os.Exit(m.Run())
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("failed to get connection string: %v", err)
	}
	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	if err := EnsureSchema(ctx, testPool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		log.Printf("failed to start redis container, cache tests skipped: %s", err)
	} else {
		endpoint, err := redisContainer.Endpoint(ctx, "")
		if err != nil {
			log.Fatalf("failed to get redis endpoint: %v", err)
		}
		testRedis = redis.NewClient(&redis.Options{Addr: endpoint})
	}

	code := m.Run()

	testPool.Close()
	if testRedis != nil {
		testRedis.Close()
		_ = redisContainer.Terminate(ctx)
	}
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testPool == nil {
		t.Skip("postgres is not available")
	}
	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(), `TRUNCATE TABLE messages, matches, profiles RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
	})
}

func newConversation(t *testing.T, repo ConversationRepository, a, b string) *domain.Conversation {
	t.Helper()
	low, high, err := domain.CanonicalPair(a, b)
	require.NoError(t, err)
	conv := &domain.Conversation{
		ID: uuid.New(), ParticipantLow: low, ParticipantHigh: high,
		InitiatedBy: a, Status: domain.ConversationAccepted,
	}
	created, err := repo.CreateIfAbsent(context.Background(), conv)
	require.NoError(t, err)
	require.True(t, created)
	return conv
}

func TestConversationCreateIfAbsent(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := NewConversationRepository(testPool, testLog)

	conv := newConversation(t, repo, "u2", "u1")
	assert.False(t, conv.CreatedAt.IsZero())

	dup := &domain.Conversation{
		ID: uuid.New(), ParticipantLow: "u1", ParticipantHigh: "u2",
		InitiatedBy: "u2", Status: domain.ConversationAccepted,
	}
	created, err := repo.CreateIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.GetByPair(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "u2", got.InitiatedBy)

	_, err = repo.GetByPair(ctx, "u1", "u3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationRejectsUnorderedPair(t *testing.T) {
	requireDB(t)
	repo := NewConversationRepository(testPool, testLog)

	_, err := repo.CreateIfAbsent(context.Background(), &domain.Conversation{
		ID: uuid.New(), ParticipantLow: "b", ParticipantHigh: "a",
		InitiatedBy: "a", Status: domain.ConversationAccepted,
	})
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestConversationPairOrderIsBytewise(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := NewConversationRepository(testPool, testLog)

	// Под en_US "alice" < "Bob", побайтно наоборот; порядок обязан совпадать с CanonicalPair.
	conv := newConversation(t, repo, "alice", "Bob")
	assert.Equal(t, "Bob", conv.ParticipantLow)

	got, err := repo.GetByPair(ctx, "Bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	rows, err := testPool.Query(ctx, `
		SELECT column_name::text, COALESCE(collation_name::text, '') FROM information_schema.columns
		WHERE table_name IN ('matches', 'messages')
		  AND column_name IN ('user_a', 'user_b', 'initiated_by', 'sender_id', 'receiver_id')`)
	require.NoError(t, err)
	collations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var column, collation string
		err := row.Scan(&column, &collation)
		return column + "=" + collation, err
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"user_a=C", "user_b=C", "initiated_by=C", "sender_id=C", "receiver_id=C",
	}, collations)
}

func TestConversationConcurrentCreate(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := NewConversationRepository(testPool, testLog)

	const workers = 16
	var wg sync.WaitGroup
	createdCount := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := repo.CreateIfAbsent(ctx, &domain.Conversation{
				ID: uuid.New(), ParticipantLow: "a", ParticipantHigh: "b",
				InitiatedBy: "a", Status: domain.ConversationAccepted,
			})
			assert.NoError(t, err)
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	n := 0
	for created := range createdCount {
		if created {
			n++
		}
	}
	assert.Equal(t, 1, n)

	var rows int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT COUNT(*) FROM matches WHERE user_a = 'a' AND user_b = 'b'`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestMessageAppendAndList(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	convs := NewConversationRepository(testPool, testLog)
	msgs := NewMessageRepository(testPool, testLog)
	conv := newConversation(t, convs, "u1", "u2")

	for i, sender := range []string{"u1", "u2", "u1"} {
		receiver, _ := conv.OtherParticipant(sender)
		msg := &domain.Message{ConversationID: conv.ID, SenderID: sender, ReceiverID: receiver, Content: fmt.Sprintf("m%d", i)}
		_, err := msgs.Append(ctx, msg)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, msg.ID)
		assert.NotZero(t, msg.Seq)
	}

	list, err := msgs.List(ctx, conv.ID, domain.MessagePage{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := range list {
		assert.Equal(t, fmt.Sprintf("m%d", i), list[i].Content)
		if i > 0 {
			assert.False(t, list[i].CreatedAt.Before(list[i-1].CreatedAt))
		}
	}

	page, err := msgs.List(ctx, conv.ID, domain.MessagePage{After: list[0].Seq, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m1", page[0].Content)

	latest, err := msgs.Latest(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "m2", latest.Content)

	touched, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, touched.UpdatedAt.Equal(latest.CreatedAt))
}

func TestMessageAppendUnknownConversation(t *testing.T) {
	requireDB(t)
	msgs := NewMessageRepository(testPool, testLog)

	_, err := msgs.Append(context.Background(), &domain.Message{
		ConversationID: uuid.New(), SenderID: "a", ReceiverID: "b", Content: "x",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageConcurrentAppendKeepsOrder(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	convs := NewConversationRepository(testPool, testLog)
	msgs := NewMessageRepository(testPool, testLog)
	conv := newConversation(t, convs, "u1", "u2")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := conv.Participants()[i%2]
			receiver, _ := conv.OtherParticipant(sender)
			_, err := msgs.Append(ctx, &domain.Message{
				ConversationID: conv.ID, SenderID: sender, ReceiverID: receiver, Content: fmt.Sprintf("c%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := msgs.List(ctx, conv.ID, domain.MessagePage{Limit: 100})
	require.NoError(t, err)
	require.Len(t, list, 20)
	for i := 1; i < len(list); i++ {
		assert.Greater(t, list[i].Seq, list[i-1].Seq)
		assert.False(t, list[i].CreatedAt.Before(list[i-1].CreatedAt))
	}
}

func TestMarkReadAndUnreadCounts(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	convs := NewConversationRepository(testPool, testLog)
	msgs := NewMessageRepository(testPool, testLog)
	conv := newConversation(t, convs, "u1", "u2")
	other := newConversation(t, convs, "u1", "u3")

	var first *domain.Message
	for i := 0; i < 3; i++ {
		msg := &domain.Message{ConversationID: conv.ID, SenderID: "u1", ReceiverID: "u2", Content: "hi"}
		_, err := msgs.Append(ctx, msg)
		require.NoError(t, err)
		if first == nil {
			first = msg
		}
	}
	_, err := msgs.Append(ctx, &domain.Message{ConversationID: other.ID, SenderID: "u3", ReceiverID: "u1", Content: "yo"})
	require.NoError(t, err)

	counts, err := msgs.UnreadCounts(ctx, []uuid.UUID{conv.ID, other.ID}, "u2")
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{conv.ID: 3}, counts)

	marked, flipped, err := msgs.MarkRead(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, flipped)
	assert.True(t, marked.Read)
	require.NotNil(t, marked.ReadAt)

	_, flipped, err = msgs.MarkRead(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	read, err := msgs.MarkConversationRead(ctx, conv.ID, "u2")
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.True(t, read[0].ReadAt.Equal(*read[1].ReadAt))

	again, err := msgs.MarkConversationRead(ctx, conv.ID, "u2")
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := msgs.UnreadCount(ctx, conv.ID, "u2")
	require.NoError(t, err)
	assert.Zero(t, n)

	latest, err := msgs.LatestByConversations(ctx, []uuid.UUID{conv.ID, other.ID})
	require.NoError(t, err)
	assert.Equal(t, "yo", latest[other.ID].Content)
	assert.Len(t, latest, 2)

	_, _, err = msgs.MarkRead(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendAcksInboundMessages(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	convs := NewConversationRepository(testPool, testLog)
	msgs := NewMessageRepository(testPool, testLog)
	conv := newConversation(t, convs, "u1", "u2")

	for i := 0; i < 2; i++ {
		acked, err := msgs.Append(ctx, &domain.Message{ConversationID: conv.ID, SenderID: "u1", ReceiverID: "u2", Content: "hi"})
		require.NoError(t, err)
		assert.Empty(t, acked)
	}

	acked, err := msgs.Append(ctx, &domain.Message{ConversationID: conv.ID, SenderID: "u2", ReceiverID: "u1", Content: "hello"})
	require.NoError(t, err)
	require.Len(t, acked, 2)
	assert.True(t, acked[0].Read)

	n, err := msgs.UnreadCount(ctx, conv.ID, "u2")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = msgs.UnreadCount(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func seedProfile(t *testing.T, id, name string) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `INSERT INTO profiles (id, name, online) VALUES ($1, $2, TRUE)`, id, name)
	require.NoError(t, err)
}

func TestProfileRepositoryAndCache(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	seedProfile(t, "u1", "Alice")

	base := NewProfileRepository(testPool, testLog)
	got, err := base.GetByIDs(ctx, []string{"u1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["u1"].Name)
	assert.True(t, got["u1"].Online)
	_, ok := got["ghost"]
	assert.False(t, ok)

	if testRedis == nil {
		t.Skip("redis is not available")
	}
	cached := NewCachedProfileRepository(base, testRedis, time.Minute, testLog)
	t.Cleanup(func() { testRedis.FlushAll(context.Background()) })

	got, err = cached.GetByIDs(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["u1"].Name)

	// Кеш отдает старый снимок до истечения TTL.
	_, err = testPool.Exec(ctx, `UPDATE profiles SET name = 'Alicia' WHERE id = 'u1'`)
	require.NoError(t, err)
	got, err = cached.GetByIDs(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["u1"].Name)
}

func TestRateLimitIncrement(t *testing.T) {
	if testRedis == nil {
		t.Skip("redis is not available")
	}
	ctx := context.Background()
	t.Cleanup(func() { testRedis.FlushAll(context.Background()) })

	repo := NewRateLimitRepository(testRedis, testLog)
	for want := int64(1); want <= 3; want++ {
		got, err := repo.Increment(ctx, "ratelimit:send:u1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	ttl, err := testRedis.TTL(ctx, "ratelimit:send:u1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, repo.Decrement(ctx, "ratelimit:send:u1"))
	got, err := repo.Increment(ctx, "ratelimit:send:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	// Истекший ключ не воскресает без TTL.
	require.NoError(t, repo.Decrement(ctx, "ratelimit:send:gone"))
	exists, err := testRedis.Exists(ctx, "ratelimit:send:gone").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements()
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
	assert.Contains(t, stmts[1], `user_a       TEXT COLLATE "C"`)
}
