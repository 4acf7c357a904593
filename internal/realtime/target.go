package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"matchchat/internal/domain"
)

// ErrStreamClosed - поток закрыт сервером без явной ошибки.
var ErrStreamClosed = errors.New("realtime: stream closed")

type TargetKind string

const (
	TargetConversation TargetKind = "conversation"
	TargetUser         TargetKind = "user"
)

// Target - то, за чем следит клиент: журнал одного матча или список матчей пользователя.
type Target struct {
	Kind           TargetKind
	ConversationID uuid.UUID
	UserID         string
}

func ConversationTarget(id uuid.UUID) Target {
	return Target{Kind: TargetConversation, ConversationID: id}
}

func UserTarget(userID string) Target {
	return Target{Kind: TargetUser, UserID: userID}
}

func (t Target) Channel() string {
	if t.Kind == TargetConversation {
		return domain.ConversationChannel(t.ConversationID)
	}
	return domain.UserChannel(t.UserID)
}

func (t Target) String() string { return t.Channel() }

// Snapshot - состояние цели после сверки или события.
type Snapshot struct {
	Target        Target
	Messages      []domain.Message
	Conversations []domain.ConversationView
}

// Fetcher делает полный запрос состояния: для poll и для сверки после переподключения.
type Fetcher interface {
	FetchMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
	FetchConversations(ctx context.Context, userID string) ([]domain.ConversationView, error)
}

func fetch(ctx context.Context, fetcher Fetcher, target Target) (Snapshot, error) {
	snap := Snapshot{Target: target}
	var err error
	switch target.Kind {
	case TargetConversation:
		snap.Messages, err = fetcher.FetchMessages(ctx, target.ConversationID)
	case TargetUser:
		snap.Conversations, err = fetcher.FetchConversations(ctx, target.UserID)
	default:
		err = fmt.Errorf("realtime: unknown target kind %q", target.Kind)
	}
	return snap, err
}

// Stream - открытая push-подписка.
type Stream interface {
	// Events закрывается при разрыве; причина - в Err.
	Events() <-chan domain.Event
	Err() error
	Close()
}

// Source открывает push-подписки для Feed.
type Source interface {
	Subscribe(ctx context.Context, target Target) (Stream, error)
}

// BrokerSource - источник поверх локального брокера (тот же процесс).
type BrokerSource struct {
	Broker *Broker
}

func (s BrokerSource) Subscribe(_ context.Context, target Target) (Stream, error) {
	return s.Broker.Subscribe(target.Channel())
}
