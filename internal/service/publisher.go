package service

import (
	"context"

	"matchchat/internal/domain"
)

// Publisher получает события об изменениях после успешной записи.
// Реализуется realtime.Broker.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event, channels ...string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event, ...string) {}

func NopPublisher() Publisher { return nopPublisher{} }

func userChannels(conv *domain.Conversation) []string {
	return []string{
		domain.UserChannel(conv.ParticipantLow),
		domain.UserChannel(conv.ParticipantHigh),
	}
}
