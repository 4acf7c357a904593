package realtime

import (
	"context"

	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/service"
)

// ServiceFetcher - Fetcher поверх сервисов того же процесса.
type ServiceFetcher struct {
	Messages   service.MessageService
	Aggregator service.AggregatorService
	ViewerID   string
}

func (f ServiceFetcher) FetchMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	var all []domain.Message
	page := domain.MessagePage{Limit: domain.MaxMessagePageSize}
	for {
		messages, err := f.Messages.List(ctx, conversationID, f.ViewerID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, messages...)
		if len(messages) < page.Limit {
			return all, nil
		}
		page.After = messages[len(messages)-1].Seq
	}
}

func (f ServiceFetcher) FetchConversations(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	return f.Aggregator.ListConversations(ctx, userID, domain.DefaultListOptions())
}
