package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "matchchat/pkg/errors"
)

// ConversationView - производная модель для списка матчей, не хранится.
type ConversationView struct {
	Conversation     Conversation `json:"conversation"`
	OtherParticipant Profile      `json:"other_participant"`
	LastMessage      *Message     `json:"last_message,omitempty"`
	UnreadCount      int          `json:"unread_count"`
}

// Activity = max(lastMessage.CreatedAt, conversation.CreatedAt).
func (v ConversationView) Activity() time.Time {
	if v.LastMessage != nil && v.LastMessage.CreatedAt.After(v.Conversation.CreatedAt) {
		return v.LastMessage.CreatedAt
	}
	return v.Conversation.CreatedAt
}

type ListFilter string

const (
	FilterAll    ListFilter = "all"
	FilterUnread ListFilter = "unread"
)

type ListSort string

const (
	SortNewest ListSort = "newest"
	SortOldest ListSort = "oldest"
)

// ListOptions - клиентские представления списка: фильтр, сортировка и
// поиск по имени собеседника. Чистые преобразования над агрегатом.
type ListOptions struct {
	Filter ListFilter
	Sort   ListSort
	Query  string
}

func DefaultListOptions() ListOptions {
	return ListOptions{Filter: FilterAll, Sort: SortNewest}
}

func ParseListOptions(filter, sort, query string) (ListOptions, error) {
	opts := DefaultListOptions()
	switch ListFilter(strings.ToLower(filter)) {
	case "", FilterAll:
	case FilterUnread:
		opts.Filter = FilterUnread
	default:
		return opts, apperrors.Wrap(apperrors.CodeBadRequest, fmt.Sprintf("unknown filter %q", filter), nil)
	}
	switch ListSort(strings.ToLower(sort)) {
	case "", SortNewest:
	case SortOldest:
		opts.Sort = SortOldest
	default:
		return opts, apperrors.Wrap(apperrors.CodeBadRequest, fmt.Sprintf("unknown sort %q", sort), nil)
	}
	opts.Query = strings.TrimSpace(query)
	return opts, nil
}

// SortViews сортирует по активности; при равенстве порядок задает ID матча.
func SortViews(views []ConversationView, order ListSort) {
	slices.SortStableFunc(views, func(a, b ConversationView) int {
		c := a.Activity().Compare(b.Activity())
		if order != SortOldest {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.Conversation.ID.String(), b.Conversation.ID.String())
	})
}

// Apply возвращает новый срез, исходный не меняется.
func (o ListOptions) Apply(views []ConversationView) []ConversationView {
	query := strings.ToLower(o.Query)
	out := make([]ConversationView, 0, len(views))
	for _, v := range views {
		if o.Filter == FilterUnread && v.UnreadCount == 0 {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(v.OtherParticipant.Name), query) {
			continue
		}
		out = append(out, v)
	}
	SortViews(out, o.Sort)
	return out
}

func TotalUnread(views []ConversationView) int {
	total := 0
	for _, v := range views {
		total += v.UnreadCount
	}
	return total
}
