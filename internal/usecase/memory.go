package usecase

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-relay/internal/domain"
)

const defaultHistoryLimit = 10

type HistoryReader interface {
	FindConversation(ctx context.Context, userPhone string) (domain.Conversation, bool, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// Memory rebuilds the bounded dialogue window for an address.
type Memory struct {
	store HistoryReader
	limit int
}

func NewMemory(store HistoryReader, limit int) (*Memory, error) {
	if store == nil {
		return nil, errors.New("usecase: history reader must not be nil")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Memory{store: store, limit: limit}, nil
}

// Load returns the newest messages of userPhone's conversation as turns,
// oldest first. An unknown address yields an empty history.
func (m *Memory) Load(ctx context.Context, userPhone string) ([]domain.ChatTurn, error) {
	conv, ok, err := m.store.FindConversation(ctx, userPhone)
	if err != nil {
		return nil, fmt.Errorf("usecase: load history: %w", err)
	}
	if !ok {
		return []domain.ChatTurn{}, nil
	}

	msgs, err := m.store.RecentMessages(ctx, conv.ID, m.limit)
	if err != nil {
		return nil, fmt.Errorf("usecase: load history: %w", err)
	}

	turns := make([]domain.ChatTurn, 0, len(msgs))
	for _, msg := range msgs {
		turns = append(turns, domain.ChatTurn{Role: roleForSender(msg.Sender), Text: msg.Content})
	}
	return turns, nil
}
