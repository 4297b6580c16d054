package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"whatsapp-relay/internal/domain"
)

// MemoryClient is a process-local ReadWriter. Nothing survives a restart;
// it backs the non-persistent mode used when no database is configured.
type MemoryClient struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation // by user phone
	messages      map[string][]domain.Message    // by conversation id
	byMetaID      map[string]messageRef
}

type messageRef struct {
	conversationID string
	index          int
}

var _ ReadWriter = (*MemoryClient)(nil)

func NewMemory() *MemoryClient {
	return &MemoryClient{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		byMetaID:      make(map[string]messageRef),
	}
}

func (m *MemoryClient) FindConversation(_ context.Context, userPhone string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[userPhone]
	return conv, ok, nil
}

func (m *MemoryClient) GetOrCreateConversation(_ context.Context, userPhone string, origin domain.Origin) (domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.conversations[userPhone]; ok {
		return conv, false, nil
	}
	conv := NewConversation(userPhone, origin)
	m.conversations[userPhone] = conv
	return conv, true, nil
}

func (m *MemoryClient) RecentMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	all := make([]domain.Message, len(m.messages[conversationID]))
	copy(all, m.messages[conversationID])
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *MemoryClient) SaveMessages(_ context.Context, msgs ...domain.Message) error {
	for _, msg := range msgs {
		if msg.ID == "" || msg.ConversationID == "" {
			return errors.New("repository: SaveMessages: message id and conversation id are required")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		list := append(m.messages[msg.ConversationID], msg)
		m.messages[msg.ConversationID] = list
		if msg.MetaMessageID != nil && *msg.MetaMessageID != "" {
			m.byMetaID[*msg.MetaMessageID] = messageRef{conversationID: msg.ConversationID, index: len(list) - 1}
		}
	}
	return nil
}

func (m *MemoryClient) SetDeliveryStatus(_ context.Context, metaMessageID string, status domain.DeliveryStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.byMetaID[metaMessageID]
	if !ok {
		return false, nil
	}
	m.messages[ref.conversationID][ref.index].Status = domain.StatusPtr(status)
	return true, nil
}

func (m *MemoryClient) Ping(context.Context) error { return nil }

// Messages returns a copy of every message stored for conversationID in
// insertion order.
func (m *MemoryClient) Messages(conversationID string) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Message, len(m.messages[conversationID]))
	copy(out, m.messages[conversationID])
	return out
}

// ConversationCount reports how many conversations are stored.
func (m *MemoryClient) ConversationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}
