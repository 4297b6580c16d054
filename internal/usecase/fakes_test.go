package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/repository"
)

type mockGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	captured [][]domain.ChatTurn
}

func (m *mockGenerator) Generate(_ context.Context, turns []domain.ChatTurn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]domain.ChatTurn(nil), turns...)
	m.captured = append(m.captured, cp)
	return m.reply, m.err
}

func (m *mockGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captured)
}

func (m *mockGenerator) last() []domain.ChatTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captured) == 0 {
		return nil
	}
	return m.captured[len(m.captured)-1]
}

type mockTransport struct {
	mu    sync.Mutex
	ids   []string
	err   error
	sent  []string
	count int
}

func (m *mockTransport) SendText(_ context.Context, to, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	if m.err != nil {
		return "", m.err
	}
	id := fmt.Sprintf("wamid.OUT%d", m.count)
	if m.count < len(m.ids) {
		id = m.ids[m.count]
	}
	m.count++
	return id, nil
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("upstream status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

// failingStore wraps the in-memory store and fails selected operations.
type failingStore struct {
	*repository.MemoryClient
	findErr   error
	recentErr error
	createErr error
	saveErr   error
	statusErr error
}

func (f *failingStore) FindConversation(ctx context.Context, phone string) (domain.Conversation, bool, error) {
	if f.findErr != nil {
		return domain.Conversation{}, false, f.findErr
	}
	return f.MemoryClient.FindConversation(ctx, phone)
}

func (f *failingStore) RecentMessages(ctx context.Context, id string, limit int) ([]domain.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.MemoryClient.RecentMessages(ctx, id, limit)
}

func (f *failingStore) GetOrCreateConversation(ctx context.Context, phone string, origin domain.Origin) (domain.Conversation, bool, error) {
	if f.createErr != nil {
		return domain.Conversation{}, false, f.createErr
	}
	return f.MemoryClient.GetOrCreateConversation(ctx, phone, origin)
}

func (f *failingStore) SaveMessages(ctx context.Context, msgs ...domain.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryClient.SaveMessages(ctx, msgs...)
}

func (f *failingStore) SetDeliveryStatus(ctx context.Context, id string, s domain.DeliveryStatus) (bool, error) {
	if f.statusErr != nil {
		return false, f.statusErr
	}
	return f.MemoryClient.SetDeliveryStatus(ctx, id, s)
}

type recordingGuard struct {
	seen      map[string]bool
	err       error
	forgotten []string
}

func (g *recordingGuard) FirstSeen(_ context.Context, id string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen[id] {
		return false, nil
	}
	g.seen[id] = true
	return true, nil
}

func (g *recordingGuard) Forget(_ context.Context, id string) error {
	delete(g.seen, id)
	g.forgotten = append(g.forgotten, id)
	return nil
}

var errBoom = errors.New("boom")
