package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/repository"
)

func seedConversation(t *testing.T, store *repository.MemoryClient, phone string, n int) domain.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, _, err := store.GetOrCreateConversation(ctx, phone, domain.OriginWhatsApp)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		sender := domain.SenderUser
		if i%2 == 1 {
			sender = domain.SenderBot
		}
		require.NoError(t, store.SaveMessages(ctx, repository.NewMessage(conv.ID, sender, fmt.Sprintf("m%02d", i))))
	}
	return conv
}

func TestNewMemory_Validation(t *testing.T) {
	_, err := NewMemory(nil, 10)
	require.Error(t, err)

	m, err := NewMemory(repository.NewMemory(), 0)
	require.NoError(t, err)
	require.Equal(t, defaultHistoryLimit, m.limit)
}

func TestMemory_Load_NoConversation(t *testing.T) {
	m, err := NewMemory(repository.NewMemory(), 10)
	require.NoError(t, err)

	turns, err := m.Load(context.Background(), "541122334455")
	require.NoError(t, err)
	require.NotNil(t, turns)
	require.Empty(t, turns)
}

func TestMemory_Load_FewerThanLimit(t *testing.T) {
	store := repository.NewMemory()
	seedConversation(t, store, "541122334455", 3)
	m, err := NewMemory(store, 10)
	require.NoError(t, err)

	turns, err := m.Load(context.Background(), "541122334455")
	require.NoError(t, err)
	require.Equal(t, []domain.ChatTurn{
		{Role: domain.RoleUser, Text: "m00"},
		{Role: domain.RoleModel, Text: "m01"},
		{Role: domain.RoleUser, Text: "m02"},
	}, turns)
}

func TestMemory_Load_WindowIsNewestTenChronological(t *testing.T) {
	store := repository.NewMemory()
	seedConversation(t, store, "541122334455", 14)
	m, err := NewMemory(store, 10)
	require.NoError(t, err)

	turns, err := m.Load(context.Background(), "541122334455")
	require.NoError(t, err)
	require.Len(t, turns, 10)
	require.Equal(t, "m04", turns[0].Text)
	require.Equal(t, domain.RoleUser, turns[0].Role)
	require.Equal(t, "m13", turns[9].Text)
	require.Equal(t, domain.RoleModel, turns[9].Role)
}

func TestMemory_Load_KeepsEveryStoredMessage(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()
	conv, _, err := store.GetOrCreateConversation(ctx, "541122334455", domain.OriginWhatsApp)
	require.NoError(t, err)
	require.NoError(t, store.SaveMessages(ctx,
		repository.NewMessage(conv.ID, domain.SenderUser, "hola"),
		repository.NewMessage(conv.ID, domain.SenderBot, "   "),
	))

	m, err := NewMemory(store, 10)
	require.NoError(t, err)
	turns, err := m.Load(ctx, "541122334455")
	require.NoError(t, err)
	require.Equal(t, []domain.ChatTurn{
		{Role: domain.RoleUser, Text: "hola"},
		{Role: domain.RoleModel, Text: "   "},
	}, turns)
}

func TestMemory_Load_StoreErrors(t *testing.T) {
	m, err := NewMemory(&failingStore{MemoryClient: repository.NewMemory(), findErr: errBoom}, 10)
	require.NoError(t, err)
	_, err = m.Load(context.Background(), "541122334455")
	require.ErrorIs(t, err, errBoom)

	store := repository.NewMemory()
	seedConversation(t, store, "541122334455", 1)
	m, err = NewMemory(&failingStore{MemoryClient: store, recentErr: errBoom}, 10)
	require.NoError(t, err)
	_, err = m.Load(context.Background(), "541122334455")
	require.ErrorIs(t, err, errBoom)
}
