package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/domain"
)

func withClock(t *testing.T, start time.Time) {
	t.Helper()
	prev := now
	current := start
	now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}
	t.Cleanup(func() { now = prev })
}

func TestMemory_GetOrCreateConversation_OncePerAddress(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, created, err := m.GetOrCreateConversation(ctx, "541122334455", domain.OriginWhatsApp)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := m.GetOrCreateConversation(ctx, "541122334455", domain.OriginWeb)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first, second)
	require.Equal(t, domain.OriginWhatsApp, second.Origin)
}

func TestMemory_GetOrCreateConversation_Concurrent(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, _, err := m.GetOrCreateConversation(context.Background(), "541122334455", domain.OriginWhatsApp)
			if err == nil {
				ids <- conv.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	require.Len(t, seen, 1)
	require.Equal(t, 1, m.ConversationCount())
}

func TestMemory_NewConversationDefaultsOrigin(t *testing.T) {
	m := NewMemory()
	conv, _, err := m.GetOrCreateConversation(context.Background(), "541122334455", "")
	require.NoError(t, err)
	require.Equal(t, domain.OriginWhatsApp, conv.Origin)
}

func TestMemory_RecentMessages_WindowIsNewestChronological(t *testing.T) {
	withClock(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, m.SaveMessages(ctx, NewMessage("conv", domain.SenderUser, fmt.Sprintf("m%02d", i))))
	}

	msgs, err := m.RecentMessages(ctx, "conv", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	require.Equal(t, "m02", msgs[0].Content)
	require.Equal(t, "m11", msgs[9].Content)

	msgs, err = m.RecentMessages(ctx, "missing", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMemory_SetDeliveryStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	bot := NewMessage("conv", domain.SenderBot, "reply")
	bot.Status = domain.StatusPtr(domain.StatusSent)
	bot.MetaMessageID = aStr("wamid.OUT")
	require.NoError(t, m.SaveMessages(ctx, NewMessage("conv", domain.SenderUser, "hi"), bot))

	found, err := m.SetDeliveryStatus(ctx, "wamid.UNKNOWN", domain.StatusRead)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, domain.StatusSent, *m.Messages("conv")[1].Status)

	found, err = m.SetDeliveryStatus(ctx, "wamid.OUT", domain.StatusRead)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.StatusRead, *m.Messages("conv")[1].Status)
	require.Nil(t, m.Messages("conv")[0].Status)
}

func TestMemory_SaveMessages_RejectsIncomplete(t *testing.T) {
	m := NewMemory()
	err := m.SaveMessages(context.Background(), NewMessage("conv", domain.SenderUser, "ok"), domain.Message{ID: "x"})
	require.Error(t, err)
	require.Empty(t, m.Messages("conv"))
}
