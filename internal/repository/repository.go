package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"whatsapp-relay/internal/domain"
)

// ReadWriter defines the conversation store operations consumed by the
// relay. DynamoDB, PostgreSQL and in-memory backends implement it.
type ReadWriter interface {
	// FindConversation looks a conversation up by normalized address.
	FindConversation(ctx context.Context, userPhone string) (domain.Conversation, bool, error)
	// GetOrCreateConversation returns the conversation for userPhone, creating
	// it when missing. At most one conversation exists per address even under
	// concurrent first contact; created reports whether this call inserted it.
	GetOrCreateConversation(ctx context.Context, userPhone string, origin domain.Origin) (conv domain.Conversation, created bool, err error)
	// RecentMessages returns up to limit of the newest messages in
	// chronological (oldest-first) order.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	// SaveMessages persists all msgs in one atomic write.
	SaveMessages(ctx context.Context, msgs ...domain.Message) error
	// SetDeliveryStatus overwrites the status of the message carrying
	// metaMessageID. It reports false, without error, when no message matches.
	SetDeliveryStatus(ctx context.Context, metaMessageID string, status domain.DeliveryStatus) (bool, error)
	Ping(ctx context.Context) error
}

var (
	newID = func() string { return uuid.NewString() }
	now   = func() time.Time { return time.Now().UTC() }
)

// NewConversation constructs a Conversation with a generated id and the
// current UTC start time.
func NewConversation(userPhone string, origin domain.Origin) domain.Conversation {
	if strings.TrimSpace(string(origin)) == "" {
		origin = domain.OriginWhatsApp
	}
	return domain.Conversation{
		ID:        newID(),
		UserPhone: userPhone,
		Origin:    origin,
		StartTime: now(),
	}
}

// NewMessage constructs a Message stamped with a generated id and the current
// UTC time. Status and MetaMessageID are left unset.
func NewMessage(conversationID string, sender domain.Sender, content string) domain.Message {
	return domain.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Timestamp:      now(),
	}
}

func reverseMessages(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
