package repository

import (
	"time"

	"whatsapp-relay/internal/domain"
)

type conversationRecord struct {
	ID        string          `gorm:"type:varchar(36);primaryKey"`
	UserPhone string          `gorm:"type:varchar(30);uniqueIndex;not null"`
	StartTime time.Time       `gorm:"not null"`
	Origin    string          `gorm:"type:varchar(20);not null;default:'whatsapp'"`
	Messages  []messageRecord `gorm:"foreignKey:ConversationID"`
}

func (conversationRecord) TableName() string { return "conversations" }

type messageRecord struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	ConversationID string    `gorm:"type:varchar(36);not null;index:idx_messages_conversation_timestamp,priority:1"`
	Sender         string    `gorm:"type:varchar(10);not null"`
	Content        string    `gorm:"type:text;not null"`
	Timestamp      time.Time `gorm:"not null;index:idx_messages_conversation_timestamp,priority:2"`
	Status         *string   `gorm:"type:varchar(20)"`
	MetaMessageID  *string   `gorm:"type:varchar(128);uniqueIndex"`
}

func (messageRecord) TableName() string { return "messages" }

type appointmentRecord struct {
	ID              string    `gorm:"type:varchar(36);primaryKey"`
	UserPhone       string    `gorm:"type:varchar(30);not null;index"`
	AppointmentTime time.Time `gorm:"not null"`
	Status          string    `gorm:"type:varchar(20);not null;default:'pending'"`
}

func (appointmentRecord) TableName() string { return "appointments" }

func newConversationRecord(conv domain.Conversation) conversationRecord {
	return conversationRecord{
		ID:        conv.ID,
		UserPhone: conv.UserPhone,
		StartTime: conv.StartTime,
		Origin:    string(conv.Origin),
	}
}

func (r conversationRecord) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:        r.ID,
		UserPhone: r.UserPhone,
		Origin:    domain.Origin(r.Origin),
		StartTime: r.StartTime,
	}
}

func newMessageRecord(msg domain.Message) messageRecord {
	rec := messageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         string(msg.Sender),
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
	}
	if msg.Status != nil {
		status := string(*msg.Status)
		rec.Status = &status
	}
	if msg.MetaMessageID != nil && *msg.MetaMessageID != "" {
		metaID := *msg.MetaMessageID
		rec.MetaMessageID = &metaID
	}
	return rec
}

func (r messageRecord) toDomain() domain.Message {
	msg := domain.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Sender:         domain.Sender(r.Sender),
		Content:        r.Content,
		Timestamp:      r.Timestamp,
	}
	if r.Status != nil {
		msg.Status = domain.StatusPtr(domain.DeliveryStatus(*r.Status))
	}
	if r.MetaMessageID != nil {
		metaID := *r.MetaMessageID
		msg.MetaMessageID = &metaID
	}
	return msg
}
