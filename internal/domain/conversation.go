package domain

import "time"

// Origin tags the channel a conversation started on.
type Origin string

const (
	OriginWhatsApp Origin = "whatsapp"
	OriginWeb      Origin = "web"
)

// Sender is the storage vocabulary for who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// DeliveryStatus is kept as a string because status callbacks are stored
// verbatim, including values outside the known set (e.g. "failed").
type DeliveryStatus string

const (
	StatusReceived  DeliveryStatus = "received"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Conversation is a single user's ongoing dialogue, keyed by normalized address.
type Conversation struct {
	ID        string
	UserPhone string
	Origin    Origin
	StartTime time.Time
}

// Message is a single persisted turn. Status and MetaMessageID are nil for
// records that predate delivery tracking or were never transmitted.
type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Content        string
	Timestamp      time.Time
	Status         *DeliveryStatus
	MetaMessageID  *string
}

// AppointmentStatus enumerates the lifecycle of a booked slot.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is part of the persisted schema but is not driven by the relay.
type Appointment struct {
	ID              string
	UserPhone       string
	AppointmentTime time.Time
	Status          AppointmentStatus
}

// StatusPtr returns a pointer to s, for optional Message fields.
func StatusPtr(s DeliveryStatus) *DeliveryStatus {
	return &s
}
