package webhook

import "fmt"

// Lane is the classification of an inbound webhook payload.
type Lane string

const (
	LaneUnknown Lane = "unknown"
	LaneMessage Lane = "message"
	LaneStatus  Lane = "status"
	LaneDirect  Lane = "direct"
)

// Payload is the result of a successful Parse. The concrete type is one of
// *PlatformNotification or *DirectMessage.
type Payload interface {
	Lane() Lane
}

// InboundMessage is a validated text message from the platform.
type InboundMessage struct {
	ID   string
	From string
	Text string
}

// StatusUpdate is a delivery-status callback for a message we sent.
type StatusUpdate struct {
	MetaMessageID string
	Status        string
	RecipientID   string
}

// PlatformNotification carries every usable item found in a Cloud API
// envelope. Items that failed validation are described in Skipped.
type PlatformNotification struct {
	Messages []InboundMessage
	Statuses []StatusUpdate
	Skipped  []string
}

// Lane reports LaneMessage when any message is present; statuses that share
// an envelope with messages are still processed by the dispatcher.
func (p *PlatformNotification) Lane() Lane {
	if len(p.Messages) > 0 {
		return LaneMessage
	}
	return LaneStatus
}

// DirectMessage is a first-party chat request, e.g. from the web client.
type DirectMessage struct {
	UserPhone string
	Message   string
	Origin    string
}

func (d *DirectMessage) Lane() Lane { return LaneDirect }

// ParseError describes a payload that could not be turned into a Payload.
// Lane is the best guess of what the sender intended, so the caller can
// choose between acknowledging and reporting an error.
type ParseError struct {
	Lane   Lane
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("webhook: %s payload: %s", e.Lane, e.Reason)
	}
	return fmt.Sprintf("webhook: %s payload: %s: %v", e.Lane, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
