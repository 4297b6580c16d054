package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const messageTypeText = "text"

var validate = validator.New()

// envelope mirrors the WhatsApp Cloud API notification shape:
// {"object":..., "entry":[{"changes":[{"value":{"messages":[...]|"statuses":[...]}}]}]}
type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	MessagingProduct string          `json:"messaging_product"`
	Messages         []platformMsg   `json:"messages"`
	Statuses         []platformState `json:"statuses"`
}

type platformMsg struct {
	ID   string    `json:"id" validate:"required"`
	From string    `json:"from" validate:"required"`
	Type string    `json:"type"`
	Text *textBody `json:"text" validate:"required"`
}

type textBody struct {
	Body string `json:"body" validate:"required"`
}

type platformState struct {
	ID          string `json:"id" validate:"required"`
	Status      string `json:"status" validate:"required"`
	RecipientID string `json:"recipient_id"`
}

type directRequest struct {
	UserPhone string `json:"user_phone" validate:"required"`
	Message   string `json:"message" validate:"required"`
	Origin    string `json:"origin"`
}

// Parse classifies body into exactly one lane and decodes it into a typed
// Payload. Shape problems are reported once, here, as a *ParseError.
func Parse(body []byte) (Payload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &ParseError{Lane: LaneUnknown, Reason: "invalid_json", Err: err}
	}

	_, hasEntry := probe["entry"]
	_, hasObject := probe["object"]
	if hasEntry || hasObject {
		return parsePlatform(body)
	}

	_, hasPhone := probe["user_phone"]
	_, hasMessage := probe["message"]
	if hasPhone || hasMessage {
		return parseDirect(body)
	}

	return nil, &ParseError{Lane: LaneUnknown, Reason: "unrecognized_shape"}
}

func parsePlatform(body []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ParseError{Lane: LaneMessage, Reason: "invalid_envelope", Err: err}
	}

	out := &PlatformNotification{}
	for i, e := range env.Entry {
		for j, c := range e.Changes {
			for k, m := range c.Value.Messages {
				msg, reason := toInboundMessage(m)
				if reason != "" {
					out.Skipped = append(out.Skipped, fmt.Sprintf("entry[%d].changes[%d].messages[%d]: %s", i, j, k, reason))
					continue
				}
				out.Messages = append(out.Messages, msg)
			}
			for k, s := range c.Value.Statuses {
				if err := validate.Struct(s); err != nil {
					out.Skipped = append(out.Skipped, fmt.Sprintf("entry[%d].changes[%d].statuses[%d]: %v", i, j, k, err))
					continue
				}
				out.Statuses = append(out.Statuses, StatusUpdate{
					MetaMessageID: strings.TrimSpace(s.ID),
					Status:        strings.TrimSpace(s.Status),
					RecipientID:   NormalizeAddress(s.RecipientID),
				})
			}
		}
	}

	if len(out.Messages) == 0 && len(out.Statuses) == 0 {
		reason := "no_messages_or_statuses"
		if len(out.Skipped) > 0 {
			reason = "no_usable_items: " + strings.Join(out.Skipped, "; ")
		}
		return nil, &ParseError{Lane: LaneMessage, Reason: reason}
	}
	return out, nil
}

func toInboundMessage(m platformMsg) (InboundMessage, string) {
	if m.Type != "" && m.Type != messageTypeText {
		return InboundMessage{}, "unsupported message type " + m.Type
	}
	if err := validate.Struct(m); err != nil {
		return InboundMessage{}, err.Error()
	}
	text := strings.TrimSpace(m.Text.Body)
	if text == "" {
		return InboundMessage{}, "empty text body"
	}
	return InboundMessage{
		ID:   strings.TrimSpace(m.ID),
		From: NormalizeAddress(m.From),
		Text: text,
	}, ""
}

func parseDirect(body []byte) (Payload, error) {
	var req directRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &ParseError{Lane: LaneDirect, Reason: "invalid_body", Err: err}
	}
	req.UserPhone = NormalizeAddress(req.UserPhone)
	req.Message = strings.TrimSpace(req.Message)
	req.Origin = strings.TrimSpace(req.Origin)
	if err := validate.Struct(req); err != nil {
		return nil, &ParseError{Lane: LaneDirect, Reason: "missing_fields", Err: err}
	}
	return &DirectMessage{
		UserPhone: req.UserPhone,
		Message:   req.Message,
		Origin:    req.Origin,
	}, nil
}
