package usecase

import (
	"strings"

	"whatsapp-relay/internal/domain"
)

// buildTurns appends the user's text to history. On a first contact the
// persona preamble is folded into that single user turn.
func buildTurns(persona string, history []domain.ChatTurn, text string) []domain.ChatTurn {
	turns := make([]domain.ChatTurn, 0, len(history)+1)
	turns = append(turns, history...)

	content := strings.TrimSpace(text)
	if len(history) == 0 {
		if p := strings.TrimSpace(persona); p != "" {
			content = p + "\n\nUsuario: " + content
		}
	}
	return append(turns, domain.ChatTurn{Role: domain.RoleUser, Text: content})
}

func roleForSender(s domain.Sender) domain.Role {
	if s == domain.SenderBot {
		return domain.RoleModel
	}
	return domain.RoleUser
}
