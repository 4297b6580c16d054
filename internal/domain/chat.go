package domain

// Role is the speaker vocabulary used by the generation backends.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatTurn is the provider-agnostic turn shape handed to generation
// integrations. Integrations map RoleModel to their own assistant role.
type ChatTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
