// README: Assistant conversation model.
package assistant

import "time"

// Turn is one exchange in a conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// Session is the per-conversation state. It lives in Redis keyed by session
// id so conversations survive process restarts.
type Session struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// maxTurns bounds the transcript carried into each model call.
const maxTurns = 20
