package conversation

import (
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// History is append-only; entries are never edited or reordered.
type History []Message

func (h *History) add(role Role, content string, at time.Time) {
	*h = append(*h, Message{
		Role:    role,
		Content: content,
		At:      at,
	})
}

// LatestUserText scans backward for the most recent user message.
// It returns "" when the user has not spoken yet.
func (h History) LatestUserText() string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleUser {
			return h[i].Content
		}
	}
	return ""
}

func (h History) Last() (Message, bool) {
	if len(h) == 0 {
		return Message{}, false
	}
	return h[len(h)-1], true
}
