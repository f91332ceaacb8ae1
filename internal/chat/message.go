package chat

import "errors"

// ErrEmptyInput is returned when a chat request carries neither a message
// string nor a messages list.
var ErrEmptyInput = errors.New("message or messages required")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat request body. Callers send either a single message
// string or a full role-tagged conversation; messages wins when both are set.
type Request struct {
	Message  string    `json:"message"`
	Messages []Message `json:"messages"`
}

// Normalize produces the canonical upstream message sequence: exactly one
// leading system turn carrying the persona directive, followed by the
// caller's turns in the order supplied. Role values are passed through
// unvalidated; the upstream API rejects anything it doesn't understand.
func Normalize(req Request, persona string) ([]Message, error) {
	var turns []Message
	switch {
	case len(req.Messages) > 0:
		turns = req.Messages
	case req.Message != "":
		turns = []Message{{Role: RoleUser, Content: req.Message}}
	default:
		return nil, ErrEmptyInput
	}

	out := make([]Message, 0, len(turns)+1)
	out = append(out, Message{Role: RoleSystem, Content: persona})
	return append(out, turns...), nil
}
