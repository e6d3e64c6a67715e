package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a message role is neither user nor assistant.
var ErrUnknownRole = errors.New("unknown message role")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem only appears in prompts sent to the chat model, never in a transcript.
	RoleSystem Role = "system"
)

// Valid reports whether r may appear in a transcript.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole maps a raw role string onto a transcript role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return r, nil
}

// Message is one transcript entry. Messages decoded from a host keep whatever
// role they arrived with so the raw log is preserved; NewMessage validates.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage builds a transcript entry, rejecting unknown roles.
func NewMessage(role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return Message{Role: role, Content: content}, nil
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
