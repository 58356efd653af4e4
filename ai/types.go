package ai

// MessageRole identifies the author of a generation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry of a generation request.
type Message struct {
	Role    MessageRole
	Content string
}

// SystemMessage is shorthand for a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is shorthand for a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}
