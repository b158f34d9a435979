// Package prompt assembles the message list sent to the Completion
// Provider: the rendered system prompt, an optional RAG context block, a
// bounded window of recent conversation history, and the current user
// message.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/romanbabin/convogate/internal/domain"
)

// Message is one entry in the prompt sent to the Completion Provider.
type Message struct {
	Role    domain.Role
	Content string
}

// SystemPromptData is the data available to the configured system prompt
// template.
type SystemPromptData struct {
	HasContext bool
}

// Builder holds the parsed system prompt template, renders it on every
// BuildTurn call, and assembles full turns from it.
type Builder struct {
	tmpl *template.Template
}

// New parses systemPromptText as a text/template. An empty or
// template-free string (no "{{") is accepted as a literal prompt.
func New(systemPromptText string) (*Builder, error) {
	tmpl, err := template.New("system").Parse(systemPromptText)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt template: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// renderSystemPrompt executes the system prompt template against data.
func (b *Builder) renderSystemPrompt(data SystemPromptData) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

// BuildTurn assembles the full message list for one chat turn:
// [systemPrompt, contextBlock?, ...history (most recent window messages),
// userMessage]. history is expected already ordered oldest-first and
// pre-trimmed to the conversation window by the caller.
func (b *Builder) BuildTurn(contextBlock string, history []domain.Message, userText string) ([]Message, error) {
	systemPrompt, err := b.renderSystemPrompt(SystemPromptData{HasContext: contextBlock != ""})
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(history)+3)
	messages = append(messages, Message{Role: domain.RoleSystem, Content: systemPrompt})

	if contextBlock != "" {
		messages = append(messages, Message{Role: domain.RoleSystem, Content: "Relevant information:\n" + contextBlock})
	}

	for _, m := range history {
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}

	messages = append(messages, Message{Role: domain.RoleUser, Content: userText})
	return messages, nil
}

// Window returns the most recent n messages from history, oldest first,
// implementing the conversation-window clamp (default N=20).
func Window(history []domain.Message, n int) []domain.Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
