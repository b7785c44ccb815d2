package models

import (
	"time"
)

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message within a chat session. Assistant turns accumulate
// text while streaming and become immutable once finalized.
type Turn struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Images    []ImageRef `json:"images,omitempty"`
	Finalized bool       `json:"finalized"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ChatSession binds a conversation to a processed document.
type ChatSession struct {
	ID         string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	Turns      []*Turn   `json:"turns,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RetrievedChunk is what the external retriever hands back for a query.
type RetrievedChunk struct {
	Content     string     `json:"content"`
	Summary     string     `json:"ai_summary,omitempty"`
	Source      string     `json:"source,omitempty"`
	PageNumbers []int      `json:"page_numbers,omitempty"`
	Images      []ImageRef `json:"images,omitempty"`
	Score       float64    `json:"score,omitempty"`
}
