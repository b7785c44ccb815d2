// Package events defines the typed event envelopes carried over the
// progress and chat push channels. The wire format is a flat
// {type, data, timestamp} JSON object per event.
package events

import (
	"encoding/json"
	"time"

	"github.com/AnshulParate2004/ChunkSmith/internal/models"
)

// Type tags one event on a push channel.
type Type string

const (
	// Shared across both channels.
	TypeConnected Type = "connected"
	TypeError     Type = "error"

	// Ingestion progress channel.
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"

	// Chat channel.
	TypeSearchStart    Type = "search_start"
	TypeSearchComplete Type = "search_complete"
	TypeImage          Type = "image"
	TypeImagesFound    Type = "images_found"
	TypeResponseStart  Type = "response_start"
	TypeContent        Type = "content"
	TypeChatComplete   Type = "complete"
	TypeEnd            Type = "end"
)

// Event is one envelope on a push channel.
type Event struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ProgressTerminal reports whether the event ends a progress stream.
func (e Event) ProgressTerminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// ChatTerminal reports whether the event ends a chat stream.
func (e Event) ChatTerminal() bool {
	return e.Type == TypeEnd || e.Type == TypeError
}

// ConnectedData confirms a subscription.
type ConnectedData struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	TurnID     string `json:"turn_id,omitempty"`
}

// ProgressData reports pipeline advancement.
type ProgressData struct {
	Status   string `json:"status"`
	Step     int    `json:"step"`
	StepName string `json:"step_name"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// CompleteData carries the job's structured result.
type CompleteData struct {
	Status   string            `json:"status"`
	Progress int               `json:"progress"`
	Message  string            `json:"message"`
	Result   *models.JobResult `json:"result"`
}

// ErrorData carries a human-readable failure message.
type ErrorData struct {
	Message string `json:"message"`
}

// SearchStartData announces retrieval for a turn.
type SearchStartData struct {
	Query   string `json:"query"`
	Message string `json:"message"`
}

// SearchCompleteData reports retrieval results.
type SearchCompleteData struct {
	ChunkCount int      `json:"chunks_count"`
	Sources    []string `json:"sources,omitempty"`
	Message    string   `json:"message"`
}

// ImageData delivers one inline image.
type ImageData struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// ImagesFoundData reports how many images the turn carries.
type ImagesFoundData struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// ContentData is one incremental unit of generated text.
type ContentData struct {
	Text string `json:"text"`
}

// ChatCompleteData closes out a finished turn.
type ChatCompleteData struct {
	Message       string            `json:"message"`
	ImagesShown   int               `json:"images_shown"`
	ContextChunks int               `json:"context_chunks"`
	Images        []models.ImageRef `json:"images,omitempty"`
}

// New wraps a payload into an envelope stamped with the current time.
func New(t Type, payload interface{}) Event {
	e := Event{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Data = data
		}
	}
	return e
}

// Decode unmarshals the event payload into out.
func (e Event) Decode(out interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}
