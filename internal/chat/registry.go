package chat

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

var (
	ErrUnknownSession = errors.New("unknown chat session")
	ErrUnknownTurn    = errors.New("unknown turn")
)

// Session is a live conversation bound to one processed document.
type Session struct {
	mu       sync.Mutex
	ID       string
	Document *models.ProcessedDocument
	turns    []*models.Turn
	emitters map[string]*Emitter
	created  time.Time
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID         string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	TurnCount  int       `json:"turn_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Registry holds chat sessions in memory.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.Named("chat"),
	}
}

// Create opens a session over a completed document.
func (r *Registry) Create(doc *models.ProcessedDocument) *Session {
	s := &Session{
		ID:       uuid.New().String(),
		Document: doc,
		emitters: make(map[string]*Emitter),
		created:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.log.Info("chat session created",
		logger.String("session_id", s.ID),
		logger.String("document_id", doc.DocumentID))
	return s
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return s, nil
}

// Delete removes the session entirely.
func (r *Registry) Delete(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	delete(r.sessions, sessionID)
	return nil
}

// List returns summaries of all sessions, newest first.
func (r *Registry) List() []SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.mu.Lock()
		out = append(out, SessionSummary{
			ID:         s.ID,
			DocumentID: s.Document.DocumentID,
			Filename:   s.Document.Filename,
			TurnCount:  len(s.turns),
			CreatedAt:  s.created,
		})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Clear wipes the session's conversation history but keeps the session
// and its document binding.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.emitters = make(map[string]*Emitter)
}

// History returns the finalized turns, oldest first.
func (s *Session) History() []*models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Turn, 0, len(s.turns))
	for _, t := range s.turns {
		copied := *t
		out = append(out, &copied)
	}
	return out
}

// Emitter returns the event emitter for a turn.
func (s *Session) Emitter(turnID string) (*Emitter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.emitters[turnID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
	}
	return e, nil
}

// beginTurn appends the user turn and a pending assistant turn with a
// fresh emitter, returning the assistant turn and emitter.
func (s *Session) beginTurn(message string) (*models.Turn, *Emitter) {
	now := time.Now().UTC()
	user := &models.Turn{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Text:      message,
		Finalized: true,
		CreatedAt: now,
	}
	assistant := &models.Turn{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		CreatedAt: now,
	}
	e := newEmitter()

	s.mu.Lock()
	s.turns = append(s.turns, user, assistant)
	s.emitters[assistant.ID] = e
	s.mu.Unlock()

	return assistant, e
}

// finalizeTurn records the assistant's completed text and shown images.
func (s *Session) finalizeTurn(turnID, text string, images []string) {
	s.recordTurn(turnID, text, images, true)
}

// abortTurn records whatever text and images a failed generation
// produced. The turn stays unfinalized so it never feeds later context.
func (s *Session) abortTurn(turnID, text string, images []string) {
	s.recordTurn(turnID, text, images, false)
}

func (s *Session) recordTurn(turnID, text string, images []string, finalized bool) {
	refs := make([]models.ImageRef, 0, len(images))
	for _, f := range images {
		refs = append(refs, models.ImageRef{Filename: f})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.turns {
		if t.ID == turnID {
			t.Text = text
			t.Images = refs
			t.Finalized = finalized
			return
		}
	}
}
