package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AnshulParate2004/ChunkSmith/internal/dispatch"
	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/genai"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/internal/retriever"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage"
)

const systemPrompt = "You answer questions about a single document using only the provided " +
	"context chunks. Cite page numbers when the context includes them. If the context does " +
	"not cover the question, say so."

// historyLimit bounds how many prior turns feed the model.
const historyLimit = 10

// StreamGenerator is the slice of the genai client a turn needs.
type StreamGenerator interface {
	Stream(ctx context.Context, credential string, messages []genai.Message, fn func(delta string) error) error
}

// partialError wraps a stream failure that happened after content was
// already delivered. It deliberately hides the cause from errors.As so
// the dispatcher does not rotate credentials and replay duplicate text.
type partialError struct {
	cause error
}

func (e *partialError) Error() string {
	return fmt.Sprintf("generation failed after partial output: %v", e.cause)
}

// Orchestrator runs assistant turns: retrieve, surface images, stream
// the answer, finalize.
type Orchestrator struct {
	retriever   retriever.Retriever
	dispatcher  *dispatch.Dispatcher
	gen         StreamGenerator
	store       storage.Storage
	imageBucket string
	topK        int
	turnTimeout time.Duration
	log         logger.Logger
}

type OrchestratorConfig struct {
	Retriever   retriever.Retriever
	Dispatcher  *dispatch.Dispatcher
	Generator   StreamGenerator
	Store       storage.Storage
	ImageBucket string
	TopK        int
	TurnTimeout time.Duration
}

func NewOrchestrator(cfg OrchestratorConfig, log logger.Logger) *Orchestrator {
	topK := cfg.TopK
	if topK <= 0 {
		topK = retriever.DefaultTopK
	}
	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Orchestrator{
		retriever:   cfg.Retriever,
		dispatcher:  cfg.Dispatcher,
		gen:         cfg.Generator,
		store:       cfg.Store,
		imageBucket: cfg.ImageBucket,
		topK:        topK,
		turnTimeout: timeout,
		log:         log.Named("chat"),
	}
}

// StartTurn records the user message, spawns generation in the
// background and returns the assistant turn id to attach a stream to.
// Generation runs on its own context; a dropped subscriber never
// cancels it.
func (o *Orchestrator) StartTurn(s *Session, message string) string {
	history := s.History()
	assistant, em := s.beginTurn(message)

	ctx, cancel := context.WithTimeout(context.Background(), o.turnTimeout)
	ctx = logger.WithSessionID(ctx, s.ID)
	ctx = logger.WithTurnID(ctx, assistant.ID)

	go func() {
		defer cancel()
		o.run(ctx, s, assistant.ID, em, message, history)
	}()

	return assistant.ID
}

func (o *Orchestrator) run(ctx context.Context, s *Session, turnID string, em *Emitter, message string, history []*models.Turn) {
	log := logger.FromContext(ctx, o.log)

	em.Emit(events.TypeSearchStart, events.SearchStartData{
		Query:   message,
		Message: "Searching document...",
	})

	chunks, err := o.retriever.Retrieve(ctx, s.Document.DocumentID, message, o.topK)
	if err != nil {
		log.Error("retrieval failed", logger.Error(err))
		o.fail(s, turnID, em, "", nil, fmt.Sprintf("search failed: %v", err))
		return
	}

	em.Emit(events.TypeSearchComplete, events.SearchCompleteData{
		ChunkCount: len(chunks),
		Sources:    chunkSources(chunks),
		Message:    fmt.Sprintf("Found %d relevant chunks", len(chunks)),
	})

	// Images come from the retrieved chunks in rank order, before any
	// generated text, so clients can render them while tokens stream.
	shown := o.emitImages(ctx, em, chunks, log)

	em.Emit(events.TypeResponseStart, struct{}{})

	full, err := o.generate(ctx, em, message, history, chunks)
	if err != nil {
		log.Error("generation failed", logger.Error(err))
		o.fail(s, turnID, em, full, shown, fmt.Sprintf("generation failed: %v", err))
		return
	}

	em.Emit(events.TypeChatComplete, events.ChatCompleteData{
		Message:       full,
		ImagesShown:   len(shown),
		ContextChunks: len(chunks),
		Images:        imageRefs(shown),
	})
	em.Emit(events.TypeEnd, struct{}{})

	s.finalizeTurn(turnID, full, shown)
	log.Info("turn complete",
		logger.Int("context_chunks", len(chunks)),
		logger.Int("images_shown", len(shown)))
}

// fail emits the terminal error event and records the turn keeping
// whatever text was already produced. The turn stays unfinalized.
func (o *Orchestrator) fail(s *Session, turnID string, em *Emitter, partial string, shown []string, message string) {
	em.Emit(events.TypeError, events.ErrorData{Message: message})
	s.abortTurn(turnID, partial, shown)
}

// emitImages streams each distinct chunk image in retrieval rank
// order and returns the filenames shown.
func (o *Orchestrator) emitImages(ctx context.Context, em *Emitter, chunks []models.RetrievedChunk, log logger.Logger) []string {
	seen := make(map[string]bool)
	var shown []string

	for _, chunk := range chunks {
		for _, ref := range chunk.Images {
			if seen[ref.Filename] {
				continue
			}
			seen[ref.Filename] = true

			data, err := o.loadImage(ctx, ref)
			if err != nil {
				log.Warn("skipping unreadable image",
					logger.String("filename", ref.Filename),
					logger.Error(err))
				continue
			}

			em.Emit(events.TypeImage, events.ImageData{
				Filename: ref.Filename,
				Data:     data,
			})
			shown = append(shown, ref.Filename)
		}
	}

	if len(shown) > 0 {
		em.Emit(events.TypeImagesFound, events.ImagesFoundData{
			Count:   len(shown),
			Message: fmt.Sprintf("Found %d relevant images", len(shown)),
		})
	}
	return shown
}

func (o *Orchestrator) loadImage(ctx context.Context, ref models.ImageRef) (string, error) {
	if ref.Data != "" {
		return ref.Data, nil
	}

	rc, err := o.store.Download(ctx, o.imageBucket, ref.Key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// generate streams the answer through the credential dispatcher,
// emitting a content event per delta. Once any delta has been emitted
// a failure is final; rotating credentials would replay text the
// subscriber already saw.
func (o *Orchestrator) generate(ctx context.Context, em *Emitter, message string, history []*models.Turn, chunks []models.RetrievedChunk) (string, error) {
	messages := buildMessages(message, history, chunks)

	var full strings.Builder
	err := o.dispatcher.Do(ctx, func(ctx context.Context, credential string) error {
		streamErr := o.gen.Stream(ctx, credential, messages, func(delta string) error {
			full.WriteString(delta)
			em.Emit(events.TypeContent, events.ContentData{Text: delta})
			return nil
		})
		if streamErr != nil && full.Len() > 0 {
			return &partialError{cause: streamErr}
		}
		return streamErr
	})
	return full.String(), err
}

func buildMessages(message string, history []*models.Turn, chunks []models.RetrievedChunk) []genai.Message {
	var ctxBlock strings.Builder
	ctxBlock.WriteString("Context chunks:\n\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&ctxBlock, "[%d]", i+1)
		if len(chunk.PageNumbers) > 0 {
			fmt.Fprintf(&ctxBlock, " (pages %s)", joinInts(chunk.PageNumbers))
		}
		ctxBlock.WriteString("\n")
		if chunk.Summary != "" {
			ctxBlock.WriteString(chunk.Summary)
			ctxBlock.WriteString("\n")
		}
		ctxBlock.WriteString(chunk.Content)
		ctxBlock.WriteString("\n\n")
	}

	messages := []genai.Message{
		{Role: genai.RoleSystem, Content: systemPrompt + "\n\n" + ctxBlock.String()},
	}

	turns := history
	if len(turns) > historyLimit {
		turns = turns[len(turns)-historyLimit:]
	}
	for _, t := range turns {
		if !t.Finalized || t.Text == "" {
			continue
		}
		role := genai.RoleUser
		if t.Role == models.RoleAssistant {
			role = genai.RoleAssistant
		}
		messages = append(messages, genai.Message{Role: role, Content: t.Text})
	}

	return append(messages, genai.Message{Role: genai.RoleUser, Content: message})
}

func chunkSources(chunks []models.RetrievedChunk) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range chunks {
		if c.Source == "" || seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		out = append(out, c.Source)
	}
	return out
}

func imageRefs(filenames []string) []models.ImageRef {
	out := make([]models.ImageRef, 0, len(filenames))
	for _, f := range filenames {
		out = append(out, models.ImageRef{Filename: f})
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
