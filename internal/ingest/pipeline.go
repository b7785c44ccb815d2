package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AnshulParate2004/ChunkSmith/internal/dispatch"
	"github.com/AnshulParate2004/ChunkSmith/internal/genai"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/internal/parser"
	"github.com/AnshulParate2004/ChunkSmith/internal/retriever"
	"github.com/AnshulParate2004/ChunkSmith/internal/track"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/queue"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage"
)

// Stage percent anchors. Within a stage the percent moves between its
// anchor and the next stage's floor.
const (
	percentUploading      = 5
	percentParsingStart   = 10
	percentParsingDone    = 30
	percentEnrichStart    = 35
	percentEnrichDone     = 70
	percentVectorizeStart = 75
	percentVectorizeDone  = 95
)

const summarizePrompt = "Summarize the following document excerpt in two or three sentences. " +
	"Keep figures, table references and section names intact."

// Generator is the slice of the genai client the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, credential string, messages []genai.Message) (string, error)
}

// Pipeline runs one ingestion job end to end: partition, per-chunk
// enrichment, image persistence, vector indexing, result storage.
type Pipeline struct {
	tracker      *track.Tracker
	store        storage.Storage
	parser       parser.Parser
	indexer      retriever.Indexer
	dispatcher   *dispatch.Dispatcher
	gen          Generator
	log          logger.Logger
	imageBucket  string
	resultBkt    string
	concurrency  int
	stageTimeout time.Duration
}

type Config struct {
	Tracker     *track.Tracker
	Store       storage.Storage
	Parser      parser.Parser
	Indexer     retriever.Indexer
	Dispatcher  *dispatch.Dispatcher
	Generator   Generator
	Logger      logger.Logger
	ImageBucket string
	ResultBkt   string
	Concurrency int
	// StageTimeout bounds each pipeline stage; zero disables the bound.
	StageTimeout time.Duration
}

func New(cfg Config) *Pipeline {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Pipeline{
		tracker:      cfg.Tracker,
		store:        cfg.Store,
		parser:       cfg.Parser,
		indexer:      cfg.Indexer,
		dispatcher:   cfg.Dispatcher,
		gen:          cfg.Generator,
		log:          cfg.Logger.Named("ingest"),
		imageBucket:  cfg.ImageBucket,
		resultBkt:    cfg.ResultBkt,
		concurrency:  concurrency,
		stageTimeout: cfg.StageTimeout,
	}
}

// stageContext bounds one stage with the configured timeout.
func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.stageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.stageTimeout)
}

// Run processes one enqueued document. Failures latch the job into the
// failed stage before the error is returned.
func (p *Pipeline) Run(ctx context.Context, payload queue.IngestPayload) error {
	ctx = logger.WithJobID(ctx, payload.JobID)
	log := logger.FromContext(ctx, p.log)

	p.tracker.Adopt(&models.IngestionJob{
		ID:        payload.JobID,
		Filename:  payload.Filename,
		Stage:     models.StageUploading,
		Progress:  percentUploading,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})

	// A redelivered task for a job that already failed is a retry, not a
	// duplicate; reset it so the stage machine accepts forward progress.
	if job, err := p.tracker.Get(payload.JobID); err == nil && job.Stage == models.StageFailed {
		if err := p.tracker.Restart(ctx, payload.JobID); err != nil {
			return err
		}
	}

	result, err := p.run(ctx, payload)
	if err != nil {
		if failErr := p.tracker.Fail(ctx, payload.JobID, err.Error()); failErr != nil {
			log.Error("failed to record job failure", logger.Error(failErr))
		}
		return err
	}

	return p.tracker.Complete(ctx, payload.JobID, result)
}

func (p *Pipeline) run(ctx context.Context, payload queue.IngestPayload) (*models.JobResult, error) {
	jobID := payload.JobID
	log := logger.FromContext(ctx, p.log)

	if err := p.tracker.Advance(ctx, jobID, models.StageParsing, percentParsingStart, "Parsing document"); err != nil {
		return nil, err
	}

	parseCtx, cancel := p.stageContext(ctx)
	parsed, err := p.parser.Partition(parseCtx, parser.PartitionRequest{
		Bucket:   payload.Bucket,
		Key:      payload.Key,
		Filename: payload.Filename,
		Options:  payload.Options,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("partition failed: %w", err)
	}
	if len(parsed.Chunks) == 0 {
		return nil, fmt.Errorf("document produced no chunks")
	}

	if err := p.tracker.Advance(ctx, jobID, models.StageParsing, percentParsingDone,
		fmt.Sprintf("Parsed %d chunks", len(parsed.Chunks))); err != nil {
		return nil, err
	}

	images, err := p.persistImages(ctx, jobID, parsed.Images)
	if err != nil {
		return nil, err
	}

	enrichCtx, cancel := p.stageContext(ctx)
	chunks, err := p.enrich(enrichCtx, jobID, parsed.Chunks, images)
	cancel()
	if err != nil {
		return nil, err
	}

	if err := p.tracker.Advance(ctx, jobID, models.StageVectorizing, percentVectorizeStart, "Building vector index"); err != nil {
		return nil, err
	}

	indexCtx, cancel := p.stageContext(ctx)
	vectorPath, err := p.indexer.Index(indexCtx, jobID, chunks)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("indexing failed: %w", err)
	}

	if err := p.tracker.Advance(ctx, jobID, models.StageVectorizing, percentVectorizeDone, "Storing results"); err != nil {
		return nil, err
	}

	resultPath, err := p.saveResult(ctx, &models.ProcessedDocument{
		DocumentID:  jobID,
		Filename:    payload.Filename,
		Chunks:      chunks,
		ImageCount:  len(images),
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log.Info("document processed",
		logger.Int("chunks", len(chunks)),
		logger.Int("images", len(images)))

	return &models.JobResult{
		DocumentID:      jobID,
		ChunksProcessed: len(chunks),
		ImagesExtracted: len(images),
		ResultPath:      resultPath,
		VectorStorePath: vectorPath,
	}, nil
}

// persistImages uploads extracted images and returns refs keyed by
// filename with storage keys filled in.
func (p *Pipeline) persistImages(ctx context.Context, jobID string, refs []models.ImageRef) (map[string]models.ImageRef, error) {
	out := make(map[string]models.ImageRef, len(refs))
	for _, ref := range refs {
		data, contentType, err := decodeDataURI(ref.Data)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", ref.Filename, err)
		}

		key := fmt.Sprintf("%s/%s", jobID, ref.Filename)
		if err := p.store.Upload(ctx, p.imageBucket, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return nil, err
		}

		out[ref.Filename] = models.ImageRef{Filename: ref.Filename, Key: key}
	}
	return out, nil
}

// enrich summarizes every chunk through the credential dispatcher.
// Percent climbs with completed chunks; the tracker clamps out-of-order
// updates from concurrent workers.
func (p *Pipeline) enrich(ctx context.Context, jobID string, parsed []parser.PartitionChunk, images map[string]models.ImageRef) ([]models.ChunkRecord, error) {
	if err := p.tracker.Advance(ctx, jobID, models.StageEnriching, percentEnrichStart,
		fmt.Sprintf("Summarizing %d chunks", len(parsed))); err != nil {
		return nil, err
	}

	chunks := make([]models.ChunkRecord, len(parsed))
	var done atomic.Int64
	span := percentEnrichDone - percentEnrichStart

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, pc := range parsed {
		i, pc := i, pc
		g.Go(func() error {
			summary, err := p.summarize(gctx, pc.Text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}

			refs := make([]models.ImageRef, 0, len(pc.Images))
			for _, filename := range pc.Images {
				if ref, ok := images[filename]; ok {
					refs = append(refs, ref)
				}
			}

			chunks[i] = models.ChunkRecord{
				Index:        i,
				OriginalText: pc.Text,
				Summary:      summary,
				PageNumbers:  pc.PageNumbers,
				Images:       refs,
				TablesHTML:   pc.TablesHTML,
			}

			n := done.Add(1)
			percent := percentEnrichStart + int(n)*span/len(parsed)
			return p.tracker.Advance(gctx, jobID, models.StageEnriching, percent,
				fmt.Sprintf("Summarized %d/%d chunks", n, len(parsed)))
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (p *Pipeline) summarize(ctx context.Context, text string) (string, error) {
	var summary string
	err := p.dispatcher.Do(ctx, func(ctx context.Context, credential string) error {
		out, err := p.gen.Generate(ctx, credential, []genai.Message{
			{Role: genai.RoleSystem, Content: summarizePrompt},
			{Role: genai.RoleUser, Content: text},
		})
		if err != nil {
			return err
		}
		summary = out
		return nil
	})
	return summary, err
}

func (p *Pipeline) saveResult(ctx context.Context, doc *models.ProcessedDocument) (string, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	key := doc.DocumentID + ".json"
	if err := p.store.Upload(ctx, p.resultBkt, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// LoadResult reads a processed document back from the result bucket.
func LoadResult(ctx context.Context, store storage.Storage, bucket, documentID string) (*models.ProcessedDocument, error) {
	rc, err := store.Download(ctx, bucket, documentID+".json")
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}

	var doc models.ProcessedDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &doc, nil
}

// decodeDataURI splits a data URI into raw bytes and content type.
// Bare base64 without the scheme prefix is accepted.
func decodeDataURI(uri string) ([]byte, string, error) {
	contentType := "application/octet-stream"
	payload := uri

	if strings.HasPrefix(uri, "data:") {
		rest := strings.TrimPrefix(uri, "data:")
		meta, b64, ok := strings.Cut(rest, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data uri")
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		payload = b64
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image data: %w", err)
	}
	return data, contentType, nil
}
