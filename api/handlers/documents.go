package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/ingest"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/queue"
)

var allowedExtensions = map[string]bool{
	".pdf": true,
}

// SubmitDocument accepts one file upload and queues it for processing.
func (h *Handler) SubmitDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "missing file upload", err)
		return
	}

	opts := models.DefaultProcessOptions()
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			h.handleError(c, http.StatusBadRequest, "invalid options", err)
			return
		}
	}

	job, err := h.submitOne(c, file, opts)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"document_id": job.ID,
		"filename":    job.Filename,
		"status":      string(job.Stage),
	})
}

// SubmitBatch accepts multiple files and queues them concurrently.
func (h *Handler) SubmitBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "invalid multipart form", err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "no files uploaded", nil)
		return
	}

	type accepted struct {
		DocumentID string `json:"document_id"`
		Filename   string `json:"filename"`
	}
	results := make([]accepted, len(files))
	failures := make([]string, len(files))

	g, _ := errgroup.WithContext(c.Request.Context())
	g.SetLimit(4)
	var mu sync.Mutex

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			job, err := h.submitOne(c, file, models.DefaultProcessOptions())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[i] = fmt.Sprintf("%s: %v", file.Filename, err)
				return nil
			}
			results[i] = accepted{DocumentID: job.ID, Filename: job.Filename}
			return nil
		})
	}
	_ = g.Wait()

	var ok []accepted
	var failed []string
	for i := range files {
		if failures[i] != "" {
			failed = append(failed, failures[i])
		} else {
			ok = append(ok, results[i])
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": ok,
		"failed":   failed,
	})
}

// submitOne validates, uploads to storage, registers the job and
// enqueues it.
func (h *Handler) submitOne(c *gin.Context, file *multipart.FileHeader, opts models.ProcessOptions) (*models.IngestionJob, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("unsupported file type %q, only pdf is accepted", ext)
	}
	if file.Size > h.maxUpload {
		return nil, fmt.Errorf("file exceeds the %d byte limit", h.maxUpload)
	}
	opts.Languages = LanguageCodes(opts.Languages)

	ctx := c.Request.Context()

	job, err := h.tracker.Create(ctx, file.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	key := fmt.Sprintf("%s/%s", job.ID, file.Filename)
	if err := h.tracker.Advance(ctx, job.ID, models.StageUploading, 5, "Uploading file"); err != nil {
		return nil, err
	}
	if err := h.store.Upload(ctx, h.uploadBucket, key, src, file.Size, "application/pdf"); err != nil {
		_ = h.tracker.Fail(ctx, job.ID, "upload failed")
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if err := h.queue.EnqueueIngest(ctx, queue.IngestPayload{
		JobID:    job.ID,
		Bucket:   h.uploadBucket,
		Key:      key,
		Filename: file.Filename,
		Options:  opts,
	}); err != nil {
		_ = h.tracker.Fail(ctx, job.ID, "failed to enqueue processing")
		return nil, err
	}

	return job, nil
}

// StreamProgress serves the progress event stream for one document.
// A late or reconnecting subscriber first gets a connected event and
// the latest cached state, then live events until a terminal one.
func (h *Handler) StreamProgress(c *gin.Context) {
	documentID := c.Param("documentId")

	w, err := newSSEWriter(c)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "streaming unsupported", err)
		return
	}

	ctx, release := h.streams.acquire(c.Request.Context(), "progress:"+documentID)
	defer release()

	// Subscribe before reading the latest snapshot so no event falls
	// between the two.
	ch, err := h.bus.Subscribe(ctx, documentID)
	if err != nil {
		_ = w.send(events.New(events.TypeError, events.ErrorData{Message: "subscription failed"}))
		return
	}

	_ = w.send(events.New(events.TypeConnected, events.ConnectedData{
		Message:    "Connected to processing stream",
		DocumentID: documentID,
	}))

	latest, ok, err := h.bus.Latest(ctx, documentID)
	if err != nil {
		h.log.Warn("failed to load latest event", logger.Error(err))
	}
	if ok {
		if err := w.send(latest); err != nil {
			return
		}
		if latest.ProgressTerminal() {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := w.send(ev); err != nil {
				return
			}
			if ev.ProgressTerminal() {
				return
			}
		}
	}
}

type jobStatus struct {
	DocumentID string            `json:"document_id"`
	Status     string            `json:"status"`
	StepName   string            `json:"step_name,omitempty"`
	Progress   int               `json:"progress"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	Result     *models.JobResult `json:"result,omitempty"`
}

// GetDocumentStatus answers polling clients. The worker runs in its own
// process, so the bus carries the authoritative state; the local tracker
// only covers jobs whose events already expired.
func (h *Handler) GetDocumentStatus(c *gin.Context) {
	id := c.Param("documentId")

	if ev, ok, err := h.bus.Latest(c.Request.Context(), id); err == nil && ok {
		status := jobStatus{DocumentID: id}
		switch ev.Type {
		case events.TypeProgress:
			var data events.ProgressData
			if err := ev.Decode(&data); err == nil {
				status.Status = data.Status
				status.StepName = data.StepName
				status.Progress = data.Progress
				status.Message = data.Message
				c.JSON(http.StatusOK, status)
				return
			}
		case events.TypeComplete:
			var data events.CompleteData
			if err := ev.Decode(&data); err == nil {
				status.Status = string(models.StageComplete)
				status.Progress = data.Progress
				status.Message = data.Message
				status.Result = data.Result
				c.JSON(http.StatusOK, status)
				return
			}
		case events.TypeError:
			var data events.ErrorData
			if err := ev.Decode(&data); err == nil {
				status.Status = string(models.StageFailed)
				status.Error = data.Message
				c.JSON(http.StatusOK, status)
				return
			}
		}
	}

	job, err := h.tracker.Get(id)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "document not found", err)
		return
	}
	c.JSON(http.StatusOK, jobStatus{
		DocumentID: job.ID,
		Status:     string(job.Stage),
		Progress:   job.Progress,
		Message:    job.Message,
		Error:      job.Error,
		Result:     job.Result,
	})
}

// ListDocuments returns the processed documents.
func (h *Handler) ListDocuments(c *gin.Context) {
	keys, err := h.store.List(c.Request.Context(), h.resultBucket, "")
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to list documents", err)
		return
	}

	type docInfo struct {
		DocumentID string `json:"document_id"`
		Filename   string `json:"filename"`
		ChunkCount int    `json:"chunk_count"`
		ImageCount int    `json:"image_count"`
	}
	docs := make([]docInfo, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(key, ".json")
		doc, err := ingest.LoadResult(c.Request.Context(), h.store, h.resultBucket, id)
		if err != nil {
			h.log.Warn("skipping unreadable result", logger.String("key", key), logger.Error(err))
			continue
		}
		docs = append(docs, docInfo{
			DocumentID: doc.DocumentID,
			Filename:   doc.Filename,
			ChunkCount: len(doc.Chunks),
			ImageCount: doc.ImageCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// GetDocument returns the processed result without inlined image data.
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := ingest.LoadResult(c.Request.Context(), h.store, h.resultBucket, c.Param("documentId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "document not found", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DeleteDocument removes the result, extracted images and the original
// upload.
func (h *Handler) DeleteDocument(c *gin.Context) {
	ctx := c.Request.Context()
	documentID := c.Param("documentId")

	if _, err := ingest.LoadResult(ctx, h.store, h.resultBucket, documentID); err != nil {
		h.handleError(c, http.StatusNotFound, "document not found", err)
		return
	}

	for _, bucket := range []string{h.imageBucket, h.uploadBucket} {
		keys, err := h.store.List(ctx, bucket, documentID+"/")
		if err != nil {
			h.handleError(c, http.StatusInternalServerError, "failed to delete document", err)
			return
		}
		for _, key := range keys {
			if err := h.store.Delete(ctx, bucket, key); err != nil {
				h.handleError(c, http.StatusInternalServerError, "failed to delete document", err)
				return
			}
		}
	}
	if err := h.store.Delete(ctx, h.resultBucket, documentID+".json"); err != nil {
		h.handleError(c, http.StatusInternalServerError, "failed to delete document", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": documentID})
}

// ListChunks returns a summary view of the document's chunks.
func (h *Handler) ListChunks(c *gin.Context) {
	doc, err := ingest.LoadResult(c.Request.Context(), h.store, h.resultBucket, c.Param("documentId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "document not found", err)
		return
	}

	type chunkSummary struct {
		Index       int    `json:"index"`
		Summary     string `json:"ai_summary,omitempty"`
		PageNumbers []int  `json:"page_numbers,omitempty"`
		ImageCount  int    `json:"image_count"`
		TableCount  int    `json:"table_count"`
	}
	out := make([]chunkSummary, len(doc.Chunks))
	for i, chunk := range doc.Chunks {
		out[i] = chunkSummary{
			Index:       chunk.Index,
			Summary:     chunk.Summary,
			PageNumbers: chunk.PageNumbers,
			ImageCount:  len(chunk.Images),
			TableCount:  len(chunk.TablesHTML),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id": doc.DocumentID,
		"chunks":      out,
	})
}

// GetChunk returns one chunk with its images inlined as data URIs.
func (h *Handler) GetChunk(c *gin.Context) {
	ctx := c.Request.Context()

	doc, err := ingest.LoadResult(ctx, h.store, h.resultBucket, c.Param("documentId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "document not found", err)
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || index >= len(doc.Chunks) {
		h.handleError(c, http.StatusNotFound, "chunk not found", err)
		return
	}

	chunk := doc.Chunks[index]
	for i, ref := range chunk.Images {
		rc, err := h.store.Download(ctx, h.imageBucket, ref.Key)
		if err != nil {
			h.log.Warn("skipping unreadable image", logger.String("key", ref.Key), logger.Error(err))
			continue
		}
		raw, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			continue
		}
		chunk.Images[i].Data = "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	}

	c.JSON(http.StatusOK, chunk)
}

// GetImage streams one extracted image.
func (h *Handler) GetImage(c *gin.Context) {
	key := fmt.Sprintf("%s/%s", c.Param("documentId"), c.Param("filename"))

	rc, err := h.store.Download(c.Request.Context(), h.imageBucket, key)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "image not found", err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}
