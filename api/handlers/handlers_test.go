package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshulParate2004/ChunkSmith/api/handlers"
	"github.com/AnshulParate2004/ChunkSmith/api/routes"
	"github.com/AnshulParate2004/ChunkSmith/internal/chat"
	"github.com/AnshulParate2004/ChunkSmith/internal/dispatch"
	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/genai"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/internal/track"
	"github.com/AnshulParate2004/ChunkSmith/pkg/bus"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/queue"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage"
)

type stubEnqueuer struct {
	payloads []queue.IngestPayload
	err      error
}

func (s *stubEnqueuer) EnqueueIngest(_ context.Context, payload queue.IngestPayload) error {
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

type stubRetriever struct {
	chunks []models.RetrievedChunk
}

func (s *stubRetriever) Retrieve(context.Context, string, string, int) ([]models.RetrievedChunk, error) {
	return s.chunks, nil
}

type stubStreamer struct {
	deltas []string
}

func (s *stubStreamer) Stream(_ context.Context, _ string, _ []genai.Message, fn func(string) error) error {
	for _, d := range s.deltas {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

type testEnv struct {
	engine   *gin.Engine
	tracker  *track.Tracker
	bus      *bus.Memory
	store    *storage.Memory
	enqueuer *stubEnqueuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewTestLogger()
	b := bus.NewMemory(time.Minute)
	tr := track.New(b, log)
	store := storage.NewMemory()
	enq := &stubEnqueuer{}

	d, err := dispatch.New([]string{"key-a"})
	require.NoError(t, err)

	ret := &stubRetriever{chunks: []models.RetrievedChunk{
		{Content: "relevant text", Source: "report.pdf", Score: 0.92},
	}}
	orch := chat.NewOrchestrator(chat.OrchestratorConfig{
		Retriever:   ret,
		Dispatcher:  d,
		Generator:   &stubStreamer{deltas: []string{"The ", "answer."}},
		Store:       store,
		ImageBucket: "images",
		TurnTimeout: 5 * time.Second,
	}, log)

	h := handlers.New(handlers.Config{
		Tracker:      tr,
		Bus:          b,
		Store:        store,
		Queue:        enq,
		Registry:     chat.NewRegistry(log),
		Orchestrator: orch,
		Retriever:    ret,
		Logger:       log,
		UploadBucket: "uploads",
		ImageBucket:  "images",
		ResultBucket: "results",
		MaxUpload:    1024 * 1024,
	})

	engine := gin.New()
	routes.Register(engine, h)

	return &testEnv{engine: engine, tracker: tr, bus: b, store: store, enqueuer: enq}
}

func (e *testEnv) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func pdfUpload(t *testing.T, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func storeResult(t *testing.T, store *storage.Memory, doc *models.ProcessedDocument) {
	t.Helper()
	payload, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), "results", doc.DocumentID+".json",
		bytes.NewReader(payload), int64(len(payload)), "application/json"))
}

func decodeSSE(t *testing.T, body string) []events.Event {
	t.Helper()
	var out []events.Event
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		out = append(out, ev)
	}
	return out
}

func TestSubmitDocument(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := pdfUpload(t, "report.pdf")

	rec := env.do(t, http.MethodPost, "/api/v1/documents/process", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.DocumentID)
	assert.Equal(t, "uploading", resp.Status)

	require.Len(t, env.enqueuer.payloads, 1)
	payload := env.enqueuer.payloads[0]
	assert.Equal(t, resp.DocumentID, payload.JobID)
	assert.Equal(t, "uploads", payload.Bucket)
	assert.Equal(t, 3000, payload.Options.MaxCharacters)

	ok, err := env.store.Exists(context.Background(), "uploads", payload.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubmitDocumentRejectsNonPDF(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := pdfUpload(t, "notes.txt")

	rec := env.do(t, http.MethodPost, "/api/v1/documents/process", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.enqueuer.payloads)
}

func TestStreamProgressReplaysTerminalState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.tracker.Create(ctx, "report.pdf")
	require.NoError(t, err)
	require.NoError(t, env.tracker.Complete(ctx, job.ID, &models.JobResult{DocumentID: job.ID}))

	rec := env.do(t, http.MethodGet, "/api/v1/documents/stream/"+job.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	evs := decodeSSE(t, rec.Body.String())
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeConnected, evs[0].Type)
	assert.Equal(t, events.TypeComplete, evs[1].Type)
	assert.True(t, evs[1].ProgressTerminal())
}

func TestStreamProgressResumesFromCachedProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.tracker.Create(ctx, "report.pdf")
	require.NoError(t, err)
	require.NoError(t, env.tracker.Advance(ctx, job.ID, models.StageEnriching, 60, "Summarizing chunks"))

	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/stream/"+job.ID, nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.engine.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, env.tracker.Advance(ctx, job.ID, models.StageVectorizing, 80, "Building vector store"))
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after disconnect")
	}

	evs := decodeSSE(t, rec.Body.String())
	require.Len(t, evs, 3)
	assert.Equal(t, events.TypeConnected, evs[0].Type)

	var cached events.ProgressData
	require.NoError(t, evs[1].Decode(&cached))
	assert.Equal(t, string(models.StageEnriching), cached.Status)
	assert.Equal(t, 60, cached.Progress)

	var live events.ProgressData
	require.NoError(t, evs[2].Decode(&live))
	assert.Equal(t, string(models.StageVectorizing), live.Status)
	assert.Equal(t, 80, live.Progress)
}

func TestDocumentStatusFollowsBusEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.tracker.Create(ctx, "report.pdf")
	require.NoError(t, err)
	require.NoError(t, env.tracker.Advance(ctx, job.ID, models.StageUploading, 5, "Uploading file"))

	// The worker runs in its own process; only its published events
	// reach this side, never the tracker map.
	require.NoError(t, env.bus.Publish(ctx, job.ID, events.New(events.TypeProgress, events.ProgressData{
		Status:   string(models.StageEnriching),
		Step:     models.StageEnriching.Ordinal(),
		StepName: "Enriching",
		Progress: 60,
		Message:  "Summarizing chunks",
	})))

	rec := env.do(t, http.MethodGet, "/api/v1/documents/"+job.ID+"/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		StepName string `json:"step_name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, string(models.StageEnriching), status.Status)
	assert.Equal(t, 60, status.Progress)
	assert.Equal(t, "Enriching", status.StepName)

	require.NoError(t, env.bus.Publish(ctx, job.ID, events.New(events.TypeComplete, events.CompleteData{
		Status:   string(models.StageComplete),
		Progress: 100,
		Message:  "Processing complete",
		Result:   &models.JobResult{DocumentID: job.ID, ChunksProcessed: 3},
	})))

	rec = env.do(t, http.MethodGet, "/api/v1/documents/"+job.ID+"/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var final struct {
		Status   string            `json:"status"`
		Progress int               `json:"progress"`
		Result   *models.JobResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	assert.Equal(t, string(models.StageComplete), final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Result)
	assert.Equal(t, 3, final.Result.ChunksProcessed)
}

func TestDocumentStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/documents/nope/status", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchDocuments(t *testing.T) {
	env := newTestEnv(t)

	storeResult(t, env.store, &models.ProcessedDocument{
		DocumentID: "doc-1",
		Filename:   "report.pdf",
		Chunks:     []models.ChunkRecord{{Index: 0, OriginalText: "text"}},
	})

	body := bytes.NewBufferString(`{"document_id":"doc-1","query":"tables","k":3}`)
	rec := env.do(t, http.MethodPost, "/api/v1/search", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Query        string `json:"query"`
		ResultsCount int    `json:"results_count"`
		Results      []struct {
			Rank    int     `json:"rank"`
			Content string  `json:"content"`
			Source  string  `json:"source"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tables", resp.Query)
	require.Equal(t, 1, resp.ResultsCount)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, "relevant text", resp.Results[0].Content)
	assert.Equal(t, "report.pdf", resp.Results[0].Source)
	assert.InDelta(t, 0.92, resp.Results[0].Score, 0.001)
}

func TestSearchDocumentsValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/search",
		bytes.NewBufferString(`{"query":"tables"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/search",
		bytes.NewBufferString(`{"document_id":"nope","query":"tables"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLanguages(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/languages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count     int    `json:"count"`
		Default   string `json:"default"`
		Languages []struct {
			Name string `json:"name"`
			Code string `json:"code"`
		} `json:"languages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Greater(t, resp.Count, 20)
	assert.Equal(t, "eng", resp.Default)

	codes := make(map[string]string, len(resp.Languages))
	for _, l := range resp.Languages {
		codes[l.Name] = l.Code
	}
	assert.Equal(t, "eng", codes["english"])
	assert.Equal(t, "chi_sim", codes["chinese"])
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	storeResult(t, env.store, &models.ProcessedDocument{
		DocumentID: "doc-1",
		Filename:   "report.pdf",
		Chunks: []models.ChunkRecord{
			{Index: 0, OriginalText: "text", Summary: "sum",
				Images: []models.ImageRef{{Filename: "fig1.png", Key: "doc-1/fig1.png"}}},
		},
		ImageCount: 1,
	})
	require.NoError(t, env.store.Upload(ctx, "images", "doc-1/fig1.png",
		bytes.NewReader([]byte("png-bytes")), 9, "image/png"))

	rec := env.do(t, http.MethodGet, "/api/v1/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "doc-1")

	rec = env.do(t, http.MethodGet, "/api/v1/documents/doc-1/chunks", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"image_count":1`)

	rec = env.do(t, http.MethodGet, "/api/v1/documents/doc-1/chunks/0", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data:image/png;base64,")

	rec = env.do(t, http.MethodGet, "/api/v1/images/doc-1/fig1.png", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/api/v1/documents/doc-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/documents/doc-1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ok, err := env.store.Exists(ctx, "images", "doc-1/fig1.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatFlow(t *testing.T) {
	env := newTestEnv(t)

	storeResult(t, env.store, &models.ProcessedDocument{
		DocumentID: "doc-1",
		Filename:   "report.pdf",
		Chunks:     []models.ChunkRecord{{Index: 0, OriginalText: "text"}},
	})

	rec := env.do(t, http.MethodPost, "/api/v1/chat/init/doc-1", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var initResp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))
	require.NotEmpty(t, initResp.SessionID)

	msg := bytes.NewBufferString(`{"message":"what is the answer?"}`)
	rec = env.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/chat/sessions/%s/messages", initResp.SessionID), msg, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var sendResp struct {
		TurnID string `json:"turn_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sendResp))
	require.NotEmpty(t, sendResp.TurnID)

	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/chat/stream/%s?turn_id=%s", initResp.SessionID, sendResp.TurnID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	evs := decodeSSE(t, rec.Body.String())
	types := make([]events.Type, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	assert.Equal(t, []events.Type{
		events.TypeConnected,
		events.TypeSearchStart,
		events.TypeSearchComplete,
		events.TypeResponseStart,
		events.TypeContent,
		events.TypeContent,
		events.TypeChatComplete,
		events.TypeEnd,
	}, types)

	// A reattach replays the identical event sequence.
	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/chat/stream/%s?turn_id=%s", initResp.SessionID, sendResp.TurnID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeSSE(t, rec.Body.String()), len(evs))

	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/chat/sessions/%s/history", initResp.SessionID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "The answer.")

	rec = env.do(t, http.MethodPost, "/api/v1/chat/clear/"+initResp.SessionID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/chat/sessions/"+initResp.SessionID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/chat/sessions/%s/messages", initResp.SessionID),
		bytes.NewBufferString(`{"message":"hi"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatInitRequiresProcessedDocument(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/chat/init/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatStreamByMessageStartsTurn(t *testing.T) {
	env := newTestEnv(t)

	storeResult(t, env.store, &models.ProcessedDocument{
		DocumentID: "doc-1",
		Filename:   "report.pdf",
		Chunks:     []models.ChunkRecord{{Index: 0, OriginalText: "text"}},
	})

	rec := env.do(t, http.MethodPost, "/api/v1/chat/init/doc-1", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var initResp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))

	rec = env.do(t, http.MethodGet,
		"/api/v1/chat/stream/"+initResp.SessionID+"?message=hello", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	evs := decodeSSE(t, rec.Body.String())
	require.NotEmpty(t, evs)
	assert.Equal(t, events.TypeConnected, evs[0].Type)
	assert.Equal(t, events.TypeEnd, evs[len(evs)-1].Type)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
