package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

// DefaultTopK is how many chunks a retrieval pulls when the caller
// does not say otherwise.
const DefaultTopK = 5

// Retriever pulls the chunks most similar to a query from a
// document's vector index.
type Retriever interface {
	Retrieve(ctx context.Context, documentID, query string, k int) ([]models.RetrievedChunk, error)
}

// Indexer builds the vector index for a processed document.
type Indexer interface {
	Index(ctx context.Context, documentID string, chunks []models.ChunkRecord) (vectorStorePath string, err error)
}

// HTTPClient implements both Retriever and Indexer against the vector
// service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

func NewHTTPClient(baseURL string, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        log.Named("retriever"),
	}
}

type retrieveRequest struct {
	DocumentID string `json:"document_id"`
	Query      string `json:"query"`
	K          int    `json:"k"`
}

type retrieveResponse struct {
	Chunks []models.RetrievedChunk `json:"chunks"`
}

func (c *HTTPClient) Retrieve(ctx context.Context, documentID, query string, k int) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	var resp retrieveResponse
	err := c.postJSON(ctx, "/retrieve", retrieveRequest{
		DocumentID: documentID,
		Query:      query,
		K:          k,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.log.Debug("retrieval complete",
		logger.String("document_id", documentID),
		logger.Int("chunks", len(resp.Chunks)))
	return resp.Chunks, nil
}

type indexRequest struct {
	DocumentID string               `json:"document_id"`
	Chunks     []models.ChunkRecord `json:"chunks"`
}

type indexResponse struct {
	VectorStorePath string `json:"vector_store_path"`
}

func (c *HTTPClient) Index(ctx context.Context, documentID string, chunks []models.ChunkRecord) (string, error) {
	var resp indexResponse
	err := c.postJSON(ctx, "/index", indexRequest{
		DocumentID: documentID,
		Chunks:     chunks,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.VectorStorePath, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
