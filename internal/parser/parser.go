package parser

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

// Parser partitions an uploaded document into chunks, images and
// tables. Extraction runs in a separate service; this package only
// speaks its API.
type Parser interface {
	Partition(ctx context.Context, req PartitionRequest) (*PartitionResult, error)
}

type PartitionRequest struct {
	Bucket   string                `json:"bucket"`
	Key      string                `json:"key"`
	Filename string                `json:"filename"`
	Options  models.ProcessOptions `json:"options"`
}

type PartitionResult struct {
	Chunks []PartitionChunk  `json:"chunks"`
	Images []models.ImageRef `json:"images"`
}

type PartitionChunk struct {
	Text        string   `json:"text"`
	PageNumbers []int    `json:"page_numbers"`
	Images      []string `json:"images"`
	TablesHTML  []string `json:"tables_html"`
}

// HTTPParser talks to the partition service.
type HTTPParser struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

func NewHTTPParser(baseURL string, log logger.Logger) *HTTPParser {
	return &HTTPParser{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		log:        log.Named("parser"),
	}
}

func (p *HTTPParser) Partition(ctx context.Context, req PartitionRequest) (*PartitionResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal partition request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/partition", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build partition request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("partition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("partition failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result PartitionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode partition result: %w", err)
	}

	p.log.Info("document partitioned",
		logger.String("filename", req.Filename),
		logger.Int("chunks", len(result.Chunks)),
		logger.Int("images", len(result.Images)),
		logger.Duration("elapsed", time.Since(start)))

	return &result, nil
}
