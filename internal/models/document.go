package models

import (
	"time"
)

// Stage is a named phase of document ingestion.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageUploading   Stage = "uploading"
	StageParsing     Stage = "parsing"
	StageEnriching   Stage = "enriching"
	StageVectorizing Stage = "vectorizing"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// stageOrdinals orders the pipeline stages. Terminal stages sit past the
// last working stage so a forward-only comparison covers them too.
var stageOrdinals = map[Stage]int{
	StageQueued:      0,
	StageUploading:   1,
	StageParsing:     2,
	StageEnriching:   3,
	StageVectorizing: 4,
	StageComplete:    5,
	StageFailed:      5,
}

// Ordinal returns the stage's position in the pipeline, or -1 for an
// unknown stage.
func (s Stage) Ordinal() int {
	if ord, ok := stageOrdinals[s]; ok {
		return ord
	}
	return -1
}

// Terminal reports whether the stage ends the job's stream.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// IngestionJob tracks one document through the pipeline.
type IngestionJob struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	Stage     Stage      `json:"stage"`
	Progress  int        `json:"progress"` // 0-100
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// JobResult is the structured summary produced when a job completes.
type JobResult struct {
	DocumentID      string `json:"document_id"`
	ChunksProcessed int    `json:"chunks_processed"`
	ImagesExtracted int    `json:"images_extracted"`
	ResultPath      string `json:"result_path"`
	VectorStorePath string `json:"vector_store_path"`
}

// ProcessOptions carries the chunking configuration for one submission.
type ProcessOptions struct {
	Languages              []string `json:"languages"`
	ExtractImages          bool     `json:"extract_images"`
	ExtractTables          bool     `json:"extract_tables"`
	MaxCharacters          int      `json:"max_characters"`
	NewAfterNChars         int      `json:"new_after_n_chars"`
	CombineTextUnderNChars int      `json:"combine_text_under_n_chars"`
}

// DefaultProcessOptions returns the chunking defaults.
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{
		Languages:              []string{"eng"},
		ExtractImages:          true,
		ExtractTables:          true,
		MaxCharacters:          3000,
		NewAfterNChars:         3800,
		CombineTextUnderNChars: 200,
	}
}

// ImageRef points at an extracted image stored in object storage.
type ImageRef struct {
	Filename string `json:"filename"`
	Key      string `json:"key,omitempty"`
	Data     string `json:"data,omitempty"` // data URI when inlined
}

// ChunkRecord is one processed chunk of a document.
type ChunkRecord struct {
	Index        int        `json:"index"`
	OriginalText string     `json:"original_text"`
	Summary      string     `json:"ai_summary,omitempty"`
	PageNumbers  []int      `json:"page_numbers,omitempty"`
	Images       []ImageRef `json:"images,omitempty"`
	TablesHTML   []string   `json:"raw_tables_html,omitempty"`
}

// ProcessedDocument is the stored result of a completed ingestion job.
type ProcessedDocument struct {
	DocumentID  string        `json:"document_id"`
	Filename    string        `json:"filename"`
	Chunks      []ChunkRecord `json:"chunks"`
	ImageCount  int           `json:"image_count"`
	ProcessedAt time.Time     `json:"processedAt"`
}
