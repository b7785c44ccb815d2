package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AnshulParate2004/ChunkSmith/internal/ingest"
	"github.com/AnshulParate2004/ChunkSmith/internal/retriever"
)

type searchRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	Query      string `json:"query" binding:"required"`
	K          int    `json:"k"`
}

const searchSnippetLimit = 500

// SearchDocuments runs a semantic search over a processed document and
// returns the ranked chunks without starting a chat turn.
func (h *Handler) SearchDocuments(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "document_id and query are required", err)
		return
	}
	if h.retriever == nil {
		h.handleError(c, http.StatusServiceUnavailable, "search is not configured", nil)
		return
	}

	ctx := c.Request.Context()
	if _, err := ingest.LoadResult(ctx, h.store, h.resultBucket, req.DocumentID); err != nil {
		h.handleError(c, http.StatusNotFound, "document not found", err)
		return
	}

	k := req.K
	if k <= 0 {
		k = retriever.DefaultTopK
	}

	chunks, err := h.retriever.Retrieve(ctx, req.DocumentID, req.Query, k)
	if err != nil {
		h.handleError(c, http.StatusBadGateway, "search failed", err)
		return
	}

	type searchResult struct {
		Rank        int     `json:"rank"`
		Content     string  `json:"content"`
		Summary     string  `json:"summary,omitempty"`
		Source      string  `json:"source,omitempty"`
		PageNumbers []int   `json:"page_numbers,omitempty"`
		Score       float64 `json:"score"`
	}
	results := make([]searchResult, len(chunks))
	for i, chunk := range chunks {
		content := chunk.Content
		if len(content) > searchSnippetLimit {
			content = content[:searchSnippetLimit] + "..."
		}
		results[i] = searchResult{
			Rank:        i + 1,
			Content:     content,
			Summary:     chunk.Summary,
			Source:      chunk.Source,
			PageNumbers: chunk.PageNumbers,
			Score:       chunk.Score,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id":   req.DocumentID,
		"query":         req.Query,
		"results_count": len(results),
		"results":       results,
	})
}

// supportedLanguages maps language names to OCR codes accepted in
// ProcessOptions.Languages.
var supportedLanguages = map[string]string{
	"arabic":     "ara",
	"bengali":    "ben",
	"chinese":    "chi_sim",
	"czech":      "ces",
	"danish":     "dan",
	"dutch":      "nld",
	"english":    "eng",
	"finnish":    "fin",
	"french":     "fra",
	"german":     "deu",
	"greek":      "ell",
	"hebrew":     "heb",
	"hindi":      "hin",
	"hungarian":  "hun",
	"indonesian": "ind",
	"italian":    "ita",
	"japanese":   "jpn",
	"korean":     "kor",
	"malay":      "msa",
	"norwegian":  "nor",
	"persian":    "fas",
	"polish":     "pol",
	"portuguese": "por",
	"romanian":   "ron",
	"russian":    "rus",
	"spanish":    "spa",
	"swedish":    "swe",
	"tamil":      "tam",
	"telugu":     "tel",
	"thai":       "tha",
	"turkish":    "tur",
	"ukrainian":  "ukr",
	"urdu":       "urd",
	"vietnamese": "vie",
}

// LanguageCodes maps language names to OCR codes, passing through
// values that already are codes.
func LanguageCodes(names []string) []string {
	codes := make([]string, 0, len(names))
	for _, name := range names {
		if code, ok := supportedLanguages[strings.ToLower(name)]; ok {
			codes = append(codes, code)
			continue
		}
		codes = append(codes, name)
	}
	return codes
}

// ListLanguages returns the supported OCR languages.
func (h *Handler) ListLanguages(c *gin.Context) {
	names := make([]string, 0, len(supportedLanguages))
	for name := range supportedLanguages {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]gin.H, len(names))
	for i, name := range names {
		out[i] = gin.H{"name": name, "code": supportedLanguages[name]}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(out),
		"languages": out,
		"default":   "eng",
	})
}
