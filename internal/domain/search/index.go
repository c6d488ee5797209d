// Package search keeps a full-text index over persisted data records so that
// users can find line items by description or tag.
package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
)

// Tags may contain spaces, so they are joined on newlines.
const tagSeparator = "\n"

// Document is the indexed form of a data record.
type Document struct {
	ID          string  `json:"id"`
	UploadID    string  `json:"upload_id"`
	UserID      string  `json:"user_id"`
	RecordIndex float64 `json:"record_index"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Tags        string  `json:"tags"`
	Amount      string  `json:"amount"`
}

// Hit is a search result with its relevance score.
type Hit struct {
	RecordID    uuid.UUID `json:"recordId"`
	UploadID    uuid.UUID `json:"uploadId"`
	RecordIndex int       `json:"recordIndex"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Amount      string    `json:"amount,omitempty"`
	Score       float64   `json:"score"`
}

// Index provides full-text search over data records using Bleve.
type Index struct {
	index   bleve.Index
	indexMu sync.RWMutex
	path    string // empty for in-memory
}

// NewIndex creates a search index. An empty path creates an in-memory index;
// otherwise the index at path is opened, or created if missing.
func NewIndex(path string) (*Index, error) {
	idx := &Index{path: path}

	var (
		index bleve.Index
		err   error
	)

	indexMapping := buildIndexMapping()

	if path == "" {
		index, err = bleve.NewMemOnly(indexMapping)
	} else {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
				return nil, fmt.Errorf("failed to create index directory: %w", mkdirErr)
			}
			index, err = bleve.New(path, indexMapping)
		} else {
			index, err = bleve.Open(path)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	idx.index = index
	return idx, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = simple.Name

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name

	storedOnly := bleve.NewTextFieldMapping()
	storedOnly.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("upload_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("user_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("record_index", bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("category", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("description", textFieldMapping)
	docMapping.AddFieldMappingsAt("tags", textFieldMapping)
	docMapping.AddFieldMappingsAt("amount", storedOnly)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = simple.Name

	return indexMapping
}

// IndexRecords adds the records of one upload, owned by userID, in a single
// batch.
func (idx *Index) IndexRecords(userID uuid.UUID, records []repository.DataRecord) error {
	idx.indexMu.Lock()
	defer idx.indexMu.Unlock()

	batch := idx.index.NewBatch()
	for i := range records {
		rec := &records[i]
		doc := Document{
			ID:          rec.ID.String(),
			UploadID:    rec.UploadID.String(),
			UserID:      userID.String(),
			RecordIndex: float64(rec.RecordIndex),
			Category:    rec.Category,
			Description: rec.Description.String,
			Tags:        strings.Join(rec.Tags, tagSeparator),
		}
		if rec.Amount.Valid {
			doc.Amount = rec.Amount.Decimal.String()
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("failed to index record %s: %w", rec.ID, err)
		}
	}

	if err := idx.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch index: %w", err)
	}
	return nil
}

// Search finds records of userID whose description or tags match text. One
// edit of typo tolerance is allowed per term.
func (idx *Index) Search(userID uuid.UUID, text string, limit int) ([]Hit, error) {
	idx.indexMu.RLock()
	defer idx.indexMu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	description := bleve.NewMatchQuery(text)
	description.SetField("description")
	description.SetFuzziness(1)

	tags := bleve.NewMatchQuery(text)
	tags.SetField("tags")

	q := bleve.NewConjunctionQuery(
		termQuery("user_id", userID.String()),
		bleve.NewDisjunctionQuery(description, tags),
	)

	searchRequest := bleve.NewSearchRequest(q)
	searchRequest.Size = limit
	searchRequest.Fields = []string{"*"}

	searchResults, err := idx.index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return convertResults(searchResults), nil
}

func termQuery(field, value string) *query.TermQuery {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

func convertResults(searchResults *bleve.SearchResult) []Hit {
	hits := make([]Hit, 0, len(searchResults.Hits))

	for _, h := range searchResults.Hits {
		hit := Hit{Score: h.Score}
		if id, err := uuid.Parse(h.ID); err == nil {
			hit.RecordID = id
		}
		if v, ok := h.Fields["upload_id"].(string); ok {
			hit.UploadID, _ = uuid.Parse(v)
		}
		if v, ok := h.Fields["record_index"].(float64); ok {
			hit.RecordIndex = int(v)
		}
		if v, ok := h.Fields["category"].(string); ok {
			hit.Category = v
		}
		if v, ok := h.Fields["description"].(string); ok {
			hit.Description = v
		}
		if v, ok := h.Fields["tags"].(string); ok && v != "" {
			hit.Tags = strings.Split(v, tagSeparator)
		}
		if v, ok := h.Fields["amount"].(string); ok {
			hit.Amount = v
		}
		hits = append(hits, hit)
	}

	return hits
}

// DocumentCount returns the number of documents in the index
func (idx *Index) DocumentCount() (uint64, error) {
	idx.indexMu.RLock()
	defer idx.indexMu.RUnlock()

	return idx.index.DocCount()
}

// Close closes the index
func (idx *Index) Close() error {
	idx.indexMu.Lock()
	defer idx.indexMu.Unlock()

	if idx.index != nil {
		return idx.index.Close()
	}
	return nil
}
