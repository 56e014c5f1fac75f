// Package index keeps a full-text index of ILL requests for the operator
// list view.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// RequestDocument represents the searchable fields of an ILL request.
type RequestDocument struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Target   string `json:"target"`
	Status   string `json:"status"`
	Borrower string `json:"borrower"`
	Branch   string `json:"branch"`
}

type Manager struct {
	index bleve.Index
	path  string
}

func newMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = standard.Name

	doc := bleve.NewDocumentMapping()
	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	for _, f := range []string{"status", "isbn", "branch"} {
		doc.AddFieldMappingsAt(f, exact)
	}
	m.DefaultMapping = doc
	return m
}

// NewManager opens the index at path, creating it if needed. An empty path
// gives an in-memory index.
func NewManager(path string) (*Manager, error) {
	var (
		idx bleve.Index
		err error
	)
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
	case isMissing(path):
		idx, err = bleve.New(path, newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
		slog.Info("created new bleve index", "path", path)
	default:
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		slog.Info("opened existing bleve index", "path", path)
	}
	return &Manager{index: idx, path: path}, nil
}

func isMissing(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

func (m *Manager) Close() error {
	return m.index.Close()
}

// IndexRequest adds or replaces the document for one request.
func (m *Manager) IndexRequest(id int64, doc RequestDocument) error {
	doc.ID = strconv.FormatInt(id, 10)
	slog.Debug("indexing ill request", "request_id", id, "status", doc.Status)
	return m.index.Index(doc.ID, doc)
}

func (m *Manager) DeleteRequest(id int64) error {
	return m.index.Delete(strconv.FormatInt(id, 10))
}

type SearchHit struct {
	ID    int64   `json:"id"`
	Score float64 `json:"score"`
}

// Search runs a query-string query ("dune", "status:REQ", "+target:alpha").
func (m *Manager) Search(queryStr string, size int) ([]SearchHit, error) {
	if size <= 0 {
		size = 50
	}
	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(queryStr))
	req.Size = size

	res, err := m.index.Search(req)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Score: h.Score})
	}
	slog.Debug("index search executed", "query", queryStr, "hits", res.Total, "took", res.Took)
	return hits, nil
}

// Count returns the total number of indexed documents
func (m *Manager) Count() (uint64, error) {
	return m.index.DocCount()
}
