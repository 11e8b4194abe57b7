// Package corpus maintains an ephemeral BM25 index over one research
// run's search results and extractions. The comprehensive workflow
// queries it during gap analysis: a sub-issue with no hits is a gap
// worth a follow-up search.
package corpus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// Document is one indexed source.
type Document struct {
	ID      string
	Title   string
	URL     string
	Content string
}

// Hit is one BM25 match.
type Hit struct {
	ID    string
	Title string
	URL   string
	Score float64
}

// Corpus is an in-memory index scoped to a single workflow run. Close
// releases it when the run finishes.
type Corpus struct {
	index bleve.Index
	mu    sync.RWMutex
	docs  map[string]Document
}

// New builds an empty in-memory corpus.
func New() (*Corpus, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("corpus index: %w", err)
	}
	return &Corpus{index: index, docs: make(map[string]Document)}, nil
}

// Add indexes one document. Documents with no text are skipped; a
// missing ID falls back to the URL.
func (c *Corpus) Add(doc Document) error {
	if strings.TrimSpace(doc.Title) == "" && strings.TrimSpace(doc.Content) == "" {
		return nil
	}
	if doc.ID == "" {
		doc.ID = doc.URL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc.ID] = doc
	return c.index.Index(doc.ID, doc)
}

// Len reports how many documents are indexed.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Search runs a BM25 match query and returns up to k hits, best first.
// A match query rather than query-string syntax: issue text comes from
// model output and may contain characters the query parser rejects.
func (c *Corpus) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	query := bleve.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)

	c.mu.RLock()
	res, err := c.index.Search(req)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("corpus search: %w", err)
	}

	out := make([]Hit, 0, len(res.Hits))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, hit := range res.Hits {
		doc := c.docs[hit.ID]
		out = append(out, Hit{ID: hit.ID, Title: doc.Title, URL: doc.URL, Score: hit.Score})
	}
	return out, nil
}

// Covered reports whether any indexed document matches the issue text.
func (c *Corpus) Covered(issue string) (bool, error) {
	hits, err := c.Search(issue, 1)
	if err != nil {
		return false, err
	}
	return len(hits) > 0, nil
}

// Close releases the index.
func (c *Corpus) Close() error {
	return c.index.Close()
}
