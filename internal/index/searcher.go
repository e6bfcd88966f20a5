package index

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/sha1n/codegrok/internal/domain"
)

// Searcher is a read-only, point-in-time view of one published generation.
// Commits made after it was opened are not visible through it.
type Searcher struct {
	index    bleve.Index
	manifest Manifest
}

// Search executes a Bleve search request against the generation.
func (s *Searcher) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %w", ErrIndex, err)
	}
	return res, nil
}

// Get returns the stored document for a path.
func (s *Searcher) Get(ctx context.Context, path string) (domain.Document, bool, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{path}), 1, 0, false)
	req.Fields = []string{domain.FieldContent, domain.FieldLanguage}

	res, err := s.Search(ctx, req)
	if err != nil {
		return domain.Document{}, false, err
	}
	if len(res.Hits) == 0 {
		return domain.Document{}, false, nil
	}
	return documentFromFields(res.Hits[0].ID, res.Hits[0].Fields), true, nil
}

// DocCount returns the number of documents in the generation.
func (s *Searcher) DocCount() (uint64, error) {
	count, err := s.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	return count, nil
}

// Generation returns the generation this searcher reads.
func (s *Searcher) Generation() uint64 {
	return s.manifest.Generation
}

// Manifest returns the manifest of the generation this searcher reads.
func (s *Searcher) Manifest() Manifest {
	return s.manifest
}

// Close releases the generation.
func (s *Searcher) Close() error {
	return s.index.Close()
}
