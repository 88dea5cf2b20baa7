package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/knol"
	"github.com/conorfennell/medbank/internal/pool"
	"github.com/conorfennell/medbank/internal/storage"
)

// Store reads the searchable text of questions.
type Store interface {
	SearchRecords(ctx context.Context, f storage.SearchFilter) ([]domain.SearchRecord, error)
}

// Selector resolves a tag filter into question ids.
type Selector interface {
	Query(ctx context.Context, q pool.Query) ([]uuid.UUID, error)
}

// Query is a search request. Text and the tag filter may be combined.
type Query struct {
	Text        string
	TagIDs      []uuid.UUID
	SuperTagIDs []uuid.UUID
	ExamID      uuid.NullUUID
}

// Service runs searches against the question bank.
type Service struct {
	store      Store
	selector   Selector
	radius     int
	maxResults int
}

// NewService creates a search service. radius and maxResults fall back to
// DefaultRadius and no cap when not positive.
func NewService(store Store, selector Selector, radius, maxResults int) *Service {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Service{store: store, selector: selector, radius: radius, maxResults: maxResults}
}

// Search returns the questions matching q. A blank query without a tag
// filter returns no hits and performs no reads. With a tag filter only the
// filtered questions are searched; a blank query then lists them.
func (s *Service) Search(ctx context.Context, q Query) ([]Hit, error) {
	text := strings.TrimSpace(q.Text)
	filtered := len(q.TagIDs) > 0 || len(q.SuperTagIDs) > 0
	if text == "" && !filtered {
		return []Hit{}, nil
	}

	f := storage.SearchFilter{Needle: knol.Fold(text), ExamID: q.ExamID, Limit: s.maxResults}
	if filtered {
		ids, err := s.selector.Query(ctx, pool.Query{TagIDs: q.TagIDs, SuperTagIDs: q.SuperTagIDs, ExamID: q.ExamID})
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []Hit{}, nil
		}
		f.QuestionIDs = ids
	}

	records, err := s.store.SearchRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0, len(records))
	for _, r := range records {
		hit := Match(r, text, s.radius)
		if text != "" && len(hit.MatchIn) == 0 {
			// The store's folding can be looser than ours.
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
