// Package pool assembles practice question sets from tag filters.
package pool

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/taxonomy"
)

// Store provides the link rows the engine computes over.
type Store interface {
	taxonomy.ChildStore
	QuestionTagLinks(ctx context.Context, tagIDs []uuid.UUID, examID uuid.NullUUID) ([]domain.TagLink, error)
	QuestionCaseRefs(ctx context.Context, questionIDs []uuid.UUID) ([]domain.CaseRef, error)
	CaseMembers(ctx context.Context, caseIDs []uuid.UUID, examID uuid.NullUUID) ([]domain.CaseRef, error)
}

// Filter selects questions by an already resolved tag set.
type Filter struct {
	EffectiveTagIDs []uuid.UUID
	RequireAnd      bool
	ExamID          uuid.NullUUID
	IncludeCases    bool
	Limit           int
}

// Engine evaluates tag filters against the question bank.
type Engine struct {
	store    Store
	resolver *taxonomy.Resolver
}

// NewEngine creates an engine backed by store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, resolver: taxonomy.NewResolver(store)}
}

// Query resolves the tag selection of q and selects the matching questions.
func (e *Engine) Query(ctx context.Context, q Query) ([]uuid.UUID, error) {
	effective, err := e.resolver.Resolve(ctx, q.TagIDs, q.SuperTagIDs)
	if err != nil {
		return nil, err
	}
	return e.Select(ctx, Filter{
		EffectiveTagIDs: effective,
		RequireAnd:      q.RequireAnd,
		ExamID:          q.ExamID,
		IncludeCases:    q.IncludeCases,
		Limit:           q.Limit,
	})
}

// Select returns the ids of the questions matching f, de-duplicated and in
// scan order. An empty tag set selects nothing and reads nothing.
//
// AND is honoured only for more than one tag: a question then qualifies when
// its tags are a superset of the effective set. Otherwise one matching tag
// suffices.
func (e *Engine) Select(ctx context.Context, f Filter) ([]uuid.UUID, error) {
	tags := distinct(f.EffectiveTagIDs)
	if len(tags) == 0 {
		return nil, nil
	}
	requireAnd := f.RequireAnd && len(tags) > 1

	links, err := e.store.QuestionTagLinks(ctx, tags, f.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag links: %w", err)
	}

	// matchedTags counts distinct effective tags per question.
	var order []uuid.UUID
	matchedTags := make(map[uuid.UUID]map[uuid.UUID]bool)
	for _, l := range links {
		set, ok := matchedTags[l.QuestionID]
		if !ok {
			set = make(map[uuid.UUID]bool)
			matchedTags[l.QuestionID] = set
			order = append(order, l.QuestionID)
		}
		set[l.TagID] = true
	}

	matched := make([]uuid.UUID, 0, len(order))
	for _, id := range order {
		if requireAnd && len(matchedTags[id]) != len(tags) {
			continue
		}
		matched = append(matched, id)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	var groups [][]uuid.UUID
	if f.IncludeCases {
		groups, err = e.expandCases(ctx, matched, f.ExamID)
		if err != nil {
			return nil, err
		}
	} else {
		groups = make([][]uuid.UUID, len(matched))
		for i, id := range matched {
			groups[i] = []uuid.UUID{id}
		}
	}
	return applyLimit(groups, f.Limit), nil
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
