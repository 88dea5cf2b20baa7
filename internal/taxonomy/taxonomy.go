// Package taxonomy expands tag selections over the two-level tag tree.
package taxonomy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ChildStore looks up the direct children of supertags.
type ChildStore interface {
	ChildTagIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error)
}

// Resolver computes the effective tag set of a selection.
type Resolver struct {
	store ChildStore
}

// NewResolver creates a resolver backed by store.
func NewResolver(store ChildStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns tagIDs ∪ superTagIDs ∪ children(superTagIDs) without
// duplicates. Input order does not affect the set; the output lists
// explicit tags, then supertags, then children, each in first-seen order.
// An empty selection returns nil without consulting the store.
func (r *Resolver) Resolve(ctx context.Context, tagIDs, superTagIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(tagIDs) == 0 && len(superTagIDs) == 0 {
		return nil, nil
	}

	var effective []uuid.UUID
	seen := make(map[uuid.UUID]bool, len(tagIDs)+len(superTagIDs))
	add := func(ids []uuid.UUID) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				effective = append(effective, id)
			}
		}
	}

	add(tagIDs)
	add(superTagIDs)

	if len(superTagIDs) > 0 {
		children, err := r.store.ChildTagIDs(ctx, dedupe(superTagIDs))
		if err != nil {
			return nil, fmt.Errorf("failed to expand supertags: %w", err)
		}
		add(children)
	}
	return effective, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
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
