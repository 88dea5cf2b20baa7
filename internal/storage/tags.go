package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
)

// ChildTagIDs returns the ids of every tag whose parent is one of parentIDs.
// Unknown parents simply contribute no children.
func (db *DB) ChildTagIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	ids, err := selectIn[uuid.UUID](ctx, db, `
		SELECT id FROM tags
		WHERE parent_id IN (?)
		ORDER BY slug
	`, parentIDs, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get child tags: %w", err)
	}
	return ids, nil
}

// UpsertTag inserts a tag or refreshes its name and parent.
func (db *DB) UpsertTag(ctx context.Context, t domain.Tag) error {
	if t.ParentID.Valid && t.ParentID.UUID == t.ID {
		return fmt.Errorf("tag %s cannot be its own parent", t.Slug)
	}
	_, err := db.q.ExecContext(ctx, db.q.Rebind(`
		INSERT INTO tags (id, slug, name, parent_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			parent_id = excluded.parent_id
	`), t.ID, t.Slug, t.Name, t.ParentID)
	if err != nil {
		return fmt.Errorf("failed to upsert tag %s: %w", t.Slug, err)
	}
	return nil
}
