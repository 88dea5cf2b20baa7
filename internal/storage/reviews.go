package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
)

// ReviewPool identifies the candidate questions of a spaced-repetition
// request: one deck when DeckID is valid, otherwise every SR-enabled deck
// owned by UserID.
type ReviewPool struct {
	UserID uuid.UUID
	DeckID uuid.NullUUID
}

// poolQuestions returns a sub-query selecting the question ids of the pool
// together with its arguments. Selection, due counting and seen lookups all
// embed this same fragment so they agree on the pool definition.
func poolQuestions(p ReviewPool) (string, []interface{}) {
	if p.DeckID.Valid {
		return `SELECT di.question_id FROM deck_items di WHERE di.deck_id = ?`,
			[]interface{}{p.DeckID.UUID}
	}
	return `SELECT di.question_id
		FROM deck_items di
		JOIN decks d ON d.id = di.deck_id
		JOIN sr_deck_settings s ON s.deck_id = d.id
		WHERE d.owner_id = ? AND s.sr_enabled = ?`,
		[]interface{}{p.UserID, true}
}

// CandidateQuestionIDs enumerates the pool in its canonical order: deck
// position for one deck, deck creation then position across decks. A
// question present in several decks is listed once, at its first occurrence.
func (db *DB) CandidateQuestionIDs(ctx context.Context, p ReviewPool) ([]uuid.UUID, error) {
	var (
		rows []uuid.UUID
		err  error
	)
	if p.DeckID.Valid {
		err = db.selectAll(ctx, &rows, `
			SELECT question_id FROM deck_items
			WHERE deck_id = ?
			ORDER BY position
		`, p.DeckID.UUID)
	} else {
		err = db.selectAll(ctx, &rows, `
			SELECT di.question_id
			FROM deck_items di
			JOIN decks d ON d.id = di.deck_id
			JOIN sr_deck_settings s ON s.deck_id = d.id
			WHERE d.owner_id = ? AND s.sr_enabled = ?
			ORDER BY d.created_at, d.id, di.position
		`, p.UserID, true)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate review pool: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, id := range rows {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// EarliestDue returns the non-suspended review item of the pool with the
// smallest due date at or before now, ties broken by question id. It returns
// nil when nothing is due.
func (db *DB) EarliestDue(ctx context.Context, p ReviewPool, now time.Time) (*domain.ReviewItem, error) {
	sub, subArgs := poolQuestions(p)
	args := append([]interface{}{p.UserID, false, now.UTC()}, subArgs...)

	var item domain.ReviewItem
	err := db.get(ctx, &item, `
		SELECT user_id, question_id, due_at, interval_days, ease, lapses, suspended, created_at
		FROM review_items
		WHERE user_id = ? AND suspended = ? AND due_at <= ?
		  AND question_id IN (`+sub+`)
		ORDER BY due_at, question_id
		LIMIT 1
	`, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Nothing due
		}
		return nil, fmt.Errorf("failed to find earliest due review item: %w", err)
	}
	return &item, nil
}

// CountDue counts the review items EarliestDue could select at now.
func (db *DB) CountDue(ctx context.Context, p ReviewPool, now time.Time) (int, error) {
	sub, subArgs := poolQuestions(p)
	args := append([]interface{}{p.UserID, false, now.UTC()}, subArgs...)

	var n int
	if err := db.get(ctx, &n, `
		SELECT COUNT(*)
		FROM review_items
		WHERE user_id = ? AND suspended = ? AND due_at <= ?
		  AND question_id IN (`+sub+`)
	`, args...); err != nil {
		return 0, fmt.Errorf("failed to count due review items: %w", err)
	}
	return n, nil
}

// SeenQuestionIDs returns the pool questions the user already has review
// state for, suspended or not.
func (db *DB) SeenQuestionIDs(ctx context.Context, p ReviewPool) (map[uuid.UUID]bool, error) {
	sub, subArgs := poolQuestions(p)
	args := append([]interface{}{p.UserID}, subArgs...)

	var ids []uuid.UUID
	if err := db.selectAll(ctx, &ids, `
		SELECT question_id FROM review_items
		WHERE user_id = ? AND question_id IN (`+sub+`)
	`, args...); err != nil {
		return nil, fmt.Errorf("failed to get seen questions: %w", err)
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

// InsertReviewItemIfAbsent creates the review item unless one already exists
// for (user, question). It reports whether a row was inserted. Concurrent
// callers for the same pair never produce two rows.
func (db *DB) InsertReviewItemIfAbsent(ctx context.Context, r domain.ReviewItem) (bool, error) {
	res, err := db.q.ExecContext(ctx, db.q.Rebind(`
		INSERT INTO review_items (user_id, question_id, due_at, interval_days, ease, lapses, suspended, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, question_id) DO NOTHING
	`), r.UserID, r.QuestionID, r.DueAt.UTC(), r.Interval, r.Ease, r.Lapses, r.Suspended, r.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert review item for question %s: %w", r.QuestionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// FindReviewItem retrieves the review state of a question for a user.
func (db *DB) FindReviewItem(ctx context.Context, userID, questionID uuid.UUID) (*domain.ReviewItem, error) {
	var item domain.ReviewItem
	err := db.get(ctx, &item, `
		SELECT user_id, question_id, due_at, interval_days, ease, lapses, suspended, created_at
		FROM review_items WHERE user_id = ? AND question_id = ?
	`, userID, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Unseen
		}
		return nil, fmt.Errorf("failed to find review item for question %s: %w", questionID, err)
	}
	return &item, nil
}

// UpdateReviewItem is the entry point of the answer-grading step: it stores
// the new due date, interval, ease, lapse count and suspension of an item
// that Next seeded earlier. Values below the seed bounds are rejected.
func (db *DB) UpdateReviewItem(ctx context.Context, r domain.ReviewItem) error {
	if r.Interval < domain.InitialInterval || r.Ease < domain.MinEase || r.Lapses < 0 {
		return fmt.Errorf("%w: review item out of bounds (interval %d, ease %.2f, lapses %d)",
			domain.ErrInvalidRequest, r.Interval, r.Ease, r.Lapses)
	}
	res, err := db.q.ExecContext(ctx, db.q.Rebind(`
		UPDATE review_items
		SET due_at = ?, interval_days = ?, ease = ?, lapses = ?, suspended = ?
		WHERE user_id = ? AND question_id = ?
	`), r.DueAt.UTC(), r.Interval, r.Ease, r.Lapses, r.Suspended, r.UserID, r.QuestionID)
	if err != nil {
		return fmt.Errorf("failed to update review item for question %s: %w", r.QuestionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("review item for question %s not found", r.QuestionID)
	}
	return nil
}
