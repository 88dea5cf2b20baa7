package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/medbank/internal/domain"
)

// insertBatch bounds the rows of one multi-row INSERT, keeping it under the
// bound-parameter limit of SQLite.
const insertBatch = 200

// CreateDeck inserts a new deck.
func (db *DB) CreateDeck(ctx context.Context, d domain.Deck) error {
	_, err := db.q.ExecContext(ctx, db.q.Rebind(`
		INSERT INTO decks (id, owner_id, name, created_at)
		VALUES (?, ?, ?, ?)
	`), d.ID, d.OwnerID, d.Name, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create deck %s: %w", d.ID, err)
	}
	return nil
}

// FindDeck retrieves a deck by id. It returns nil when the deck does not exist.
func (db *DB) FindDeck(ctx context.Context, id uuid.UUID) (*domain.Deck, error) {
	var d domain.Deck
	err := db.get(ctx, &d, `SELECT id, owner_id, name, created_at FROM decks WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Deck not found
		}
		return nil, fmt.Errorf("failed to find deck %s: %w", id, err)
	}
	return &d, nil
}

// LockDeck is FindDeck for writers. Inside InTx it holds the deck row until
// the transaction ends, so concurrent writers to one deck run one after the
// other and each sees the items the previous one committed.
func (db *DB) LockDeck(ctx context.Context, id uuid.UUID) (*domain.Deck, error) {
	var d domain.Deck
	err := db.get(ctx, &d, `SELECT id, owner_id, name, created_at FROM decks WHERE id = ?`+db.dialect.forUpdate, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock deck %s: %w", id, err)
	}
	return &d, nil
}

// DeckQuestionIDs returns the ids of the deck's questions in deck order.
func (db *DB) DeckQuestionIDs(ctx context.Context, deckID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := db.selectAll(ctx, &ids, `
		SELECT question_id FROM deck_items WHERE deck_id = ? ORDER BY position
	`, deckID); err != nil {
		return nil, fmt.Errorf("failed to get questions of deck %s: %w", deckID, err)
	}
	return ids, nil
}

// DeckItems returns the items of a deck in deck order.
func (db *DB) DeckItems(ctx context.Context, deckID uuid.UUID) ([]domain.DeckItem, error) {
	var items []domain.DeckItem
	if err := db.selectAll(ctx, &items, `
		SELECT deck_id, question_id, position, added_at
		FROM deck_items WHERE deck_id = ? ORDER BY position
	`, deckID); err != nil {
		return nil, fmt.Errorf("failed to get items of deck %s: %w", deckID, err)
	}
	return items, nil
}

// MaxDeckPosition returns the highest position used in the deck, or -1 for
// an empty deck.
func (db *DB) MaxDeckPosition(ctx context.Context, deckID uuid.UUID) (int, error) {
	var max int
	if err := db.get(ctx, &max, `
		SELECT COALESCE(MAX(position), -1) FROM deck_items WHERE deck_id = ?
	`, deckID); err != nil {
		return 0, fmt.Errorf("failed to get max position of deck %s: %w", deckID, err)
	}
	return max, nil
}

// InsertDeckItems inserts items with multi-row statements. It does not open a
// transaction of its own; callers needing all-or-nothing semantics wrap it in InTx.
func (db *DB) InsertDeckItems(ctx context.Context, items []domain.DeckItem) error {
	for start := 0; start < len(items); start += insertBatch {
		end := start + insertBatch
		if end > len(items) {
			end = len(items)
		}
		batch := make([]domain.DeckItem, end-start)
		for i, it := range items[start:end] {
			it.AddedAt = it.AddedAt.UTC()
			batch[i] = it
		}
		if _, err := sqlx.NamedExecContext(ctx, db.q, `
			INSERT INTO deck_items (deck_id, question_id, position, added_at)
			VALUES (:deck_id, :question_id, :position, :added_at)
		`, batch); err != nil {
			return fmt.Errorf("failed to insert deck items: %w", err)
		}
	}
	return nil
}

// SetDeckSR enables or disables spaced repetition for a deck.
func (db *DB) SetDeckSR(ctx context.Context, deckID uuid.UUID, enabled bool) error {
	_, err := db.q.ExecContext(ctx, db.q.Rebind(`
		INSERT INTO sr_deck_settings (deck_id, sr_enabled)
		VALUES (?, ?)
		ON CONFLICT (deck_id) DO UPDATE SET sr_enabled = excluded.sr_enabled
	`), deckID, enabled)
	if err != nil {
		return fmt.Errorf("failed to set spaced repetition for deck %s: %w", deckID, err)
	}
	return nil
}

// DeckSREnabled reports whether spaced repetition is enabled for a deck.
// Decks without a setting row are disabled.
func (db *DB) DeckSREnabled(ctx context.Context, deckID uuid.UUID) (bool, error) {
	var enabled bool
	err := db.get(ctx, &enabled, `SELECT sr_enabled FROM sr_deck_settings WHERE deck_id = ?`, deckID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get spaced repetition setting for deck %s: %w", deckID, err)
	}
	return enabled, nil
}
