// Package deck manages user decks and bulk enrollment of questions.
package deck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/storage"
)

// Result reports the outcome of a bulk enrollment.
type Result struct {
	Added         int `json:"added"`
	Total         int `json:"total"`
	AlreadyExists int `json:"alreadyExists"`
}

// Service owns deck mutations. Every mutation checks that the deck belongs
// to the requesting user first.
type Service struct {
	db  *storage.DB
	now func() time.Time
}

// NewService creates a deck service.
func NewService(db *storage.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Create creates an empty deck for owner.
func (s *Service) Create(ctx context.Context, owner uuid.UUID, name string) (*domain.Deck, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: deck name is required", domain.ErrInvalidRequest)
	}
	d := domain.Deck{ID: uuid.New(), OwnerID: owner, Name: name, CreatedAt: s.now().UTC()}
	if err := s.db.CreateDeck(ctx, d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Finder loads decks.
type Finder interface {
	FindDeck(ctx context.Context, id uuid.UUID) (*domain.Deck, error)
}

// Authorize loads the deck and checks that userID owns it.
func Authorize(ctx context.Context, db Finder, userID, deckID uuid.UUID) (*domain.Deck, error) {
	d, err := db.FindDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domain.ErrDeckNotFound
	}
	if d.OwnerID != userID {
		return nil, fmt.Errorf("%w: deck %s not owned by requesting user", domain.ErrForbidden, deckID)
	}
	return d, nil
}

// locker authorizes against the locked deck row.
type locker struct {
	tx *storage.DB
}

func (l locker) FindDeck(ctx context.Context, id uuid.UUID) (*domain.Deck, error) {
	return l.tx.LockDeck(ctx, id)
}

// Detail is a deck with its settings and items in deck order.
type Detail struct {
	Deck      domain.Deck
	SREnabled bool
	Items     []domain.DeckItem
}

// Get returns a deck owned by userID.
func (s *Service) Get(ctx context.Context, userID, deckID uuid.UUID) (*Detail, error) {
	var detail *Detail
	err := s.db.InTx(ctx, func(tx *storage.DB) error {
		d, err := Authorize(ctx, tx, userID, deckID)
		if err != nil {
			return err
		}
		enabled, err := tx.DeckSREnabled(ctx, deckID)
		if err != nil {
			return err
		}
		items, err := tx.DeckItems(ctx, deckID)
		if err != nil {
			return err
		}
		detail = &Detail{Deck: *d, SREnabled: enabled, Items: items}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// SetSR enables or disables spaced repetition for a deck.
func (s *Service) SetSR(ctx context.Context, userID, deckID uuid.UUID, enabled bool) error {
	return s.db.InTx(ctx, func(tx *storage.DB) error {
		if _, err := Authorize(ctx, locker{tx}, userID, deckID); err != nil {
			return err
		}
		return tx.SetDeckSR(ctx, deckID, enabled)
	})
}

// Enroll appends the candidates the deck does not hold yet, in candidate
// order, after the deck's last position. The whole enrollment commits or
// nothing does. Enrolling the same candidates again adds nothing.
func (s *Service) Enroll(ctx context.Context, userID, deckID uuid.UUID, candidates []uuid.UUID) (Result, error) {
	candidates = distinct(candidates)
	res := Result{Total: len(candidates)}

	err := s.db.InTx(ctx, func(tx *storage.DB) error {
		if _, err := Authorize(ctx, locker{tx}, userID, deckID); err != nil {
			return err
		}

		existing, err := tx.DeckQuestionIDs(ctx, deckID)
		if err != nil {
			return err
		}
		present := make(map[uuid.UUID]bool, len(existing))
		for _, id := range existing {
			present[id] = true
		}

		var missing []uuid.UUID
		for _, id := range candidates {
			if !present[id] {
				missing = append(missing, id)
			}
		}
		res.AlreadyExists = len(candidates) - len(missing)
		if len(missing) == 0 {
			return nil
		}

		last, err := tx.MaxDeckPosition(ctx, deckID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		items := make([]domain.DeckItem, len(missing))
		for i, id := range missing {
			items[i] = domain.DeckItem{DeckID: deckID, QuestionID: id, Position: last + 1 + i, AddedAt: now}
		}
		if err := tx.InsertDeckItems(ctx, items); err != nil {
			return err
		}
		res.Added = len(items)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	slog.Info("Enrolled questions", "deck", deckID, "added", res.Added, "total", res.Total, "already_exists", res.AlreadyExists)
	return res, nil
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
