// Package review selects the next spaced-repetition card for a user.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/deck"
	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/storage"
)

// Pool scopes a request to one deck, or to every SR-enabled deck of the
// user when DeckID is not set.
type Pool struct {
	UserID uuid.UUID
	DeckID uuid.NullUUID
}

// Card is the question to review next along with its review state.
type Card struct {
	QuestionID uuid.UUID         `json:"questionId"`
	Item       domain.ReviewItem `json:"-"`
	// New is set when the question was seen for the first time and its
	// review state has just been created.
	New bool `json:"new"`
}

// Store is the review state the scheduler reads and seeds.
type Store interface {
	deck.Finder
	EarliestDue(ctx context.Context, p storage.ReviewPool, now time.Time) (*domain.ReviewItem, error)
	CountDue(ctx context.Context, p storage.ReviewPool, now time.Time) (int, error)
	CandidateQuestionIDs(ctx context.Context, p storage.ReviewPool) ([]uuid.UUID, error)
	SeenQuestionIDs(ctx context.Context, p storage.ReviewPool) (map[uuid.UUID]bool, error)
	InsertReviewItemIfAbsent(ctx context.Context, r domain.ReviewItem) (bool, error)
	FindReviewItem(ctx context.Context, userID, questionID uuid.UUID) (*domain.ReviewItem, error)
}

// Scheduler picks cards from a review pool.
type Scheduler struct {
	db  Store
	now func() time.Time
}

// NewScheduler creates a scheduler reading the clock with time.Now.
func NewScheduler(db Store) *Scheduler {
	return &Scheduler{db: db, now: time.Now}
}

func (s *Scheduler) storagePool(ctx context.Context, p Pool) (storage.ReviewPool, error) {
	if p.DeckID.Valid {
		if _, err := deck.Authorize(ctx, s.db, p.UserID, p.DeckID.UUID); err != nil {
			return storage.ReviewPool{}, err
		}
	}
	return storage.ReviewPool{UserID: p.UserID, DeckID: p.DeckID}, nil
}

// Next returns the card to review now. The earliest due review item of the
// pool wins; otherwise the first unseen question in pool order is seeded and
// returned. It returns nil when the pool has nothing to offer.
func (s *Scheduler) Next(ctx context.Context, p Pool) (*Card, error) {
	sp, err := s.storagePool(ctx, p)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	due, err := s.db.EarliestDue(ctx, sp, now)
	if err != nil {
		return nil, err
	}
	if due != nil {
		if !due.IsDue(now) {
			return nil, fmt.Errorf("review item for question %s returned as due but is not due at %s", due.QuestionID, now)
		}
		return &Card{QuestionID: due.QuestionID, Item: *due}, nil
	}

	candidates, err := s.db.CandidateQuestionIDs(ctx, sp)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	seen, err := s.db.SeenQuestionIDs(ctx, sp)
	if err != nil {
		return nil, err
	}

	for _, id := range candidates {
		if seen[id] {
			continue
		}
		item := domain.NewReviewItem(p.UserID, id, now)
		created, err := s.db.InsertReviewItemIfAbsent(ctx, item)
		if err != nil {
			return nil, err
		}
		if !created {
			// A concurrent request seeded it first; serve the stored state.
			stored, err := s.db.FindReviewItem(ctx, p.UserID, id)
			if err != nil {
				return nil, err
			}
			if stored == nil {
				return nil, fmt.Errorf("review item for question %s vanished after seeding", id)
			}
			item = *stored
		} else {
			slog.Debug("Seeded review item", "user", p.UserID, "question", id)
		}
		return &Card{QuestionID: id, Item: item, New: created}, nil
	}
	return nil, nil
}

// DueCount counts the cards Next would treat as due right now.
func (s *Scheduler) DueCount(ctx context.Context, p Pool) (int, error) {
	sp, err := s.storagePool(ctx, p)
	if err != nil {
		return 0, err
	}
	return s.db.CountDue(ctx, sp, s.now().UTC())
}
