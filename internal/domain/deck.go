package domain

import (
	"time"

	"github.com/google/uuid"
)

// Deck is a user-owned, ordered list of questions.
type Deck struct {
	ID        uuid.UUID `db:"id"`
	OwnerID   uuid.UUID `db:"owner_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// DeckItem places a question at a position inside a deck.
// Positions are contiguous per deck and start at 0.
type DeckItem struct {
	DeckID     uuid.UUID `db:"deck_id"`
	QuestionID uuid.UUID `db:"question_id"`
	Position   int       `db:"position"`
	AddedAt    time.Time `db:"added_at"`
}

// ReviewItem is the spaced-repetition state of one question for one user.
type ReviewItem struct {
	UserID     uuid.UUID `db:"user_id"`
	QuestionID uuid.UUID `db:"question_id"`
	DueAt      time.Time `db:"due_at"`
	Interval   int       `db:"interval_days"`
	Ease       float64   `db:"ease"`
	Lapses     int       `db:"lapses"`
	Suspended  bool      `db:"suspended"`
	CreatedAt  time.Time `db:"created_at"`
}

// Seed values for a review item created the first time a question is served.
const (
	InitialInterval = 1
	InitialEase     = 2.5
	MinEase         = 1.3
)

// NewReviewItem returns the state a first-seen question starts with.
func NewReviewItem(userID, questionID uuid.UUID, now time.Time) ReviewItem {
	return ReviewItem{
		UserID:     userID,
		QuestionID: questionID,
		DueAt:      now,
		Interval:   InitialInterval,
		Ease:       InitialEase,
		Lapses:     0,
		Suspended:  false,
		CreatedAt:  now,
	}
}

// IsDue reports whether the item should be reviewed at now.
func (r ReviewItem) IsDue(now time.Time) bool {
	return !r.Suspended && !r.DueAt.After(now)
}
