package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/storage"
	"github.com/conorfennell/medbank/internal/storage/storagetest"
)

func TestReviewPoolQueries(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)
	user := uuid.New()
	now := storagetest.Base.Add(24 * time.Hour)

	exam := f.Exam("Step 1")
	q1 := f.Question(domain.Question{ExamID: exam, Stem: "1"})
	q2 := f.Question(domain.Question{ExamID: exam, Stem: "2"})
	q3 := f.Question(domain.Question{ExamID: exam, Stem: "3"})
	q4 := f.Question(domain.Question{ExamID: exam, Stem: "4"})

	srDeck := f.DeckWith(user, true, q2, q1)
	f.DeckWith(user, false, q4)
	f.DeckWith(user, true, q1, q3)
	f.DeckWith(uuid.New(), true, q4)

	global := storage.ReviewPool{UserID: user}
	ids, err := db.CandidateQuestionIDs(ctx, global)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{q2, q1, q3}, ids, "SR decks only, deck order, de-duplicated")

	deckPool := storage.ReviewPool{UserID: user, DeckID: uuid.NullUUID{UUID: srDeck, Valid: true}}
	ids, err = db.CandidateQuestionIDs(ctx, deckPool)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{q2, q1}, ids)

	item := domain.NewReviewItem(user, q3, now.Add(-time.Hour))
	created, err := db.InsertReviewItemIfAbsent(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.InsertReviewItemIfAbsent(ctx, domain.NewReviewItem(user, q3, now))
	require.NoError(t, err)
	assert.False(t, created, "second insert is ignored")

	suspended := domain.NewReviewItem(user, q1, now.Add(-2*time.Hour))
	_, err = db.InsertReviewItemIfAbsent(ctx, suspended)
	require.NoError(t, err)
	suspended.Suspended = true
	require.NoError(t, db.UpdateReviewItem(ctx, suspended))

	due, err := db.EarliestDue(ctx, global, now)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, q3, due.QuestionID)

	count, err := db.CountDue(ctx, global, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = db.CountDue(ctx, deckPool, now)
	require.NoError(t, err)
	assert.Zero(t, count, "q3 is not in the deck and q1 is suspended")

	due, err = db.EarliestDue(ctx, deckPool, now)
	require.NoError(t, err)
	assert.Nil(t, due)

	seen, err := db.SeenQuestionIDs(ctx, global)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]bool{q1: true, q3: true}, seen)
}

func TestEarliestDueTieBreak(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)
	user := uuid.New()
	now := storagetest.Base.Add(time.Hour)

	exam := f.Exam("Step 1")
	a := f.Question(domain.Question{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), ExamID: exam, Stem: "b"})
	b := f.Question(domain.Question{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), ExamID: exam, Stem: "a"})
	f.DeckWith(user, true, a, b)

	for _, q := range []uuid.UUID{a, b} {
		_, err := db.InsertReviewItemIfAbsent(ctx, domain.NewReviewItem(user, q, storagetest.Base))
		require.NoError(t, err)
	}

	due, err := db.EarliestDue(ctx, storage.ReviewPool{UserID: user}, now)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, b, due.QuestionID, "equal due dates fall back to question id")
}

func TestUpdateReviewItemBounds(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)

	item := domain.NewReviewItem(uuid.New(), uuid.New(), storagetest.Base)
	item.Ease = 1.0
	err := db.UpdateReviewItem(ctx, item)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestInsertReviewItemIfAbsent(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)
	user := uuid.New()
	q := f.Question(domain.Question{ExamID: f.Exam("Step 1"), Stem: "1"})

	first := domain.NewReviewItem(user, q, storagetest.Base)
	created, err := db.InsertReviewItemIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := domain.NewReviewItem(user, q, storagetest.Base.Add(time.Hour))
	second.Ease = 2.0
	created, err = db.InsertReviewItemIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created, "existing item is kept")

	stored, err := db.FindReviewItem(ctx, user, q)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.DueAt.Equal(storagetest.Base))
	assert.Equal(t, domain.InitialEase, stored.Ease)
}

func TestLockDeck(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)
	owner := uuid.New()
	deckID := f.Deck(owner, "Cardio")

	require.NoError(t, db.InTx(ctx, func(tx *storage.DB) error {
		d, err := tx.LockDeck(ctx, deckID)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, owner, d.OwnerID)

		missing, err := tx.LockDeck(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	}))
}
