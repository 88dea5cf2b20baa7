// Package storagetest provides throw-away migrated databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/storage"
)

// NewDB opens a migrated SQLite database in a temporary directory. It is
// closed when the test ends.
func NewDB(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// Base is the reference time used by fixtures; fixtures created later in a
// test get strictly increasing creation times from it.
var Base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// Fixture creates reference data with deterministic, increasing creation
// times so scan order equals creation order.
type Fixture struct {
	t    testing.TB
	db   *storage.DB
	tick int
}

// NewFixture returns a fixture writing into db.
func NewFixture(t testing.TB, db *storage.DB) *Fixture {
	return &Fixture{t: t, db: db}
}

func (f *Fixture) next() time.Time {
	f.tick++
	return Base.Add(time.Duration(f.tick) * time.Second)
}

// Exam inserts an exam.
func (f *Fixture) Exam(title string) uuid.UUID {
	f.t.Helper()
	e := domain.Exam{ID: uuid.New(), Title: title, CreatedAt: f.next()}
	require.NoError(f.t, f.db.UpsertExam(context.Background(), e))
	return e.ID
}

// Tag inserts a tag under parent, or a supertag when parent is uuid.Nil.
func (f *Fixture) Tag(slug string, parent uuid.UUID) uuid.UUID {
	f.t.Helper()
	tag := domain.Tag{ID: uuid.New(), Slug: slug, Name: slug}
	if parent != uuid.Nil {
		tag.ParentID = uuid.NullUUID{UUID: parent, Valid: true}
	}
	require.NoError(f.t, f.db.UpsertTag(context.Background(), tag))
	return tag.ID
}

// Case inserts a case of an exam.
func (f *Fixture) Case(examID uuid.UUID, title, vignette string) uuid.UUID {
	f.t.Helper()
	c := domain.Case{ID: uuid.New(), ExamID: examID, Title: title, Vignette: vignette}
	require.NoError(f.t, f.db.UpsertCase(context.Background(), c))
	return c.ID
}

// Question inserts q, filling in id and creation time when missing.
func (f *Fixture) Question(q domain.Question) uuid.UUID {
	f.t.Helper()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = f.next()
	}
	require.NoError(f.t, f.db.InTx(context.Background(), func(tx *storage.DB) error {
		return tx.UpsertQuestion(context.Background(), q)
	}))
	return q.ID
}

// Deck creates a deck owned by owner.
func (f *Fixture) Deck(owner uuid.UUID, name string) uuid.UUID {
	f.t.Helper()
	d := domain.Deck{ID: uuid.New(), OwnerID: owner, Name: name, CreatedAt: f.next()}
	require.NoError(f.t, f.db.CreateDeck(context.Background(), d))
	return d.ID
}

// DeckWith creates a deck holding questions in the given order, optionally
// enabled for spaced repetition.
func (f *Fixture) DeckWith(owner uuid.UUID, srEnabled bool, questions ...uuid.UUID) uuid.UUID {
	f.t.Helper()
	deckID := f.Deck(owner, "deck")
	items := make([]domain.DeckItem, len(questions))
	for i, q := range questions {
		items[i] = domain.DeckItem{DeckID: deckID, QuestionID: q, Position: i, AddedAt: Base}
	}
	require.NoError(f.t, f.db.InsertDeckItems(context.Background(), items))
	if srEnabled {
		require.NoError(f.t, f.db.SetDeckSR(context.Background(), deckID, true))
	}
	return deckID
}
