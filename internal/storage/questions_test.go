package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/storage/storagetest"
)

func TestQuestionTagLinksScanOrder(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)

	exam := f.Exam("Step 1")
	other := f.Exam("Step 2")
	cardio := f.Tag("cardio", uuid.Nil)
	heart := f.Tag("heart", cardio)

	q1 := f.Question(domain.Question{ExamID: exam, Stem: "one", TagIDs: []uuid.UUID{heart, cardio}})
	q2 := f.Question(domain.Question{ExamID: other, Stem: "two", TagIDs: []uuid.UUID{heart}})
	f.Question(domain.Question{ExamID: exam, Stem: "untagged"})

	links, err := db.QuestionTagLinks(ctx, []uuid.UUID{heart, cardio}, uuid.NullUUID{})
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, q1, links[0].QuestionID)
	assert.Equal(t, q1, links[1].QuestionID)
	assert.Equal(t, q2, links[2].QuestionID)

	scoped, err := db.QuestionTagLinks(ctx, []uuid.UUID{heart}, uuid.NullUUID{UUID: other, Valid: true})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, q2, scoped[0].QuestionID)

	none, err := db.QuestionTagLinks(ctx, nil, uuid.NullUUID{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCaseMembers(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)

	exam := f.Exam("Step 1")
	c := f.Case(exam, "Chest pain", "A 54-year-old man...")
	third := f.Question(domain.Question{ExamID: exam, CaseID: uuid.NullUUID{UUID: c, Valid: true}, CasePosition: 2, Stem: "c"})
	first := f.Question(domain.Question{ExamID: exam, CaseID: uuid.NullUUID{UUID: c, Valid: true}, CasePosition: 0, Stem: "a"})
	second := f.Question(domain.Question{ExamID: exam, CaseID: uuid.NullUUID{UUID: c, Valid: true}, CasePosition: 1, Stem: "b"})
	loose := f.Question(domain.Question{ExamID: exam, Stem: "loose"})

	refs, err := db.QuestionCaseRefs(ctx, []uuid.UUID{first, loose})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, c, refs[0].CaseID)

	members, err := db.CaseMembers(ctx, []uuid.UUID{c}, uuid.NullUUID{})
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, m := range members {
		ids = append(ids, m.QuestionID)
	}
	assert.Equal(t, []uuid.UUID{first, second, third}, ids)
}

func TestUpsertQuestionRejectsCaseOfOtherExam(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)

	exam := f.Exam("Step 1")
	other := f.Exam("Step 2")
	c := f.Case(exam, "Case", "")

	err := db.UpsertQuestion(ctx, domain.Question{
		ID:        uuid.New(),
		ExamID:    other,
		CaseID:    uuid.NullUUID{UUID: c, Valid: true},
		Stem:      "mismatch",
		CreatedAt: storagetest.Base,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different exams")
}

func TestUpsertQuestionReplacesTagsAndOptions(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)

	exam := f.Exam("Step 1")
	a := f.Tag("a", uuid.Nil)
	b := f.Tag("b", uuid.Nil)

	q := domain.Question{
		ID:        uuid.New(),
		ExamID:    exam,
		Stem:      "v1",
		CreatedAt: storagetest.Base,
		TagIDs:    []uuid.UUID{a},
		Options:   []domain.Option{{Text: "yes", IsCorrect: true}, {Text: "no"}},
	}
	f.Question(q)

	q.Stem = "v2"
	q.TagIDs = []uuid.UUID{b}
	q.Options = []domain.Option{{Text: "maybe", IsCorrect: true}}
	q.CreatedAt = storagetest.Base.Add(6 * time.Hour)
	f.Question(q)

	got, err := db.FindQuestion(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.Stem)
	assert.Equal(t, []uuid.UUID{b}, got.TagIDs)
	require.Len(t, got.Options, 1)
	assert.Equal(t, "maybe", got.Options[0].Text)
	assert.True(t, got.CreatedAt.Equal(storagetest.Base), "creation time is kept on update")
}

func TestChildTagIDs(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)

	super := f.Tag("cardio", uuid.Nil)
	child1 := f.Tag("cardio-a", super)
	child2 := f.Tag("cardio-b", super)
	f.Tag("neuro", uuid.Nil)

	children, err := db.ChildTagIDs(ctx, []uuid.UUID{super, uuid.New()})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{child1, child2}, children)

	err = db.UpsertTag(ctx, domain.Tag{ID: super, Slug: "cardio", Name: "cardio", ParentID: uuid.NullUUID{UUID: super, Valid: true}})
	assert.Error(t, err)
}
