package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Exam groups the questions of one paid exam.
type Exam struct {
	ID        uuid.UUID `db:"id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
}

// Tag is a node of the two-level tag taxonomy.
// A tag without a parent is a supertag; its children are normal tags.
type Tag struct {
	ID       uuid.UUID     `db:"id"`
	Slug     string        `db:"slug"`
	Name     string        `db:"name"`
	ParentID uuid.NullUUID `db:"parent_id"`
}

// Case is a clinical vignette shared by a cohort of questions of one exam.
type Case struct {
	ID        uuid.UUID `db:"id"`
	ExamID    uuid.UUID `db:"exam_id"`
	Title     string    `db:"title"`
	Vignette  string    `db:"vignette"`
	SortOrder int       `db:"sort_order"`
}

// Question is read-only reference data for the core.
type Question struct {
	ID           uuid.UUID     `db:"id"`
	ExamID       uuid.UUID     `db:"exam_id"`
	CaseID       uuid.NullUUID `db:"case_id"`
	CasePosition int           `db:"case_position"`
	Stem         string        `db:"stem"`
	Explanation  string        `db:"explanation"`
	SourceID     sql.NullInt64 `db:"source_id"`
	CreatedAt    time.Time     `db:"created_at"`

	TagIDs  []uuid.UUID `db:"-"`
	Options []Option    `db:"-"`
}

// Option is one answer choice of a question.
type Option struct {
	ID         uuid.UUID `db:"id"`
	QuestionID uuid.UUID `db:"question_id"`
	Position   int       `db:"position"`
	Text       string    `db:"text"`
	IsCorrect  bool      `db:"is_correct"`
}

// TagLink is a single (question, tag) association. CreatedAt is the
// question's creation time, which fixes the scan order.
type TagLink struct {
	QuestionID uuid.UUID `db:"question_id"`
	TagID      uuid.UUID `db:"tag_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// CaseRef ties a question to the case it belongs to.
type CaseRef struct {
	QuestionID uuid.UUID `db:"question_id"`
	CaseID     uuid.UUID `db:"case_id"`
}

// SearchRecord is the flattened text of a question used by full-text search.
type SearchRecord struct {
	QuestionID   uuid.UUID `db:"question_id"`
	ExamID       uuid.UUID `db:"exam_id"`
	Stem         string    `db:"stem"`
	CaseTitle    string    `db:"case_title"`
	CaseVignette string    `db:"case_vignette"`
	CreatedAt    time.Time `db:"created_at"`
	Options      []string  `db:"-"`
}
