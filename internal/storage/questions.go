package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
)

// QuestionTagLinks returns every (question, tag) link whose tag is in tagIDs,
// optionally restricted to one exam. Rows come in question scan order.
func (db *DB) QuestionTagLinks(ctx context.Context, tagIDs []uuid.UUID, examID uuid.NullUUID) ([]domain.TagLink, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT qt.question_id, qt.tag_id, q.created_at
		FROM question_tags qt
		JOIN questions q ON q.id = qt.question_id
		WHERE qt.tag_id IN (?)`
	var trail []interface{}
	if examID.Valid {
		query += ` AND q.exam_id = ?`
		trail = append(trail, examID.UUID)
	}
	query += ` ORDER BY q.created_at, q.id, qt.tag_id`

	links, err := selectIn[domain.TagLink](ctx, db, query, tagIDs, nil, trail)
	if err != nil {
		return nil, fmt.Errorf("failed to get question tag links: %w", err)
	}
	// Each chunk is ordered on its own; restore the global order.
	sort.SliceStable(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.QuestionID != b.QuestionID {
			return a.QuestionID.String() < b.QuestionID.String()
		}
		return a.TagID.String() < b.TagID.String()
	})
	return links, nil
}

// QuestionCaseRefs returns the case of every question in questionIDs that
// belongs to one. Questions without a case are omitted.
func (db *DB) QuestionCaseRefs(ctx context.Context, questionIDs []uuid.UUID) ([]domain.CaseRef, error) {
	if len(questionIDs) == 0 {
		return nil, nil
	}
	refs, err := selectIn[domain.CaseRef](ctx, db, `
		SELECT id AS question_id, case_id
		FROM questions
		WHERE id IN (?) AND case_id IS NOT NULL
	`, questionIDs, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get case references: %w", err)
	}
	return refs, nil
}

// CaseMembers returns all questions of the given cases ordered by their
// position inside the case. With a valid examID only that exam's questions
// are returned.
func (db *DB) CaseMembers(ctx context.Context, caseIDs []uuid.UUID, examID uuid.NullUUID) ([]domain.CaseRef, error) {
	if len(caseIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id AS question_id, case_id
		FROM questions
		WHERE case_id IN (?)`
	var trail []interface{}
	if examID.Valid {
		query += ` AND exam_id = ?`
		trail = append(trail, examID.UUID)
	}
	query += ` ORDER BY case_id, case_position, created_at, id`

	refs, err := selectIn[domain.CaseRef](ctx, db, query, caseIDs, nil, trail)
	if err != nil {
		return nil, fmt.Errorf("failed to get case members: %w", err)
	}
	return refs, nil
}

// FindQuestion loads a question with its tag ids and options.
func (db *DB) FindQuestion(ctx context.Context, id uuid.UUID) (*domain.Question, error) {
	var q domain.Question
	err := db.get(ctx, &q, `
		SELECT id, exam_id, case_id, case_position, stem, explanation, source_id, created_at
		FROM questions WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Question not found
		}
		return nil, fmt.Errorf("failed to find question %s: %w", id, err)
	}

	if err := db.selectAll(ctx, &q.TagIDs, `
		SELECT tag_id FROM question_tags WHERE question_id = ? ORDER BY tag_id
	`, id); err != nil {
		return nil, fmt.Errorf("failed to get tags of question %s: %w", id, err)
	}
	if err := db.selectAll(ctx, &q.Options, `
		SELECT id, question_id, position, text, is_correct
		FROM question_options WHERE question_id = ? ORDER BY position
	`, id); err != nil {
		return nil, fmt.Errorf("failed to get options of question %s: %w", id, err)
	}
	return &q, nil
}

// QuestionIDsBySource lists the questions imported from a source.
func (db *DB) QuestionIDsBySource(ctx context.Context, sourceID int64) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := db.selectAll(ctx, &ids, `
		SELECT id FROM questions WHERE source_id = ? ORDER BY created_at, id
	`, sourceID); err != nil {
		return nil, fmt.Errorf("failed to get questions for source ID %d: %w", sourceID, err)
	}
	return ids, nil
}

// UpsertExam inserts an exam or refreshes its title.
func (db *DB) UpsertExam(ctx context.Context, e domain.Exam) error {
	_, err := db.q.ExecContext(ctx, db.q.Rebind(`
		INSERT INTO exams (id, title, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title
	`), e.ID, e.Title, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert exam %s: %w", e.Title, err)
	}
	return nil
}

// UpsertCase inserts a case or refreshes its texts and ordering key.
func (db *DB) UpsertCase(ctx context.Context, c domain.Case) error {
	_, err := db.q.ExecContext(ctx, db.q.Rebind(`
		INSERT INTO cases (id, exam_id, title, vignette, sort_order)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			vignette = excluded.vignette,
			sort_order = excluded.sort_order
	`), c.ID, c.ExamID, c.Title, c.Vignette, c.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to upsert case %s: %w", c.Title, err)
	}
	return nil
}

// UpsertQuestion writes a question together with its tag links and options,
// replacing links and options of a previous version. The original created_at
// is kept so the scan order of existing questions does not change.
// Call it inside InTx to make the write atomic.
func (db *DB) UpsertQuestion(ctx context.Context, q domain.Question) error {
	if q.CaseID.Valid {
		var caseExam uuid.UUID
		if err := db.get(ctx, &caseExam, `SELECT exam_id FROM cases WHERE id = ?`, q.CaseID.UUID); err != nil {
			return fmt.Errorf("failed to look up case of question %s: %w", q.ID, err)
		}
		if caseExam != q.ExamID {
			return fmt.Errorf("question %s and its case belong to different exams", q.ID)
		}
	}

	_, err := db.q.ExecContext(ctx, db.q.Rebind(`
		INSERT INTO questions (id, exam_id, case_id, case_position, stem, explanation, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			exam_id = excluded.exam_id,
			case_id = excluded.case_id,
			case_position = excluded.case_position,
			stem = excluded.stem,
			explanation = excluded.explanation,
			source_id = excluded.source_id
	`), q.ID, q.ExamID, q.CaseID, q.CasePosition, q.Stem, q.Explanation, q.SourceID, q.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert question %s: %w", q.ID, err)
	}

	if _, err := db.q.ExecContext(ctx, db.q.Rebind(`DELETE FROM question_tags WHERE question_id = ?`), q.ID); err != nil {
		return fmt.Errorf("failed to clear tags of question %s: %w", q.ID, err)
	}
	for _, tagID := range q.TagIDs {
		if _, err := db.q.ExecContext(ctx, db.q.Rebind(`
			INSERT INTO question_tags (question_id, tag_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`), q.ID, tagID); err != nil {
			return fmt.Errorf("failed to link tag %s to question %s: %w", tagID, q.ID, err)
		}
	}

	if _, err := db.q.ExecContext(ctx, db.q.Rebind(`DELETE FROM question_options WHERE question_id = ?`), q.ID); err != nil {
		return fmt.Errorf("failed to clear options of question %s: %w", q.ID, err)
	}
	for i, o := range q.Options {
		id := o.ID
		if id == uuid.Nil {
			id = uuid.NewSHA1(q.ID, []byte(fmt.Sprintf("option/%d", i)))
		}
		if _, err := db.q.ExecContext(ctx, db.q.Rebind(`
			INSERT INTO question_options (id, question_id, position, text, is_correct)
			VALUES (?, ?, ?, ?, ?)
		`), id, q.ID, i, o.Text, o.IsCorrect); err != nil {
			return fmt.Errorf("failed to insert option %d of question %s: %w", i, q.ID, err)
		}
	}
	return nil
}
