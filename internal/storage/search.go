package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
)

// SearchFilter narrows the records returned by SearchRecords.
type SearchFilter struct {
	// Needle is the case-folded query. Empty matches every record.
	Needle string
	// QuestionIDs restricts the search to these questions, in this order.
	// Nil means every question.
	QuestionIDs []uuid.UUID
	ExamID      uuid.NullUUID
	Limit       int
}

type optionText struct {
	QuestionID uuid.UUID `db:"question_id"`
	Text       string    `db:"text"`
}

const searchColumns = `
	SELECT q.id AS question_id, q.exam_id, q.stem, q.created_at,
		COALESCE(c.title, '') AS case_title,
		COALESCE(c.vignette, '') AS case_vignette
	FROM questions q
	LEFT JOIN cases c ON c.id = q.case_id`

// needleClause returns a condition that holds when any searchable text of
// the question contains the pattern.
func (db *DB) needleClause() string {
	f := db.dialect.folded
	return `(` + f("q.stem") + ` LIKE ? ESCAPE '\'` +
		` OR ` + f("COALESCE(c.title, '')") + ` LIKE ? ESCAPE '\'` +
		` OR ` + f("COALESCE(c.vignette, '')") + ` LIKE ? ESCAPE '\'` +
		` OR EXISTS (SELECT 1 FROM question_options o WHERE o.question_id = q.id AND ` +
		f("o.text") + ` LIKE ? ESCAPE '\'))`
}

// SearchRecords returns the searchable text of questions whose stem, case
// title, case vignette or option text contains the needle. Results follow
// the order of QuestionIDs when given, scan order otherwise, and are capped
// at Limit when it is positive.
func (db *DB) SearchRecords(ctx context.Context, f SearchFilter) ([]domain.SearchRecord, error) {
	if f.QuestionIDs != nil && len(f.QuestionIDs) == 0 {
		return nil, nil
	}

	var conds []string
	var args []interface{}
	if f.Needle != "" {
		pattern := "%" + escapeLike(f.Needle) + "%"
		conds = append(conds, db.needleClause())
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if f.ExamID.Valid {
		conds = append(conds, `q.exam_id = ?`)
		args = append(args, f.ExamID.UUID)
	}

	var records []domain.SearchRecord
	if f.QuestionIDs == nil {
		query := searchColumns + where(conds) + ` ORDER BY q.created_at, q.id`
		if f.Limit > 0 {
			query += ` LIMIT ?`
			args = append(args, f.Limit)
		}
		if err := db.selectAll(ctx, &records, query, args...); err != nil {
			return nil, fmt.Errorf("failed to search questions: %w", err)
		}
	} else {
		query := searchColumns + where(append([]string{`q.id IN (?)`}, conds...))
		found, err := selectIn[domain.SearchRecord](ctx, db, query, f.QuestionIDs, nil, args)
		if err != nil {
			return nil, fmt.Errorf("failed to search questions: %w", err)
		}
		records = inOrder(found, f.QuestionIDs, f.Limit)
	}

	if err := db.attachOptions(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	s := ` WHERE ` + conds[0]
	for _, c := range conds[1:] {
		s += ` AND ` + c
	}
	return s
}

// inOrder arranges records in the order of ids, dropping ids without a record.
func inOrder(records []domain.SearchRecord, ids []uuid.UUID, limit int) []domain.SearchRecord {
	byID := make(map[uuid.UUID]domain.SearchRecord, len(records))
	for _, r := range records {
		byID[r.QuestionID] = r
	}
	out := make([]domain.SearchRecord, 0, len(records))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (db *DB) attachOptions(ctx context.Context, records []domain.SearchRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.QuestionID
	}
	opts, err := selectIn[optionText](ctx, db, `
		SELECT question_id, text FROM question_options
		WHERE question_id IN (?)
		ORDER BY question_id, position
	`, ids, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to get options for search: %w", err)
	}
	byQuestion := make(map[uuid.UUID][]string, len(records))
	for _, o := range opts {
		byQuestion[o.QuestionID] = append(byQuestion[o.QuestionID], o.Text)
	}
	for i := range records {
		records[i].Options = byQuestion[records[i].QuestionID]
	}
	return nil
}
