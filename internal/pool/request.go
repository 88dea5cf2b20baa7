package pool

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request is the wire form of a tag filter as sent by the deck editor and
// the session assembler.
type Request struct {
	TagIDs       []string `json:"tagIds" validate:"dive,uuid"`
	SuperTagIDs  []string `json:"superTagIds" validate:"dive,uuid"`
	RequireAnd   bool     `json:"requireAnd"`
	ExamID       string   `json:"examId" validate:"omitempty,uuid"`
	IncludeCases bool     `json:"includeCases"`
	// Limit caps the result; 0 means no limit.
	Limit int `json:"limit" validate:"gte=0"`
}

// Query is a validated Request.
type Query struct {
	TagIDs       []uuid.UUID
	SuperTagIDs  []uuid.UUID
	RequireAnd   bool
	ExamID       uuid.NullUUID
	IncludeCases bool
	Limit        int
}

// Parse validates the request and converts it into a Query. Validation
// failures wrap domain.ErrInvalidRequest.
func (r Request) Parse() (Query, error) {
	if err := validate.Struct(r); err != nil {
		return Query{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	q := Query{
		RequireAnd:   r.RequireAnd,
		IncludeCases: r.IncludeCases,
		Limit:        r.Limit,
	}
	var err error
	if q.TagIDs, err = ParseIDs(r.TagIDs); err != nil {
		return Query{}, err
	}
	if q.SuperTagIDs, err = ParseIDs(r.SuperTagIDs); err != nil {
		return Query{}, err
	}
	if r.ExamID != "" {
		id, err := uuid.Parse(r.ExamID)
		if err != nil {
			return Query{}, fmt.Errorf("%w: exam id: %v", domain.ErrInvalidRequest, err)
		}
		q.ExamID = uuid.NullUUID{UUID: id, Valid: true}
	}
	return q, nil
}

// ParseIDs converts string ids into UUIDs.
func ParseIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: id %q: %v", domain.ErrInvalidRequest, s, err)
		}
		ids[i] = id
	}
	return ids, nil
}
