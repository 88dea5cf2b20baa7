package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/deck"
	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/review"
	"github.com/conorfennell/medbank/internal/search"
	"github.com/conorfennell/medbank/internal/storage"
	"github.com/conorfennell/medbank/internal/sync"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type poolResponse struct {
	QuestionIDs []uuid.UUID `json:"questionIds"`
}

type createDeckRequest struct {
	Name string `json:"name"`
}

type deckView struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func newDeckView(d *domain.Deck) deckView {
	return deckView{ID: d.ID, OwnerID: d.OwnerID, Name: d.Name, CreatedAt: d.CreatedAt}
}

type deckItemView struct {
	QuestionID uuid.UUID `json:"questionId"`
	Position   int       `json:"position"`
	AddedAt    time.Time `json:"addedAt"`
}

type deckDetailView struct {
	deckView
	SREnabled bool           `json:"srEnabled"`
	Items     []deckItemView `json:"items"`
}

func newDeckDetailView(d *deck.Detail) deckDetailView {
	v := deckDetailView{deckView: newDeckView(&d.Deck), SREnabled: d.SREnabled, Items: make([]deckItemView, len(d.Items))}
	for i, it := range d.Items {
		v.Items[i] = deckItemView{QuestionID: it.QuestionID, Position: it.Position, AddedAt: it.AddedAt}
	}
	return v
}

type optionView struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

type questionView struct {
	ID           uuid.UUID    `json:"id"`
	ExamID       uuid.UUID    `json:"examId"`
	CaseID       *uuid.UUID   `json:"caseId,omitempty"`
	CasePosition int          `json:"casePosition"`
	Stem         string       `json:"stem"`
	Explanation  string       `json:"explanation,omitempty"`
	TagIDs       []uuid.UUID  `json:"tagIds"`
	Options      []optionView `json:"options"`
}

func newQuestionView(q *domain.Question) questionView {
	v := questionView{
		ID:           q.ID,
		ExamID:       q.ExamID,
		CasePosition: q.CasePosition,
		Stem:         q.Stem,
		Explanation:  q.Explanation,
		TagIDs:       q.TagIDs,
		Options:      make([]optionView, len(q.Options)),
	}
	if v.TagIDs == nil {
		v.TagIDs = []uuid.UUID{}
	}
	if q.CaseID.Valid {
		id := q.CaseID.UUID
		v.CaseID = &id
	}
	for i, o := range q.Options {
		v.Options[i] = optionView{Text: o.Text, IsCorrect: o.IsCorrect}
	}
	return v
}

type setSRRequest struct {
	SREnabled *bool `json:"srEnabled"`
}

type setSRResponse struct {
	DeckID    uuid.UUID `json:"deckId"`
	SREnabled bool      `json:"srEnabled"`
}

type cardView struct {
	QuestionID uuid.UUID `json:"questionId"`
	New        bool      `json:"new"`
	DueAt      time.Time `json:"dueAt"`
	Interval   int       `json:"intervalDays"`
	Ease       float64   `json:"ease"`
	Lapses     int       `json:"lapses"`
}

func newCardView(c *review.Card) cardView {
	return cardView{
		QuestionID: c.QuestionID,
		New:        c.New,
		DueAt:      c.Item.DueAt,
		Interval:   c.Item.Interval,
		Ease:       c.Item.Ease,
		Lapses:     c.Item.Lapses,
	}
}

type dueCountResponse struct {
	DueCount int `json:"dueCount"`
}

type searchResponse struct {
	Results []search.Hit `json:"results"`
}

type addSourceRequest struct {
	Path string `json:"path"`
}

type sourceView struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"lastScanned"`
}

func newSourceView(src storage.Source) sourceView {
	v := sourceView{ID: src.ID, Path: src.Path, Type: src.Type}
	if src.LastScanned.Valid {
		t := src.LastScanned.Time
		v.LastScanned = &t
	}
	return v
}

type sourcesResponse struct {
	Sources []sourceView `json:"sources"`
}

type syncResponse struct {
	Reports []sync.Report `json:"reports"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps domain errors to status codes. Anything unknown is a 500
// and its details stay in the log.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrDeckNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusNotFound
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Internal error", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid(fmt.Sprintf("malformed body: %v", err))
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, invalid(fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}

func optionalUUID(raw string) (uuid.NullUUID, error) {
	if raw == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.NullUUID{}, invalid(fmt.Sprintf("invalid id %q", raw))
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

// listParam accepts both repeated parameters and comma separated values.
func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
