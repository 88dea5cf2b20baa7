package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/medbank/internal/deck"
	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/storage"
	"github.com/conorfennell/medbank/internal/storage/storagetest"
	"github.com/conorfennell/medbank/internal/sync"
)

type env struct {
	t      *testing.T
	db     *storage.DB
	f      *storagetest.Fixture
	server *Server
	user   uuid.UUID
	admin  uuid.UUID
	exam   uuid.UUID
	cardio uuid.UUID
	acs    uuid.UUID
	qs     []uuid.UUID
}

func newEnv(t *testing.T) *env {
	db := storagetest.NewDB(t)
	f := storagetest.NewFixture(t, db)
	syncer := sync.New(db, sync.Options{ReposDir: filepath.Join(t.TempDir(), "repos")})
	e := &env{t: t, db: db, f: f, user: uuid.New(), admin: uuid.New()}
	e.server = NewServer(db, syncer, Options{ExcerptRadius: 35, MaxResults: 50, AdminUsers: []uuid.UUID{e.admin}})

	e.exam = f.Exam("Step 1")
	e.cardio = f.Tag("cardio", uuid.Nil)
	e.acs = f.Tag("cardio/acs", e.cardio)
	e.qs = []uuid.UUID{
		f.Question(domain.Question{ExamID: e.exam, Stem: "Chest pain: first step is an ECG?", TagIDs: []uuid.UUID{e.acs}}),
		f.Question(domain.Question{ExamID: e.exam, Stem: "Troponin kinetics", TagIDs: []uuid.UUID{e.acs}}),
		f.Question(domain.Question{ExamID: e.exam, Stem: "Untagged question"}),
	}
	return e
}

func (e *env) do(method, path string, body any, user uuid.UUID) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != uuid.Nil {
		req.Header.Set(UserHeader, user.String())
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *env) createDeck(user uuid.UUID) uuid.UUID {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/api/v1/decks", map[string]string{"name": "Cardio"}, user)
	require.Equal(e.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[deckView](e.t, rr).ID
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodGet, "/healthz", nil, uuid.Nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequiresUserIdentity(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/api/v1/review/next", "/api/v1/search?q=ecg", "/api/v1/sources"} {
		rr := e.do(http.MethodGet, path, nil, uuid.Nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/review/due-count", nil)
	req.Header.Set(UserHeader, "not-a-uuid")
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPool(t *testing.T) {
	e := newEnv(t)

	rr := e.do(http.MethodPost, "/api/v1/pool", map[string]any{"superTagIds": []string{e.cardio.String()}}, e.user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []uuid.UUID{e.qs[0], e.qs[1]}, decode[poolResponse](t, rr).QuestionIDs)

	rr = e.do(http.MethodPost, "/api/v1/pool", map[string]any{"tagIds": []string{"nope"}}, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(http.MethodPost, "/api/v1/pool", map[string]any{"limit": -1}, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(http.MethodPost, "/api/v1/pool", map[string]any{"unknown": true}, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(http.MethodPost, "/api/v1/pool", map[string]any{}, e.user)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[poolResponse](t, rr).QuestionIDs, "no tags selects nothing")
}

func TestBulkAdd(t *testing.T) {
	e := newEnv(t)
	deckID := e.createDeck(e.user)
	path := fmt.Sprintf("/api/v1/decks/%s/bulk-add", deckID)
	body := map[string]any{"tagIds": []string{e.acs.String()}}

	rr := e.do(http.MethodPost, path, body, e.user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, deck.Result{Added: 2, Total: 2, AlreadyExists: 0}, decode[deck.Result](t, rr))

	rr = e.do(http.MethodPost, path, body, e.user)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, deck.Result{Added: 0, Total: 2, AlreadyExists: 2}, decode[deck.Result](t, rr))

	rr = e.do(http.MethodPost, path, body, uuid.New())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(http.MethodPost, fmt.Sprintf("/api/v1/decks/%s/bulk-add", uuid.New()), body, e.user)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(http.MethodPost, "/api/v1/decks/not-a-uuid/bulk-add", body, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	ids, err := e.db.DeckQuestionIDs(t.Context(), deckID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{e.qs[0], e.qs[1]}, ids)
}

func TestCreateDeckRequiresName(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodPost, "/api/v1/decks", map[string]string{"name": "  "}, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReview(t *testing.T) {
	e := newEnv(t)

	rr := e.do(http.MethodGet, "/api/v1/review/next", nil, e.user)
	assert.Equal(t, http.StatusNoContent, rr.Code, "no SR-enabled decks")

	deckID := e.createDeck(e.user)
	rr = e.do(http.MethodPost, fmt.Sprintf("/api/v1/decks/%s/bulk-add", deckID), map[string]any{"tagIds": []string{e.acs.String()}}, e.user)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/review/next", nil, e.user)
	assert.Equal(t, http.StatusNoContent, rr.Code, "deck not enabled yet")

	rr = e.do(http.MethodPut, fmt.Sprintf("/api/v1/decks/%s/sr", deckID), map[string]any{}, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = e.do(http.MethodPut, fmt.Sprintf("/api/v1/decks/%s/sr", deckID), map[string]bool{"srEnabled": true}, uuid.New())
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = e.do(http.MethodPut, fmt.Sprintf("/api/v1/decks/%s/sr", deckID), map[string]bool{"srEnabled": true}, e.user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = e.do(http.MethodGet, "/api/v1/review/next", nil, e.user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	card := decode[cardView](t, rr)
	assert.Equal(t, e.qs[0], card.QuestionID)
	assert.True(t, card.New)
	assert.Equal(t, domain.InitialInterval, card.Interval)

	rr = e.do(http.MethodGet, "/api/v1/review/due-count?deckId="+deckID.String(), nil, e.user)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[dueCountResponse](t, rr).DueCount)

	rr = e.do(http.MethodGet, "/api/v1/review/due-count?deckId="+deckID.String(), nil, uuid.New())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/review/next?deckId=bad", nil, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearch(t *testing.T) {
	e := newEnv(t)

	rr := e.do(http.MethodGet, "/api/v1/search?q=", nil, e.user)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[searchResponse](t, rr).Results)

	rr = e.do(http.MethodGet, "/api/v1/search?q=ECG", nil, e.user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[searchResponse](t, rr).Results
	require.Len(t, res, 1)
	assert.Equal(t, e.qs[0], res[0].QuestionID)
	assert.Equal(t, []string{"stem"}, res[0].MatchIn)

	rr = e.do(http.MethodGet, "/api/v1/search?q=question&tagIds="+e.acs.String(), nil, e.user)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[searchResponse](t, rr).Results, "untagged question is outside the filter")

	rr = e.do(http.MethodGet, "/api/v1/search?q=x&examId=nope", nil, e.user)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSources(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()

	rr := e.do(http.MethodPost, "/api/v1/sources", map[string]string{"path": dir}, e.admin)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sources := decode[sourcesResponse](t, rr).Sources
	require.Len(t, sources, 1)
	assert.Equal(t, "local", sources[0].Type)
	assert.Nil(t, sources[0].LastScanned)

	rr = e.do(http.MethodPost, "/api/v1/sources", map[string]string{"path": ""}, e.admin)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(http.MethodPost, "/api/v1/sync", nil, e.admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	reports := decode[syncResponse](t, rr).Reports
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].Questions)

	rr = e.do(http.MethodGet, "/api/v1/sources", nil, e.admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, decode[sourcesResponse](t, rr).Sources[0].LastScanned)

	rr = e.do(http.MethodDelete, fmt.Sprintf("/api/v1/sources/%d", sources[0].ID), nil, e.admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[sourcesResponse](t, rr).Sources)

	rr = e.do(http.MethodDelete, "/api/v1/sources/abc", nil, e.admin)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSourcesRequireAdmin(t *testing.T) {
	e := newEnv(t)
	id, err := e.db.InsertSource(context.Background(), t.TempDir(), "local")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"list sources", http.MethodGet, "/api/v1/sources", nil},
		{"add source", http.MethodPost, "/api/v1/sources", map[string]string{"path": t.TempDir()}},
		{"delete source", http.MethodDelete, fmt.Sprintf("/api/v1/sources/%d", id), nil},
		{"sync", http.MethodPost, "/api/v1/sync", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(tt.method, tt.path, tt.body, e.user)
			if rr.Code != http.StatusForbidden {
				t.Errorf("Expected status %d, but got %d", http.StatusForbidden, rr.Code)
			}
			assert.Contains(t, decode[errorResponse](t, rr).Error, "admin access required")

			rr = e.do(tt.method, tt.path, tt.body, uuid.Nil)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}

	sources, err := e.db.GetAllSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1, "rejected requests must not change sources")
	assert.Equal(t, id, sources[0].ID)
	assert.False(t, sources[0].LastScanned.Valid, "rejected sync must not scan")
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodDelete, "/api/v1/pool", nil, e.user)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestGetDeckAndQuestion(t *testing.T) {
	e := newEnv(t)
	deckID := e.createDeck(e.user)
	rr := e.do(http.MethodPost, fmt.Sprintf("/api/v1/decks/%s/bulk-add", deckID), map[string]any{"tagIds": []string{e.acs.String()}}, e.user)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/decks/"+deckID.String(), nil, e.user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	detail := decode[deckDetailView](t, rr)
	assert.Equal(t, "Cardio", detail.Name)
	assert.False(t, detail.SREnabled)
	require.Len(t, detail.Items, 2)
	assert.Equal(t, e.qs[1], detail.Items[1].QuestionID)

	rr = e.do(http.MethodGet, "/api/v1/decks/"+deckID.String(), nil, uuid.New())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/questions/"+e.qs[0].String(), nil, e.user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	q := decode[questionView](t, rr)
	assert.Equal(t, e.exam, q.ExamID)
	assert.Equal(t, []uuid.UUID{e.acs}, q.TagIDs)
	assert.Nil(t, q.CaseID)

	rr = e.do(http.MethodGet, "/api/v1/questions/"+uuid.NewString(), nil, e.user)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
