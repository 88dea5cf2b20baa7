// Package web exposes the core as a JSON API.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/medbank/internal/deck"
	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/pool"
	"github.com/conorfennell/medbank/internal/review"
	"github.com/conorfennell/medbank/internal/search"
	"github.com/conorfennell/medbank/internal/storage"
	"github.com/conorfennell/medbank/internal/sync"
)

// UserHeader carries the id of the authenticated caller. Authentication
// itself happens in front of this service.
const UserHeader = "X-User-ID"

// Options tune the server.
type Options struct {
	ExcerptRadius int
	MaxResults    int
	// AdminUsers may manage sources and trigger syncs.
	AdminUsers    []uuid.UUID
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	db      *storage.DB
	router  *http.ServeMux
	pool    *pool.Engine
	decks   *deck.Service
	reviews *review.Scheduler
	search  *search.Service
	syncer  *sync.Syncer
	admins  map[uuid.UUID]bool
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, syncer *sync.Syncer, opts Options) *Server {
	engine := pool.NewEngine(db)
	s := &Server{
		db:      db,
		router:  http.NewServeMux(),
		pool:    engine,
		decks:   deck.NewService(db),
		reviews: review.NewScheduler(db),
		search:  search.NewService(db, engine, opts.ExcerptRadius, opts.MaxResults),
		syncer:  syncer,
		admins:  make(map[uuid.UUID]bool, len(opts.AdminUsers)),
	}
	for _, id := range opts.AdminUsers {
		s.admins[id] = true
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.router.ServeHTTP(rec, r)
	slog.Debug("Handled request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	// Session assembly and decks
	s.router.HandleFunc("POST /api/v1/pool", s.authed(s.handlePool()))
	s.router.HandleFunc("POST /api/v1/decks", s.authed(s.handleCreateDeck()))
	s.router.HandleFunc("GET /api/v1/decks/{deckID}", s.authed(s.handleGetDeck()))
	s.router.HandleFunc("POST /api/v1/decks/{deckID}/bulk-add", s.authed(s.handleBulkAdd()))
	s.router.HandleFunc("PUT /api/v1/decks/{deckID}/sr", s.authed(s.handleSetSR()))

	// Review
	s.router.HandleFunc("GET /api/v1/review/next", s.authed(s.handleNextReview()))
	s.router.HandleFunc("GET /api/v1/review/due-count", s.authed(s.handleDueCount()))

	s.router.HandleFunc("GET /api/v1/questions/{questionID}", s.authed(s.handleGetQuestion()))
	s.router.HandleFunc("GET /api/v1/search", s.authed(s.handleSearch()))

	// Source management
	s.router.HandleFunc("GET /api/v1/sources", s.admin(s.handleGetSources()))
	s.router.HandleFunc("POST /api/v1/sources", s.admin(s.handlePostSource()))
	s.router.HandleFunc("DELETE /api/v1/sources/{id}", s.admin(s.handleDeleteSource()))
	s.router.HandleFunc("POST /api/v1/sync", s.admin(s.handlePostSync()))
}

type userHandlerFunc func(w http.ResponseWriter, r *http.Request, userID uuid.UUID)

// authed rejects requests without a valid caller identity.
func (s *Server) authed(next userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(UserHeader)))
		if err != nil || userID == uuid.Nil {
			writeError(w, domain.ErrUnauthenticated)
			return
		}
		next(w, r, userID)
	}
}

// admin additionally requires the caller to be a configured admin user.
func (s *Server) admin(next userHandlerFunc) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		if !s.admins[userID] {
			slog.Warn("Rejected admin request", "user", userID, "method", r.Method, "path", r.URL.Path)
			writeError(w, fmt.Errorf("%w: admin access required", domain.ErrForbidden))
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(r.Context()); err != nil {
			slog.Error("Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handlePool resolves a tag filter into an ordered list of question ids.
func (s *Server) handlePool() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
		var req pool.Request
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		q, err := req.Parse()
		if err != nil {
			writeError(w, err)
			return
		}
		ids, err := s.pool.Query(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		if ids == nil {
			ids = []uuid.UUID{}
		}
		writeJSON(w, http.StatusOK, poolResponse{QuestionIDs: ids})
	}
}

func (s *Server) handleCreateDeck() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		var req createDeckRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		d, err := s.decks.Create(r.Context(), userID, req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDeckView(d))
	}
}

// handleGetDeck renders a deck with its SR setting and items.
func (s *Server) handleGetDeck() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		deckID, err := pathUUID(r, "deckID")
		if err != nil {
			writeError(w, err)
			return
		}
		detail, err := s.decks.Get(r.Context(), userID, deckID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newDeckDetailView(detail))
	}
}

// handleBulkAdd appends every question matching the filter to a deck.
func (s *Server) handleBulkAdd() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		deckID, err := pathUUID(r, "deckID")
		if err != nil {
			writeError(w, err)
			return
		}
		var req pool.Request
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		q, err := req.Parse()
		if err != nil {
			writeError(w, err)
			return
		}
		candidates, err := s.pool.Query(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := s.decks.Enroll(r.Context(), userID, deckID, candidates)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleSetSR() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		deckID, err := pathUUID(r, "deckID")
		if err != nil {
			writeError(w, err)
			return
		}
		var req setSRRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.SREnabled == nil {
			writeError(w, invalid("srEnabled is required"))
			return
		}
		if err := s.decks.SetSR(r.Context(), userID, deckID, *req.SREnabled); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, setSRResponse{DeckID: deckID, SREnabled: *req.SREnabled})
	}
}

// handleNextReview returns the next card of the pool, or 204 when there is
// nothing to review.
func (s *Server) handleNextReview() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		p, err := reviewPool(r, userID)
		if err != nil {
			writeError(w, err)
			return
		}
		card, err := s.reviews.Next(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}
		if card == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, newCardView(card))
	}
}

func (s *Server) handleDueCount() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		p, err := reviewPool(r, userID)
		if err != nil {
			writeError(w, err)
			return
		}
		n, err := s.reviews.DueCount(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dueCountResponse{DueCount: n})
	}
}

// handleGetQuestion serves the question a review card points at.
func (s *Server) handleGetQuestion() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
		id, err := pathUUID(r, "questionID")
		if err != nil {
			writeError(w, err)
			return
		}
		q, err := s.db.FindQuestion(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if q == nil {
			writeError(w, domain.ErrQuestionNotFound)
			return
		}
		writeJSON(w, http.StatusOK, newQuestionView(q))
	}
}

func (s *Server) handleSearch() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
		values := r.URL.Query()
		q := search.Query{Text: values.Get("q")}

		var err error
		if q.TagIDs, err = pool.ParseIDs(listParam(values["tagIds"])); err != nil {
			writeError(w, err)
			return
		}
		if q.SuperTagIDs, err = pool.ParseIDs(listParam(values["superTagIds"])); err != nil {
			writeError(w, err)
			return
		}
		if q.ExamID, err = optionalUUID(values.Get("examId")); err != nil {
			writeError(w, err)
			return
		}

		hits, err := s.search.Search(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		if hits == nil {
			hits = []search.Hit{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Results: hits})
	}
}

func (s *Server) handleGetSources() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
		s.writeSources(w, r, http.StatusOK)
	}
}

// handlePostSource registers a local directory or git URL and returns the
// updated source list.
func (s *Server) handlePostSource() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
		var req addSourceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			writeError(w, invalid("path cannot be empty"))
			return
		}
		if _, err := s.syncer.AddSource(r.Context(), strings.TrimSpace(req.Path)); err != nil {
			writeError(w, err)
			return
		}
		s.writeSources(w, r, http.StatusCreated)
	}
}

func (s *Server) handleDeleteSource() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, invalid("invalid source ID"))
			return
		}
		if err := s.db.DeleteSource(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		s.writeSources(w, r, http.StatusOK)
	}
}

// handlePostSync runs a sync in the foreground and returns one report per
// source.
func (s *Server) handlePostSync() userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
		reports, err := s.syncer.RunSync(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if reports == nil {
			reports = []sync.Report{}
		}
		writeJSON(w, http.StatusOK, syncResponse{Reports: reports})
	}
}

func (s *Server) writeSources(w http.ResponseWriter, r *http.Request, status int) {
	sources, err := s.db.GetAllSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]sourceView, len(sources))
	for i, src := range sources {
		views[i] = newSourceView(src)
	}
	writeJSON(w, status, sourcesResponse{Sources: views})
}

func reviewPool(r *http.Request, userID uuid.UUID) (review.Pool, error) {
	deckID, err := optionalUUID(r.URL.Query().Get("deckId"))
	if err != nil {
		return review.Pool{}, err
	}
	return review.Pool{UserID: userID, DeckID: deckID}, nil
}
