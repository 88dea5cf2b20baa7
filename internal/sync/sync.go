// Package sync imports question banks from the registered sources.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/medbank/internal/domain"
	"github.com/conorfennell/medbank/internal/gitsource"
	"github.com/conorfennell/medbank/internal/knol"
	"github.com/conorfennell/medbank/internal/parser"
	"github.com/conorfennell/medbank/internal/storage"
)

// Options tune a sync run.
type Options struct {
	// ReposDir holds the checkouts of git sources.
	ReposDir string
	// Parallelism bounds the sources fetched and parsed at once.
	Parallelism int
	// Progress receives git progress output; nil discards it.
	Progress io.Writer
}

// Report summarises the import of one source.
type Report struct {
	SourceID  int64  `json:"sourceId"`
	Path      string `json:"path"`
	Files     int    `json:"files"`
	Questions int    `json:"questions"`
	// Stale counts questions imported earlier from this source that are no
	// longer present in its files. They are kept so decks and review
	// history stay intact.
	Stale  int      `json:"stale"`
	Errors []string `json:"errors,omitempty"`
}

// Syncer reconciles sources with the question bank.
type Syncer struct {
	db   *storage.DB
	opts Options
	now  func() time.Time
}

// New creates a Syncer.
func New(db *storage.DB, opts Options) *Syncer {
	if opts.ReposDir == "" {
		opts.ReposDir = "repos"
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Syncer{db: db, opts: opts, now: time.Now}
}

// AddSource registers a local directory or git URL.
func (s *Syncer) AddSource(ctx context.Context, path string) (int64, error) {
	sourceType := storage.SourceLocal
	if gitsource.IsURL(path) {
		sourceType = storage.SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return 0, fmt.Errorf("failed to access source %s: %w", abs, err)
		}
		if !info.IsDir() {
			return 0, fmt.Errorf("%w: source %s is not a directory", domain.ErrInvalidRequest, abs)
		}
		path = abs
	}

	existing, err := s.db.FindSourceByPath(ctx, path)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	id, err := s.db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return 0, err
	}
	slog.Info("Added source", "id", id, "type", sourceType, "path", path)
	return id, nil
}

// RunSync iterates over all sources and reconciles them. Sources are fetched
// and parsed concurrently; a failing source is reported and does not stop
// the others.
func (s *Syncer) RunSync(ctx context.Context) ([]Report, error) {
	slog.Info("Starting sync process for all sources...")
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return nil, err
	}

	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with: medbank source add <path/or/url.git>")
		return nil, nil
	}

	if err := os.MkdirAll(s.opts.ReposDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repos directory: %w", err)
	}

	reports := make([]Report, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for i, source := range sources {
		g.Go(func() error {
			report, err := s.SyncSource(gctx, source)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Error("Error syncing source", "id", source.ID, "path", source.Path, "error", err)
				report.Errors = append(report.Errors, err.Error())
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("Sync process complete.", "sources", len(sources))
	return reports, nil
}

// SyncSource fetches one source if needed, parses its files and imports
// the questions.
func (s *Syncer) SyncSource(ctx context.Context, source storage.Source) (Report, error) {
	report := Report{SourceID: source.ID, Path: source.Path}
	slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

	dir := source.Path
	if source.Type == storage.SourceGit {
		localRepoPath, err := gitsource.LocalPath(s.opts.ReposDir, source.Path)
		if err != nil {
			return report, err
		}
		if err := gitsource.Sync(ctx, source.Path, localRepoPath, s.opts.Progress); err != nil {
			return report, err
		}
		dir = localRepoPath
	}

	records, files, parseErrors := parseDir(dir)
	report.Files = files
	for _, e := range parseErrors {
		report.Errors = append(report.Errors, e.Error())
	}

	imported, stale, err := s.importRecords(ctx, source.ID, records)
	if err != nil {
		return report, err
	}
	report.Questions = imported
	report.Stale = stale

	slog.Info("reconciliation complete",
		"path", source.Path,
		"files", report.Files,
		"questions", report.Questions,
		"stale", report.Stale,
		"errors", len(report.Errors),
	)
	return report, nil
}

// parseDir walks dir and parses every bank file. Files that fail to parse
// are skipped and reported.
func parseDir(dir string) ([]parser.Record, int, []error) {
	var (
		records     []parser.Record
		files       int
		parseErrors []error
	)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !parser.Supported(path) {
			return nil
		}
		files++
		fileRecords, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			parseErrors = append(parseErrors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		records = append(records, fileRecords...)
		return nil
	})
	if walkErr != nil {
		parseErrors = append(parseErrors, fmt.Errorf("walking %s: %w", dir, walkErr))
	}
	return records, files, parseErrors
}

// importRecords upserts the records of one source in a single transaction
// and returns the number of distinct questions written and the number of
// stale questions left from earlier imports.
func (s *Syncer) importRecords(ctx context.Context, sourceID int64, records []parser.Record) (int, int, error) {
	base := s.now().UTC()
	found := make(map[uuid.UUID]bool, len(records))
	stale := 0

	err := s.db.InTx(ctx, func(tx *storage.DB) error {
		b := &batch{tx: tx, now: base, exams: map[uuid.UUID]bool{}, cases: map[uuid.UUID]int{}, tags: map[uuid.UUID]bool{}}

		for i, rec := range records {
			q, err := b.question(ctx, rec)
			if err != nil {
				return fmt.Errorf("%s:%d: %w", rec.File, rec.Line, err)
			}
			if found[q.ID] {
				slog.Warn("Duplicate question skipped", "file", rec.File, "line", rec.Line)
				continue
			}
			found[q.ID] = true

			// Keeps file order as scan order for new questions.
			q.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
			q.SourceID.Int64, q.SourceID.Valid = sourceID, true
			if err := tx.UpsertQuestion(ctx, q); err != nil {
				return err
			}
		}

		existing, err := tx.QuestionIDsBySource(ctx, sourceID)
		if err != nil {
			return err
		}
		for _, id := range existing {
			if !found[id] {
				stale++
				slog.Warn("Stale question kept", "question", id, "source_id", sourceID)
			}
		}

		return tx.UpdateSourceLastScanned(ctx, sourceID, base)
	})
	if err != nil {
		return 0, 0, err
	}
	return len(found), stale, nil
}

// batch upserts the reference data questions depend on, once per import.
type batch struct {
	tx    *storage.DB
	now   time.Time
	exams map[uuid.UUID]bool
	cases map[uuid.UUID]int // case id -> next position
	tags  map[uuid.UUID]bool
}

func (b *batch) question(ctx context.Context, rec parser.Record) (domain.Question, error) {
	examID := knol.ID("exam", rec.Exam)
	if !b.exams[examID] {
		if err := b.tx.UpsertExam(ctx, domain.Exam{ID: examID, Title: rec.Exam, CreatedAt: b.now}); err != nil {
			return domain.Question{}, err
		}
		b.exams[examID] = true
	}

	q := domain.Question{
		ID:          knol.ID("question", rec.Exam, rec.Case, rec.Stem),
		ExamID:      examID,
		Stem:        rec.Stem,
		Explanation: rec.Explanation,
	}

	if rec.Case != "" {
		caseID := knol.ID("case", rec.Exam, rec.Case)
		pos, seen := b.cases[caseID]
		if !seen {
			c := domain.Case{ID: caseID, ExamID: examID, Title: rec.Case, Vignette: rec.Vignette, SortOrder: len(b.cases)}
			if err := b.tx.UpsertCase(ctx, c); err != nil {
				return domain.Question{}, err
			}
		}
		q.CaseID = uuid.NullUUID{UUID: caseID, Valid: true}
		q.CasePosition = pos
		b.cases[caseID] = pos + 1
	}

	for _, path := range rec.Tags {
		tagID, err := b.tag(ctx, path)
		if err != nil {
			return domain.Question{}, err
		}
		q.TagIDs = append(q.TagIDs, tagID)
	}

	for i, o := range rec.Options {
		q.Options = append(q.Options, domain.Option{Position: i, Text: o.Text, IsCorrect: o.Correct})
	}
	return q, nil
}

func (b *batch) tag(ctx context.Context, path parser.TagPath) (uuid.UUID, error) {
	superID := knol.ID("tag", path.Super)
	if !b.tags[superID] {
		t := domain.Tag{ID: superID, Slug: knol.Slug(path.Super), Name: path.Super}
		if err := b.tx.UpsertTag(ctx, t); err != nil {
			return uuid.Nil, err
		}
		b.tags[superID] = true
	}
	if path.Child == "" {
		return superID, nil
	}

	childID := knol.ID("tag", path.Super, path.Child)
	if !b.tags[childID] {
		t := domain.Tag{
			ID:       childID,
			Slug:     knol.Slug(path.Super) + "/" + knol.Slug(path.Child),
			Name:     path.Child,
			ParentID: uuid.NullUUID{UUID: superID, Valid: true},
		}
		if err := b.tx.UpsertTag(ctx, t); err != nil {
			return uuid.Nil, err
		}
		b.tags[childID] = true
	}
	return childID, nil
}
