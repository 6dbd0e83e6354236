// Package pipeline drives the album build end to end: session creation,
// reference and event uploads, matching, album assembly and cleanup. All
// step sequencing and failure-rate policy lives here; the stage packages
// underneath stay policy-free.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/albumforge/albumforge/internal/ai"
	"github.com/albumforge/albumforge/internal/album"
	"github.com/albumforge/albumforge/internal/config"
	"github.com/albumforge/albumforge/internal/duplicates"
	"github.com/albumforge/albumforge/internal/imaging"
	"github.com/albumforge/albumforge/internal/matcher"
	"github.com/albumforge/albumforge/internal/metrics"
	"github.com/albumforge/albumforge/internal/recognize"
	"github.com/albumforge/albumforge/internal/session"
)

// stagingName disambiguates repeated upload filenames within one batch by
// appending _2, _3, ... to the stem. Photos from different cameras often
// share names like IMG_0001.jpg; without this the later upload would
// overwrite the earlier one's staged and processed files. Keyed on the stem
// because processed output always gets a .jpg extension, so shot.png and
// shot.jpg would otherwise still collide.
func stagingName(used map[string]bool, filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	name := stem
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("%s_%d", stem, i)
	}
	used[name] = true
	return name + ext
}

// Upload is one file received from the client. PersonName is set for
// reference uploads only.
type Upload struct {
	PersonName string
	Filename   string
	Data       []byte
}

// ItemFailure is one per-file failure with enough detail to retry just that
// file.
type ItemFailure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// ReferenceReport summarizes a reference upload.
type ReferenceReport struct {
	People   map[string]int `json:"people"` // person -> accepted photos
	Failures []ItemFailure  `json:"failures,omitempty"`
}

// EventReport summarizes an event upload.
type EventReport struct {
	Processed int           `json:"processed"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// BuildReport summarizes a completed build.
type BuildReport struct {
	MatchCounts       map[string]int `json:"match_counts"`
	ProcessedPhotos   int            `json:"processed_photos"`
	SkippedPhotos     []string       `json:"skipped_photos,omitempty"`
	ProcessingSeconds float64        `json:"processing_time_seconds"`
	Summary           string         `json:"summary,omitempty"`
}

// Builder wires the pipeline stages together. One Builder serves all
// sessions; per-session state lives in the session itself.
type Builder struct {
	cfg        *config.Config
	store      session.Store
	pre        *imaging.Preprocessor
	extractor  *recognize.Extractor
	recognizer recognize.Recognizer
	matcher    *matcher.Matcher
	organizer  *album.Organizer
	summarizer ai.Summarizer
	baseDir    string
	logger     *zap.Logger
}

// New creates a Builder. summarizer may be nil (no album summaries); baseDir
// is the scratch area root, empty means the OS temp dir.
func New(cfg *config.Config, store session.Store, recognizer recognize.Recognizer, summarizer ai.Summarizer, baseDir string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	extractor := recognize.NewExtractor(recognizer, cfg.Pipeline.MinDetConfidence, cfg.Pipeline.QualityFloor, logger)
	return &Builder{
		cfg:        cfg,
		store:      store,
		pre:        imaging.NewPreprocessor(cfg.Pipeline.MaxDimension, cfg.Pipeline.TargetFileSizeMB, cfg.Pipeline.JPEGQualityFloor, logger),
		extractor:  extractor,
		recognizer: recognizer,
		matcher:    matcher.New(extractor, logger),
		organizer:  album.NewOrganizer(logger),
		summarizer: summarizer,
		baseDir:    baseDir,
		logger:     logger,
	}
}

// StartSession creates a new session owned by ownerID and registers it.
func (b *Builder) StartSession(ctx context.Context, ownerID string) (*session.Session, error) {
	s, err := session.New(ownerID, b.baseDir)
	if err != nil {
		return nil, err
	}
	if err := b.store.Create(ctx, s); err != nil {
		s.Cleanup()
		return nil, err
	}
	metrics.SessionsActive.Inc()
	b.logger.Info("session started", zap.String("session", s.ID), zap.String("owner", ownerID))
	return s, nil
}

// AddReferences preprocesses the uploaded reference photos, extracts one
// embedding per accepted photo and builds the per-person mean embeddings.
// The upload advances the session only when at least one person ends up with
// a usable embedding; per-file failures are reported, not fatal.
func (b *Builder) AddReferences(ctx context.Context, s *session.Session, uploads []Upload) (*ReferenceReport, error) {
	if err := s.RequireStep(session.StepReferences); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one reference photo is required")
	}

	rawDir, err := os.MkdirTemp(s.WorkDir, "raw-refs-")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(rawDir)

	report := &ReferenceReport{People: make(map[string]int)}
	embeddings := make(map[string][][]float32)
	sources := make(map[string][]string)
	staged := make(map[string]bool)

	for _, u := range uploads {
		if u.PersonName == "" {
			report.Failures = append(report.Failures, ItemFailure{Filename: u.Filename, Reason: "missing person name"})
			continue
		}

		rawPath := filepath.Join(rawDir, stagingName(staged, u.Filename))
		if err := os.WriteFile(rawPath, u.Data, 0o600); err != nil {
			return nil, fmt.Errorf("staging %s: %w", u.Filename, err)
		}

		res := b.pre.ProcessReference(rawPath, s.ReferenceDir())
		if res.Status != imaging.StatusOK {
			metrics.PhotosProcessedTotal.WithLabelValues("reference", "failed").Inc()
			report.Failures = append(report.Failures, ItemFailure{Filename: u.Filename, Reason: res.Error})
			continue
		}

		processed, err := os.ReadFile(res.Path)
		if err != nil {
			return nil, fmt.Errorf("reading processed reference: %w", err)
		}
		extract, err := b.extractor.ExtractReference(ctx, processed)
		if err != nil {
			return nil, fmt.Errorf("extracting reference embedding: %w", err)
		}
		switch extract.Outcome {
		case recognize.OutcomeFound:
			// A dimension mismatch means the recognizer model changed under
			// us; mixing models would corrupt every similarity score.
			if dim := b.cfg.Pipeline.EmbeddingDim; dim > 0 && len(extract.Embedding) != dim {
				return nil, fmt.Errorf("recognizer returned a %d-dim embedding, expected %d: check EMBEDDING_DIM against the recognizer model",
					len(extract.Embedding), dim)
			}
			metrics.PhotosProcessedTotal.WithLabelValues("reference", "ok").Inc()
			metrics.FacesDetectedTotal.Add(float64(extract.FaceCount))
			embeddings[u.PersonName] = append(embeddings[u.PersonName], extract.Embedding)
			sources[u.PersonName] = append(sources[u.PersonName], u.Filename)
		case recognize.OutcomeNoFace:
			metrics.PhotosProcessedTotal.WithLabelValues("reference", "failed").Inc()
			report.Failures = append(report.Failures, ItemFailure{Filename: u.Filename, Reason: "no face found, please upload a clear photo of the person"})
		case recognize.OutcomeLowQuality:
			metrics.PhotosProcessedTotal.WithLabelValues("reference", "failed").Inc()
			report.Failures = append(report.Failures, ItemFailure{Filename: u.Filename, Reason: "face quality too low, please upload a sharper, better-lit photo"})
		}
	}

	people := make(map[string]*recognize.Person, len(embeddings))
	for name, embs := range embeddings {
		person, err := recognize.BuildPerson(name, embs, sources[name])
		if err != nil {
			return nil, fmt.Errorf("building embedding for %s: %w", name, err)
		}
		people[name] = person
		report.People[name] = len(embs)
	}

	// Every file rejected means the session has nothing to match against.
	// That is fatal for the whole session, not a partial failure.
	if len(people) == 0 {
		s.Fail("no usable reference photos: every file was rejected")
		b.store.Save(ctx, s)
		return report, fmt.Errorf("no usable reference photos: every file was rejected")
	}

	if err := s.SetReferences(people); err != nil {
		return nil, err
	}
	if err := b.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	b.logger.Info("references uploaded",
		zap.String("session", s.ID),
		zap.Int("people", len(people)),
		zap.Int("failures", len(report.Failures)))
	return report, nil
}

// AddEvents preprocesses the uploaded event photos. Photos are never
// rejected for having no faces; only undecodable files fail. A whole-image
// embedding is captured best-effort for near-duplicate reporting.
func (b *Builder) AddEvents(ctx context.Context, s *session.Session, uploads []Upload) (*EventReport, error) {
	if err := s.RequireStep(session.StepEvents); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one event photo is required")
	}

	rawDir, err := os.MkdirTemp(s.WorkDir, "raw-events-")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(rawDir)

	report := &EventReport{}
	var paths []string
	staged := make(map[string]bool)

	for _, u := range uploads {
		rawPath := filepath.Join(rawDir, stagingName(staged, u.Filename))
		if err := os.WriteFile(rawPath, u.Data, 0o600); err != nil {
			return nil, fmt.Errorf("staging %s: %w", u.Filename, err)
		}

		res := b.pre.ProcessEvent(rawPath, s.EventDir())
		if res.Status != imaging.StatusOK {
			metrics.PhotosProcessedTotal.WithLabelValues("event", "failed").Inc()
			report.Failures = append(report.Failures, ItemFailure{Filename: u.Filename, Reason: res.Error})
			continue
		}
		metrics.PhotosProcessedTotal.WithLabelValues("event", "ok").Inc()
		paths = append(paths, res.Path)
		report.Processed++

		// Whole-image embedding for duplicate detection. Best effort: a
		// recognizer without this endpoint just means no duplicate report.
		if data, err := os.ReadFile(res.Path); err == nil {
			if emb, err := b.recognizer.EmbedImage(ctx, data); err == nil {
				s.SetEventEmbedding(res.Path, emb)
			} else {
				b.logger.Debug("whole-image embedding unavailable",
					zap.String("photo", u.Filename), zap.Error(err))
			}
		}
	}

	if len(paths) == 0 {
		return report, fmt.Errorf("no usable event photos: every file was rejected")
	}

	if err := s.SetEventPhotos(paths); err != nil {
		return nil, err
	}
	if err := b.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	b.logger.Info("event photos uploaded",
		zap.String("session", s.ID),
		zap.Int("processed", report.Processed),
		zap.Int("failures", len(report.Failures)))
	return report, nil
}

// Build runs the search and materializes the album. The only fatal failure
// after this point marks the session failed; per-photo problems are skipped
// and reported.
func (b *Builder) Build(ctx context.Context, s *session.Session, onProgress func(matcher.Progress)) (*BuildReport, error) {
	if err := s.BeginBuild(); err != nil {
		return nil, err
	}
	if err := b.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	start := time.Now()
	report, err := b.build(ctx, s, onProgress)
	elapsed := time.Since(start)
	if err != nil {
		s.Fail(err.Error())
		b.store.Save(ctx, s)
		metrics.BuildsTotal.WithLabelValues("failed").Inc()
		b.logger.Error("album build failed", zap.String("session", s.ID), zap.Error(err))
		return nil, err
	}

	metrics.BuildsTotal.WithLabelValues("completed").Inc()
	metrics.BuildDuration.Observe(elapsed.Seconds())
	report.ProcessingSeconds = elapsed.Seconds()
	b.logger.Info("album build completed",
		zap.String("session", s.ID),
		zap.Duration("elapsed", elapsed),
		zap.Int("processed", report.ProcessedPhotos))
	return report, nil
}

func (b *Builder) build(ctx context.Context, s *session.Session, onProgress func(matcher.Progress)) (*BuildReport, error) {
	people := s.People()
	if len(people) == 0 {
		return nil, fmt.Errorf("session has no reference people")
	}

	start := time.Now()
	results, err := b.matcher.Search(ctx, people, s.EventPhotos(), matcher.Options{
		Threshold:   b.cfg.Pipeline.SimilarityThreshold,
		Concurrency: b.cfg.Pipeline.Concurrency,
		OnProgress:  onProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("face search: %w", err)
	}

	summary := b.summarize(ctx, results)

	if _, err := b.organizer.Organize(results, s.AlbumDir(), summary); err != nil {
		return nil, fmt.Errorf("organizing album: %w", err)
	}

	zipPath := filepath.Join(s.WorkDir, "album.zip")
	if err := b.organizer.Archive(s.AlbumDir(), zipPath); err != nil {
		return nil, fmt.Errorf("archiving album: %w", err)
	}

	s.CompleteBuild(results, zipPath, time.Since(start))
	if err := b.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	counts := make(map[string]int, len(results.People)+1)
	for name, matches := range results.People {
		counts[name] = len(matches)
	}
	counts[matcher.UnknownBucket] = len(results.Unknown)

	return &BuildReport{
		MatchCounts:     counts,
		ProcessedPhotos: results.Processed,
		SkippedPhotos:   results.Skipped,
		Summary:         summary,
	}, nil
}

// summarize asks the configured AI provider for a short album description.
// Failures degrade to an empty summary.
func (b *Builder) summarize(ctx context.Context, results *matcher.Results) string {
	if b.summarizer == nil {
		return ""
	}
	stats := ai.AlbumStats{
		PeopleCounts: make(map[string]int, len(results.People)),
		UnknownCount: len(results.Unknown),
		TotalPhotos:  results.Processed,
	}
	for name, matches := range results.People {
		stats.PeopleCounts[name] = len(matches)
	}
	summary, err := b.summarizer.SummarizeAlbum(ctx, stats)
	if err != nil {
		b.logger.Warn("album summary unavailable", zap.Error(err))
		return ""
	}
	return summary
}

// Duplicates reports groups of near-identical event photos. Available from
// step 3 onward; photos without a whole-image embedding are simply absent.
func (b *Builder) Duplicates(s *session.Session) []duplicates.Group {
	idx := duplicates.NewIndex()
	for path, emb := range s.EventEmbeddings() {
		idx.Add(path, emb)
	}
	return idx.Groups(b.cfg.Pipeline.DuplicateThreshold)
}

// Cleanup removes the session's scratch space and drops it from the store.
func (b *Builder) Cleanup(ctx context.Context, s *session.Session) error {
	if err := s.Cleanup(); err != nil {
		return err
	}
	if err := b.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	metrics.SessionsActive.Dec()
	b.logger.Info("session cleaned up", zap.String("session", s.ID))
	return nil
}
