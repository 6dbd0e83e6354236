// Package matcher assigns event photos to reference people by face
// embedding similarity. One detection pass per photo is shared across all
// reference people; a person is present in a photo when their maximum cosine
// similarity over the photo's faces clears the threshold.
package matcher

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/albumforge/albumforge/internal/recognize"
	"go.uber.org/zap"
)

// UnknownBucket collects photos where no reference person was found.
const UnknownBucket = "Unknown"

// Match records a person found in one photo with the similarity that
// cleared the threshold.
type Match struct {
	Path       string  `json:"path"`
	Similarity float64 `json:"similarity"`
}

// Results maps each person to the photos they were found in, plus the
// Unknown bucket and the unreadable photos that were skipped. Per-person
// lists are sorted by filename so results are independent of processing
// order.
type Results struct {
	People    map[string][]Match `json:"people"`
	Unknown   []string           `json:"unknown"`
	Processed int                `json:"processed"`
	Skipped   []string           `json:"skipped,omitempty"`
}

// Progress reports per-photo progress during a search. The callback runs in
// the matching loop, so it must be cheap and non-blocking.
type Progress struct {
	Current int
	Total   int
	Path    string
}

// Options tunes one search run.
type Options struct {
	Threshold   float64
	Concurrency int
	OnProgress  func(Progress)
}

// Matcher runs face searches against a recognition policy.
type Matcher struct {
	extractor *recognize.Extractor
	logger    *zap.Logger
}

// New creates a matcher.
func New(extractor *recognize.Extractor, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{extractor: extractor, logger: logger}
}

// photoOutcome is the per-photo result produced by a worker.
type photoOutcome struct {
	path    string
	skipped bool
	// person -> similarity that cleared the threshold
	found map[string]float64
}

// Search detects faces in every photo and assigns each photo to the people
// whose reference embedding clears the threshold. The result is a pure
// function of (people, photos, threshold): repeated runs over the same
// inputs produce identical membership.
func (m *Matcher) Search(ctx context.Context, people map[string]*recognize.Person, photos []string, opts Options) (*Results, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	outcomes := make([]photoOutcome, len(photos))

	var wg sync.WaitGroup
	sem := make(chan struct{}, opts.Concurrency)
	var progressMu sync.Mutex
	done := 0

	for i, path := range photos {
		select {
		case <-ctx.Done():
			// Drain in-flight workers so no OnProgress fires after return.
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes[i] = m.searchPhoto(ctx, people, path, opts.Threshold)

			if opts.OnProgress != nil {
				progressMu.Lock()
				done++
				opts.OnProgress(Progress{Current: done, Total: len(photos), Path: path})
				progressMu.Unlock()
			}
		}(i, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return collectResults(people, outcomes), nil
}

// searchPhoto runs one shared detection pass and scores every reference
// person against the photo's faces.
func (m *Matcher) searchPhoto(ctx context.Context, people map[string]*recognize.Person, path string, threshold float64) photoOutcome {
	data, err := os.ReadFile(path)
	if err != nil {
		m.logger.Warn("skipping unreadable event photo", zap.String("path", path), zap.Error(err))
		return photoOutcome{path: path, skipped: true}
	}

	faces, err := m.extractor.ExtractAll(ctx, data)
	if err != nil {
		m.logger.Warn("skipping event photo, face detection failed", zap.String("path", path), zap.Error(err))
		return photoOutcome{path: path, skipped: true}
	}

	out := photoOutcome{path: path, found: make(map[string]float64)}
	for name, person := range people {
		// A face may satisfy several people at once (group photos); each
		// person is scored independently against every face, stopping at
		// the first face that clears the threshold since presence is all
		// that matters.
		for _, face := range faces {
			sim := recognize.CosineSimilarity(person.Embedding, face.Embedding)
			if sim >= threshold {
				out.found[name] = sim
				break
			}
		}
	}
	return out
}

// collectResults merges per-photo outcomes into sorted per-person lists and
// the Unknown bucket. Insertion is keyed by path, so a photo appears at most
// once per person.
func collectResults(people map[string]*recognize.Person, outcomes []photoOutcome) *Results {
	res := &Results{People: make(map[string][]Match, len(people))}
	for name := range people {
		res.People[name] = []Match{}
	}

	seen := make(map[string]map[string]bool, len(people))
	for _, o := range outcomes {
		if o.skipped {
			res.Skipped = append(res.Skipped, o.path)
			continue
		}
		res.Processed++

		if len(o.found) == 0 {
			res.Unknown = append(res.Unknown, o.path)
			continue
		}
		for name, sim := range o.found {
			if seen[name] == nil {
				seen[name] = make(map[string]bool)
			}
			if seen[name][o.path] {
				continue
			}
			seen[name][o.path] = true
			res.People[name] = append(res.People[name], Match{Path: o.path, Similarity: sim})
		}
	}

	for name := range res.People {
		matches := res.People[name]
		sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	}
	sort.Strings(res.Unknown)
	sort.Strings(res.Skipped)
	return res
}
