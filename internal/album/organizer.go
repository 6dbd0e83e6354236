// Package album materializes matcher results as a per-person directory
// tree with a manifest, exported as a single ZIP archive for download.
package album

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/albumforge/albumforge/internal/matcher"
)

const manifestName = "manifest.json"

// PersonManifest summarizes one person's folder in the album.
type PersonManifest struct {
	Name          string          `json:"name"`
	Folder        string          `json:"folder"`
	PhotoCount    int             `json:"photo_count"`
	Photos        []ManifestPhoto `json:"photos"`
	AvgSimilarity float64         `json:"avg_similarity"`
	MinSimilarity float64         `json:"min_similarity"`
	MaxSimilarity float64         `json:"max_similarity"`
}

// ManifestPhoto records one copied photo and the similarity that placed it.
type ManifestPhoto struct {
	File       string  `json:"file"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Manifest is the explainability artifact written alongside the album. A
// client can inspect it to see why each photo landed where it did.
type Manifest struct {
	People       []PersonManifest `json:"people"`
	UnknownCount int              `json:"unknown_count"`
	Summary      string           `json:"summary,omitempty"`
}

// Organizer assembles album directory trees from matcher results.
type Organizer struct {
	logger *zap.Logger
}

// NewOrganizer creates an organizer.
func NewOrganizer(logger *zap.Logger) *Organizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Organizer{logger: logger}
}

var diacriticsRemover = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeName converts a person name into a filesystem-safe folder name:
// diacritics are stripped ("Jiří" -> "Jiri") and path-unsafe runes become
// underscores. An empty result falls back to "person".
func SanitizeName(name string) string {
	out, _, _ := transform.String(diacriticsRemover, name)
	out = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		case r == ' ':
			return '_'
		default:
			return '_'
		}
	}, out)
	out = strings.Trim(out, "._")
	if out == "" {
		return "person"
	}
	return out
}

// Organize copies matched photos into per-person folders under outputDir,
// writes the manifest, and returns it. People with zero matches get no
// folder. Photos are copied, never moved, so the session's event directory
// stays intact. Optional summary text (AI generated) is embedded in the
// manifest when provided.
func (o *Organizer) Organize(results *matcher.Results, outputDir, summary string) (*Manifest, error) {
	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating album dir: %w", err)
	}

	manifest := &Manifest{
		UnknownCount: len(results.Unknown),
		Summary:      summary,
	}

	names := make([]string, 0, len(results.People))
	for name := range results.People {
		names = append(names, name)
	}
	sort.Strings(names)

	// Two people may sanitize to the same folder name; disambiguate the
	// folder the same way as colliding files.
	usedFolders := make(map[string]bool)

	for _, name := range names {
		matches := results.People[name]
		if len(matches) == 0 {
			continue
		}

		folder := uniqueName(usedFolders, SanitizeName(name))
		usedFolders[folder] = true
		personDir := filepath.Join(outputDir, folder)
		if err := os.MkdirAll(personDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating folder for %s: %w", name, err)
		}

		pm, err := o.copyPerson(name, folder, personDir, matches)
		if err != nil {
			return nil, err
		}
		manifest.People = append(manifest.People, *pm)
	}

	if len(results.Unknown) > 0 {
		folder := uniqueName(usedFolders, SanitizeName(matcher.UnknownBucket))
		usedFolders[folder] = true
		unknownDir := filepath.Join(outputDir, folder)
		if err := os.MkdirAll(unknownDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating unknown folder: %w", err)
		}
		var unmatched []matcher.Match
		for _, path := range results.Unknown {
			unmatched = append(unmatched, matcher.Match{Path: path})
		}
		if _, err := o.copyPerson(matcher.UnknownBucket, folder, unknownDir, unmatched); err != nil {
			return nil, err
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, manifestName), data, 0o600); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	return manifest, nil
}

// copyPerson copies one person's matches into their folder and builds the
// manifest entry. On filename collision a numeric disambiguator is appended
// rather than overwriting.
func (o *Organizer) copyPerson(name, folder, personDir string, matches []matcher.Match) (*PersonManifest, error) {
	pm := &PersonManifest{Name: name, Folder: folder}

	used := make(map[string]bool)
	var sum float64
	for i, m := range matches {
		target := uniqueName(used, filepath.Base(m.Path))
		used[target] = true

		if err := copyFile(m.Path, filepath.Join(personDir, target)); err != nil {
			return nil, fmt.Errorf("copying %s for %s: %w", m.Path, name, err)
		}

		pm.Photos = append(pm.Photos, ManifestPhoto{
			File:       target,
			Source:     filepath.Base(m.Path),
			Similarity: m.Similarity,
		})
		sum += m.Similarity
		if i == 0 || m.Similarity < pm.MinSimilarity {
			pm.MinSimilarity = m.Similarity
		}
		if m.Similarity > pm.MaxSimilarity {
			pm.MaxSimilarity = m.Similarity
		}
	}
	pm.PhotoCount = len(pm.Photos)
	if pm.PhotoCount > 0 {
		pm.AvgSimilarity = sum / float64(pm.PhotoCount)
	}
	return pm, nil
}

// uniqueName appends _2, _3, ... before the extension until the name is
// unused.
func uniqueName(used map[string]bool, name string) string {
	if !used[name] {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if !used[candidate] {
			return candidate
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Archive zips the album tree into zipPath. Archive entries are relative to
// the album root so no absolute paths leak into the download.
func (o *Organizer) Archive(albumDir, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	err = filepath.WalkDir(albumDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(albumDir, path)
		if err != nil {
			return err
		}
		entry, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("creating archive entry %s: %w", rel, err)
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(entry, src); err != nil {
			return fmt.Errorf("writing archive entry %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return f.Sync()
}
