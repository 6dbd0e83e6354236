package album

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/albumforge/albumforge/internal/matcher"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice", "Alice"},
		{"Jiří Novák", "Jiri_Novak"},
		{"a/b\\c:d", "a_b_c_d"},
		{"..", "person"},
		{"", "person"},
		{"María-José", "Maria-Jose"},
		{"photo.person", "photo.person"},
		{"  spaces  ", "spaces"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("image-bytes-"+name), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOrganize(t *testing.T) {
	srcDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "album")

	p1 := writeSource(t, srcDir, "event1.jpg")
	p2 := writeSource(t, srcDir, "event2.jpg")
	p3 := writeSource(t, srcDir, "event3.jpg")

	results := &matcher.Results{
		People: map[string][]matcher.Match{
			"Jiří": {
				{Path: p1, Similarity: 0.9},
				{Path: p2, Similarity: 0.6},
			},
			"NoMatches": {},
		},
		Unknown:   []string{p3},
		Processed: 3,
	}

	o := NewOrganizer(nil)
	manifest, err := o.Organize(results, outDir, "a lively garden party")
	if err != nil {
		t.Fatal(err)
	}

	// Copied, not moved.
	if _, err := os.Stat(p1); err != nil {
		t.Errorf("source photo should still exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "Jiri", "event1.jpg")); err != nil {
		t.Errorf("expected copied photo in sanitized folder: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "Unknown", "event3.jpg")); err != nil {
		t.Errorf("expected unmatched photo in Unknown folder: %v", err)
	}

	// Zero-match people get no folder.
	if _, err := os.Stat(filepath.Join(outDir, "NoMatches")); !os.IsNotExist(err) {
		t.Error("zero-match person must not get a folder")
	}

	if len(manifest.People) != 1 {
		t.Fatalf("expected 1 person in manifest, got %d", len(manifest.People))
	}
	pm := manifest.People[0]
	if pm.Name != "Jiří" || pm.Folder != "Jiri" || pm.PhotoCount != 2 {
		t.Errorf("unexpected person manifest %+v", pm)
	}
	if pm.MinSimilarity != 0.6 || pm.MaxSimilarity != 0.9 || pm.AvgSimilarity != 0.75 {
		t.Errorf("unexpected similarity stats min=%v max=%v avg=%v",
			pm.MinSimilarity, pm.MaxSimilarity, pm.AvgSimilarity)
	}
	if manifest.UnknownCount != 1 {
		t.Errorf("expected 1 unknown, got %d", manifest.UnknownCount)
	}
	if manifest.Summary != "a lively garden party" {
		t.Errorf("unexpected summary %q", manifest.Summary)
	}

	// Manifest on disk matches the returned one.
	data, err := os.ReadFile(filepath.Join(outDir, "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	var onDisk Manifest
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.People[0].Photos[0].Similarity != 0.9 {
		t.Errorf("manifest on disk missing per-photo similarity: %+v", onDisk.People[0])
	}
}

func TestOrganize_FilenameCollision(t *testing.T) {
	srcA := t.TempDir()
	srcB := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "album")

	// Same base name from two different directories.
	p1 := writeSource(t, srcA, "shot.jpg")
	p2 := writeSource(t, srcB, "shot.jpg")

	results := &matcher.Results{
		People: map[string][]matcher.Match{
			"Alice": {
				{Path: p1, Similarity: 0.8},
				{Path: p2, Similarity: 0.7},
			},
		},
		Processed: 2,
	}

	o := NewOrganizer(nil)
	manifest, err := o.Organize(results, outDir, "")
	if err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(outDir, "Alice"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected both colliding photos kept, got %d files", len(entries))
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["shot.jpg"] || !names["shot_2.jpg"] {
		t.Errorf("expected shot.jpg and shot_2.jpg, got %v", names)
	}

	// Both contents survived; nothing was overwritten.
	c1, _ := os.ReadFile(filepath.Join(outDir, "Alice", "shot.jpg"))
	c2, _ := os.ReadFile(filepath.Join(outDir, "Alice", "shot_2.jpg"))
	if string(c1) == string(c2) {
		t.Error("colliding files should retain distinct contents")
	}

	if manifest.People[0].PhotoCount != 2 {
		t.Errorf("expected 2 photos in manifest, got %d", manifest.People[0].PhotoCount)
	}
}

func TestArchive(t *testing.T) {
	srcDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "album")
	p1 := writeSource(t, srcDir, "event1.jpg")

	results := &matcher.Results{
		People: map[string][]matcher.Match{
			"Alice": {{Path: p1, Similarity: 0.9}},
		},
		Processed: 1,
	}

	o := NewOrganizer(nil)
	if _, err := o.Organize(results, outDir, ""); err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(t.TempDir(), "album.zip")
	if err := o.Archive(outDir, zipPath); err != nil {
		t.Fatal(err)
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
		if strings.HasPrefix(f.Name, "/") || strings.Contains(f.Name, "..") {
			t.Errorf("archive entry %q is not a clean relative path", f.Name)
		}
	}
	want := map[string]bool{"Alice/event1.jpg": false, "manifest.json": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("archive missing entry %q (have %v)", n, names)
		}
	}
}
