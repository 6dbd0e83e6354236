package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/albumforge/albumforge/internal/ai"
	"github.com/albumforge/albumforge/internal/config"
	"github.com/albumforge/albumforge/internal/matcher"
	"github.com/albumforge/albumforge/internal/pipeline"
	"github.com/albumforge/albumforge/internal/recognize"
	"github.com/albumforge/albumforge/internal/session"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a per-person album from local photo directories",
	Long: `Build an album in one shot from photos on disk, without the web server.

The references directory holds one subdirectory per person, named after
that person, containing their reference photos. Files directly in the
references directory are treated as single-photo references named after
the file. The events directory holds the event shoot.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("references", "", "Directory with reference photos, one subdirectory per person (required)")
	buildCmd.Flags().String("events", "", "Directory with event photos (required)")
	buildCmd.Flags().String("output", "album.zip", "Output ZIP path")
	buildCmd.Flags().Float64("threshold", 0, "Similarity threshold override (0 = configured default)")
	buildCmd.Flags().Bool("duplicates", false, "Report groups of near-identical event photos")
	_ = buildCmd.MarkFlagRequired("references")
	_ = buildCmd.MarkFlagRequired("events")
}

// loadReferenceUploads walks the references directory. Subdirectories are
// people; loose files are one-photo references named after the file.
func loadReferenceUploads(dir string) ([]pipeline.Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading references directory: %w", err)
	}

	var uploads []pipeline.Upload
	for _, entry := range entries {
		if entry.IsDir() {
			personDir := filepath.Join(dir, entry.Name())
			files, err := os.ReadDir(personDir)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", personDir, err)
			}
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				data, err := os.ReadFile(filepath.Join(personDir, f.Name()))
				if err != nil {
					return nil, fmt.Errorf("reading %s: %w", f.Name(), err)
				}
				uploads = append(uploads, pipeline.Upload{
					PersonName: entry.Name(),
					Filename:   f.Name(),
					Data:       data,
				})
			}
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		uploads = append(uploads, pipeline.Upload{
			PersonName: name,
			Filename:   entry.Name(),
			Data:       data,
		})
	}
	return uploads, nil
}

// loadEventUploads reads every regular file in the events directory.
func loadEventUploads(dir string) ([]pipeline.Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading events directory: %w", err)
	}

	var uploads []pipeline.Upload
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		uploads = append(uploads, pipeline.Upload{Filename: entry.Name(), Data: data})
	}
	return uploads, nil
}

func printFailures(failures []pipeline.ItemFailure) {
	for _, f := range failures {
		fmt.Printf("  skipped %s: %s\n", f.Filename, f.Reason)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()
	if threshold := mustGetFloat64(cmd, "threshold"); threshold > 0 {
		cfg.Pipeline.SimilarityThreshold = threshold
	}

	summarizer, err := ai.NewSummarizer(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("configuring AI summarizer: %w", err)
	}

	// Progress is printed by the bar; the structured logger stays quiet.
	store := session.NewMemoryStore()
	builder := pipeline.New(cfg, store, recognize.NewRemote(cfg.Recognizer.URL), summarizer, "", zap.NewNop())

	s, err := builder.StartSession(ctx, "cli")
	if err != nil {
		return err
	}
	defer builder.Cleanup(ctx, s)

	refs, err := loadReferenceUploads(mustGetString(cmd, "references"))
	if err != nil {
		return err
	}
	refReport, err := builder.AddReferences(ctx, s, refs)
	if err != nil {
		if refReport != nil {
			printFailures(refReport.Failures)
		}
		return err
	}
	fmt.Printf("References: %d people\n", len(refReport.People))
	printFailures(refReport.Failures)

	events, err := loadEventUploads(mustGetString(cmd, "events"))
	if err != nil {
		return err
	}
	eventReport, err := builder.AddEvents(ctx, s, events)
	if err != nil {
		if eventReport != nil {
			printFailures(eventReport.Failures)
		}
		return err
	}
	fmt.Printf("Event photos: %d accepted\n", eventReport.Processed)
	printFailures(eventReport.Failures)

	bar := progressbar.NewOptions(eventReport.Processed,
		progressbar.OptionSetDescription("Matching faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	report, err := builder.Build(ctx, s, func(p matcher.Progress) {
		_ = bar.Set(p.Current)
	})
	if err != nil {
		return fmt.Errorf("building album: %w", err)
	}
	_ = bar.Finish()
	fmt.Println()

	names := make([]string, 0, len(report.MatchCounts))
	for name := range report.MatchCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20s %d photos\n", name, report.MatchCounts[name])
	}
	if report.Summary != "" {
		fmt.Printf("\n%s\n", report.Summary)
	}

	if mustGetBool(cmd, "duplicates") {
		groups := builder.Duplicates(s)
		if len(groups) > 0 {
			fmt.Printf("\nNear-duplicate groups:\n")
			for _, g := range groups {
				fmt.Printf("  %s\n", strings.Join(g.Photos, ", "))
			}
		}
	}

	output := mustGetString(cmd, "output")
	if err := copyArchive(s.ZipPath(), output); err != nil {
		return err
	}
	fmt.Printf("\nAlbum written to %s (%.1fs)\n", output, report.ProcessingSeconds)
	return nil
}

// copyArchive copies the session archive to its final destination. A plain
// copy because the session directory may be on another filesystem.
func copyArchive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return out.Sync()
}
