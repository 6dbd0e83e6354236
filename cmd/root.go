// Package cmd wires the CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "albumforge",
	Short: "Face-matching album builder for event photographers",
	Long: `AlbumForge turns a pile of event photos into per-person albums.
Upload a few reference photos per person, then the event shoot; the
pipeline finds each person's photos by face similarity and packs the
result into per-person folders with a manifest and a ZIP archive.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
