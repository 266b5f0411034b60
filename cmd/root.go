package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "slidemanager-daemon",
	Short: "Indexing daemon for a local presentation-management tool",
	Long: `slidemanager-daemon scans whitelisted directories of .pptx files,
extracts per-slide text, renders thumbnails, computes text and image
embeddings, and serves hybrid search over the result through a small HTTP
control API with live job progress over SSE.`,
}

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
