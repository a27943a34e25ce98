// Mesorad is the daemon behind the intertextual reference review
// dashboard. It serves the prefilter, finding lifecycle, and verdict
// recording over HTTP.
//
// Usage:
//
//	# Start with the default config (~/.config/mesora/config.yaml)
//	mesorad serve
//
//	# Start with an explicit config file
//	mesorad serve --config ./mesora.yaml
//
//	# Configure via environment
//	SERVER_PORT=9090 PREFILTER_APPROVE_THRESHOLD=0.95 mesorad serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mesorad",
	Short: "Reference review daemon",
	Long: `mesorad serves the review pipeline for candidate references: the
ground-truth prefilter, citation extraction, the finding lifecycle, and
verdict recording.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mesorad HTTP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mesorad\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/mesora/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
