// Command owlsearch is the local semantic-code-search service: it builds
// and queries the incremental function index described by this module.
// Replaces the teacher's flag-and-switch CLI (cmd/codetect-index) with a
// cobra command tree, the same "parse flags -> build config -> construct
// engine -> run" shape wired to this module's own builder/query/httpapi
// packages instead of codetect's ctags/Postgres indexer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "owlsearch",
	Short:   "Local semantic code search over function-level embeddings",
	Version: version,
}

var (
	flagConfig  string
	flagRoot    string
	flagExt     string
	flagBaseDir string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to an owlsearch config file (optional)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "repository root to index or query")
	rootCmd.PersistentFlags().StringVar(&flagExt, "ext", ".go", "source file extension for the target (e.g. .go, .py)")
	rootCmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", "", "override the persisted-state base directory")

	rootCmd.AddCommand(indexCmd, searchCmd, classStatsCmd, serveCmd)
}
