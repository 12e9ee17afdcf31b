package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"owlsearch/internal/query"
)

var searchTopK int

var searchCmd = &cobra.Command{
	Use:   "search <query text>",
	Short: "Rank functions in --root/--ext by similarity to a natural-language query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "maximum number of ranked hits to return")
}

func runSearch(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	root, err := eng.targetRoot()
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	hits, message, err := query.Search(context.Background(), eng.builder, root, flagExt, text, searchTopK)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if message != "" {
		fmt.Println(message)
		return nil
	}

	for _, h := range hits {
		fmt.Printf("%s %s  %s:%d  %s\n",
			color.CyanString("#%d", h.Rank),
			color.YellowString("%.4f", h.Score),
			h.Record.File, h.Record.Lineno, h.Record.Name)
	}
	return nil
}
