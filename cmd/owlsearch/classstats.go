package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"owlsearch/internal/query"
)

var classStatsTopK int

var classStatsCmd = &cobra.Command{
	Use:   "class-stats <query text>",
	Short: "Aggregate ranked function hits in --root/--ext by enclosing class",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassStats,
}

func init() {
	classStatsCmd.Flags().IntVar(&classStatsTopK, "top-k", 10, "candidate pool size for the underlying search")
}

func runClassStats(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	root, err := eng.targetRoot()
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	groups, standalone, err := query.ClassStats(context.Background(), eng.builder, root, flagExt, text, classStatsTopK)
	if err != nil {
		return fmt.Errorf("computing class stats: %w", err)
	}

	for _, g := range groups {
		fmt.Printf("%s  %s (%s)  matched %d/%d\n",
			color.GreenString("%.4f", g.Composite),
			g.ClassName, g.File, g.Matched, g.MethodCount)
	}
	if len(standalone) > 0 {
		fmt.Printf("\nstandalone functions (%d):\n", len(standalone))
		for _, rec := range standalone {
			fmt.Printf("  %s:%d  %s\n", rec.File, rec.Lineno, rec.Name)
		}
	}
	return nil
}
