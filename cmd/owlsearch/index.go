package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or incrementally update the function index for --root/--ext",
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "discard any existing index and rebuild from scratch")
}

func runIndex(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	root, err := eng.targetRoot()
	if err != nil {
		return err
	}

	if indexForce {
		if err := eng.builder.ClearCache(root, flagExt); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
	}

	funcs, result, err := eng.builder.Build(context.Background(), root, flagExt, true)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	status := color.YellowString("rebuilt")
	if result.FastPath {
		status = color.GreenString("up to date")
	}
	fmt.Printf("%s: %s\n", root, status)
	fmt.Printf("  functions: %s\n", humanize.Comma(int64(funcs.Len())))
	fmt.Printf("  files processed: %s\n", humanize.Comma(int64(result.FilesProcessed)))
	if result.ChangedFiles > 0 {
		fmt.Printf("  changed: %s\n", humanize.Comma(int64(result.ChangedFiles)))
	}
	if result.DeletedFiles > 0 {
		fmt.Printf("  deleted: %s\n", humanize.Comma(int64(result.DeletedFiles)))
	}
	return nil
}
