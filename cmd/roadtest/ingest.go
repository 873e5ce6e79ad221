package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"roadtest/internal/embedding"
	"roadtest/internal/knowledge"
	"roadtest/internal/logging"
)

var flagWatch bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <xlsx-or-dir>...",
	Short: "Index spreadsheet test cases into the knowledge store",
	Long: `Parses .xlsx workbooks (columns: ID, Title, Component, Steps,
Description, Expected) and indexes each case for retrieval. Re-ingest is
idempotent by file content hash. With --watch, keeps running and
re-ingests files as they change.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var engine embedding.Engine
		if cfg.Model.APIKey != "" {
			if eng, err := embedding.NewGenAIEngine(ctx, cfg.Model.APIKey, cfg.Model.EmbeddingModel); err == nil {
				engine = eng
			} else {
				logging.Get(logging.CategoryKnowledge).Warnw("embedding engine unavailable", "err", err)
			}
		}
		store, err := knowledge.Open(cfg, engine)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, path := range args {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				results, err := store.TestCases.IngestDir(ctx, path)
				if err != nil {
					return err
				}
				for _, r := range results {
					printIngest(r)
				}
			} else {
				r, err := store.TestCases.IngestFile(ctx, path)
				if err != nil {
					return err
				}
				printIngest(r)
			}
		}

		if flagWatch {
			if len(args) != 1 {
				return fmt.Errorf("--watch takes exactly one directory")
			}
			fmt.Println("watching", args[0], "(ctrl-c to stop)")
			return store.TestCases.Watch(ctx, args[0])
		}
		return nil
	},
}

func printIngest(r knowledge.IngestResult) {
	switch {
	case r.Error != "":
		fmt.Printf("  %-40s error: %s\n", r.File, r.Error)
	case r.Skipped:
		fmt.Printf("  %-40s unchanged, skipped\n", r.File)
	default:
		fmt.Printf("  %-40s %d cases indexed\n", r.File, r.Cases)
	}
}

func init() {
	ingestCmd.Flags().BoolVar(&flagWatch, "watch", false, "keep watching the directory for changes")
	rootCmd.AddCommand(ingestCmd)
}
