package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/weftgraph/weft/internal/blobstore"
	"github.com/weftgraph/weft/internal/gc"
	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/weftconfig"
)

var gcForce bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclamation worker commands",
}

var gcRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a reclamation pass now, pruning superseded triples, orphaned metadata, and stale uploads",
	RunE:  runGCRun,
}

func init() {
	gcRunCmd.Flags().BoolVar(&gcForce, "force", false, "skip the confirmation prompt")
	gcCmd.AddCommand(gcRunCmd)
	rootCmd.AddCommand(gcCmd)
}

func runGCRun(cmd *cobra.Command, args []string) error {
	cfg, err := weftconfig.Load()
	if err != nil {
		return err
	}

	if !gcForce {
		confirmed := false
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Run a reclamation pass now? This permanently deletes pruned rows and files.").
					Affirmative("Run").
					Negative("Cancel").
					Value(&confirmed),
			),
		).WithTheme(huh.ThemeDracula()).Run()
		if err != nil {
			if err == huh.ErrUserAborted {
				fmt.Fprintln(os.Stderr, "gc run canceled.")
				return nil
			}
			return err
		}
		if !confirmed {
			fmt.Fprintln(os.Stderr, "gc run canceled.")
			return nil
		}
	}

	ctx := cmd.Context()
	g, err := graph.Open(ctx, cfg.GraphDBPath())
	if err != nil {
		return fmt.Errorf("opening graph store: %w", err)
	}
	defer g.Close()

	blobs, err := blobstore.Open(cfg.BlobRoot())
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	runner := gc.NewRunner(g, blobs, nil, cfg.DataDir, gc.WithConfig(gc.Config{
		TripleHistoryRetention: cfg.GC.TripleHistoryRetention,
		StaleUploadRetention:   cfg.GC.StaleUploadRetention,
	}))
	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("gc run failed: %w", err)
	}

	printGCResult(result)
	return nil
}

var gcSummaryStyle = lipgloss.NewStyle().Bold(true)

func printGCResult(r *gc.Result) {
	fmt.Println(gcSummaryStyle.Render("gc run complete"))
	fmt.Printf("  triples pruned:       %d\n", r.TriplesPruned)
	fmt.Printf("  blobs deleted:        %d\n", r.BlobsDeleted)
	fmt.Printf("  generated deleted:    %d\n", r.GeneratedDeleted)
	fmt.Printf("  stale uploads deleted: %d\n", r.StaleUploadsDeleted)
}
