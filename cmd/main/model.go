package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfygit/internal/modelindex"
	"comfygit/internal/sources"
)

var (
	modelCmd = &cobra.Command{
		Use:   "model",
		Short: "Manage the workspace model index",
	}

	modelSetDirCmd = &cobra.Command{
		Use:   "set-dir <path>",
		Short: "Point the workspace at a model pool and scan it",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelSetDir,
	}

	modelSyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Incrementally re-index the model pool",
		RunE:  runModelSync,
	}

	modelSearchCmd = &cobra.Command{
		Use:   "search <term>",
		Short: "Search indexed models by filename or path",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelSearch,
	}

	modelStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show model index statistics",
		RunE:  runModelStats,
	}

	modelAddSourceCmd = &cobra.Command{
		Use:   "add-source <hash-prefix> <url>",
		Short: "Record a download URL for a model",
		Args:  cobra.ExactArgs(2),
		RunE:  runModelAddSource,
	}
)

func init() {
	modelCmd.AddCommand(modelSetDirCmd)
	modelCmd.AddCommand(modelSyncCmd)
	modelCmd.AddCommand(modelSearchCmd)
	modelCmd.AddCommand(modelStatsCmd)
	modelCmd.AddCommand(modelAddSourceCmd)
}

func runModelSetDir(cmd *cobra.Command, args []string) error {
	ws, repos, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	if err := ws.SetModelDirectory(args[0]); err != nil {
		return err
	}
	scanner := modelindex.NewScanner(repos, cfg.ModelsDir(), cfg.ModelFileExtensions, cfg.HashWorkers)
	result, err := scanner.Sync()
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d files (%d new) in %s\n", result.Scanned, result.Added, result.Duration.Round(1e7))
	return ws.TouchModelSync()
}

func runModelSync(cmd *cobra.Command, args []string) error {
	ws, repos, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	scanner := modelindex.NewScanner(repos, cfg.ModelsDir(), cfg.ModelFileExtensions, cfg.HashWorkers)
	result, err := scanner.Sync()
	if err != nil {
		return err
	}
	fmt.Printf("Scanned %d files: %d added, %d updated, %d pruned, %d skipped\n",
		result.Scanned, result.Added, result.Updated, result.Pruned, result.Skipped)
	return ws.TouchModelSync()
}

func runModelSearch(cmd *cobra.Command, args []string) error {
	_, repos, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	locations, err := repos.Models.Search(args[0])
	if err != nil {
		return err
	}
	for _, loc := range locations {
		fmt.Printf("%s  %s\n", loc.ModelHash[:12], loc.RelativePath)
	}
	if len(locations) == 0 {
		fmt.Println("No matches")
	}
	return nil
}

func runModelStats(cmd *cobra.Command, args []string) error {
	_, repos, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	stats, err := repos.Models.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Unique models:   %d\n", stats.UniqueModels)
	fmt.Printf("Total locations: %d\n", stats.TotalLocations)
	fmt.Printf("Duplicates:      %d\n", stats.Duplicates)
	return nil
}

func runModelAddSource(cmd *cobra.Command, args []string) error {
	_, repos, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	matches, err := repos.Models.FindByHashPrefix(args[0])
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no model matches hash prefix %q", args[0])
	}
	if len(matches) > 1 {
		return fmt.Errorf("hash prefix %q is ambiguous (%d matches)", args[0], len(matches))
	}
	url := args[1]
	if err := repos.Models.AddSource(matches[0].Hash, sources.SourceTypeFor(url), url); err != nil {
		return err
	}
	fmt.Printf("Recorded source for %s\n", matches[0].Hash[:12])
	return nil
}
