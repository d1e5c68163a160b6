package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"comfygit/internal/reconcile"
	"comfygit/internal/transfer"
)

var (
	exportAllowIssues bool
	exportWithGit     bool

	exportCmd = &cobra.Command{
		Use:   "export <archive.tar.gz>",
		Short: "Export the environment as a portable archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}

	importTorch    string
	importStrategy string
	importName     string

	importCmd = &cobra.Command{
		Use:   "import <archive.tar.gz>",
		Short: "Import an archive into a new environment",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
)

func init() {
	exportCmd.Flags().BoolVar(&exportAllowIssues, "allow-issues", false, "export even when models lack download sources")
	exportCmd.Flags().BoolVar(&exportWithGit, "with-git", false, "include the snapshot history")

	importCmd.Flags().StringVar(&importTorch, "torch-backend", "", "PyTorch backend label for this host")
	importCmd.Flags().StringVar(&importStrategy, "models", string(reconcile.DownloadRequired), "model download strategy: all, required, or skip")
	importCmd.Flags().StringVar(&importName, "name", "", "environment name (default: derived from the archive)")
}

func runExport(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	report, err := transfer.Export(env, args[0], transfer.ExportOptions{
		AllowIssues: exportAllowIssues,
		IncludeGit:  exportWithGit,
	})
	if err != nil {
		return err
	}
	if len(report.MissingSources) > 0 {
		fmt.Printf("Warning: %d models have no download source:\n", len(report.MissingSources))
		for _, name := range report.MissingSources {
			fmt.Printf("  %s\n", name)
		}
	}
	fmt.Printf("Exported to %s\n", report.ArchivePath)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ws, repos, registry, downloader, err := openWorkspace()
	if err != nil {
		return err
	}

	name := importName
	if name == "" {
		name = deriveEnvName(args[0])
	}

	env, err := transfer.Import(cmd.Context(), ws, args[0], name, transfer.ImportOptions{
		TorchBackend: importTorch,
		Strategy:     reconcile.DownloadStrategy(importStrategy),
		Activate:     true,
	}, repos, registry, downloader)
	if err != nil {
		return err
	}
	fmt.Printf("Imported environment %s\n", env.Name)
	return nil
}

func deriveEnvName(archivePath string) string {
	name := archivePath
	for _, suffix := range []string{".tar.gz", ".tgz"} {
		name = strings.TrimSuffix(name, suffix)
	}
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
