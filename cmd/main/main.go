package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"comfygit/internal/config"
	"comfygit/internal/db"
	"comfygit/internal/db/repositories"
	"comfygit/internal/logging"
	"comfygit/internal/sources"
	"comfygit/internal/version"
	"comfygit/internal/workspace"
	"comfygit/pkg/cgerr"
)

var (
	verbose bool
	envFlag string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "comfygit",
		Short: "ComfyGit - reproducible ComfyUI environments",
		Long: `ComfyGit manages isolated ComfyUI runtime environments so that your exact
working configuration - custom nodes, Python packages, model references, and
workflows - is reproducible across machines and across time.`,
		Version:       version.GetVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env", "", "environment name (default: the active environment)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(pyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cgerr.KindInternal.ExitCode())
	}
}

func initLogging() {
	logging.Initialize(verbose || cfg.Debug)
}

// openWorkspace builds the workspace handle plus the shared collaborators
// most commands need.
func openWorkspace() (*workspace.Store, *repositories.Repositories, sources.Registry, sources.Downloader, error) {
	ws := workspace.NewStore(cfg)
	if !ws.Exists() {
		return nil, nil, nil, nil, cgerr.New(cgerr.KindFilesystem, "workspace not initialized",
			"run 'comfygit init' first", nil)
	}

	database, err := db.New(cfg.ModelsDBPath())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, nil, nil, err
	}

	repos := repositories.New(database)
	registry := sources.NewHTTPRegistry("", cfg.APICacheDir(), cfg.ExternalTimeout)
	downloader := sources.NewHTTPDownloader(cfg.ExternalTimeout, cfg.CivitAIAPIKey)
	return ws, repos, registry, downloader, nil
}

// openEnv resolves --env or the active environment and wires it.
func openEnv() (*workspace.Store, *workspace.Env, error) {
	ws, repos, registry, downloader, err := openWorkspace()
	if err != nil {
		return nil, nil, err
	}

	name := envFlag
	if name == "" {
		name, err = ws.ActiveEnvironment()
		if err != nil {
			return nil, nil, err
		}
	}

	env, err := ws.OpenEnvironment(name, repos, registry, downloader)
	if err != nil {
		return nil, nil, err
	}
	return ws, env, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := cgerr.HintOf(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "Kind: %s\n", cgerr.KindOf(err))
		}
		os.Exit(cgerr.ExitCodeOf(err))
	}
}
