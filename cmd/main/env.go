package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfygit/internal/workspace"
)

var (
	initModelsDir string

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace",
		Long:  "Create the workspace skeleton under COMFYGIT_HOME (or ~/comfygit)",
		RunE:  runInit,
	}

	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Manage environments",
		Long:  "Create, list, activate, and delete ComfyUI environments",
	}

	envCreateComfyRef string
	envCreatePython   string
	envCreateTorch    string

	envCreateCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new environment",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnvCreate,
	}

	envListCmd = &cobra.Command{
		Use:   "list",
		Short: "List environments",
		RunE:  runEnvList,
	}

	envUseCmd = &cobra.Command{
		Use:   "use <name>",
		Short: "Set the active environment",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnvUse,
	}

	envDeleteCmd = &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an environment",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnvDelete,
	}
)

func init() {
	initCmd.Flags().StringVar(&initModelsDir, "models-dir", "", "existing model pool to link into the workspace")

	envCreateCmd.Flags().StringVar(&envCreateComfyRef, "comfyui-ref", "", "ComfyUI ref to check out")
	envCreateCmd.Flags().StringVar(&envCreatePython, "python", "", "Python version for the virtualenv")
	envCreateCmd.Flags().StringVar(&envCreateTorch, "torch-backend", "", "PyTorch backend label (cu128, cpu, rocm6.3, xpu)")

	envCmd.AddCommand(envCreateCmd)
	envCmd.AddCommand(envListCmd)
	envCmd.AddCommand(envUseCmd)
	envCmd.AddCommand(envDeleteCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ws := workspace.NewStore(cfg)
	if _, err := ws.Init(); err != nil {
		return err
	}
	fmt.Printf("Initialized workspace at %s\n", cfg.WorkspaceRoot)

	if initModelsDir != "" {
		if err := ws.SetModelDirectory(initModelsDir); err != nil {
			return err
		}
		fmt.Printf("Linked model pool %s\n", initModelsDir)
	}
	return nil
}

func runEnvCreate(cmd *cobra.Command, args []string) error {
	ws, repos, registry, downloader, err := openWorkspace()
	if err != nil {
		return err
	}

	opts := workspace.CreateOptions{
		ComfyUIRef:    envCreateComfyRef,
		PythonVersion: envCreatePython,
		TorchBackend:  envCreateTorch,
		Activate:      true,
	}
	env, err := ws.CreateEnvironment(cmd.Context(), args[0], opts, repos, registry, downloader)
	if err != nil {
		return err
	}
	fmt.Printf("Created environment %s at %s\n", env.Name, env.Paths.Root)
	return nil
}

func runEnvList(cmd *cobra.Command, args []string) error {
	ws, _, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	names, err := ws.ListEnvironments()
	if err != nil {
		return err
	}
	active, _ := ws.ActiveEnvironment()
	for _, name := range names {
		marker := "  "
		if name == active {
			marker = "* "
		}
		fmt.Printf("%s%s\n", marker, name)
	}
	return nil
}

func runEnvUse(cmd *cobra.Command, args []string) error {
	ws, _, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	if err := ws.SetActiveEnvironment(args[0]); err != nil {
		return err
	}
	fmt.Printf("Active environment is now %s\n", args[0])
	return nil
}

func runEnvDelete(cmd *cobra.Command, args []string) error {
	ws, _, _, _, err := openWorkspace()
	if err != nil {
		return err
	}
	if err := ws.DeleteEnvironment(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted environment %s\n", args[0])
	return nil
}
