package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfygit/internal/nodes"
)

var (
	nodeCmd = &cobra.Command{
		Use:   "node",
		Short: "Manage custom node packages",
	}

	nodeInstallDev    bool
	nodeInstallForce  bool
	nodeInstallNoTest bool
	nodeInstallRef    string

	nodeInstallCmd = &cobra.Command{
		Use:   "install <id|url|dir>",
		Short: "Install a custom node package",
		Long:  "Install from the registry by id, from a git URL (optionally @ref), or adopt a local directory with --dev",
		Args:  cobra.ExactArgs(1),
		RunE:  runNodeInstall,
	}

	nodeRemoveCmd = &cobra.Command{
		Use:   "remove <package-id>",
		Short: "Remove a custom node package",
		Long:  "Delete a registry/git node; development nodes are renamed aside with .disabled instead",
		Args:  cobra.ExactArgs(1),
		RunE:  runNodeRemove,
	}

	nodeUpdateCmd = &cobra.Command{
		Use:   "update <package-id>",
		Short: "Update a custom node package",
		Args:  cobra.ExactArgs(1),
		RunE:  runNodeUpdate,
	}

	nodeListCmd = &cobra.Command{
		Use:   "list",
		Short: "List declared node packages",
		RunE:  runNodeList,
	}

	nodePruneExclude []string

	nodePruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Remove nodes no tracked workflow references",
		RunE:  runNodePrune,
	}
)

func init() {
	nodeInstallCmd.Flags().BoolVar(&nodeInstallDev, "dev", false, "track as a development node")
	nodeInstallCmd.Flags().BoolVar(&nodeInstallForce, "force", false, "replace whatever occupies the target directory")
	nodeInstallCmd.Flags().BoolVar(&nodeInstallNoTest, "no-test", false, "skip the dependency resolution test")
	nodeInstallCmd.Flags().StringVar(&nodeInstallRef, "ref", "", "branch, tag, or commit to install")
	nodeUpdateCmd.Flags().StringVar(&nodeInstallRef, "ref", "", "branch, tag, or commit to update to")
	nodePruneCmd.Flags().StringSliceVar(&nodePruneExclude, "exclude", nil, "package ids to keep")

	nodeCmd.AddCommand(nodeInstallCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
	nodeCmd.AddCommand(nodeUpdateCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodePruneCmd)
}

func runNodeInstall(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}

	opts := nodes.InstallOptions{
		Dev:    nodeInstallDev,
		Force:  nodeInstallForce,
		NoTest: nodeInstallNoTest,
		Ref:    nodeInstallRef,
	}
	result, err := env.Nodes.Install(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	fmt.Printf("Installed %s (%s) as %s\n", result.PackageID, result.Source, result.Name)
	if len(result.Requirements) > 0 {
		fmt.Printf("  %d Python requirements added to group node/%s\n", len(result.Requirements), result.PackageID)
	}
	return nil
}

func runNodeRemove(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	if err := env.Nodes.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runNodeUpdate(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	result, err := env.Nodes.Update(cmd.Context(), args[0], nodes.InstallOptions{Ref: nodeInstallRef})
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s to %s\n", result.PackageID, result.Version)
	return nil
}

func runNodeList(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	for _, entry := range env.Manifest.ListNodes() {
		version := entry.Version
		if version == "" {
			version = "-"
		}
		fmt.Printf("%-30s %-12s %s\n", entry.PackageID, entry.Source, version)
	}
	return nil
}

func runNodePrune(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	removed, err := env.Nodes.Prune(nodePruneExclude)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to prune")
		return nil
	}
	for _, id := range removed {
		fmt.Printf("Pruned %s\n", id)
	}
	return nil
}
