package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	pyCmd = &cobra.Command{
		Use:   "py",
		Short: "Manage the Python environment",
	}

	pyGroup string

	pyAddCmd = &cobra.Command{
		Use:   "add <spec>",
		Short: "Add a Python dependency and sync",
		Args:  cobra.ExactArgs(1),
		RunE:  runPyAdd,
	}

	pyRemoveCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a Python dependency and sync",
		Args:  cobra.ExactArgs(1),
		RunE:  runPyRemove,
	}

	pyListAll bool

	pyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List declared Python dependencies",
		RunE:  runPyList,
	}

	pySyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Install the virtualenv to match the manifest",
		RunE:  runPySync,
	}

	pyConstraintCmd = &cobra.Command{
		Use:   "constraint",
		Short: "Manage global version constraints",
	}

	pyConstraintAddCmd = &cobra.Command{
		Use:   "add <spec>",
		Short: "Add or replace a version constraint",
		Args:  cobra.ExactArgs(1),
		RunE:  runPyConstraintAdd,
	}

	pyConstraintRemoveCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a version constraint",
		Args:  cobra.ExactArgs(1),
		RunE:  runPyConstraintRemove,
	}

	pyConstraintListCmd = &cobra.Command{
		Use:   "list",
		Short: "List version constraints",
		RunE:  runPyConstraintList,
	}

	pyTorchCmd = &cobra.Command{
		Use:   "torch <backend>",
		Short: "Switch the PyTorch backend (cu128, cpu, rocm6.3, xpu)",
		Args:  cobra.ExactArgs(1),
		RunE:  runPyTorch,
	}
)

func init() {
	pyAddCmd.Flags().StringVar(&pyGroup, "group", "", "optional dependency group")
	pyRemoveCmd.Flags().StringVar(&pyGroup, "group", "", "optional dependency group")
	pyListCmd.Flags().BoolVar(&pyListAll, "all", false, "include optional groups")

	pyConstraintCmd.AddCommand(pyConstraintAddCmd)
	pyConstraintCmd.AddCommand(pyConstraintRemoveCmd)
	pyConstraintCmd.AddCommand(pyConstraintListCmd)

	pyCmd.AddCommand(pyAddCmd)
	pyCmd.AddCommand(pyRemoveCmd)
	pyCmd.AddCommand(pyListCmd)
	pyCmd.AddCommand(pySyncCmd)
	pyCmd.AddCommand(pyConstraintCmd)
	pyCmd.AddCommand(pyTorchCmd)
}

func runPyAdd(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	return env.Broker.Add(cmd.Context(), args[0], pyGroup)
}

func runPyRemove(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	return env.Broker.Remove(cmd.Context(), args[0], pyGroup)
}

func runPyList(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	groups := env.Broker.List(!pyListAll)
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	for _, g := range names {
		label := g
		if label == "" {
			label = "(main)"
		}
		fmt.Printf("%s:\n", label)
		for _, spec := range groups[g] {
			fmt.Printf("  %s\n", spec)
		}
	}
	return nil
}

func runPySync(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	if err := env.Broker.Sync(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Python environment synced")
	return nil
}

func runPyConstraintAdd(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	return env.Broker.ConstraintAdd(args[0])
}

func runPyConstraintRemove(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	return env.Broker.ConstraintRemove(args[0])
}

func runPyConstraintList(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	for _, spec := range env.Broker.ConstraintList() {
		fmt.Println(spec)
	}
	return nil
}

func runPyTorch(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	if err := env.Broker.SetTorchBackend(cmd.Context(), args[0]); err != nil {
		return err
	}
	cfg := env.Manifest.EnvironmentConfig()
	fmt.Printf("torch %s installed for backend %s\n", cfg.TorchVersion, cfg.TorchBackend)
	return nil
}
