package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfygit/internal/reconcile"
)

var (
	pushForce bool

	pushCmd = &cobra.Command{
		Use:   "push [remote]",
		Short: "Publish snapshots to a remote",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPush,
	}

	pullForce    bool
	pullStrategy string

	pullCmd = &cobra.Command{
		Use:   "pull [remote]",
		Short: "Fetch snapshots and reconcile the merged state",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPull,
	}

	remoteCmd = &cobra.Command{
		Use:   "remote",
		Short: "Manage snapshot remotes",
	}

	remoteAddCmd = &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote",
		Args:  cobra.ExactArgs(2),
		RunE:  runRemoteAdd,
	}

	remoteRemoveCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a remote",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemoteRemove,
	}

	remoteListCmd = &cobra.Command{
		Use:   "list",
		Short: "List remotes",
		RunE:  runRemoteList,
	}
)

func init() {
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "force-push, overwriting remote history")
	pullCmd.Flags().BoolVar(&pullForce, "force", false, "discard local uncommitted changes before pulling")
	pullCmd.Flags().StringVar(&pullStrategy, "models", string(reconcile.DownloadRequired), "model download strategy: all, required, or skip")

	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteRemoveCmd)
	remoteCmd.AddCommand(remoteListCmd)
}

func remoteArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "origin"
}

func runPush(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	if err := env.Snap.Push(cmd.Context(), remoteArg(args), pushForce); err != nil {
		return err
	}
	fmt.Println("Pushed")
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	result, err := env.Pull(cmd.Context(), remoteArg(args), pullForce, reconcile.DownloadStrategy(pullStrategy))
	if err != nil {
		return err
	}
	if result != nil {
		fmt.Printf("Pulled and reconciled: %d nodes installed, %d workflows restored, %d models downloaded\n",
			result.NodesInstalled, result.WorkflowsRestored, result.ModelsDownloaded)
	} else {
		fmt.Println("Already up to date")
	}
	return nil
}

func runRemoteAdd(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	return env.Snap.RemoteAdd(args[0], args[1])
}

func runRemoteRemove(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	return env.Snap.RemoteRemove(args[0])
}

func runRemoteList(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	remotes, err := env.Snap.RemoteList()
	if err != nil {
		return err
	}
	for name, urls := range remotes {
		for _, url := range urls {
			fmt.Printf("%-10s %s\n", name, url)
		}
	}
	return nil
}
