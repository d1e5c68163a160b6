package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	commitAllowIssues bool

	commitCmd = &cobra.Command{
		Use:   "commit <message>",
		Short: "Snapshot the environment state",
		Long:  "Capture active workflows into .cec/, verify everything resolves, and create a tagged snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runCommit,
	}

	rollbackCmd = &cobra.Command{
		Use:   "rollback <target>",
		Short: "Restore a snapshot",
		Long:  "Restore .cec/ to a snapshot (vN tag, commit SHA, or HEAD~k) and re-mirror workflows; the restore lands as a new snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runRollback,
	}

	logLimit int

	logCmd = &cobra.Command{
		Use:   "log",
		Short: "List snapshots",
		RunE:  runLog,
	}
)

func init() {
	commitCmd.Flags().BoolVar(&commitAllowIssues, "allow-issues", false, "commit despite unresolved nodes or models")
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "number of snapshots to show")
}

func runCommit(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	tag, err := env.Commit(args[0], commitAllowIssues)
	if err != nil {
		return err
	}
	fmt.Printf("Committed %s\n", tag)
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	tag, err := env.Rollback(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Rolled back to %s as %s\n", args[0], tag)
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}
	entries, err := env.Snap.Log(logLimit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		tag := e.Tag
		if tag == "" {
			tag = e.Hash[:8]
		}
		fmt.Printf("%-6s %s  %s\n", tag, e.When.Format("2006-01-02 15:04"), strings.TrimSpace(e.Message))
	}
	return nil
}
