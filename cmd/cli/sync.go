package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickyhof/BranchDB/ps"
)

func newSyncCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror a git backend to and from git.remote",
	}

	var prefix string
	push := &cobra.Command{
		Use:   "push",
		Short: "Push branches to the mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := c.connect(cmd)
			if err != nil {
				return err
			}
			if err := instance.Push(cmd.Context(), prefix); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Pushed branches matching %q", prefix+"*")
			return nil
		},
	}
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch branches from the mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := c.connect(cmd)
			if err != nil {
				return err
			}
			if err := instance.Fetch(cmd.Context(), prefix); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Fetched branches matching %q", prefix+"*")
			return nil
		},
	}
	for _, sub := range []*cobra.Command{push, fetch} {
		sub.Flags().StringVar(&prefix, "prefix", "", "only branches starting with prefix")
		cmd.AddCommand(sub)
	}
	return cmd
}

func newHistoryCommand(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <branch> [path]",
		Short: "Show commits on a branch of a git backend",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := c.connect(cmd)
			if err != nil {
				return err
			}
			store, ok := instance.GitStore()
			if !ok {
				return fmt.Errorf("history requires the git backend")
			}

			path := ""
			if len(args) == 2 {
				path = args[1]
			}
			commits, err := store.History(cmd.Context(), args[0], path, limit)
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), commits, func() {
				renderCommits(cmd, commits)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum commits (0 for all)")
	return cmd
}

func renderCommits(cmd *cobra.Command, commits []ps.Commit) {
	table := NewTable(cmd.OutOrStdout(), "Commit", "When", "Author", "Message")
	for _, commit := range commits {
		table.Row(commit.Id[:10], commit.When.Format("2006-01-02 15:04"), commit.Author, commit.Message)
	}
	table.Render()
}
