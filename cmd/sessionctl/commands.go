package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
)

func newShowCmd(a *app) *cobra.Command {
	var version int64

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the latest (or a specific) session state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				state *chat.State
				err   error
			)
			if version > 0 {
				state, err = a.repo.GetVersion(cmd.Context(), args[0], version)
			} else {
				state, err = a.repo.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("load session %s: %w", args[0], err)
			}
			if state == nil {
				return fmt.Errorf("session %s has no stored state", args[0])
			}
			return writeJSON(cmd, state)
		},
	}

	cmd.Flags().Int64Var(&version, "version", 0, "snapshot version to show instead of the latest")
	return cmd
}

func newVersionsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "versions <session-id>",
		Short: "List stored snapshots of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := a.repo.Versions(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list versions: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, snapshots)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTAGE\tCREATED")
			for _, snap := range snapshots {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", snap.Version, snap.Stage, snap.CreatedAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "snapshots: %d\n", len(snapshots))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print snapshots as JSON")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config <session-id>",
		Short: "Print the stored demo configuration of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.repo.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load demo config: %w", err)
			}
			if cfg == nil {
				return fmt.Errorf("session %s has no demo configuration", args[0])
			}
			return writeJSON(cmd, cfg)
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Delete every snapshot and the demo configuration of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := a.repo.DeleteAll(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("delete snapshots: %w", err)
			}
			if err := a.repo.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete demo config: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "session %s reset, removed %d snapshots\n", args[0], deleted)
			return err
		},
	}
}

func newClearConfigsCmd(a *app) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear-configs",
		Short: "Delete the demo configurations of all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errors.New("refusing to clear all demo configurations without --yes")
			}
			n, err := a.repo.ClearAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear demo configs: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d demo configurations\n", n)
			return err
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deletion")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
