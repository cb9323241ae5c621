package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/hibiki/cmd/hibiki/runtime"
	"github.com/harunnryd/hibiki/cmd/hibiki/runtime/initializers"

	"github.com/harunnryd/hibiki/internal/formatter"
	"github.com/harunnryd/hibiki/internal/store"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long:  `List, show and reset the sessions stored in the workspace.`,
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(w *store.Worker, f formatter.Formatter) error {
			sessions, err := w.ListSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 && outputFormat(cmd) == formatter.OutputFormatTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
				fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'hibiki chat' to create your first session.")
				return nil
			}
			out, err := f.FormatSessions(sessions)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(cmd, func(w *store.Worker, f formatter.Formatter) error {
			if _, err := w.GetSession(args[0]); err != nil {
				return err
			}
			messages, err := w.ReadTranscript(args[0], limit)
			if err != nil {
				return err
			}
			out, err := f.FormatTranscript(messages)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset [id]",
	Short: "Reset a session (delete its transcript)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(w *store.Worker, _ formatter.Formatter) error {
			if err := w.ResetSession(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Session '%s' reset successfully.\n", args[0])
			return nil
		})
	},
}

func outputFormat(cmd *cobra.Command) formatter.OutputFormat {
	raw, _ := cmd.Flags().GetString("output")
	format, err := formatter.ParseOutputFormat(raw)
	if err != nil {
		return formatter.OutputFormatTable
	}
	return format
}

// withStore opens the workspace store without building models, so it works offline.
func withStore(cmd *cobra.Command, fn func(*store.Worker, formatter.Formatter) error) error {
	conf, err := loadedConfig(cmd)
	if err != nil {
		return err
	}

	raw, _ := cmd.Flags().GetString("output")
	if raw == "" {
		raw = string(formatter.OutputFormatTable)
	}
	format, err := formatter.ParseOutputFormat(raw)
	if err != nil {
		return err
	}
	f, err := formatter.New(format)
	if err != nil {
		return err
	}

	w, err := initializers.Run(context.Background(), "store worker", initializers.NewStoreInitializer(), conf, runtime.ResolveWorkspaceID(cmd))
	if err != nil {
		return err
	}
	defer w.Stop()

	return fn(w, f)
}

func init() {
	sessionCmd.PersistentFlags().StringP("output", "o", "table", "output format (table, json, yaml)")
	sessionShowCmd.Flags().IntP("limit", "n", 0, "show only the last n messages (0 = all)")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	rootCmd.AddCommand(sessionCmd)
}
