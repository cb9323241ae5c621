package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/hibiki/cmd/hibiki/runtime"
	"github.com/harunnryd/hibiki/cmd/hibiki/runtime/initializers"

	"github.com/harunnryd/hibiki/internal/formatter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadedConfig(cmd)
		if err != nil {
			return err
		}

		outputFlag, _ := cmd.Flags().GetString("output")
		format, err := formatter.ParseOutputFormat(outputFlag)
		if err != nil {
			return err
		}
		f, err := formatter.New(format)
		if err != nil {
			return err
		}

		registry, err := initializers.Run(context.Background(), "tools", initializers.NewToolsInitializer(), conf, runtime.ResolveWorkspaceID(cmd))
		if err != nil {
			return err
		}

		out, err := f.FormatTools(registry.Descriptors())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
}
