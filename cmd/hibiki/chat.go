package main

import (
	"context"
	"strings"

	"github.com/harunnryd/hibiki/cmd/hibiki/runtime"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Chat with the configured model. Tool calls are dispatched as the model asks for them.
With --prompts each prompt (separated by |) is sent in order and the command exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadedConfig(cmd)
		if err != nil {
			return err
		}

		if modelName, _ := cmd.Flags().GetString("model"); modelName != "" {
			conf.Models.Default = modelName
		}

		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = "cli-" + strings.ToLower(ulid.Make().String())
		}
		prompts := splitPrompts(cmd)

		return executeWithRuntime(context.Background(), cmd, conf, func(r *runtime.RuntimeComponents) error {
			repl := runtime.NewREPL(r, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
			if len(prompts) > 0 {
				return repl.RunPrompts(r.Ctx, prompts)
			}
			return repl.Start(r.Ctx)
		})
	},
}

func splitPrompts(cmd *cobra.Command) []string {
	raw, _ := cmd.Flags().GetString("prompts")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, "|")
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("prompts", "", "prompts separated by |, sent in order without a REPL")
	chatCmd.Flags().String("session", "", "session ID to resume (default: a new session)")
	chatCmd.Flags().String("model", "", "model name from the registry (default: models.default)")
}
