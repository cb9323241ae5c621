package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/harunnryd/hibiki/cmd/hibiki/runtime"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/session"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type batchResult struct {
	SessionID string
	Prompt    string
	Reply     string
	Reason    string
	Err       error
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one independent conversation per prompt line",
	Long:  `Read prompts from a file (one per line, blank lines and # comments skipped) and run them in parallel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadedConfig(cmd)
		if err != nil {
			return err
		}
		if modelName, _ := cmd.Flags().GetString("model"); modelName != "" {
			conf.Models.Default = modelName
		}

		path, _ := cmd.Flags().GetString("file")
		prompts, err := readPrompts(path, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if len(prompts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No prompts to run.")
			return nil
		}

		signals := NewSignalHandler(context.Background())
		signals.Start()
		defer signals.Stop()

		return executeWithRuntime(signals.Context(), cmd, conf, func(r *runtime.RuntimeComponents) error {
			results := runBatch(r.Ctx, r.Sessions, prompts, conf.Batch.Concurrency)
			return printBatch(cmd.OutOrStdout(), results)
		})
	},
}

// readPrompts reads path, or in when path is "-".
func readPrompts(path string, in io.Reader) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("--file is required")
	}
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open prompts file: %w", err)
		}
		defer f.Close()
		in = f
	}

	var prompts []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return prompts, nil
}

// runBatch runs every prompt in its own session. A failed prompt is recorded in its result
// and does not cancel the others.
func runBatch(ctx context.Context, sessions *session.Manager, prompts []string, limit int) []batchResult {
	if limit <= 0 {
		limit = config.DefaultBatchConcurrency
	}
	runID := strings.ToLower(ulid.Make().String())

	results := make([]batchResult, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, prompt := range prompts {
		res := &results[i]
		res.SessionID = fmt.Sprintf("batch-%s:%d", runID, i+1)
		res.Prompt = prompt

		g.Go(func() error {
			outcome, err := sessions.Run(gctx, res.SessionID, prompt, nil)
			res.Reason = string(outcome.Reason)
			if outcome.Message != nil {
				res.Reply = outcome.Message.Content
			}
			if err != nil {
				slog.Warn("Batch prompt failed", "session_id", res.SessionID, "reason", outcome.Reason, "error", err)
				res.Err = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func printBatch(w io.Writer, results []batchResult) error {
	failed := 0
	for i, res := range results {
		fmt.Fprintf(w, "[%d] %s\n", i+1, res.Prompt)
		if res.Err != nil {
			failed++
			fmt.Fprintf(w, "    error (%s): %v\n\n", res.Reason, res.Err)
			continue
		}
		fmt.Fprintf(w, "    %s\n\n", strings.ReplaceAll(strings.TrimSpace(res.Reply), "\n", "\n    "))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d prompts failed", failed, len(results))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringP("file", "f", "", "prompts file, one prompt per line (- for stdin)")
	batchCmd.Flags().String("model", "", "model name from the registry (default: models.default)")
}
