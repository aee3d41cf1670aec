package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/client"
	"github.com/nidhogg/mnemo/internal/events"
	"github.com/nidhogg/mnemo/internal/orchestrator"
)

const rule = "================================================================================"

func newAskCmd(opts *options) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:     "ask <question>",
		Short:   "Ask one question and print the full result",
		Example: `  chat ask "What are the main types of neural networks?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.server, opts.timeout)
			resp, err := query(cmd.Context(), c, cmd.ErrOrStderr(), strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printResult(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func newSearchCmd(opts *options) *cobra.Command {
	var (
		topK int
		mode string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored memory",
		Example: `  chat search "federated learning"
  chat search adam --mode keyword --top-k 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.server, opts.timeout)
			res, err := c.Search(cmd.Context(), strings.Join(args, " "), topK, mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (confidence %.0f%%)\n\n%s\n", res.Message, res.Confidence*100, res.Result)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Number of results")
	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "vector, keyword or hybrid")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversation turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printHistory(cmd.Context(), client.New(opts.server, opts.timeout), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of turns")
	return cmd
}

func newClearCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase all memory on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear memory without --yes")
			}
			if err := client.New(opts.server, opts.timeout).Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Memory cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server, memory and adapter status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.server, opts.timeout)
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server: %s | LLM: %s | Embeddings: %s\n",
				h.Status, onOff(h.LLMEnabled), onOff(h.EmbeddingAvailable))
			return printJSON(out, st)
		},
	}
}

func newWatchCmd() *cobra.Command {
	var (
		redisURL string
		stream   string
		backlog  bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow memory events from the Redis stream",
		Example: `  chat watch --redis redis://localhost:6379
  chat watch --backlog`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			bus, err := events.New(ctx, redisURL, stream, zap.NewNop())
			if err != nil {
				return err
			}
			defer bus.Close()

			from := "$"
			if backlog {
				from = "0"
			}
			out := cmd.OutOrStdout()
			for e := range bus.Subscribe(ctx, from) {
				fmt.Fprintf(out, "%s %-13s #%d %s\n", e.Timestamp.Format("15:04:05"), e.Type, e.EntryID, summarizeEvent(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL")
	cmd.Flags().StringVar(&stream, "stream", events.DefaultStream, "Stream name")
	cmd.Flags().BoolVar(&backlog, "backlog", false, "Replay the whole stream first")
	return cmd
}

func summarizeEvent(e events.Event) string {
	var p map[string]any
	if json.Unmarshal(e.Payload, &p) != nil {
		return ""
	}
	for _, k := range []string{"topic", "query", "capability"} {
		if v, ok := p[k].(string); ok {
			return v
		}
	}
	return ""
}

// runInteractive reads questions line by line until exit or EOF.
func runInteractive(ctx context.Context, opts *options, lines lineReader, out io.Writer) error {
	c := client.New(opts.server, opts.timeout)

	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "MNEMO - Console Client")
	fmt.Fprintln(out, rule)
	if h, err := c.Health(ctx); err != nil {
		fmt.Fprintf(out, "Server %s is not reachable: %v\n", opts.server, err)
	} else {
		fmt.Fprintf(out, "Connected to %s. LLM: %s\n", opts.server, onOff(h.LLMEnabled))
	}
	fmt.Fprintln(out, "Type your question, 'help' for commands, 'exit' to leave.")

	for {
		line, err := lines.Prompt("\n> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit", "q":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "help":
			fmt.Fprintln(out, "Commands:\n  exit/quit/q  leave\n  help         this message\n  history      recent conversation\n  clear        erase memory (asks for confirmation)")
			continue
		case "history":
			if err := printHistory(ctx, c, out, 5); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			continue
		case "clear":
			answer, _ := lines.Prompt("Erase all memory? (yes/no): ")
			if !strings.EqualFold(strings.TrimSpace(answer), "yes") {
				fmt.Fprintln(out, "Memory clear cancelled.")
				continue
			}
			if err := c.Clear(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			} else {
				fmt.Fprintln(out, "Memory cleared.")
			}
			continue
		}

		resp, err := query(ctx, c, out, input, map[string]any{"client": "console"})
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		printResult(out, resp)
	}
}

// query shows a spinner while the server works. The spinner only draws
// on a terminal.
func query(ctx context.Context, c *client.Client, out io.Writer, q string, extra map[string]any) (*orchestrator.Response, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " Processing..."
	s.Start()
	defer s.Stop()
	return c.Query(ctx, q, extra)
}

func printHistory(ctx context.Context, c *client.Client, out io.Writer, limit int) error {
	hist, err := c.History(ctx, limit)
	if err != nil {
		return err
	}
	if len(hist) == 0 {
		fmt.Fprintln(out, "No conversation history found.")
		return nil
	}
	fmt.Fprintln(out, "Recent conversation history:")
	for _, h := range hist {
		fmt.Fprintf(out, "\n[%s] #%d\nQ: %s\n", h.Timestamp.Format("2006-01-02 15:04:05"), h.ID, h.Query)
	}
	return nil
}

func printResult(out io.Writer, r *orchestrator.Response) {
	thin := strings.Repeat("-", len(rule))
	fmt.Fprintf(out, "\n%s\nRESULT\n%s\n", rule, rule)
	fmt.Fprintf(out, "\nTask ID: %s\nQuery: %s\nComplexity: %s\nOverall Confidence: %.0f%%\n",
		r.TaskID, r.UserQuery, r.TaskPlan.Complexity, r.OverallConfidence*100)

	fmt.Fprintf(out, "\n%s\nTASK PLAN\n%s\n", thin, thin)
	fmt.Fprintf(out, "Requires Research: %v\nRequires Analysis: %v\nRequires Memory: %v\nSubtasks: %s\n",
		r.TaskPlan.NeedsRetrieval, r.TaskPlan.NeedsReasoning, r.TaskPlan.NeedsMemory,
		strings.Join(r.TaskPlan.Subtasks, ", "))

	fmt.Fprintf(out, "\n%s\nCAPABILITY RESULTS\n%s\n", thin, thin)
	for i, cr := range r.CapabilityResults {
		fmt.Fprintf(out, "\n[%d] %s (confidence: %.0f%%)\nResult:\n%s\n", i+1, cr.Agent, cr.Confidence*100, cr.Result)
	}

	fmt.Fprintf(out, "\n%s\nFINAL ANSWER\n%s\n%s\n\n%s\n", thin, thin, r.FinalAnswer, rule)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
