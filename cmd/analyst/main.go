package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/analyst/internal/batch"
	"github.com/mpataki/analyst/internal/config"
	"github.com/mpataki/analyst/internal/models"
	"github.com/mpataki/analyst/internal/orchestrator"
	"github.com/mpataki/analyst/internal/server"
	"github.com/mpataki/analyst/internal/storage"
	"github.com/mpataki/analyst/internal/tui"
	"github.com/mpataki/analyst/internal/workspace"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "analyst",
		Short: "Retail analytics question answering",
		Long:  "Analyst answers retail questions over a document corpus and the Northwind database.",
		RunE:  runTUI,
	}
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(newAskCommand())
	rootCmd.AddCommand(newBatchCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newGraphCommand())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := loadAgentEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	app := tui.NewApp(cmd.Context(), e.orch)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))

	_, err = p.Run()
	return err
}

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint, _ := cmd.Flags().GetString("format-hint")
			id, _ := cmd.Flags().GetString("id")

			e, err := loadAgentEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			out := e.orch.Answer(cmd.Context(), models.Request{ID: id, Question: args[0], FormatHint: hint})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringP("format-hint", "f", models.DefaultFormatHint, "Answer type: int, float, list, dict or string")
	cmd.Flags().String("id", "", "Request ID (default: generated)")
	return cmd
}

func newBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer a JSONL file of questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, _ := cmd.Flags().GetString("batch")
			outPath, _ := cmd.Flags().GetString("out")
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			in, err := os.Open(inPath)
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer in.Close()

			e, err := loadAgentEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
					return err
				}
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			runner := batch.NewRunner(e.orch, concurrency, e.log)
			sum, err := runner.Run(cmd.Context(), in, out)
			if err != nil {
				return fmt.Errorf("batch failed: %w", err)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Processed %d questions", sum.Processed)
			if sum.Skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), " (%d lines skipped)", sum.Skipped)
			}
			fmt.Fprintln(cmd.ErrOrStderr())
			if out != cmd.OutOrStdout() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Results written to: %s\n", outPath)
			}
			return nil
		},
	}

	cmd.Flags().String("batch", "", "Input JSONL file with questions")
	cmd.Flags().String("out", "-", "Output JSONL file for results")
	cmd.Flags().IntP("concurrency", "c", 1, "Questions answered in parallel")
	cmd.MarkFlagRequired("batch")
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadAgentEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = e.cfg.ServeAddr
			}

			srv := server.New(e.orch, e.registry, e.log)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default: ANALYST_ADDR)")
	return cmd
}

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the document corpus, Northwind database and example planner",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			ws := workspace.New(cfg.DataDir, cfg.DocsDir, cfg.NorthwindPath)
			m, err := ws.Create(force)
			if err != nil {
				return fmt.Errorf("failed to seed workspace: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Documents: %s (%s)\n", m.DocsDir, strings.Join(m.Documents, ", "))
			fmt.Fprintf(w, "Database:  %s (%d orders)\n", m.NorthwindPath, m.Orders)
			fmt.Fprintf(w, "Planner:   %s\n", m.PlannerPath)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite existing files and recreate the database")
	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.store.ListRuns(limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Fprintf(w, "#%d %-6s [%s] %-8s %s\n",
					run.ID, run.Route, run.Status,
					storage.FormatTimeAgo(run.CreatedAt),
					truncate(run.Question, 50))
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			run, err := e.store.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run #%d (%s)\n", run.ID, run.RequestID)
			fmt.Fprintf(w, "Status: %s\n", run.Status)
			fmt.Fprintf(w, "Question: %s\n", run.Question)
			fmt.Fprintf(w, "Route: %s\n", run.Route)
			if run.SQLQuery != "" {
				fmt.Fprintf(w, "SQL: %s\n", run.SQLQuery)
			}
			if run.FinalAnswer != "" {
				fmt.Fprintf(w, "Answer: %s\n", run.FinalAnswer)
			}
			fmt.Fprintf(w, "Confidence: %.1f\n", run.Confidence)
			if len(run.Citations) > 0 {
				fmt.Fprintf(w, "Citations: %s\n", strings.Join(run.Citations, ", "))
			}
			if run.Status == models.RunStatusRunning && run.CurrentNode != "" {
				fmt.Fprintf(w, "Current Node: %s\n", run.CurrentNode)
			}

			execs, err := e.store.GetExecutionsForRun(runID)
			if err != nil {
				return err
			}

			if len(execs) > 0 {
				fmt.Fprintln(w, "\nSteps:")
				for _, exec := range execs {
					status := string(exec.Status)
					if exec.Attempt > 0 {
						status += fmt.Sprintf(", attempt %d", exec.Attempt)
					}
					fmt.Fprintf(w, "  %d. %s [%s]\n", exec.SequenceNum, exec.Node, status)
					if msg, ok := exec.Detail["error"].(string); ok {
						fmt.Fprintf(w, "     error: %s\n", msg)
					}
				}
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			orch := orchestrator.New(orchestrator.Deps{}, orchestrator.WithHistory(e.store), orchestrator.WithLogger(e.log))
			if err := orch.DeleteRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run #%d\n", runID)
			return nil
		},
	}
}

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the workflow graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			edges, _ := cmd.Flags().GetBool("edges")
			w := cmd.OutOrStdout()

			if !edges {
				fmt.Fprint(w, orchestrator.Mermaid())
				return nil
			}
			for _, e := range orchestrator.Edges() {
				if e.When == "" {
					fmt.Fprintf(w, "%-12s -> %s\n", e.From, e.To)
				} else {
					fmt.Fprintf(w, "%-12s -> %-12s when %s\n", e.From, e.To, e.When)
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("edges", false, "List edges instead of a mermaid chart")
	return cmd
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
