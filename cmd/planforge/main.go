// Command planforge drives the design pipeline: analyze a product idea,
// design the architecture, schema, and contract, validate the artifacts
// against each other, and scaffold the result into a workspace.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/emit"
	"github.com/dshills/planforge/flow/store"
	"github.com/dshills/planforge/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	jsonLogs   bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "planforge",
		Short:         "Resumable design pipeline over a budgeted reasoning service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "planforge.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "emit events as JSON lines")

	root.AddCommand(a.runCmd(), a.resumeCmd(), a.statusCmd(), a.serveCmd())
	return root
}

// runtime is everything a command needs to drive the pipeline.
type runtime struct {
	cfg    pipeline.Config
	store  store.Store[pipeline.Document]
	engine *flow.Engine[pipeline.Document]
	close  func()
}

// setup loads config and wires the store, model, adapter, workspace, and
// engine together.
func (a *app) setup(ctx context.Context, metrics *flow.Metrics) (*runtime, error) {
	cfg, err := pipeline.Load(a.configPath)
	if err != nil {
		return nil, err
	}

	st, closeStore, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}

	chat, closeModel, err := cfg.ChatModel(ctx)
	if err != nil {
		closeStore()
		return nil, err
	}

	ws, err := pipeline.NewLocalWorkspace(cfg.Workspace.Root)
	if err != nil {
		closeStore()
		closeModel()
		return nil, err
	}

	stages := &pipeline.Stages{
		Calls:     cfg.NewCallAdapter(chat, metrics),
		Workspace: ws,
		BudgetUSD: cfg.Budget.CeilingUSD,
		MaxCycles: cfg.Validation.MaxCycles,
	}

	emitter := emit.NewLogEmitter(os.Stderr, a.jsonLogs)
	engine, err := pipeline.Build(stages, st, emitter, flow.Options{MaxSteps: cfg.MaxSteps, Metrics: metrics})
	if err != nil {
		closeStore()
		closeModel()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		store:  st,
		engine: engine,
		close: func() {
			closeModel()
			closeStore()
		},
	}, nil
}

func (a *app) runCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run <idea>",
		Short: "Start a fresh pipeline run from a product idea",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close()

			if runID == "" {
				runID = uuid.NewString()
			}
			idea := strings.Join(args, " ")

			doc, err := rt.engine.Run(cmd.Context(), runID, pipeline.NewDocument(idea))
			return reportOutcome(cmd, runID, doc, err)
		},
	}
	cmd.Flags().StringVar(&runID, "id", "", "run ID (defaults to a new UUID)")
	return cmd
}

func (a *app) resumeCmd() *cobra.Command {
	var answers []string

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a suspended or interrupted run",
		Long: `Resume a run from its latest checkpoint. Answers to outstanding
clarification questions are supplied as repeated --answer flags of the form
"question=answer" and merged into the run's state before execution continues.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close()

			input, err := answersInput(answers)
			if err != nil {
				return err
			}

			cp, err := rt.store.LoadLatest(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s has no checkpoints", args[0])
			}
			if err != nil {
				return err
			}
			if missing := missingAnswers(cp.State, input.Answers); len(missing) > 0 {
				return fmt.Errorf("run %s still has unanswered questions:\n  - %s",
					args[0], strings.Join(missing, "\n  - "))
			}

			doc, err := rt.engine.Run(cmd.Context(), args[0], input)
			return reportOutcome(cmd, args[0], doc, err)
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, `answer to a clarification question, "question=answer"`)
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the latest checkpoint of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer rt.close()

			cp, err := rt.store.LoadLatest(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s has no checkpoints", args[0])
			}
			if err != nil {
				return err
			}

			next := cp.NodeID
			if next == flow.End {
				next = "(complete)"
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"run:      %s\nstep:     %d\nnext:     %s\nstatus:   %s\nspent:    $%.4f\ntokens:   %d in / %d out\nsaved at: %s\n",
				cp.RunID, cp.Step, next, cp.State.Status, cp.State.Ledger.CostUSD,
				cp.State.Ledger.InputTokens, cp.State.Ledger.OutputTokens,
				cp.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

// answersInput converts "question=answer" flags into a resume input delta.
func answersInput(pairs []string) (pipeline.Document, error) {
	var input pipeline.Document
	for _, pair := range pairs {
		q, answer, ok := strings.Cut(pair, "=")
		if !ok || q == "" {
			return pipeline.Document{}, fmt.Errorf(`malformed --answer %q, want "question=answer"`, pair)
		}
		input.Answers = append(input.Answers, pipeline.QA{Question: q, Answer: answer})
	}
	return input, nil
}

// missingAnswers reports the clarification questions of a suspended run that
// neither the run's recorded answers nor the supplied ones cover. Resuming
// past an open question would silently design around it, so the caller
// refuses to proceed until every question is answered. Runs interrupted for
// any other reason have nothing pending and resume freely.
func missingAnswers(doc pipeline.Document, supplied []pipeline.QA) []string {
	if doc.Status != "awaiting-answers" {
		return nil
	}
	answered := make(map[string]bool, len(doc.Answers)+len(supplied))
	for _, qa := range doc.Answers {
		answered[qa.Question] = true
	}
	for _, qa := range supplied {
		answered[qa.Question] = true
	}
	var missing []string
	for _, q := range doc.Questions {
		if !answered[q] {
			missing = append(missing, q)
		}
	}
	return missing
}

// reportOutcome prints the terminal state of a run, treating suspension as a
// normal outcome rather than a failure.
func reportOutcome(cmd *cobra.Command, runID string, doc pipeline.Document, err error) error {
	out := cmd.OutOrStdout()

	var await *flow.AwaitInputError
	if errors.As(err, &await) {
		fmt.Fprintf(out, "run %s suspended, answer these and resume:\n", runID)
		for _, q := range await.Questions {
			fmt.Fprintf(out, "  - %s\n", q)
		}
		fmt.Fprintf(out, "\n  planforge resume %s --answer \"<question>=<answer>\"\n", runID)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s completed: %s\n", runID, doc.Status)
	if doc.WorkspaceID != "" {
		fmt.Fprintf(out, "workspace: %s (%d artifacts)\n", doc.WorkspaceID, len(doc.Artifacts))
	}
	if doc.Validation != nil && doc.Validation.Forced {
		fmt.Fprintf(out, "warning: validation pass was forced after %d cycles with %d open issues:\n",
			doc.Validation.Cycles, len(doc.Validation.Issues))
		for _, issue := range doc.Validation.Issues {
			fmt.Fprintf(out, "  - [%s] %s: %s\n", issue.Severity, issue.Kind, issue.Detail)
		}
	}
	fmt.Fprintf(out, "spend: $%.4f (%d in / %d out tokens over %d calls)\n",
		doc.Ledger.CostUSD, doc.Ledger.InputTokens, doc.Ledger.OutputTokens, len(doc.Ledger.Calls))
	return nil
}
