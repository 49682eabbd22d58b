package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/orq/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	QueryOptions
	Database string
	Schema   []string // SQL scripts applied before the query
}

// RunResult is the output of the run command. Results is set for selects,
// Affected for mutations.
type RunResult struct {
	Results  []any  `json:"results,omitempty"`
	Affected *int64 `json:"affected,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <mapping.cue> <query>",
		Short: "Run a query against a database",
		Long: `Run a query against a SQLite database and print its results.

Entities print as attribute maps with their associations resolved;
mutations print the number of affected rows. The database defaults to
database.path from the config.

Example:
  orq run mapping.cue "from Parent p join fetch p.children" --db ./app.db
  orq run mapping.cue "update Child c set c.rank = :r where c.id = 12" -p r=3 --db ./app.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	addQueryFlags(cmd, &opts.QueryOptions)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringArrayVar(&opts.Schema, "schema", nil, "SQL script to apply before running")

	return cmd
}

func runQuery(opts *RunOptions, mappingPath, text string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	model, err := loadMapping(mappingPath)
	if err != nil {
		return formatter.Report(err)
	}

	rt, err := newRuntime(opts.RootOptions, model, opts.Database, formatter.GetErrWriter())
	if err != nil {
		return formatter.Report(err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			rt.logger.Error("error closing runtime", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, path := range opts.Schema {
		script, err := os.ReadFile(path)
		if err != nil {
			return formatter.Report(WrapExitError(ExitCommandError, fmt.Sprintf("reading schema %s", path), err))
		}
		if err := rt.store.Migrate(ctx, string(script)); err != nil {
			return formatter.Report(WrapExitError(ExitCommandError, fmt.Sprintf("applying schema %s", path), err))
		}
		formatter.VerboseLog("Applied schema %s", path)
	}

	res, err := execute(ctx, rt, text, &opts.QueryOptions)
	if err != nil {
		return formatter.Report(err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	if res.Affected != nil {
		fmt.Fprintf(formatter.Writer, "%d row(s) affected\n", *res.Affected)
		return nil
	}
	for _, r := range res.Results {
		line, err := json.Marshal(r)
		if err != nil {
			return formatter.Report(err)
		}
		fmt.Fprintln(formatter.Writer, string(line))
	}
	fmt.Fprintf(formatter.Writer, "%d result(s)\n", len(res.Results))
	return nil
}

func execute(ctx context.Context, rt *runtime, text string, opts *QueryOptions) (*RunResult, error) {
	q, err := prepare(rt.engine.Session(), text, opts)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if !q.IsSelect() {
		n, err := q.ExecuteUpdate(ctx)
		if err != nil {
			return nil, err
		}
		return &RunResult{Affected: &n}, nil
	}

	values, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	res := &RunResult{Results: make([]any, len(values))}
	for i, v := range values {
		res.Results[i] = harness.Render(v)
	}
	return res, nil
}
