package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	QueryOptions
}

// ParameterInfo describes one declared parameter.
type ParameterInfo struct {
	Label string `json:"label"`
	Type  string `json:"type"`
	Bound bool   `json:"bound"`
}

// CompilationResult is the output of the compile command.
type CompilationResult struct {
	Query      string          `json:"query"`
	Kind       string          `json:"kind"`
	Parameters []ParameterInfo `json:"parameters"`
	CacheKey   string          `json:"cache_key,omitempty"`
	Spaces     []string        `json:"spaces"`
	SQL        []string        `json:"sql"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <mapping.cue> <query>",
		Short: "Compile a query to SQL",
		Long: `Compile a query against a CUE mapping and print the SQL it runs.

Bindings affect the rendered SQL: a list bound with --list expands to one
placeholder per element, and list bindings or --fetch paths disable the
plan cache key.

Example:
  orq compile mapping.cue "from Child c where c.rank = :rank"
  orq compile mapping.cue "from Parent p where p.id in :ids" --list ids=1,2,3`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], args[1], cmd)
		},
	}

	addQueryFlags(cmd, &opts.QueryOptions)
	return cmd
}

func addQueryFlags(cmd *cobra.Command, opts *QueryOptions) {
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "bind a parameter (name=value or position=value)")
	cmd.Flags().StringArrayVar(&opts.Lists, "list", nil, "bind a list parameter (name=v1,v2)")
	cmd.Flags().StringSliceVar(&opts.Fetch, "fetch", nil, "association paths to fetch-join")
	cmd.Flags().IntVar(&opts.FirstResult, "first", 0, "index of the first result")
	cmd.Flags().IntVar(&opts.MaxResults, "max", 0, "maximum number of results (0 is unlimited)")
}

func runCompile(opts *CompileOptions, mappingPath, text string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("Loaded %d entit(ies) from %s", len(model.Entities()), mappingPath)

	// Compilation never touches the database.
	rt, err := newRuntime(opts.RootOptions, model, ":memory:", formatter.GetErrWriter())
	if err != nil {
		return formatter.Report(err)
	}
	defer rt.Close()

	res, err := compileQuery(rt, text, &opts.QueryOptions)
	if err != nil {
		return formatter.Report(err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	writeCompilation(formatter.Writer, res)
	return nil
}

func compileQuery(rt *runtime, text string, opts *QueryOptions) (*CompilationResult, error) {
	q, err := prepare(rt.engine.Session(), text, opts)
	if err != nil {
		return nil, err
	}

	p, err := q.Plan()
	if err != nil {
		return nil, err
	}
	sql, err := q.SQL()
	if err != nil {
		return nil, err
	}

	res := &CompilationResult{
		Query:      q.Text(),
		Kind:       "select",
		Parameters: []ParameterInfo{},
		Spaces:     p.Spaces(),
		SQL:        sql,
	}
	if !q.IsSelect() {
		res.Kind = "mutation"
	}
	for _, param := range q.Parameters().Parameters() {
		res.Parameters = append(res.Parameters, ParameterInfo{
			Label: param.String(),
			Type:  param.Type().String(),
			Bound: q.IsBound(param),
		})
	}
	if key, ok := q.CacheKey(); ok {
		res.CacheKey = string(key)
	}
	return res, nil
}

func writeCompilation(w io.Writer, res *CompilationResult) {
	fmt.Fprintf(w, "Query: %s\n", res.Query)
	fmt.Fprintf(w, "Kind: %s\n", res.Kind)

	if len(res.Parameters) > 0 {
		fmt.Fprintln(w, "Parameters:")
		for _, p := range res.Parameters {
			state := "unbound"
			if p.Bound {
				state = "bound"
			}
			fmt.Fprintf(w, "  %s %s (%s)\n", p.Label, p.Type, state)
		}
	}

	if res.CacheKey != "" {
		fmt.Fprintf(w, "Cache key: %s\n", res.CacheKey)
	} else {
		fmt.Fprintln(w, "Cache key: none")
	}
	fmt.Fprintf(w, "Spaces: %s\n", strings.Join(res.Spaces, ", "))

	fmt.Fprintln(w, "SQL:")
	for i, sql := range res.SQL {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, sql)
	}
}
