package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/orq/internal/metamodel"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Queries []string
}

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Query   string `json:"query,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Entities int               `json:"entities"`
	Queries  int               `json:"queries"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <mapping.cue>",
		Short: "Validate a mapping and queries without running them",
		Long: `Validate a CUE mapping document and, optionally, queries against it.

Queries are parsed and analyzed only: unresolved paths, unknown entities
and type mismatches are reported, nothing is compiled to SQL or run.

Example:
  orq validate mapping.cue
  orq validate mapping.cue -q "from Parent p where p.name = :n"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Queries, "query", "q", nil, "query to validate (repeatable)")
	return cmd
}

func runValidate(opts *ValidateOptions, mappingPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	res := &ValidationResult{Queries: len(opts.Queries)}

	model, err := loadMapping(mappingPath)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return formatter.Report(err)
		}
		res.Errors = append(res.Errors, mappingIssue(err))
		return outputValidation(formatter, res)
	}
	res.Entities = len(model.Entities())
	formatter.VerboseLog("Mapping %s: %d entit(ies)", mappingPath, res.Entities)

	if len(opts.Queries) > 0 {
		rt, err := newRuntime(opts.RootOptions, model, ":memory:", formatter.GetErrWriter())
		if err != nil {
			return formatter.Report(err)
		}
		defer rt.Close()

		session := rt.engine.Session()
		for _, text := range opts.Queries {
			formatter.VerboseLog("Validating query: %s", text)
			if _, err := session.CreateQuery(text); err != nil {
				res.Errors = append(res.Errors, ValidationIssue{
					Code:    errorCode(err),
					Message: err.Error(),
					Query:   text,
				})
			}
		}
	}

	return outputValidation(formatter, res)
}

func mappingIssue(err error) ValidationIssue {
	issue := ValidationIssue{Code: errorCode(err), Message: err.Error()}
	var compileErr *metamodel.CompileError
	if errors.As(err, &compileErr) {
		issue.Message = compileErr.Message
		issue.Line, issue.Column = position(compileErr.Pos)
	}
	return issue
}

func position(pos token.Pos) (int, int) {
	if !pos.IsValid() {
		return 0, 0
	}
	return pos.Line(), pos.Column()
}

func outputValidation(formatter *OutputFormatter, res *ValidationResult) error {
	res.Valid = len(res.Errors) == 0

	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: res}
		if !res.Valid {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    res.Errors[0].Code,
				Message: fmt.Sprintf("validation failed with %d error(s)", len(res.Errors)),
			}
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
	} else if res.Valid {
		fmt.Fprintf(formatter.Writer, "✓ Mapping valid: %d entit(ies), %d quer(ies)\n", res.Entities, res.Queries)
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, issue := range res.Errors {
			if issue.Line > 0 {
				fmt.Fprintf(formatter.Writer, "line %d:%d\n", issue.Line, issue.Column)
			}
			if issue.Query != "" {
				fmt.Fprintf(formatter.Writer, "  query: %s\n", issue.Query)
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}

	if !res.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(res.Errors)))
	}
	return nil
}
