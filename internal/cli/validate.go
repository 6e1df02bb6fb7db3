package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/undertow/internal/schema"
)

// TypeSummary describes one compiled record type for output.
type TypeSummary struct {
	Name       string   `json:"name"`
	PrimaryKey string   `json:"primary_key"`
	Attrs      []string `json:"attrs"`
}

// ValidationResult holds the validate command's output payload.
type ValidationResult struct {
	Valid bool          `json:"valid"`
	Types []TypeSummary `json:"types,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Compile and check a CUE schema directory",
		Long: `Compile the CUE record schemas in a directory and report every
declared type. Reference targets (to-one/to-many) are cross-checked
against the compiled registry.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	registry, err := schema.LoadDir(dir)
	if err != nil {
		formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return NewExitError(ExitFailure, "schema validation failed")
	}

	names := registry.Names()
	sort.Strings(names)

	result := ValidationResult{Valid: true}
	for _, name := range names {
		typ, _ := registry.Get(name)
		summary := TypeSummary{Name: typ.Name, PrimaryKey: typ.PrimaryKey}

		attrNames := make([]string, 0, len(typ.Attrs))
		for attrName := range typ.Attrs {
			attrNames = append(attrNames, attrName)
		}
		sort.Strings(attrNames)
		for _, attrName := range attrNames {
			attr := typ.Attrs[attrName]
			desc := fmt.Sprintf("%s:%s", attr.Name, attr.Kind)
			if attr.To != "" {
				desc += "->" + attr.To
			}
			summary.Attrs = append(summary.Attrs, desc)
		}
		result.Types = append(result.Types, summary)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "valid: %d record type(s)\n", len(result.Types))
	for _, summary := range result.Types {
		fmt.Fprintf(&b, "  %s (pk %s): %s", summary.Name, summary.PrimaryKey, strings.Join(summary.Attrs, ", "))
		b.WriteByte('\n')
	}
	fmt.Fprint(cmd.OutOrStdout(), b.String())
	return nil
}
