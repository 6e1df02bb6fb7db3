package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/sqlitesource"
)

// InspectResult is the inspect command's output payload.
type InspectResult struct {
	Types   []TypeCount    `json:"types,omitempty"`
	IDs     []string       `json:"ids,omitempty"`
	Record  map[string]any `json:"record,omitempty"`
	Hash    string         `json:"hash,omitempty"`
	Missing bool           `json:"missing,omitempty"`
}

// TypeCount pairs a record type with how many rows it has.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var schemaDir string

	cmd := &cobra.Command{
		Use:   "inspect <db> [type [id]]",
		Short: "Inspect a record database",
		Long: `Open a record database and show its contents. With no type, lists
every type with its record count. With a type, lists the record ids.
With a type and id, prints the record's data.`,
		Args:          cobra.RangeArgs(1, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, schemaDir, args, cmd)
		},
	}
	cmd.Flags().StringVar(&schemaDir, "schema", "", "CUE schema directory (required)")
	cmd.MarkFlagRequired("schema")
	return cmd
}

func runInspect(opts *RootOptions, schemaDir string, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	schemas, err := schema.LoadDir(schemaDir)
	if err != nil {
		formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading schema", err)
	}
	src, err := sqlitesource.Open(args[0], schemas)
	if err != nil {
		formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer src.Close()

	switch len(args) {
	case 1:
		return inspectTypes(formatter, opts, schemas, src, cmd)
	case 2:
		return inspectIDs(formatter, opts, src, args[1], cmd)
	default:
		return inspectRecord(formatter, opts, src, args[1], args[2], cmd)
	}
}

func inspectTypes(formatter *OutputFormatter, opts *RootOptions, schemas *schema.Registry, src *sqlitesource.Source, cmd *cobra.Command) error {
	names := schemas.Names()
	sort.Strings(names)

	result := InspectResult{}
	for _, name := range names {
		count, err := src.CountRecords(queryspec.Spec{Type: name})
		if err != nil {
			formatter.Error(ErrCodeExecute, err.Error(), nil)
			return WrapExitError(ExitCommandError, "counting "+name, err)
		}
		result.Types = append(result.Types, TypeCount{Type: name, Count: count})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	var b strings.Builder
	for _, tc := range result.Types {
		fmt.Fprintf(&b, "%s\t%d\n", tc.Type, tc.Count)
	}
	fmt.Fprint(cmd.OutOrStdout(), b.String())
	return nil
}

func inspectIDs(formatter *OutputFormatter, opts *RootOptions, src *sqlitesource.Source, typeName string, cmd *cobra.Command) error {
	ids, _, err := src.QueryRecords(queryspec.Spec{Type: typeName}, nil)
	if err != nil {
		formatter.Error(ErrCodeExecute, err.Error(), nil)
		return WrapExitError(ExitCommandError, "listing "+typeName, err)
	}

	if opts.Format == "json" {
		return formatter.Success(InspectResult{IDs: ids})
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func inspectRecord(formatter *OutputFormatter, opts *RootOptions, src *sqlitesource.Source, typeName, id string, cmd *cobra.Command) error {
	data, err := src.ReadRecord(typeName, id)
	if err != nil {
		formatter.Error(ErrCodeExecute, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading record", err)
	}
	if data == nil {
		formatter.Error(ErrCodeNotFound, fmt.Sprintf("%s/%s not found", typeName, id), nil)
		return NewExitError(ExitFailure, "record not found")
	}

	hash, err := jval.HashWithDomain(jval.DomainRecord, data)
	if err != nil {
		return err
	}
	if opts.Format == "json" {
		return formatter.Success(InspectResult{
			Record: map[string]any{typeName + "/" + id: jval.ToAny(data)},
			Hash:   hash,
		})
	}
	text, err := jval.MarshalCanonical(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(text))
	fmt.Fprintf(cmd.OutOrStdout(), "hash\t%s\n", hash)
	return nil
}
