package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/sqlitesource"
	"github.com/roach88/undertow/internal/store"
)

// QueryResult is the query command's output payload.
type QueryResult struct {
	Total   int              `json:"total"`
	IDs     []string         `json:"ids"`
	Records []map[string]any `json:"records,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		schemaDir string
		filters   []string
		sorts     []string
		limit     int
		offset    int
		withData  bool
	)

	cmd := &cobra.Command{
		Use:   "query <db> <type>",
		Short: "Run a filtered, sorted query against a record database",
		Long: `Evaluate a query spec against a record database and print the
matching ids (and optionally data).

Filters take the form field:op:value, where op is one of eq, ne, lt,
lte, gt or gte. Values parse as int, float or bool when they look like
one, otherwise as a string. Sorts take the form field or field:desc.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, queryArgs{
				db: args[0], typeName: args[1],
				schemaDir: schemaDir, filters: filters, sorts: sorts,
				limit: limit, offset: offset, withData: withData,
			}, cmd)
		},
	}
	cmd.Flags().StringVar(&schemaDir, "schema", "", "CUE schema directory (required)")
	cmd.MarkFlagRequired("schema")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "filter clause field:op:value (repeatable)")
	cmd.Flags().StringArrayVar(&sorts, "sort", nil, "sort key field[:desc] (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&withData, "data", false, "include record data in the output")
	return cmd
}

type queryArgs struct {
	db, typeName, schemaDir string
	filters, sorts          []string
	limit, offset           int
	withData                bool
}

func runQuery(opts *RootOptions, qa queryArgs, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	spec, err := buildSpec(qa.typeName, qa.filters, qa.sorts)
	if err != nil {
		formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "building query", err)
	}

	schemas, err := schema.LoadDir(qa.schemaDir)
	if err != nil {
		formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading schema", err)
	}
	src, err := sqlitesource.Open(qa.db, schemas)
	if err != nil {
		formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer src.Close()

	total, err := src.CountRecords(spec)
	if err != nil {
		formatter.Error(ErrCodeExecute, err.Error(), nil)
		return WrapExitError(ExitCommandError, "counting", err)
	}

	var rng *store.Range
	if qa.limit > 0 || qa.offset > 0 {
		count := qa.limit
		if count <= 0 {
			count = total
		}
		rng = &store.Range{Start: qa.offset, Count: count}
	}
	ids, records, err := src.QueryRecords(spec, rng)
	if err != nil {
		formatter.Error(ErrCodeExecute, err.Error(), nil)
		return WrapExitError(ExitCommandError, "querying", err)
	}

	result := QueryResult{Total: total, IDs: ids}
	if qa.withData {
		for _, rec := range records {
			result.Records = append(result.Records, jval.ToAny(rec).(map[string]any))
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(ids), total)
	for i, id := range ids {
		if qa.withData {
			text, err := jval.MarshalCanonical(records[i])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, text)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

// buildSpec parses filter and sort flags into a query spec.
func buildSpec(typeName string, filters, sorts []string) (queryspec.Spec, error) {
	spec := queryspec.Spec{Type: typeName}

	for _, raw := range filters {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return spec, fmt.Errorf("filter %q: want field:op:value", raw)
		}
		spec.Filter = append(spec.Filter, queryspec.Clause{
			Field: parts[0],
			Op:    queryspec.Op(parts[1]),
			Value: parseValue(parts[2]),
		})
	}

	for _, raw := range sorts {
		field, rest, found := strings.Cut(raw, ":")
		order := queryspec.Order{Field: field}
		if found {
			if rest != "desc" {
				return spec, fmt.Errorf("sort %q: only :desc is recognized", raw)
			}
			order.Descending = true
		}
		spec.Sort = append(spec.Sort, order)
	}

	return spec, queryspec.Validate(spec)
}

// parseValue reads a flag value as int, float or bool when it parses as
// one, else as a string.
func parseValue(raw string) jval.Value {
	if raw == "true" {
		return jval.Bool(true)
	}
	if raw == "false" {
		return jval.Bool(false)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return jval.Int(n)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return jval.Float(f)
	}
	return jval.String(raw)
}
