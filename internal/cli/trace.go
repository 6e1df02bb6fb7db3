package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/undertow/internal/harness"
)

// TraceOutcome is one scenario's result for output.
type TraceOutcome struct {
	Name     string   `json:"name"`
	Pass     bool     `json:"pass"`
	Errors   []string `json:"errors,omitempty"`
	Snapshot string   `json:"snapshot,omitempty"`
}

// TraceResult is the trace command's output payload.
type TraceResult struct {
	Pass      bool           `json:"pass"`
	Scenarios []TraceOutcome `json:"scenarios"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var showSnapshots bool

	cmd := &cobra.Command{
		Use:   "trace <scenario.yaml | dir> ...",
		Short: "Run store scenarios and report their traces",
		Long: `Run one or more YAML scenarios against a fresh store wired to the
deterministic in-memory source, evaluate their assertions and report the
results. Directories run every scenario file they contain.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, args, showSnapshots, cmd)
		},
	}
	cmd.Flags().BoolVar(&showSnapshots, "snapshots", false, "include canonical trace snapshots in the output")
	return cmd
}

func runTrace(opts *RootOptions, args []string, showSnapshots bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	paths, err := collectScenarioPaths(args)
	if err != nil {
		formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "collecting scenarios", err)
	}

	result := TraceResult{Pass: true}
	for _, path := range paths {
		formatter.VerboseLog("running %s", path)
		outcome, err := runOneScenario(path, showSnapshots)
		if err != nil {
			formatter.Error(ErrCodeExecute, err.Error(), nil)
			return WrapExitError(ExitCommandError, "running "+path, err)
		}
		if !outcome.Pass {
			result.Pass = false
		}
		result.Scenarios = append(result.Scenarios, outcome)
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		var b strings.Builder
		for _, outcome := range result.Scenarios {
			mark := "PASS"
			if !outcome.Pass {
				mark = "FAIL"
			}
			fmt.Fprintf(&b, "%s %s\n", mark, outcome.Name)
			for _, msg := range outcome.Errors {
				fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(msg, "\n", "\n  "))
			}
			if outcome.Snapshot != "" {
				fmt.Fprintf(&b, "  %s\n", outcome.Snapshot)
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), b.String())
	}

	if !result.Pass {
		return NewExitError(ExitFailure, "one or more scenarios failed")
	}
	return nil
}

func runOneScenario(path string, showSnapshot bool) (TraceOutcome, error) {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return TraceOutcome{}, err
	}
	result, err := harness.Run(scenario)
	if err != nil {
		return TraceOutcome{}, err
	}
	outcome := TraceOutcome{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
	if showSnapshot {
		snapshot, err := harness.Snapshot(scenario.Name, result)
		if err != nil {
			return TraceOutcome{}, err
		}
		outcome.Snapshot = string(snapshot)
	}
	return outcome, nil
}

func collectScenarioPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("scenario path %s: %w", arg, err)
		}
		if info.IsDir() {
			matches, err := filepath.Glob(filepath.Join(arg, "*.yaml"))
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no scenario files in %s", arg)
			}
			paths = append(paths, matches...)
			continue
		}
		paths = append(paths, arg)
	}
	sort.Strings(paths)
	return paths, nil
}
