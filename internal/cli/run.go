package cli

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okian/loudsound/internal/scenario"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Filter string // scenario name glob
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	File string `json:"file"`
	*scenario.Result
	Error string `json:"error,omitempty"`
}

func (r ScenarioResult) passed() bool { return r.Result != nil && r.Pass }

// RunResult holds the overall run result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml|dir>...",
		Short: "Run rule scenarios",
		Long: `Run YAML scenarios against an in-process engine and check their expectations.

Directories are searched recursively for .yaml and .yml files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing files, etc.)

Examples:
  loudsoundctl run scenarios/boring.yaml
  loudsoundctl run scenarios --filter "top-*"
  loudsoundctl run scenarios --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenario files by glob pattern")
	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, paths []string) error {
	out := opts.formatter(cmd)

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	result := RunResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		res := ScenarioResult{File: file}
		sc, err := scenario.Load(file)
		if err == nil {
			out.VerboseLog("running %s (%d steps)", sc.Name, len(sc.Steps))
			res.Result, err = scenario.Run(cmd.Context(), sc)
		}
		if err != nil {
			res.Error = err.Error()
		}
		if res.passed() {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, res)
	}

	text := func(w io.Writer) { writeRunText(w, result) }
	if result.Failed > 0 {
		return out.Fail(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total), result, text)
	}
	return out.Success(result, text)
}

func writeRunText(w io.Writer, result RunResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, r := range result.Scenarios {
		name := r.File
		if r.Result != nil {
			name = r.Name
		}
		if r.passed() {
			fmt.Fprintf(w, "✓ %s\n", name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		if r.Error != "" {
			fmt.Fprintf(w, "  %s\n", r.Error)
		}
		if r.Result != nil {
			for _, f := range r.Failures {
				fmt.Fprintf(w, "  %s\n", f)
			}
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}

// findScenarioFiles returns path itself when it is a file, or the YAML files
// below it when it is a directory.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(p)
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(filepath.Base(p), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}
