package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/idmerge/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to a "golden" directory beside the scenarios directory
	Parallel  int
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run conformance scenarios through the resolution engine.

Each scenario seeds a private in-memory database, resolves its steps in
order and checks its assertions. When a golden file exists for a scenario
its trace must also match byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  idmerge test ./scenarios
  idmerge test ./scenarios --filter "merge_*"
  idmerge test ./scenarios --update
  idmerge test ./scenarios/number_change.yaml --driver sqlite --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default: <scenarios-dir>/../golden)")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 4, "maximum scenarios run at once")

	return cmd
}

func runTests(opts *TestOptions, target string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	fail := func(err *ExitError) error {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return err
	}

	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return fail(NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", target)))
	}
	if err != nil {
		return fail(WrapExitError(ExitCommandError, "failed to stat scenario path", err))
	}

	var scenarioFiles []string
	scenarioDir := target
	if info.IsDir() {
		scenarioFiles, err = harness.FindScenarios(target)
		var dirErr *harness.ScenarioDirError
		if errors.As(err, &dirErr) && dirErr.Reason == harness.ReasonNoScenarios {
			err = nil
		}
		if err != nil {
			return fail(WrapExitError(ExitCommandError, "failed to find scenarios", err))
		}
	} else {
		scenarioFiles = []string{target}
		scenarioDir = filepath.Dir(target)
	}

	scenarioFiles, err = filterScenarios(scenarioFiles, opts.Filter)
	if err != nil {
		return fail(WrapExitError(ExitCommandError, "invalid filter", err))
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(scenarioDir)), "golden")
	}

	var runOpts []harness.Option
	if opts.Driver != "" {
		runOpts = append(runOpts, harness.WithDriver(opts.Driver))
	}
	suite, err := harness.RunSuite(cmd.Context(), scenarioFiles, opts.Parallel, runOpts...)
	if err != nil {
		return fail(WrapExitError(ExitCommandError, "scenario run interrupted", err))
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(suite.Runs)),
		Total:     len(suite.Runs),
	}
	for _, run := range suite.Runs {
		sr := checkScenario(run, goldenDir, opts)
		if opts.Format != "json" {
			printScenario(cmd, sr, opts.Update)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// filterScenarios keeps files whose base name, without extension, matches
// the glob pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter pattern: %w", err)
	}
	var out []string
	for _, f := range files {
		base := filepath.Base(f)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if ok, _ := filepath.Match(pattern, name); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// checkScenario folds assertion results and the golden comparison into one
// scenario result.
func checkScenario(run harness.ScenarioRun, goldenDir string, opts *TestOptions) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(run.Path), Path: run.Path, Pass: true}
	if run.Scenario != nil {
		sr.Name = run.Scenario.Name
	}
	if run.Failure != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, run.Failure.Errors...)
	}
	if run.Result == nil {
		return sr
	}

	goldenPath := goldenFilePath(goldenDir, run.Scenario.Name)
	if opts.Update {
		if err := updateGoldenFile(goldenPath, run.Scenario.Name, run.Result); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return sr
	}

	if _, err := os.Stat(goldenPath); os.IsNotExist(err) {
		// No golden file - assertion-based validation only
		return sr
	}
	match, err := compareWithGolden(goldenPath, run.Scenario.Name, run.Result)
	switch {
	case err != nil:
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("golden comparison failed: %v", err))
	case !match:
		sr.Pass = false
		sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	return sr
}

func printScenario(cmd *cobra.Command, sr ScenarioResult, updated bool) {
	w := cmd.OutOrStdout()
	if sr.Pass {
		if updated {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", sr.Name)
		} else {
			fmt.Fprintf(w, "✓ %s\n", sr.Name)
		}
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(goldenDir, scenarioName string) string {
	return filepath.Join(goldenDir, scenarioName+".golden")
}

// updateGoldenFile writes the current trace as the golden file.
func updateGoldenFile(goldenPath, scenarioName string, result *harness.Result) error {
	snapshot := harness.NewSnapshot(scenarioName, result)
	data, err := snapshot.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// compareWithGolden compares the result trace against the golden file.
func compareWithGolden(goldenPath, scenarioName string, result *harness.Result) (bool, error) {
	goldenData, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	snapshot := harness.NewSnapshot(scenarioName, result)
	currentData, err := snapshot.Marshal()
	if err != nil {
		return false, fmt.Errorf("failed to marshal current trace: %w", err)
	}
	return bytes.Equal(goldenData, currentData), nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    ErrCodeScenario,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
