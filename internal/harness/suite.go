package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ScenarioDirError is returned when a scenario directory is missing or
// holds no scenarios.
type ScenarioDirError struct {
	Dir    string
	Reason string
}

// Error implements the error interface.
func (e *ScenarioDirError) Error() string {
	return fmt.Sprintf("scenario directory %q: %s", e.Dir, e.Reason)
}

// ScenarioDirError reasons.
const (
	ReasonNotFound    = "not found"
	ReasonNotDir      = "not a directory"
	ReasonNoScenarios = "no scenario files"
)

// FindScenarios lists the .yaml and .yml files directly under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &ScenarioDirError{Dir: dir, Reason: ReasonNotFound}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &ScenarioDirError{Dir: dir, Reason: ReasonNotDir}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, &ScenarioDirError{Dir: dir, Reason: ReasonNoScenarios}
	}
	slices.Sort(paths)
	return paths, nil
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`

	// Runs holds every scenario in path order, passed or not.
	Runs []ScenarioRun `json:"-"`
}

// ScenarioRun is one scenario's outcome. Result is nil if the scenario
// could not be loaded or executed.
type ScenarioRun struct {
	Path     string
	Scenario *Scenario
	Result   *Result
	Failure  *ScenarioFailure
}

// ScenarioFailure is one scenario that failed to load, run or pass.
type ScenarioFailure struct {
	ScenarioPath string   `json:"scenario_path"`
	Scenario     string   `json:"scenario,omitempty"`
	Errors       []string `json:"errors"`
}

// RunSuite runs every scenario in paths, at most parallel at a time, and
// reports failures in path order. Each scenario has its own in-memory
// store, so scenarios never observe each other.
func RunSuite(ctx context.Context, paths []string, parallel int, opts ...Option) (*SuiteResult, error) {
	runs := make([]ScenarioRun, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			runs[i] = runOne(path, opts...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &SuiteResult{TotalScenarios: len(paths), Runs: runs}
	for _, run := range runs {
		if run.Failure == nil {
			res.Passed++
			continue
		}
		res.Failed++
		res.Failures = append(res.Failures, *run.Failure)
	}
	return res, nil
}

// runOne loads and runs the scenario at path. Failure is nil if it passed.
func runOne(path string, opts ...Option) ScenarioRun {
	run := ScenarioRun{Path: path}
	scenario, err := LoadScenario(path)
	if err != nil {
		run.Failure = &ScenarioFailure{ScenarioPath: path, Errors: []string{err.Error()}}
		return run
	}
	run.Scenario = scenario

	result, err := Run(scenario, opts...)
	if err != nil {
		run.Failure = &ScenarioFailure{
			ScenarioPath: path,
			Scenario:     scenario.Name,
			Errors:       []string{fmt.Sprintf("scenario execution failed: %v", err)},
		}
		return run
	}
	run.Result = result
	if !result.Pass {
		run.Failure = &ScenarioFailure{ScenarioPath: path, Scenario: scenario.Name, Errors: result.Errors}
	}
	return run
}
