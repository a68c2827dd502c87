// Package modelstest loads the overlap case table shared by the Go and SQL
// overlap tests.
package modelstest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"arbiter/internal/models"

	"gopkg.in/yaml.v3"
)

// OverlapCase is one row of testdata/overlap_cases.yaml.
type OverlapCase struct {
	Name      string    `yaml:"name"`
	Existing  [2]string `yaml:"existing"`
	Candidate [2]string `yaml:"candidate"`
	Expected  bool      `yaml:"overlaps"`
}

// CasesPath is the location of the shared fixture, independent of the
// calling package's working directory.
func CasesPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "testdata", "overlap_cases.yaml")
}

// LoadOverlapCases reads a fixture file of overlap cases.
func LoadOverlapCases(path string) ([]OverlapCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []OverlapCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse overlap cases: %w", err)
	}
	return cases, nil
}

// Intervals resolves the case clock times on the given day.
func (c OverlapCase) Intervals(day time.Time) (existing, candidate models.Interval, err error) {
	parse := func(clock string) (time.Time, error) {
		t, err := time.Parse("15:04", clock)
		if err != nil {
			return time.Time{}, err
		}
		y, m, d := day.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location()), nil
	}

	times := make([]time.Time, 0, 4)
	for _, clock := range []string{c.Existing[0], c.Existing[1], c.Candidate[0], c.Candidate[1]} {
		t, err := parse(clock)
		if err != nil {
			return models.Interval{}, models.Interval{}, fmt.Errorf("case %q: %w", c.Name, err)
		}
		times = append(times, t)
	}
	return models.Interval{Start: times[0], End: times[1]}, models.Interval{Start: times[2], End: times[3]}, nil
}
