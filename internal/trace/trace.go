// Package trace discovers the translation block coverage files written
// by S2E's TranslationBlockCoverage plugin and aggregates their
// intervals per module and execution state.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"bbcov/internal/coverage"
)

// ErrNoCoverage is returned when a trace directory yields nothing to
// match against.
var ErrNoCoverage = errors.New("no translation block coverage information found")

// Files returns the tbcoverage JSON files under root, checking both
// root itself and one level of subdirectories (the s2e-last layout
// keeps one directory per node).
func Files(root string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(root, "tbcoverage-*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob trace files: %w", err)
	}
	nested, err := filepath.Glob(filepath.Join(root, "*", "tbcoverage-*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob trace files: %w", err)
	}
	files = append(files, nested...)

	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCoverage, root)
	}
	sort.Strings(files)
	return files, nil
}

// StateID extracts the execution state number from a tbcoverage file
// name of the form tbcoverage-<state>.json.
func StateID(path string) (int, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	_, num, ok := strings.Cut(name, "-")
	if !ok {
		return 0, fmt.Errorf("malformed trace file name %s", filepath.Base(path))
	}
	state, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("malformed trace file name %s: %w", filepath.Base(path), err)
	}
	return state, nil
}

// AggregatePerState parses each trace file and groups its intervals by
// module path and state. Each record is [start_addr, end_addr, size];
// the size is dropped. Records for the same module and state are
// merged across files.
func AggregatePerState(logger *log.Logger, files []string) (map[string]map[int][]coverage.Interval, error) {
	byModule := make(map[string]map[int][]coverage.Interval)

	for _, file := range files {
		state, err := StateID(file)
		if err != nil {
			return nil, err
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read trace file: %w", err)
		}

		var modules map[string][][]uint64
		if err := json.Unmarshal(data, &modules); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(file), err)
		}

		for module, records := range modules {
			byState := byModule[module]
			if byState == nil {
				byState = make(map[int][]coverage.Interval)
				byModule[module] = byState
			}
			for _, rec := range records {
				if len(rec) < 2 {
					logger.Warn("Skipping short translation block record",
						"file", filepath.Base(file), "module", module, "record", rec)
					continue
				}
				byState[state] = append(byState[state], coverage.Interval{Start: rec[0], End: rec[1]})
			}
		}
	}

	if len(byModule) == 0 {
		return nil, ErrNoCoverage
	}
	return byModule, nil
}
