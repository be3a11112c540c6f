package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// Stats summarizes a module's coverage across all states.
type Stats struct {
	TotalBasicBlocks   int `json:"total_basic_blocks" jsonschema:"title=Total Basic Blocks,description=Number of basic blocks recovered from the module"`
	CoveredBasicBlocks int `json:"covered_basic_blocks" jsonschema:"title=Covered Basic Blocks,description=Number of distinct basic blocks executed by any state"`
}

// Report is the aggregate JSON coverage report. Coverage is the
// flattened union of every state's covered blocks; a block covered by
// several states appears once per state. Per-state separation is only
// preserved by the drcov format.
type Report struct {
	Stats    Stats        `json:"stats"`
	Coverage []BasicBlock `json:"coverage"`
}

// WriteJSON writes the aggregate coverage report for one module to
// <dir>/<module>_coverage.json and returns the written path.
func WriteJSON(logger *log.Logger, dir, module string, covered Result, totalBBs, coveredBBs int) (string, error) {
	path := filepath.Join(dir, module+"_coverage.json")
	logger.Info("Saving basic block coverage", "path", path)

	report := Report{
		Stats: Stats{
			TotalBasicBlocks:   totalBBs,
			CoveredBasicBlocks: coveredBBs,
		},
		Coverage: flatten(covered),
	}

	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal coverage report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write coverage report: %w", err)
	}
	return path, nil
}

// flatten concatenates all states' covered blocks, ordered by state
// then start address so the report is stable across runs.
func flatten(covered Result) []BasicBlock {
	all := make([]BasicBlock, 0, len(covered))
	for _, state := range covered.States() {
		all = append(all, sortedBlocks(covered[state])...)
	}
	return all
}
