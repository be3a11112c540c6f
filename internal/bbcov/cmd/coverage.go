package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"bbcov/internal/coverage"
	"bbcov/internal/disas"
	"bbcov/internal/logging"
	"bbcov/internal/symbols"
	"bbcov/internal/trace"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage <trace-root>",
	Short: "Generate a basic block coverage report",
	Long: `Generate a basic block coverage report from the translation block
traces under <trace-root> (typically an s2e-last directory).

Coverage can be written in one of two formats:

 * A single JSON file, aggregating coverage across all states.
 * One drcov file per state, compatible with the IDA Pro Lighthouse
   plugin (https://github.com/gaasedelen/lighthouse).`,
	Example: `
# Aggregate JSON report using the built-in disassembler
bbcov coverage ./projects/demo/s2e-last --sympath ./projects/demo/guestfs

# Per-state drcov files using radare2
bbcov coverage ./projects/demo/s2e-last --drcov --disassembler radare2
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		drcovFormat, _ := cmd.Flags().GetBool("drcov")
		backend, _ := cmd.Flags().GetString("disassembler")
		sympaths, _ := cmd.Flags().GetStringArray("sympath")
		project, _ := cmd.Flags().GetString("project")

		logger := logging.NewLogger()
		defer logger.Close()

		d, err := disas.New(backend, logger.Logger)
		if err != nil {
			return err
		}

		return runCoverage(logger.Logger, d, args[0], project, sympaths, drcovFormat)
	},
}

func init() {
	coverageCmd.Flags().Bool("drcov", false, "Write one drcov file per state instead of a single JSON report")
	coverageCmd.Flags().String("disassembler", "native", "Disassembler backend (native, radare2)")
	coverageCmd.Flags().StringArray("sympath", nil, "Directory to search for target binaries (repeatable)")
	coverageCmd.Flags().String("project", "", "Directory for reports and .disas caches (default: trace root)")
	rootCmd.AddCommand(coverageCmd)
}

// runCoverage generates a report for every module referenced by the
// trace data. A module that cannot be resolved on disk is logged and
// skipped; any other failure aborts the run, since it makes the report
// meaningless.
func runCoverage(logger *log.Logger, d disas.Disassembler, traceRoot, project string, sympaths []string, drcovFormat bool) error {
	if project == "" {
		project = traceRoot
	}

	files, err := trace.Files(traceRoot)
	if err != nil {
		return err
	}
	byModule, err := trace.AggregatePerState(logger, files)
	if err != nil {
		return err
	}

	cache := &disas.Cache{Dir: project, Log: logger}

	modules := make([]string, 0, len(byModule))
	for module := range byModule {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	for _, module := range modules {
		modulePath, err := symbols.GuessTargetPath(sympaths, module)
		if err != nil {
			logger.Error("Skipping module", "module", module, "error", err)
			continue
		}
		if err := saveCoverage(logger, cache, d, project, modulePath, byModule[module], drcovFormat); err != nil {
			return err
		}
	}

	return nil
}

func saveCoverage(logger *log.Logger, cache *disas.Cache, d disas.Disassembler, project, modulePath string, byState map[int][]coverage.Interval, drcovFormat bool) error {
	module := filepath.Base(modulePath)

	res, err := cache.Disassemble(d, modulePath)
	if err != nil {
		return err
	}

	covered := coverage.Compute(logger, byState, res.BBs)
	if len(covered) == 0 {
		return fmt.Errorf("%w for %s", trace.ErrNoCoverage, module)
	}

	totalBBs := len(res.BBs)
	coveredBBs := len(covered.Union())

	var loc string
	if drcovFormat {
		loc, err = coverage.WriteDrcov(logger, project, modulePath, res.BaseAddr, res.EndAddr, covered)
	} else {
		loc, err = coverage.WriteJSON(logger, project, module, covered, totalBBs, coveredBBs)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Basic block coverage saved to %s\n\n"+
		"Statistics\n==========\n\n"+
		"Total basic blocks: %d\n"+
		"Covered basic blocks: %d (%.1f%%)\n",
		loc, totalBBs, coveredBBs, 100*float64(coveredBBs)/float64(totalBBs))

	return nil
}
