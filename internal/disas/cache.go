package disas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"bbcov/internal/coverage"
)

// Cache persists disassembly results as <module>.disas JSON files so
// large binaries are not re-disassembled on every report run.
type Cache struct {
	Dir string // directory holding .disas files
	Log *log.Logger
}

func (c *Cache) path(modulePath string) string {
	return filepath.Join(c.Dir, filepath.Base(modulePath)+".disas")
}

// Disassemble returns the cached disassembly for a module, invoking d
// on a miss and caching the result. Blocks are sorted by start address
// exactly once, before caching, which is the engine's sortedness
// precondition.
func (c *Cache) Disassemble(d Disassembler, modulePath string) (*Result, error) {
	res, err := c.Load(modulePath)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	res, err = d.Disassemble(modulePath)
	if err != nil {
		return nil, err
	}

	coverage.SortBlocks(res.BBs)

	if err := c.Save(modulePath, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Load returns the cached result for a module, or nil when no cache
// file exists or the module has been modified since it was written.
func (c *Cache) Load(modulePath string) (*Result, error) {
	path := c.path(modulePath)
	c.Log.Info("Checking for existing .disas file", "path", path)

	cacheInfo, err := os.Stat(path)
	if err != nil {
		c.Log.Info("No .disas file found")
		return nil, nil
	}

	moduleInfo, err := os.Stat(modulePath)
	if err != nil {
		return nil, fmt.Errorf("stat module: %w", err)
	}
	if cacheInfo.ModTime().Before(moduleInfo.ModTime()) {
		c.Log.Info("Cached disassembly is out of date, regenerating", "path", path)
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read .disas file: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse .disas file %s: %w", path, err)
	}

	c.Log.Info("Returning cached basic blocks", "path", path)
	return &res, nil
}

// Save writes a module's disassembly result to its .disas file.
func (c *Cache) Save(modulePath string, res *Result) error {
	path := c.path(modulePath)
	c.Log.Info("Saving disassembly information", "path", path)

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal disassembly: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write .disas file: %w", err)
	}
	return nil
}
