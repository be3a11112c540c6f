// Package disas defines the disassembler capability consumed by the
// coverage engine, the built-in backends that implement it, and the
// on-disk cache of disassembly results.
package disas

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"bbcov/internal/coverage"
)

// ErrNoDisassembly is returned when no static basic block information
// could be produced or loaded for a module.
var ErrNoDisassembly = errors.New("no disassembly information found")

// Result is the static disassembly of one module: its basic blocks
// and address bounds. The JSON field names double as the .disas cache
// format.
type Result struct {
	BBs      []coverage.BasicBlock `json:"bbs"`
	BaseAddr uint64                `json:"base_addr"`
	EndAddr  uint64                `json:"end_addr"`
}

// Disassembler recovers basic blocks from a module on disk.
type Disassembler interface {
	Disassemble(modulePath string) (*Result, error)
}

// New returns the disassembler backend with the given name. The empty
// name selects the native backend.
func New(name string, logger *log.Logger) (Disassembler, error) {
	switch name {
	case "", "native":
		return &Native{Log: logger}, nil
	case "radare2", "r2":
		return &Radare2{Log: logger}, nil
	default:
		return nil, fmt.Errorf("unknown disassembler backend %q", name)
	}
}
