package disas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ianlancetaylor/demangle"

	"bbcov/internal/coverage"
	"bbcov/internal/elfx"
)

// Radare2 recovers basic blocks by shelling out to radare2. Unlike the
// native backend it handles stripped binaries and any architecture r2
// supports, at the cost of an external dependency and a full analysis
// pass per uncached module.
type Radare2 struct {
	Log *log.Logger
	Bin string // radare2 executable, default "r2"
}

type r2Func struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

type r2Block struct {
	Addr uint64 `json:"addr"`
	Size uint64 `json:"size"`
}

func (r *Radare2) Disassemble(modulePath string) (*Result, error) {
	bin := r.Bin
	if bin == "" {
		bin = "r2"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: radare2 not available: %v", ErrNoDisassembly, err)
	}

	funcs, err := r.functions(bin, modulePath)
	if err != nil {
		return nil, err
	}
	if len(funcs) == 0 {
		return nil, fmt.Errorf("%w for %s: radare2 found no functions", ErrNoDisassembly, modulePath)
	}

	blocks, err := r.blocks(bin, modulePath)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w for %s: radare2 found no basic blocks", ErrNoDisassembly, modulePath)
	}

	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Offset < funcs[j].Offset })

	bbs := make([]coverage.BasicBlock, 0, len(blocks))
	for _, blk := range blocks {
		bbs = append(bbs, coverage.BasicBlock{
			StartAddr: blk.Addr,
			EndAddr:   blk.Addr + blk.Size,
			Function:  owningFunction(funcs, blk.Addr),
		})
	}

	base, end := moduleBounds(modulePath, bbs)
	r.Log.Info("Recovered basic blocks via radare2",
		"module", modulePath, "functions", len(funcs), "blocks", len(bbs))

	return &Result{BBs: bbs, BaseAddr: base, EndAddr: end}, nil
}

// functions runs r2's function listing after a full analysis pass.
func (r *Radare2) functions(bin, modulePath string) ([]r2Func, error) {
	out, err := r.run(bin, modulePath, "aaa;aflj")
	if err != nil {
		return nil, err
	}
	var funcs []r2Func
	if err := json.Unmarshal(out, &funcs); err != nil {
		return nil, fmt.Errorf("parse radare2 function list: %w", err)
	}
	return funcs, nil
}

// blocks runs the per-function basic block listing. r2 prints one JSON
// array per function; the decoder consumes the concatenated stream.
func (r *Radare2) blocks(bin, modulePath string) ([]r2Block, error) {
	out, err := r.run(bin, modulePath, "aaa;afbj @@f")
	if err != nil {
		return nil, err
	}

	var blocks []r2Block
	dec := json.NewDecoder(bytes.NewReader(out))
	for {
		var batch []r2Block
		if err := dec.Decode(&batch); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("parse radare2 block list: %w", err)
		}
		blocks = append(blocks, batch...)
	}
	return blocks, nil
}

func (r *Radare2) run(bin, modulePath, script string) ([]byte, error) {
	cmd := exec.Command(bin, "-2", "-q", "-c", script, modulePath)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w for %s: radare2 failed: %v", ErrNoDisassembly, modulePath, err)
	}
	return out, nil
}

// owningFunction finds the function containing addr. funcs must be
// sorted by offset.
func owningFunction(funcs []r2Func, addr uint64) string {
	i := sort.Search(len(funcs), func(i int) bool { return funcs[i].Offset > addr })
	if i == 0 {
		return ""
	}
	fn := funcs[i-1]
	if fn.Size != 0 && addr >= fn.Offset+fn.Size {
		return ""
	}
	return demangle.Filter(strings.TrimPrefix(fn.Name, "sym."), demangle.NoClones)
}

// moduleBounds prefers the ELF load segment bounds; for non-ELF inputs
// it falls back to the extent of the recovered blocks.
func moduleBounds(modulePath string, bbs []coverage.BasicBlock) (base, end uint64) {
	if im, err := elfx.Open(modulePath); err == nil {
		defer im.Close()
		return im.Bounds()
	}
	for i, bb := range bbs {
		if i == 0 || bb.StartAddr < base {
			base = bb.StartAddr
		}
		if bb.EndAddr > end {
			end = bb.EndAddr
		}
	}
	return base, end
}
