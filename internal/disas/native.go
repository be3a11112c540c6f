package disas

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/arm64/arm64asm"

	"bbcov/internal/coverage"
	"bbcov/internal/elfx"
)

// Native is the built-in ARM64 disassembler backend. It decodes each
// function symbol's byte range linearly and splits it into basic
// blocks at branch instructions and branch targets. It needs no
// external tooling but does need function symbols, so it cannot handle
// fully stripped binaries; use the radare2 backend for those.
type Native struct {
	Log *log.Logger
}

func (n *Native) Disassemble(modulePath string) (*Result, error) {
	im, err := elfx.Open(modulePath)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrNoDisassembly, modulePath, err)
	}
	defer im.Close()

	if im.Text.Size == 0 {
		return nil, fmt.Errorf("%w for %s: no executable section", ErrNoDisassembly, modulePath)
	}
	if len(im.Funcs) == 0 {
		return nil, fmt.Errorf("%w for %s: no function symbols", ErrNoDisassembly, modulePath)
	}

	var bbs []coverage.BasicBlock
	funcs := 0
	for _, fn := range im.Funcs {
		if fn.Size == 0 || !im.InText(fn.Addr) {
			continue
		}
		data, ok := im.SliceVA(fn.Addr, fn.Size)
		if !ok {
			continue
		}
		name := demangle.Filter(fn.Name, demangle.NoClones)
		bbs = append(bbs, splitFunction(fn.Addr, name, data)...)
		funcs++
	}

	if len(bbs) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoDisassembly, modulePath)
	}

	base, end := im.Bounds()
	n.Log.Info("Recovered basic blocks",
		"module", filepath.Base(modulePath), "functions", funcs, "blocks", len(bbs))

	return &Result{BBs: bbs, BaseAddr: base, EndAddr: end}, nil
}

// splitFunction decodes one function's bytes and cuts them into basic
// blocks. A block ends at every branch and begins at every in-function
// branch target. Calls (BL, BLR) do not end a block, matching how
// coverage viewers delimit blocks. Undecodable words are treated as
// data islands and left inside the current block.
func splitFunction(addr uint64, function string, data []byte) []coverage.BasicBlock {
	size := uint64(len(data)) &^ 3
	if size == 0 {
		return nil
	}

	leaders := map[uint64]bool{addr: true}
	for off := uint64(0); off < size; off += 4 {
		va := addr + off
		inst, err := arm64asm.Decode(data[off : off+4])
		if err != nil {
			continue
		}
		if !endsBlock(inst.Op) {
			continue
		}
		if off+4 < size {
			leaders[va+4] = true
		}
		if target, ok := branchTarget(inst, va); ok && target > addr && target < addr+size {
			leaders[target] = true
		}
	}

	starts := make([]uint64, 0, len(leaders))
	for va := range leaders {
		starts = append(starts, va)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	bbs := make([]coverage.BasicBlock, 0, len(starts))
	for i, start := range starts {
		end := addr + size
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		bbs = append(bbs, coverage.BasicBlock{
			StartAddr: start,
			EndAddr:   end,
			Function:  function,
		})
	}
	return bbs
}

// endsBlock reports whether the opcode transfers control somewhere
// other than the next instruction. B also covers b.cond, which decodes
// to Op B with a condition argument.
func endsBlock(op arm64asm.Op) bool {
	switch op {
	case arm64asm.B, arm64asm.BR, arm64asm.RET,
		arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return true
	}
	return false
}

// branchTarget returns the branch destination for PC-relative
// branches. The displacement is always the final operand.
func branchTarget(inst arm64asm.Inst, va uint64) (uint64, bool) {
	if len(inst.Args) == 0 {
		return 0, false
	}
	pcRel, ok := inst.Args[len(inst.Args)-1].(arm64asm.PCRel)
	if !ok {
		return 0, false
	}
	return uint64(int64(va) + int64(pcRel)), true
}
