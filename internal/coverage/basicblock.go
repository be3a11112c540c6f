// Package coverage computes per-state basic block coverage by matching
// statically recovered basic blocks against dynamically recorded
// translation block intervals, and serializes the result either as a
// single aggregate JSON report or as per-state drcov files.
package coverage

import (
	"fmt"
	"sort"
)

// BasicBlock is an immutable basic block: a maximal straight-line
// instruction sequence with one entry and one exit, as recovered by a
// disassembler backend. It is a plain comparable value and is used
// directly as a map key when accumulating coverage sets.
type BasicBlock struct {
	StartAddr uint64 `json:"start_addr"`
	EndAddr   uint64 `json:"end_addr"`
	Function  string `json:"function"`
}

// String renders the block for log output.
func (bb BasicBlock) String() string {
	return fmt.Sprintf("BB(start=0x%x, end=0x%x, function=%s)", bb.StartAddr, bb.EndAddr, bb.Function)
}

// Size returns the block's extent in bytes.
func (bb BasicBlock) Size() uint64 {
	return bb.EndAddr - bb.StartAddr
}

// SortBlocks orders blocks ascending by start address. The matching
// engine requires its input in this order; the disassembly layer sorts
// once before caching.
func SortBlocks(bbs []BasicBlock) {
	sort.Slice(bbs, func(i, j int) bool {
		return bbs[i].StartAddr < bbs[j].StartAddr
	})
}

// Interval is the address range of one executed translation block
// within a single execution state. Trace files carry a third size
// field per record; it is not needed for matching and is dropped at
// parse time.
type Interval struct {
	Start uint64
	End   uint64
}
