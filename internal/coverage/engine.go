package coverage

import (
	"sort"

	"github.com/charmbracelet/log"
)

// BlockSet is the set of basic blocks covered by one state.
type BlockSet map[BasicBlock]struct{}

// Result maps a state ID to the set of basic blocks at least one of
// its translation blocks touched. States with no matches have no
// entry.
type Result map[int]BlockSet

// Compute matches each state's translation block intervals against the
// static basic block list. bbs must be sorted ascending by StartAddr
// (see SortBlocks); the slice is borrowed read-only and never mutated,
// so the same list can be reused across modules and states.
func Compute(logger *log.Logger, byState map[int][]Interval, bbs []BasicBlock) Result {
	covered := make(Result)
	numBBs := len(bbs)

	for state, intervals := range byState {
		logger.Info("Calculating basic block coverage", "state", state)

		for _, tb := range intervals {
			for i := searchBlocks(tb.Start, bbs); i < numBBs; i++ {
				bb := bbs[i]

				// The translation block starts inside the basic block,
				// or ends inside it. Half-overlap is enough: a block is
				// covered even if the interval extends past it.
				if (bb.EndAddr >= tb.Start && tb.Start >= bb.StartAddr) ||
					(bb.StartAddr <= tb.End && tb.End <= bb.EndAddr) {
					set, ok := covered[state]
					if !ok {
						set = make(BlockSet)
						covered[state] = set
					}
					set[bb] = struct{}{}
				}

				// Blocks past the interval's end can never match.
				if bb.StartAddr > tb.End {
					break
				}
			}
		}
	}

	return covered
}

// searchBlocks returns the index at which to start scanning for blocks
// that may overlap an interval beginning at tbStart, or len(bbs) when
// no block can overlap. On a non-exact match it returns the
// predecessor of the insertion point, so an interval that begins
// inside the preceding block is still scanned.
func searchBlocks(tbStart uint64, bbs []BasicBlock) int {
	numBBs := len(bbs)
	if numBBs == 0 {
		return 0
	}
	if tbStart <= bbs[0].EndAddr {
		return 0
	}
	if tbStart > bbs[numBBs-1].EndAddr {
		return numBBs
	}

	lo, hi := 0, numBBs-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case bbs[mid].StartAddr < tbStart:
			lo = mid + 1
		case bbs[mid].StartAddr > tbStart:
			hi = mid - 1
		default:
			return mid
		}
	}

	// tbStart > bbs[0].EndAddr guarantees lo >= 1 here.
	return lo - 1
}

// Union flattens the result into the set of blocks covered by any
// state.
func (r Result) Union() BlockSet {
	all := make(BlockSet)
	for _, set := range r {
		for bb := range set {
			all[bb] = struct{}{}
		}
	}
	return all
}

// States returns the state IDs present in the result, ascending.
func (r Result) States() []int {
	states := make([]int, 0, len(r))
	for state := range r {
		states = append(states, state)
	}
	sort.Ints(states)
	return states
}

// sortedBlocks returns the set's blocks ordered by start address, for
// deterministic report output.
func sortedBlocks(set BlockSet) []BasicBlock {
	bbs := make([]BasicBlock, 0, len(set))
	for bb := range set {
		bbs = append(bbs, bb)
	}
	SortBlocks(bbs)
	return bbs
}
