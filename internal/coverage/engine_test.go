package coverage

import (
	"io"
	"reflect"
	"sort"
	"testing"

	"github.com/charmbracelet/log"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestComputeOverlap(t *testing.T) {
	bbs := []BasicBlock{
		{StartAddr: 10, EndAddr: 20, Function: "f"},
	}

	testCases := []struct {
		name     string
		interval Interval
		covered  bool
	}{
		{"interval starts inside block", Interval{15, 25}, true},
		{"interval ends inside block", Interval{0, 12}, true},
		{"interval past block", Interval{21, 30}, false},
		{"interval before block", Interval{0, 9}, false},
		{"interval equals block", Interval{10, 20}, true},
		{"interval spans block", Interval{5, 25}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Compute(testLogger(), map[int][]Interval{0: {tc.interval}}, bbs)

			_, got := result[0][bbs[0]]
			if got != tc.covered {
				t.Errorf("interval [%d,%d]: covered = %v, want %v",
					tc.interval.Start, tc.interval.End, got, tc.covered)
			}
		})
	}
}

func TestComputeInteriorStart(t *testing.T) {
	// The interval begins between the two blocks' start addresses but
	// inside the first block. The search must still scan the first
	// block rather than give up on the non-exact match.
	bbs := []BasicBlock{
		{StartAddr: 10, EndAddr: 20},
		{StartAddr: 30, EndAddr: 40},
	}

	result := Compute(testLogger(), map[int][]Interval{0: {{15, 18}}}, bbs)
	if _, ok := result[0][bbs[0]]; !ok {
		t.Errorf("block [10,20] not covered by interval [15,18]")
	}
	if _, ok := result[0][bbs[1]]; ok {
		t.Errorf("block [30,40] wrongly covered by interval [15,18]")
	}

	// An interval entirely in the gap matches nothing.
	result = Compute(testLogger(), map[int][]Interval{0: {{22, 28}}}, bbs)
	if len(result) != 0 {
		t.Errorf("gap interval [22,28] produced coverage: %v", result)
	}
}

func TestComputeMultipleStates(t *testing.T) {
	bbs := []BasicBlock{
		{StartAddr: 0x1000, EndAddr: 0x1010, Function: "main"},
		{StartAddr: 0x1020, EndAddr: 0x1030, Function: "main"},
		{StartAddr: 0x1040, EndAddr: 0x1050, Function: "helper"},
	}

	byState := map[int][]Interval{
		0: {{0x1000, 0x1010}},
		3: {{0x1000, 0x1030}, {0x1040, 0x1044}},
		7: {},
	}

	result := Compute(testLogger(), byState, bbs)

	if got := len(result[0]); got != 1 {
		t.Errorf("state 0: covered %d blocks, want 1", got)
	}
	if got := len(result[3]); got != 3 {
		t.Errorf("state 3: covered %d blocks, want 3", got)
	}
	if _, ok := result[7]; ok {
		t.Errorf("state 7 has an entry despite having no intervals")
	}

	if got := len(result.Union()); got != 3 {
		t.Errorf("union covered %d blocks, want 3", got)
	}
	if got := result.States(); !reflect.DeepEqual(got, []int{0, 3}) {
		t.Errorf("States() = %v, want [0 3]", got)
	}
}

func TestComputeIdempotent(t *testing.T) {
	bbs := []BasicBlock{
		{StartAddr: 10, EndAddr: 20},
		{StartAddr: 21, EndAddr: 30},
	}
	// Both intervals hit the same block; the set absorbs duplicates.
	byState := map[int][]Interval{1: {{10, 20}, {12, 15}, {10, 20}}}

	first := Compute(testLogger(), byState, bbs)
	second := Compute(testLogger(), byState, bbs)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated runs differ: %v vs %v", first, second)
	}
	if got := len(first[1]); got != 1 {
		t.Errorf("covered %d blocks, want 1", got)
	}
}

func TestComputeEmptyInputs(t *testing.T) {
	bbs := []BasicBlock{{StartAddr: 10, EndAddr: 20}}

	if result := Compute(testLogger(), nil, bbs); len(result) != 0 {
		t.Errorf("no states produced coverage: %v", result)
	}
	if result := Compute(testLogger(), map[int][]Interval{0: {{10, 20}}}, nil); len(result) != 0 {
		t.Errorf("empty block list produced coverage: %v", result)
	}
}

func TestSearchBlocks(t *testing.T) {
	bbs := []BasicBlock{
		{StartAddr: 10, EndAddr: 20},
		{StartAddr: 30, EndAddr: 40},
		{StartAddr: 50, EndAddr: 60},
	}

	testCases := []struct {
		name    string
		tbStart uint64
		want    int
	}{
		{"before first block", 5, 0},
		{"inside first block", 15, 0},
		{"exact match on middle block", 30, 1},
		{"between blocks, predecessor returned", 35, 1},
		{"in the gap after a block", 45, 1},
		{"exact match on last block", 50, 2},
		{"past every block", 70, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := searchBlocks(tc.tbStart, bbs); got != tc.want {
				t.Errorf("searchBlocks(%d) = %d, want %d", tc.tbStart, got, tc.want)
			}
		})
	}

	if got := searchBlocks(10, nil); got != 0 {
		t.Errorf("searchBlocks on empty list = %d, want 0", got)
	}
}

func TestSortBlocks(t *testing.T) {
	bbs := []BasicBlock{
		{StartAddr: 0x30, EndAddr: 0x40},
		{StartAddr: 0x10, EndAddr: 0x20},
		{StartAddr: 0x20, EndAddr: 0x28},
	}
	SortBlocks(bbs)

	if !sort.SliceIsSorted(bbs, func(i, j int) bool { return bbs[i].StartAddr < bbs[j].StartAddr }) {
		t.Errorf("blocks not sorted by start address: %v", bbs)
	}
}

func TestBasicBlockString(t *testing.T) {
	bb := BasicBlock{StartAddr: 0x1000, EndAddr: 0x1010, Function: "main"}
	want := "BB(start=0x1000, end=0x1010, function=main)"
	if got := bb.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
