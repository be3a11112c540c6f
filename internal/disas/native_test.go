package disas

import (
	"encoding/binary"
	"reflect"
	"testing"

	"bbcov/internal/coverage"
)

// ARM64 encodings used by the split tests.
const (
	insADD  = 0x91000000 // add x0, x0, #0
	insB8   = 0x14000002 // b .+8
	insRET  = 0xd65f03c0 // ret
	insCBZ8 = 0xb4000040 // cbz x0, .+8
	insBFar = 0x14000040 // b .+0x100
)

func asm(words ...uint32) []byte {
	data := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[4*i:], w)
	}
	return data
}

func TestSplitFunctionBranch(t *testing.T) {
	// 0x1000 add        | block 1
	// 0x1004 b .+8      |
	// 0x1008 add        | block 2 (fallthrough leader)
	// 0x100c ret        | block 3 (branch target leader)
	data := asm(insADD, insB8, insADD, insRET)

	got := splitFunction(0x1000, "main", data)
	want := []coverage.BasicBlock{
		{StartAddr: 0x1000, EndAddr: 0x1008, Function: "main"},
		{StartAddr: 0x1008, EndAddr: 0x100c, Function: "main"},
		{StartAddr: 0x100c, EndAddr: 0x1010, Function: "main"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("blocks:\ngot  %v\nwant %v", got, want)
	}
}

func TestSplitFunctionConditional(t *testing.T) {
	// 0x2000 cbz x0, .+8 | block 1
	// 0x2004 add         | block 2
	// 0x2008 ret         | block 3
	data := asm(insCBZ8, insADD, insRET)

	got := splitFunction(0x2000, "f", data)
	want := []coverage.BasicBlock{
		{StartAddr: 0x2000, EndAddr: 0x2004, Function: "f"},
		{StartAddr: 0x2004, EndAddr: 0x2008, Function: "f"},
		{StartAddr: 0x2008, EndAddr: 0x200c, Function: "f"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("blocks:\ngot  %v\nwant %v", got, want)
	}
}

func TestSplitFunctionOutOfRangeTarget(t *testing.T) {
	// A tail call out of the function must not create a leader beyond
	// the function's bounds.
	data := asm(insADD, insBFar)

	got := splitFunction(0x3000, "tail", data)
	want := []coverage.BasicBlock{
		{StartAddr: 0x3000, EndAddr: 0x3008, Function: "tail"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("blocks:\ngot  %v\nwant %v", got, want)
	}
}

func TestSplitFunctionSingleBlock(t *testing.T) {
	got := splitFunction(0x4000, "leaf", asm(insADD, insADD, insRET))
	if len(got) != 1 {
		t.Fatalf("got %d blocks, want 1: %v", len(got), got)
	}
	if got[0].StartAddr != 0x4000 || got[0].EndAddr != 0x400c {
		t.Errorf("block bounds = [%#x,%#x), want [0x4000,0x400c)", got[0].StartAddr, got[0].EndAddr)
	}
}

func TestSplitFunctionEmpty(t *testing.T) {
	if got := splitFunction(0x1000, "empty", nil); got != nil {
		t.Errorf("empty function produced blocks: %v", got)
	}
}

func TestOwningFunction(t *testing.T) {
	funcs := []r2Func{
		{Name: "sym.main", Offset: 0x1000, Size: 0x100},
		{Name: "sym.helper", Offset: 0x1100, Size: 0x40},
	}

	testCases := []struct {
		addr uint64
		want string
	}{
		{0x1000, "main"},
		{0x10f0, "main"},
		{0x1100, "helper"},
		{0x1200, ""}, // past the last function
		{0x800, ""},  // before the first function
	}
	for _, tc := range testCases {
		if got := owningFunction(funcs, tc.addr); got != tc.want {
			t.Errorf("owningFunction(%#x) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}
