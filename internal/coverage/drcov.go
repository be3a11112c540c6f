package coverage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/lunixbochs/struc"
)

// ErrReportExists is returned when the drcov output directory is
// already present from a previous run.
var ErrReportExists = errors.New("coverage report already generated")

// drcov text preamble. The flavor line identifies the producer; the
// module table always has exactly one row because each report covers a
// single module.
const drcovHeader = "DRCOV VERSION: 2\n" +
	"DRCOV FLAVOR: S2E\n" +
	"Module Table: version 2, count 1\n" +
	"Columns: id, base, end, entry, checksum, timestamp, path\n"

// bbEntry mirrors drcov's bb_entry_t record:
//
//	typedef struct _bb_entry_t {
//	    uint start;   /* offset of bb start from the image base */
//	    ushort size;
//	    ushort mod_id;
//	} bb_entry_t;
//
// Eight bytes, little-endian. Viewers such as the IDA Pro Lighthouse
// plugin consume this layout verbatim, so it must not change.
type bbEntry struct {
	Start uint32 `struc:"uint32"`
	Size  uint16 `struc:"uint16"`
	ModID uint16 `struc:"uint16"`
}

// WriteDrcov writes one drcov file per state into <dir>/drcov and
// returns the directory path. The directory must not already exist: a
// prior report is never overwritten or merged with.
func WriteDrcov(logger *log.Logger, dir, modulePath string, baseAddr, endAddr uint64, covered Result) (string, error) {
	drcovDir := filepath.Join(dir, "drcov")
	if _, err := os.Stat(drcovDir); err == nil {
		return "", fmt.Errorf("%w: drcov directory %s already exists", ErrReportExists, drcovDir)
	}
	if err := os.Mkdir(drcovDir, 0o755); err != nil {
		return "", fmt.Errorf("create drcov directory: %w", err)
	}

	module := filepath.Base(modulePath)
	for _, state := range covered.States() {
		name := fmt.Sprintf("%s_coverage_%d.drcov", module, state)
		path := filepath.Join(drcovDir, name)
		logger.Info("Saving drcov coverage", "state", state, "path", path)

		data, err := drcovFile(modulePath, baseAddr, endAddr, covered[state])
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", name, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}

	return drcovDir, nil
}

// drcovFile encodes a single state's coverage. Blocks are emitted in
// start address order so identical coverage always produces identical
// bytes.
func drcovFile(modulePath string, baseAddr, endAddr uint64, set BlockSet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(drcovHeader)

	// Single module row, id 0. Entry point, checksum and timestamp are
	// not tracked and stay zero.
	fmt.Fprintf(&buf, "%3d, %#016x, %#016x, %#016x, %#08x, %#08x, %s\n",
		0, baseAddr, endAddr, 0, 0, 0, modulePath)

	fmt.Fprintf(&buf, "BB Table: %d bbs\n", len(set))
	for _, bb := range sortedBlocks(set) {
		ent := bbEntry{
			Start: uint32(bb.StartAddr - baseAddr),
			Size:  uint16(bb.EndAddr - bb.StartAddr),
			ModID: 0,
		}
		if err := struc.PackWithOrder(&buf, &ent, binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("pack bb entry %s: %w", bb, err)
		}
	}

	return buf.Bytes(), nil
}
