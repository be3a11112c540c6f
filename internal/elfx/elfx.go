// Package elfx provides helpers for opening ELF binaries, locating the
// executable section, enumerating function symbols, and reading bytes
// by virtual address.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"syscall"
)

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Text  Section
	Funcs []Func
	f     *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// Func is a function symbol with a known address and extent.
type Func struct {
	Name string
	Addr uint64
	Size uint64
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  uint64(p.Vaddr),
			Off:    uint64(p.Off),
			Filesz: uint64(p.Filesz),
			Flags:  p.Flags,
		})
	}

	if s := f.Section(".text"); s != nil {
		im.Text = Section{s.Name, s.Addr, s.Offset, s.Size}
	}

	// Fallback for stripped section headers: the first executable
	// PT_LOAD stands in for .text.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}

	im.loadFuncs()

	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Bounds returns the lowest and highest virtual addresses covered by
// the image's PT_LOAD segments.
func (im *Image) Bounds() (base, end uint64) {
	for i, l := range im.Loads {
		if i == 0 || l.Vaddr < base {
			base = l.Vaddr
		}
		if l.Vaddr+l.Filesz > end {
			end = l.Vaddr + l.Filesz
		}
	}
	return base, end
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// InText reports whether VA lies within the executable section.
func (im *Image) InText(va uint64) bool {
	return im.Text.Size != 0 && va >= im.Text.VA && va < im.Text.VA+im.Text.Size
}

// loadFuncs collects defined function symbols from .symtab and
// .dynsym, deduplicated by address and sorted ascending.
func (im *Image) loadFuncs() {
	seen := make(map[uint64]bool)

	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 {
				continue
			}
			if seen[sym.Value] {
				continue
			}
			seen[sym.Value] = true
			im.Funcs = append(im.Funcs, Func{
				Name: sym.Name,
				Addr: sym.Value,
				Size: sym.Size,
			})
		}
	}

	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if dynsyms, err := im.File.DynamicSymbols(); err == nil {
		add(dynsyms)
	}

	sort.Slice(im.Funcs, func(i, j int) bool {
		return im.Funcs[i].Addr < im.Funcs[j].Addr
	})

	// Symbols without a recorded size extend to the next function (or
	// the end of .text) so the disassembler still has bounds to work
	// with.
	for i := range im.Funcs {
		if im.Funcs[i].Size != 0 {
			continue
		}
		if i+1 < len(im.Funcs) {
			im.Funcs[i].Size = im.Funcs[i+1].Addr - im.Funcs[i].Addr
		} else if im.InText(im.Funcs[i].Addr) {
			im.Funcs[i].Size = im.Text.VA + im.Text.Size - im.Funcs[i].Addr
		}
	}
}
