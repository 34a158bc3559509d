package elfpatch

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const pageAlign = 0x1000

// File is a parsed in-memory ELF image. All mutation happens on the
// backing byte slice; Bytes returns the rewritten image.
type File struct {
	data  []byte
	lay   layout
	order binary.ByteOrder

	phoff     uint64
	phentsize uint64
	phnum     uint64
	shoff     uint64
	shentsize uint64
	shnum     uint64
}

// IsELF reports whether the payload starts with the ELF magic.
func IsELF(payload []byte) bool {
	return len(payload) >= 4 && bytes.Equal(payload[:4], []byte(elf.ELFMAG))
}

// Open parses the image headers. Executables and shared objects of both
// word widths and byte orders are accepted; anything inconsistent fails
// here so the caller can emit the original bytes.
func Open(payload []byte) (*File, error) {
	if !IsELF(payload) || len(payload) < int(elf.EI_NIDENT) {
		return nil, fmt.Errorf("truncated or non-ELF header: %d bytes", len(payload))
	}

	f := &File{data: payload}
	ehsize := 0
	switch elf.Class(payload[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		f.lay, ehsize = layout32, 52
	case elf.ELFCLASS64:
		f.lay, ehsize = layout64, 64
	default:
		return nil, fmt.Errorf("unsupported class %#x", payload[elf.EI_CLASS])
	}
	if len(payload) < ehsize {
		return nil, fmt.Errorf("truncated header: %d bytes", len(payload))
	}
	order, err := byteOrder(payload[elf.EI_DATA])
	if err != nil {
		return nil, err
	}
	f.order = order

	typ := elf.Type(f.u16(0x10))
	if typ != elf.ET_EXEC && typ != elf.ET_DYN {
		return nil, fmt.Errorf("unsupported type %v", typ)
	}

	f.phoff = f.word(uint64(f.lay.ehPhoff))
	f.phentsize = f.u16(uint64(f.lay.ehPhentsize))
	f.phnum = f.u16(uint64(f.lay.ehPhnum))
	f.shoff = f.word(uint64(f.lay.ehShoff))
	f.shentsize = f.u16(uint64(f.lay.ehShentsize))
	f.shnum = f.u16(uint64(f.lay.ehShnum))

	if f.phentsize < uint64(f.lay.phSize) {
		return nil, fmt.Errorf("phentsize %d too small", f.phentsize)
	}
	if err := f.checkRange(f.phoff, f.phnum*f.phentsize); err != nil {
		return nil, fmt.Errorf("program header table: %w", err)
	}
	if f.shnum > 0 {
		if f.shentsize < uint64(f.lay.shEnt) {
			return nil, fmt.Errorf("shentsize %d too small", f.shentsize)
		}
		if err := f.checkRange(f.shoff, f.shnum*f.shentsize); err != nil {
			return nil, fmt.Errorf("section header table: %w", err)
		}
	}
	return f, nil
}

// Bytes returns the current image.
func (f *File) Bytes() []byte {
	return f.data
}

func (f *File) phdrOff(i uint64) uint64 {
	return f.phoff + i*f.phentsize
}

func (f *File) phdrType(i uint64) elf.ProgType {
	return elf.ProgType(f.u32(f.phdrOff(i) + uint64(f.lay.phType)))
}

func (f *File) phdrField(i uint64, field int) uint64 {
	return f.word(f.phdrOff(i) + uint64(field))
}

func (f *File) setPhdrField(i uint64, field int, v uint64) {
	f.putWord(f.phdrOff(i)+uint64(field), v)
}

func (f *File) shdrOff(i uint64) uint64 {
	return f.shoff + i*f.shentsize
}

// findPhdr returns the index of the first program header of the given
// type, or -1.
func (f *File) findPhdr(typ elf.ProgType) int64 {
	for i := uint64(0); i < f.phnum; i++ {
		if f.phdrType(i) == typ {
			return int64(i)
		}
	}
	return -1
}

// vaddrToOffset maps a virtual address through the PT_LOAD segments to a
// file offset.
func (f *File) vaddrToOffset(v uint64) (uint64, error) {
	for i := uint64(0); i < f.phnum; i++ {
		if f.phdrType(i) != elf.PT_LOAD {
			continue
		}
		vaddr := f.phdrField(i, f.lay.phVaddr)
		filesz := f.phdrField(i, f.lay.phFilesz)
		if v >= vaddr && v < vaddr+filesz {
			return v - vaddr + f.phdrField(i, f.lay.phOffset), nil
		}
	}
	return 0, fmt.Errorf("vaddr %#x not mapped by any load segment", v)
}

// Interpreter returns the PT_INTERP string, or "" when the image has no
// interpreter (a shared library).
func (f *File) Interpreter() (string, error) {
	i := f.findPhdr(elf.PT_INTERP)
	if i < 0 {
		return "", nil
	}
	off := f.phdrField(uint64(i), f.lay.phOffset)
	size := f.phdrField(uint64(i), f.lay.phFilesz)
	if err := f.checkRange(off, size); err != nil {
		return "", fmt.Errorf("interp segment: %w", err)
	}
	return string(bytes.TrimRight(f.data[off:off+size], "\x00")), nil
}

// SetInterpreter replaces the PT_INTERP string. A replacement that fits
// the existing slot is written in place; a longer one moves the
// interpreter into a freshly appended load segment.
func (f *File) SetInterpreter(interp string) error {
	i := f.findPhdr(elf.PT_INTERP)
	if i < 0 {
		return fmt.Errorf("no PT_INTERP segment")
	}
	idx := uint64(i)
	off := f.phdrField(idx, f.lay.phOffset)
	slot := f.phdrField(idx, f.lay.phFilesz)
	if err := f.checkRange(off, slot); err != nil {
		return fmt.Errorf("interp segment: %w", err)
	}

	need := uint64(len(interp)) + 1
	if need <= slot {
		copy(f.data[off:], interp)
		for j := off + uint64(len(interp)); j < off+slot; j++ {
			f.data[j] = 0
		}
		f.setPhdrField(idx, f.lay.phFilesz, need)
		f.setPhdrField(idx, f.lay.phMemsz, need)
		f.patchSectionAt(off, 0, 0, need)
		return nil
	}

	blob := make([]byte, need)
	copy(blob, interp)
	newOff, newVaddr, err := f.appendSegment(blob)
	if err != nil {
		return err
	}
	// The phdr table moved; re-locate PT_INTERP by type.
	i = f.findPhdr(elf.PT_INTERP)
	if i < 0 {
		return fmt.Errorf("PT_INTERP lost during relocation")
	}
	idx = uint64(i)
	f.setPhdrField(idx, f.lay.phOffset, newOff)
	f.setPhdrField(idx, f.lay.phVaddr, newVaddr)
	f.setPhdrField(idx, f.lay.phPaddr, newVaddr)
	f.setPhdrField(idx, f.lay.phFilesz, need)
	f.setPhdrField(idx, f.lay.phMemsz, need)
	f.patchSectionAt(off, newOff, newVaddr, need)
	return nil
}

// dynInfo locates the dynamic section and its string table.
type dynInfo struct {
	dynOff    uint64 // file offset of the dynamic entries
	dynCount  uint64
	strtabVA  uint64
	strtabOff uint64
	strsz     uint64
	// file offsets of the d_val slots that need patching
	strtabValOff uint64
	strszValOff  uint64
	rpathValOff  uint64 // slot of DT_RUNPATH (preferred) or DT_RPATH
	rpathStroff  uint64 // current string offset within the table
	hasRpath     bool
}

func (f *File) dynamic() (*dynInfo, error) {
	i := f.findPhdr(elf.PT_DYNAMIC)
	if i < 0 {
		return nil, fmt.Errorf("no PT_DYNAMIC segment")
	}
	off := f.phdrField(uint64(i), f.lay.phOffset)
	size := f.phdrField(uint64(i), f.lay.phFilesz)
	if err := f.checkRange(off, size); err != nil {
		return nil, fmt.Errorf("dynamic segment: %w", err)
	}

	d := &dynInfo{dynOff: off, dynCount: size / uint64(f.lay.dynSize)}
	word := uint64(f.lay.wordSize)
	var rpathOff, runpathOff uint64
	var rpathVal, runpathVal uint64
	var haveRpath, haveRunpath bool
	for j := uint64(0); j < d.dynCount; j++ {
		entOff := off + j*uint64(f.lay.dynSize)
		tag := int64(f.word(entOff))
		val := f.word(entOff + word)
		switch elf.DynTag(tag) {
		case elf.DT_NULL:
			j = d.dynCount
		case elf.DT_STRTAB:
			d.strtabVA = val
			d.strtabValOff = entOff + word
		case elf.DT_STRSZ:
			d.strsz = val
			d.strszValOff = entOff + word
		case elf.DT_RPATH:
			rpathOff, rpathVal, haveRpath = entOff+word, val, true
		case elf.DT_RUNPATH:
			runpathOff, runpathVal, haveRunpath = entOff+word, val, true
		}
	}
	if d.strtabVA == 0 {
		return nil, fmt.Errorf("dynamic section has no DT_STRTAB")
	}
	strtabOff, err := f.vaddrToOffset(d.strtabVA)
	if err != nil {
		return nil, fmt.Errorf("string table: %w", err)
	}
	d.strtabOff = strtabOff
	if err := f.checkRange(d.strtabOff, d.strsz); err != nil {
		return nil, fmt.Errorf("string table: %w", err)
	}
	// The loader consults DT_RUNPATH over DT_RPATH when both exist.
	switch {
	case haveRunpath:
		d.rpathValOff, d.rpathStroff, d.hasRpath = runpathOff, runpathVal, true
	case haveRpath:
		d.rpathValOff, d.rpathStroff, d.hasRpath = rpathOff, rpathVal, true
	}
	return d, nil
}

// RPath returns the DT_RUNPATH (preferred) or DT_RPATH string, or ""
// when neither is present.
func (f *File) RPath() (string, error) {
	d, err := f.dynamic()
	if err != nil {
		return "", err
	}
	if !d.hasRpath {
		return "", nil
	}
	return f.strtabString(d, d.rpathStroff)
}

func (f *File) strtabString(d *dynInfo, stroff uint64) (string, error) {
	if stroff >= d.strsz {
		return "", fmt.Errorf("string offset %#x beyond strsz %#x", stroff, d.strsz)
	}
	tab := f.data[d.strtabOff : d.strtabOff+d.strsz]
	end := bytes.IndexByte(tab[stroff:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at %#x", stroff)
	}
	return string(tab[stroff : stroff+uint64(end)]), nil
}

// SetRPath replaces the DT_RUNPATH/DT_RPATH string. A shorter or
// equal-length replacement overwrites in place with NUL fill; a longer
// one relocates the whole string table into an appended load segment
// with the new entry at its tail, then repoints DT_STRTAB/DT_STRSZ.
func (f *File) SetRPath(rpath string) error {
	d, err := f.dynamic()
	if err != nil {
		return err
	}
	if !d.hasRpath {
		return fmt.Errorf("no DT_RPATH or DT_RUNPATH entry")
	}
	old, err := f.strtabString(d, d.rpathStroff)
	if err != nil {
		return err
	}

	if len(rpath) <= len(old) {
		pos := d.strtabOff + d.rpathStroff
		copy(f.data[pos:], rpath)
		for j := pos + uint64(len(rpath)); j < pos+uint64(len(old)); j++ {
			f.data[j] = 0
		}
		return nil
	}

	// Grown table: old contents stay at their offsets, so every other
	// DT_* string reference survives; only the rpath slot moves.
	blob := make([]byte, d.strsz+uint64(len(rpath))+1)
	copy(blob, f.data[d.strtabOff:d.strtabOff+d.strsz])
	copy(blob[d.strsz:], rpath)
	newOff, newVaddr, err := f.appendSegment(blob)
	if err != nil {
		return err
	}
	f.putWord(d.strtabValOff, newVaddr)
	if d.strszValOff != 0 {
		f.putWord(d.strszValOff, uint64(len(blob)))
	}
	f.putWord(d.rpathValOff, d.strsz)
	f.patchSectionAt(d.strtabOff, newOff, newVaddr, uint64(len(blob)))
	return nil
}

// patchSectionAt updates the section header whose sh_offset equals
// oldOff: new offset/addr when nonzero, and the new size. Images
// stripped of section headers skip this silently; the loader only uses
// program headers.
func (f *File) patchSectionAt(oldOff, newOff, newVaddr, size uint64) {
	for i := uint64(0); i < f.shnum; i++ {
		sh := f.shdrOff(i)
		if f.word(sh+uint64(f.lay.shOffset)) != oldOff {
			continue
		}
		if newOff != 0 {
			f.putWord(sh+uint64(f.lay.shOffset), newOff)
			f.putWord(sh+uint64(f.lay.shAddr), newVaddr)
		}
		f.putWord(sh+uint64(f.lay.shSize), size)
		return
	}
}

// appendSegment places blob in a new page-aligned PT_LOAD at the end of
// the image. The program header table itself moves into the same
// segment (it needs one more entry than the original table has room
// for); e_phoff, e_phnum and PT_PHDR are updated. Returns the file
// offset and virtual address of the blob.
func (f *File) appendSegment(blob []byte) (uint64, uint64, error) {
	newPhnum := f.phnum + 1
	tableSize := newPhnum * f.phentsize
	regionSize := tableSize + uint64(len(blob))

	fileOff := alignUp(uint64(len(f.data)), pageAlign)

	// Pick a vaddr past every mapped segment, congruent with the file
	// offset modulo the page size as the loader requires.
	var maxVend uint64
	for i := uint64(0); i < f.phnum; i++ {
		if f.phdrType(i) != elf.PT_LOAD {
			continue
		}
		end := f.phdrField(i, f.lay.phVaddr) + f.phdrField(i, f.lay.phMemsz)
		if end > maxVend {
			maxVend = end
		}
	}
	vaddr := alignUp(maxVend, pageAlign) + fileOff%pageAlign

	// Grow the backing image: padding, new phdr table, blob.
	grown := make([]byte, fileOff+regionSize)
	copy(grown, f.data)
	f.data = grown
	copy(f.data[fileOff:], f.data[f.phoff:f.phoff+f.phnum*f.phentsize])

	oldPhnum := f.phnum
	f.phoff = fileOff
	f.phnum = newPhnum
	f.putWord(uint64(f.lay.ehPhoff), fileOff)
	f.putU16(uint64(f.lay.ehPhnum), newPhnum)

	// New PT_LOAD entry covering the whole appended region.
	ent := f.phdrOff(oldPhnum)
	f.putU32(ent+uint64(f.lay.phType), uint64(elf.PT_LOAD))
	f.putU32(ent+uint64(f.lay.phFlags), uint64(elf.PF_R))
	f.setPhdrField(oldPhnum, f.lay.phOffset, fileOff)
	f.setPhdrField(oldPhnum, f.lay.phVaddr, vaddr)
	f.setPhdrField(oldPhnum, f.lay.phPaddr, vaddr)
	f.setPhdrField(oldPhnum, f.lay.phFilesz, regionSize)
	f.setPhdrField(oldPhnum, f.lay.phMemsz, regionSize)
	f.setPhdrField(oldPhnum, f.lay.phAlign, pageAlign)

	// PT_PHDR tracks the table's new home.
	if i := f.findPhdr(elf.PT_PHDR); i >= 0 {
		idx := uint64(i)
		f.setPhdrField(idx, f.lay.phOffset, fileOff)
		f.setPhdrField(idx, f.lay.phVaddr, vaddr)
		f.setPhdrField(idx, f.lay.phPaddr, vaddr)
		f.setPhdrField(idx, f.lay.phFilesz, tableSize)
		f.setPhdrField(idx, f.lay.phMemsz, tableSize)
	}

	blobOff := fileOff + tableSize
	copy(f.data[blobOff:], blob)
	return blobOff, vaddr + tableSize, nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
