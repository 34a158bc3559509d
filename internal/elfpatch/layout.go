package elfpatch

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Field offsets within the ELF, program, section, and dynamic structures
// for one word width. Sizes in bytes; word fields are 4 bytes for
// ELFCLASS32 and 8 for ELFCLASS64.
type layout struct {
	wordSize int

	ehPhoff     int
	ehShoff     int
	ehPhentsize int
	ehPhnum     int
	ehShentsize int
	ehShnum     int

	phType   int
	phFlags  int
	phOffset int
	phVaddr  int
	phPaddr  int
	phFilesz int
	phMemsz  int
	phAlign  int
	phSize   int

	shType   int
	shAddr   int
	shOffset int
	shSize   int
	shEnt    int // entry size of one section header

	dynSize int
}

var layout32 = layout{
	wordSize:    4,
	ehPhoff:     0x1c,
	ehShoff:     0x20,
	ehPhentsize: 0x2a,
	ehPhnum:     0x2c,
	ehShentsize: 0x2e,
	ehShnum:     0x30,
	phType:      0,
	phOffset:    4,
	phVaddr:     8,
	phPaddr:     12,
	phFilesz:    16,
	phMemsz:     20,
	phFlags:     24,
	phAlign:     28,
	phSize:      32,
	shType:      4,
	shAddr:      12,
	shOffset:    16,
	shSize:      20,
	shEnt:       40,
	dynSize:     8,
}

var layout64 = layout{
	wordSize:    8,
	ehPhoff:     0x20,
	ehShoff:     0x28,
	ehPhentsize: 0x36,
	ehPhnum:     0x38,
	ehShentsize: 0x3a,
	ehShnum:     0x3c,
	phType:      0,
	phFlags:     4,
	phOffset:    8,
	phVaddr:     16,
	phPaddr:     24,
	phFilesz:    32,
	phMemsz:     40,
	phAlign:     48,
	phSize:      56,
	shType:      4,
	shAddr:      16,
	shOffset:    24,
	shSize:      32,
	shEnt:       64,
	dynSize:     16,
}

// u16 reads a 16-bit field; callers have validated the bound.
func (f *File) u16(off uint64) uint64 {
	return uint64(f.order.Uint16(f.data[off:]))
}

func (f *File) putU16(off, v uint64) {
	f.order.PutUint16(f.data[off:], uint16(v))
}

func (f *File) u32(off uint64) uint64 {
	return uint64(f.order.Uint32(f.data[off:]))
}

func (f *File) putU32(off, v uint64) {
	f.order.PutUint32(f.data[off:], uint32(v))
}

// word reads a class-sized field.
func (f *File) word(off uint64) uint64 {
	if f.lay.wordSize == 4 {
		return uint64(f.order.Uint32(f.data[off:]))
	}
	return f.order.Uint64(f.data[off:])
}

func (f *File) putWord(off, v uint64) {
	if f.lay.wordSize == 4 {
		f.order.PutUint32(f.data[off:], uint32(v))
		return
	}
	f.order.PutUint64(f.data[off:], v)
}

// checkRange validates that [off, off+n) lies inside the image.
func (f *File) checkRange(off, n uint64) error {
	end := off + n
	if end < off || end > uint64(len(f.data)) {
		return fmt.Errorf("range [%#x,%#x) outside image of %d bytes", off, end, len(f.data))
	}
	return nil
}

func byteOrder(ident byte) (binary.ByteOrder, error) {
	switch elf.Data(ident) {
	case elf.ELFDATA2LSB:
		return binary.LittleEndian, nil
	case elf.ELFDATA2MSB:
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unsupported data encoding %#x", ident)
}
