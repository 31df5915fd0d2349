package flashfile

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Format uint8

const (
	Binary Format = iota
	IntelHex
	MotorolaSRecord
)

func (f Format) String() string {
	switch f {
	case IntelHex:
		return "Intel HEX"
	case MotorolaSRecord:
		return "Motorola S-Record"
	default:
		return "Binary"
	}
}

// Block is a contiguous run of image bytes at an absolute address.
type Block struct {
	Address  uint32
	Data     []byte
	Checksum uint32
}

func newBlock(address uint32, data []byte) Block {
	return Block{Address: address, Data: data, Checksum: crc32.ChecksumIEEE(data)}
}

// End returns the last address the block occupies.
func (b Block) End() uint32 {
	if len(b.Data) == 0 {
		return b.Address
	}
	return b.Address + uint32(len(b.Data)) - 1
}

func (b Block) String() string {
	return fmt.Sprintf("FlashBlock[Addr:0x%X, Size:%d, Checksum:0x%08X]", b.Address, len(b.Data), b.Checksum)
}

// File is an ordered set of blocks with pairwise disjoint address
// ranges.
type File struct {
	Format Format
	Blocks []Block
}

// ParseError points at the offending input line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

var ErrOverlappingBlocks = fmt.Errorf("flash file has overlapping blocks")

// Load reads a flash image, picking the format from the file
// extension: .hex, .s19/.s28/.s37/.srec, anything else as raw binary.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load flash file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex":
		return ParseIntelHex(data)
	case ".s19", ".s28", ".s37", ".srec":
		return ParseSRecord(data)
	default:
		return ParseBinary(data)
	}
}

// Validate checks the no-overlap invariant over all block pairs.
func (f *File) Validate() error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("flash file has no blocks")
	}
	for i := range f.Blocks {
		for j := i + 1; j < len(f.Blocks); j++ {
			a, b := f.Blocks[i], f.Blocks[j]
			if a.Address <= b.End() && b.Address <= a.End() {
				return fmt.Errorf("%w: 0x%X..0x%X and 0x%X..0x%X",
					ErrOverlappingBlocks, a.Address, a.End(), b.Address, b.End())
			}
		}
	}
	return nil
}

// TotalSize is the byte count over all blocks.
func (f *File) TotalSize() int {
	var n int
	for _, b := range f.Blocks {
		n += len(b.Data)
	}
	return n
}

// AddressRange returns the lowest and highest occupied address.
func (f *File) AddressRange() (uint32, uint32) {
	if len(f.Blocks) == 0 {
		return 0, 0
	}
	lo, hi := f.Blocks[0].Address, f.Blocks[0].End()
	for _, b := range f.Blocks[1:] {
		if b.Address < lo {
			lo = b.Address
		}
		if b.End() > hi {
			hi = b.End()
		}
	}
	return lo, hi
}

// SortedBlocks returns the blocks in ascending address order without
// touching the parse order.
func (f *File) SortedBlocks() []Block {
	out := make([]Block, len(f.Blocks))
	copy(out, f.Blocks)
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// BlocksForRegion returns the blocks whose start address falls inside
// [start, end].
func (f *File) BlocksForRegion(start, end uint32) []Block {
	var out []Block
	for _, b := range f.Blocks {
		if b.Address >= start && b.Address <= end {
			out = append(out, b)
		}
	}
	return out
}

func (f *File) String() string {
	lo, hi := f.AddressRange()
	return fmt.Sprintf("FlashFile[Format:%s, Blocks:%d, Size:%d bytes, Range:0x%X-0x%X]",
		f.Format, len(f.Blocks), f.TotalSize(), lo, hi)
}

// blockBuilder coalesces consecutive data records into blocks, starting
// a new block on any address gap.
type blockBuilder struct {
	blocks  []Block
	address uint32
	data    []byte
}

func (bb *blockBuilder) add(address uint32, data []byte) {
	if len(bb.data) > 0 && address != bb.address+uint32(len(bb.data)) {
		bb.flush()
	}
	if len(bb.data) == 0 {
		bb.address = address
	}
	bb.data = append(bb.data, data...)
}

func (bb *blockBuilder) flush() {
	if len(bb.data) == 0 {
		return
	}
	bb.blocks = append(bb.blocks, newBlock(bb.address, bb.data))
	bb.data = nil
}
