package flashfile

import "fmt"

// ParseBinary treats the whole input as one block at address 0.
func ParseBinary(data []byte) (*File, error) {
	if len(data) == 0 {
		return nil, &ParseError{Msg: "empty binary image"}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &File{Format: Binary, Blocks: []Block{newBlock(0, buf)}}, nil
}

// EncodeBinary renders the raw image. Only files that parse back to
// themselves are encodable: a single block starting at address 0.
func (f *File) EncodeBinary() ([]byte, error) {
	if len(f.Blocks) != 1 || f.Blocks[0].Address != 0 {
		return nil, fmt.Errorf("binary format cannot represent %d blocks at nonzero addresses", len(f.Blocks))
	}
	out := make([]byte, len(f.Blocks[0].Data))
	copy(out, f.Blocks[0].Data)
	return out, nil
}
