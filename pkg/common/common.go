package common

import (
	"fmt"
	"strings"
)

const hextable = "0123456789ABCDEF"

// BytesToHex renders data as space-separated upper-case hex pairs.
func BytesToHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hextable[b>>4])
		sb.WriteByte(hextable[b&0x0F])
	}
	return sb.String()
}

// HexToBytes parses hex pairs, ignoring spaces, commas and 0x prefixes.
func HexToBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ",", "", "0x", "", "0X", "").Replace(s)
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string %q", s)
	}
	out := make([]byte, 0, len(clean)/2)
	for i := 0; i < len(clean); i += 2 {
		hi, ok1 := nibble(clean[i])
		lo, ok2 := nibble(clean[i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid hex byte %q", clean[i:i+2])
		}
		out = append(out, hi<<4|lo)
	}
	return out, nil
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
