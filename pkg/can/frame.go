package can

import (
	"fmt"
	"time"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/common"
)

type IDKind uint8

const (
	// Standard11 is a classic 11-bit identifier (0x000..0x7FF).
	Standard11 IDKind = iota
	// Extended29 is a 29-bit identifier (0x00000000..0x1FFFFFFF).
	Extended29
)

const (
	MaxStandardID uint32 = 0x7FF
	MaxExtendedID uint32 = 0x1FFFFFFF

	// MaxFrameLength is the classic CAN 2.0 payload limit.
	MaxFrameLength = 8
	// MaxSegmentedLength is the largest payload an ISO15765 transport
	// channel will segment/reassemble for us.
	MaxSegmentedLength = 4095
)

func (k IDKind) String() string {
	if k == Extended29 {
		return "EXT"
	}
	return "STD"
}

// Frame is a single message on the bus. Timestamp is set by the dispatch
// loop on received frames and left zero on outgoing ones.
type Frame struct {
	ID        uint32
	Kind      IDKind
	Data      []byte
	RTR       bool
	Timestamp time.Time
}

// NewFrame builds a classic data frame with an 11-bit identifier.
func NewFrame(id uint32, data []byte) (*Frame, error) {
	f := &Frame{ID: id, Kind: Standard11, Data: data}
	if err := f.validate(MaxFrameLength); err != nil {
		return nil, err
	}
	return f, nil
}

// NewExtendedFrame builds a classic data frame with a 29-bit identifier.
func NewExtendedFrame(id uint32, data []byte) (*Frame, error) {
	f := &Frame{ID: id, Kind: Extended29, Data: data}
	if err := f.validate(MaxFrameLength); err != nil {
		return nil, err
	}
	return f, nil
}

// NewSegmentedFrame builds a diagnostics payload that relies on the
// transport channel to segment on the wire. The identifier kind is
// derived from the id value.
func NewSegmentedFrame(id uint32, data []byte) (*Frame, error) {
	kind := Standard11
	if id > MaxStandardID {
		kind = Extended29
	}
	f := &Frame{ID: id, Kind: kind, Data: data}
	if err := f.validate(MaxSegmentedLength); err != nil {
		return nil, err
	}
	return f, nil
}

// NewRemoteFrame builds a remote-transmission request.
func NewRemoteFrame(id uint32, kind IDKind) (*Frame, error) {
	f := &Frame{ID: id, Kind: kind, RTR: true}
	if err := f.validate(MaxFrameLength); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Frame) validate(maxLen int) error {
	switch f.Kind {
	case Standard11:
		if f.ID > MaxStandardID {
			return fmt.Errorf("standard identifier 0x%X out of range", f.ID)
		}
	case Extended29:
		if f.ID > MaxExtendedID {
			return fmt.Errorf("extended identifier 0x%X out of range", f.ID)
		}
	default:
		return fmt.Errorf("unknown identifier kind %d", f.Kind)
	}
	if f.RTR && len(f.Data) > 0 {
		return fmt.Errorf("remote frame carries %d data bytes", len(f.Data))
	}
	if len(f.Data) > maxLen {
		return fmt.Errorf("payload of %d bytes exceeds %d byte limit", len(f.Data), maxLen)
	}
	return nil
}

// Validate re-checks the frame against the segmented payload limit. Send
// paths call this so an invalid frame is rejected at the boundary and
// never reaches the transport.
func (f *Frame) Validate() error {
	return f.validate(MaxSegmentedLength)
}

func (f *Frame) String() string {
	if f.RTR {
		return fmt.Sprintf("%s:0x%03X RTR", f.Kind, f.ID)
	}
	return fmt.Sprintf("%s:0x%03X [%d] %s", f.Kind, f.ID, len(f.Data), common.BytesToHex(f.Data))
}

// StripLengthPrefix normalizes a received diagnostics payload. ISO15765
// transports hand us single-frame payloads with a leading PCI length
// byte; when the first byte equals a plausible remaining length the
// prefix (and any padding after it) is dropped. Payloads without the
// prefix are returned unchanged.
func StripLengthPrefix(data []byte) []byte {
	if len(data) < 2 {
		return data
	}
	n := int(data[0])
	if n > 0 && n == len(data)-1 {
		return data[1:]
	}
	// Classic 8-byte frames may be padded past the significant bytes.
	if n > 0 && n < MaxFrameLength-1 && len(data) == MaxFrameLength {
		return data[1 : 1+n]
	}
	return data
}
