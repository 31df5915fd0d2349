package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
)

// slcanBitrate maps CAN baud rates onto the SLCAN S0..S8 setup codes.
var slcanBitrate = map[uint32]byte{
	10_000:    '0',
	20_000:    '1',
	50_000:    '2',
	100_000:   '3',
	125_000:   '4',
	250_000:   '5',
	500_000:   '6',
	800_000:   '7',
	1_000_000: '8',
}

// SLCAN is a serial transport speaking the Lawicel ASCII protocol, as
// used by CANable style USB adapters.
type SLCAN struct {
	mu     sync.Mutex
	port   serial.Port
	buf    strings.Builder
	closed bool
}

// OpenSLCAN opens the serial port, configures the bitrate and opens the
// channel.
func OpenSLCAN(portName string, portBaud int, canRate uint32) (*SLCAN, error) {
	code, ok := slcanBitrate[canRate]
	if !ok {
		return nil, fmt.Errorf("%w: %d", can.ErrInvalidBaudRate, canRate)
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: portBaud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	s := &SLCAN{port: port}
	for _, cmd := range []string{"C", "S" + string(code), "O"} {
		if err := s.write(cmd + "\r"); err != nil {
			port.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SLCAN) write(cmd string) error {
	_, err := s.port.Write([]byte(cmd))
	return err
}

func (s *SLCAN) Send(frame *can.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return can.ErrClosed
	}
	if len(frame.Data) > can.MaxFrameLength {
		return fmt.Errorf("slcan cannot carry %d byte payloads", len(frame.Data))
	}

	var sb strings.Builder
	switch {
	case frame.RTR && frame.Kind == can.Extended29:
		fmt.Fprintf(&sb, "R%08X", frame.ID)
	case frame.RTR:
		fmt.Fprintf(&sb, "r%03X", frame.ID)
	case frame.Kind == can.Extended29:
		fmt.Fprintf(&sb, "T%08X", frame.ID)
	default:
		fmt.Fprintf(&sb, "t%03X", frame.ID)
	}
	fmt.Fprintf(&sb, "%d", len(frame.Data))
	for _, b := range frame.Data {
		fmt.Fprintf(&sb, "%02X", b)
	}
	sb.WriteByte('\r')
	return s.write(sb.String())
}

func (s *SLCAN) Recv(timeout time.Duration) ([]*can.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, can.ErrClosed
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return nil, err
	}

	chunk := make([]byte, 256)
	n, err := s.port.Read(chunk)
	if err != nil {
		return nil, err
	}
	s.buf.Write(chunk[:n])

	var frames []*can.Frame
	pending := s.buf.String()
	s.buf.Reset()
	for {
		idx := strings.IndexByte(pending, '\r')
		if idx < 0 {
			s.buf.WriteString(pending)
			break
		}
		line := pending[:idx]
		pending = pending[idx+1:]
		if f := parseSLCANLine(line); f != nil {
			frames = append(frames, f)
		}
	}
	return frames, nil
}

func parseSLCANLine(line string) *can.Frame {
	if line == "" {
		return nil
	}
	var (
		idLen int
		kind  can.IDKind
		rtr   bool
	)
	switch line[0] {
	case 't':
		idLen, kind = 3, can.Standard11
	case 'T':
		idLen, kind = 8, can.Extended29
	case 'r':
		idLen, kind, rtr = 3, can.Standard11, true
	case 'R':
		idLen, kind, rtr = 8, can.Extended29, true
	default:
		return nil
	}
	if len(line) < 1+idLen+1 {
		return nil
	}
	var id uint32
	if _, err := fmt.Sscanf(line[1:1+idLen], "%X", &id); err != nil {
		return nil
	}
	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > can.MaxFrameLength {
		return nil
	}
	if rtr {
		f, err := can.NewRemoteFrame(id, kind)
		if err != nil {
			return nil
		}
		return f
	}
	hex := line[1+idLen+1:]
	if len(hex) < dlc*2 {
		return nil
	}
	data := make([]byte, dlc)
	for i := 0; i < dlc; i++ {
		if _, err := fmt.Sscanf(hex[i*2:i*2+2], "%X", &data[i]); err != nil {
			return nil
		}
	}
	return &can.Frame{ID: id, Kind: kind, Data: data}
}

// Close shuts the channel and releases the port. Idempotent.
func (s *SLCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.write("C\r")
	return s.port.Close()
}
