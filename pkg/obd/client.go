package obd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/dtc"
)

// Exchanger is the request/response coordinator the client runs on.
type Exchanger interface {
	Exchange(ctx context.Context, frame *can.Frame, timeout time.Duration, responseIDs ...uint32) ([]byte, error)
	Wait(ctx context.Context, timeout time.Duration, responseIDs ...uint32) ([]byte, error)
}

type Config struct {
	RequestID  uint32
	ResponseID uint32
	// ECUIDs are additional identifiers responses are accepted from,
	// for vehicles where several ECUs answer the functional request.
	ECUIDs         []uint32
	UseExtendedIDs bool
	Timeout        time.Duration

	OnMessage func(string)
}

func DefaultConfig() Config {
	return Config{
		RequestID:  0x7DF,
		ResponseID: 0x7E8,
		Timeout:    time.Second,
	}
}

type Statistics struct {
	RequestsSent      uint64
	ResponsesReceived uint64
	Timeouts          uint64
	Errors            uint64
}

// Client speaks the ten OBD-II modes over a request/response
// coordinator.
type Client struct {
	ex  Exchanger
	cfg Config

	reqMu sync.Mutex

	mu        sync.Mutex
	stats     Statistics
	supported []byte
	cached    bool

	monMu   sync.Mutex
	monQuit chan struct{}
	monDone chan struct{}
}

func New(ex Exchanger, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.RequestID == 0 {
		cfg.RequestID = def.RequestID
	}
	if cfg.ResponseID == 0 {
		cfg.ResponseID = def.ResponseID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{ex: ex, cfg: cfg}
}

func (c *Client) message(format string, args ...any) {
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (c *Client) responseIDs() []uint32 {
	return append([]uint32{c.cfg.ResponseID}, c.cfg.ECUIDs...)
}

func (c *Client) count(fn func(*Statistics)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *Client) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Request sends mode (and optional PID) and returns the normalized
// response body after the echoed mode byte.
func (c *Client) Request(ctx context.Context, mode byte, pid ...byte) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.request(ctx, mode, pid...)
}

func (c *Client) request(ctx context.Context, mode byte, pid ...byte) ([]byte, error) {
	payload := append([]byte{mode}, pid...)
	var (
		frame *can.Frame
		err   error
	)
	if c.cfg.UseExtendedIDs {
		frame, err = can.NewExtendedFrame(c.cfg.RequestID, payload)
	} else {
		frame, err = can.NewFrame(c.cfg.RequestID, payload)
	}
	if err != nil {
		return nil, err
	}
	c.count(func(s *Statistics) { s.RequestsSent++ })

	raw, err := c.ex.Exchange(ctx, frame, c.cfg.Timeout, c.responseIDs()...)
	if err != nil {
		if errors.Is(err, can.ErrTimeout) {
			c.count(func(s *Statistics) { s.Timeouts++ })
		} else {
			c.count(func(s *Statistics) { s.Errors++ })
		}
		return nil, fmt.Errorf("mode %02X: %w", mode, err)
	}

	body := can.StripLengthPrefix(raw)
	if len(body) < 1 || body[0] != mode+0x40 {
		c.count(func(s *Statistics) { s.Errors++ })
		return nil, fmt.Errorf("mode %02X: unexpected response % X", mode, body)
	}
	c.count(func(s *Statistics) { s.ResponsesReceived++ })
	return body[1:], nil
}

// ReadParameter reads one mode 01 PID and decodes its value.
func (c *Client) ReadParameter(ctx context.Context, pid byte) (Parameter, error) {
	body, err := c.Request(ctx, CURRENT_DATA, pid)
	if err != nil {
		return Parameter{}, err
	}
	if len(body) < 1 || body[0] != pid {
		return Parameter{}, fmt.Errorf("PID %02X: echo mismatch % X", pid, body)
	}
	return NewParameter(pid, body[1:]), nil
}

// ReadParameters reads several PIDs back to back, skipping the ones
// that fail.
func (c *Client) ReadParameters(ctx context.Context, pids []byte) ([]Parameter, error) {
	out := make([]Parameter, 0, len(pids))
	var lastErr error
	for _, pid := range pids {
		p, err := c.ReadParameter(ctx, pid)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (c *Client) EngineRPM(ctx context.Context) (float64, error) { return c.value(ctx, ENGINE_RPM) }
func (c *Client) VehicleSpeed(ctx context.Context) (float64, error) { return c.value(ctx, VEHICLE_SPEED) }
func (c *Client) CoolantTemp(ctx context.Context) (float64, error) { return c.value(ctx, COOLANT_TEMP) }
func (c *Client) EngineLoad(ctx context.Context) (float64, error) { return c.value(ctx, ENGINE_LOAD) }
func (c *Client) ThrottlePosition(ctx context.Context) (float64, error) {
	return c.value(ctx, THROTTLE_POSITION)
}
func (c *Client) FuelLevel(ctx context.Context) (float64, error) { return c.value(ctx, FUEL_TANK_LEVEL) }
func (c *Client) IntakeAirTemp(ctx context.Context) (float64, error) {
	return c.value(ctx, INTAKE_AIR_TEMP)
}
func (c *Client) MAFAirflowRate(ctx context.Context) (float64, error) {
	return c.value(ctx, MAF_AIRFLOW)
}

func (c *Client) value(ctx context.Context, pid byte) (float64, error) {
	p, err := c.ReadParameter(ctx, pid)
	if err != nil {
		return 0, err
	}
	return p.Value, nil
}

// SupportedPIDs walks the support bit-maps starting at PID 0x00,
// chaining to the next bucket while its availability PID is announced.
// The result is cached for the life of the client.
func (c *Client) SupportedPIDs(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.cached {
		out := c.supported
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var supported []byte
	for base := byte(SUPPORTED_PIDS_01_20); ; base += 0x20 {
		body, err := c.Request(ctx, CURRENT_DATA, base)
		if err != nil {
			if base == SUPPORTED_PIDS_01_20 {
				return nil, err
			}
			break
		}
		if len(body) < 5 || body[0] != base {
			break
		}
		pids := parseSupportedPIDs(body[1:5], base)
		if len(pids) == 0 {
			break
		}
		supported = append(supported, pids...)
		if base == SUPPORTED_PIDS_C1_E0 || !contains(pids, base+0x20) {
			break
		}
	}

	c.mu.Lock()
	c.supported = supported
	c.cached = true
	c.mu.Unlock()
	return supported, nil
}

func contains(pids []byte, pid byte) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}

// readDTCs is the shared decode for modes 03, 07 and 0A: a count byte
// followed by two byte pairs, zero pairs being padding.
func (c *Client) readDTCs(ctx context.Context, mode byte, status byte) ([]dtc.DTC, error) {
	body, err := c.Request(ctx, mode)
	if err != nil {
		return nil, err
	}
	var out []dtc.DTC
	offset := 0
	if len(body) > 0 && len(body)%2 == 1 {
		// Count byte present; pairs follow.
		offset = 1
	}
	for ; offset+2 <= len(body); offset += 2 {
		raw := binary.BigEndian.Uint16(body[offset : offset+2])
		if raw == 0 {
			continue
		}
		d, err := dtc.FromOBDRaw(raw)
		if err != nil {
			c.message("mode %02X: dropping undecodable DTC %04X: %v", mode, raw, err)
			continue
		}
		d.Status = status
		out = append(out, d)
	}
	return out, nil
}

// ReadStoredDTCs runs mode 03.
func (c *Client) ReadStoredDTCs(ctx context.Context) ([]dtc.DTC, error) {
	return c.readDTCs(ctx, STORED_DTCS, dtc.StatusConfirmed)
}

// ReadPendingDTCs runs mode 07.
func (c *Client) ReadPendingDTCs(ctx context.Context) ([]dtc.DTC, error) {
	return c.readDTCs(ctx, PENDING_DTCS, dtc.StatusPending)
}

// ReadPermanentDTCs runs mode 0A.
func (c *Client) ReadPermanentDTCs(ctx context.Context) ([]dtc.DTC, error) {
	return c.readDTCs(ctx, PERMANENT_DTCS, dtc.StatusConfirmed|dtc.StatusWarningIndicator)
}

// ClearDTCs runs mode 04.
func (c *Client) ClearDTCs(ctx context.Context) error {
	_, err := c.Request(ctx, CLEAR_DTCS)
	return err
}

// ReadFreezeFrame reads a mode 02 PID for the given freeze frame.
func (c *Client) ReadFreezeFrame(ctx context.Context, pid, frame byte) (Parameter, error) {
	body, err := c.Request(ctx, FREEZE_FRAME_DATA, pid, frame)
	if err != nil {
		return Parameter{}, err
	}
	if len(body) < 2 || body[0] != pid {
		return Parameter{}, fmt.Errorf("freeze frame PID %02X: echo mismatch % X", pid, body)
	}
	return NewParameter(pid, body[2:]), nil
}

// VIN reads the vehicle identification number (mode 09, info type 02).
// ECUs may spread it across several frames; alphanumeric bytes are
// collected until the full 17 characters arrived.
func (c *Client) VIN(ctx context.Context) (string, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	body, err := c.request(ctx, VEHICLE_INFORMATION, INFO_VIN)
	if err != nil {
		return "", err
	}
	if len(body) < 1 || body[0] != INFO_VIN {
		return "", fmt.Errorf("VIN: echo mismatch % X", body)
	}

	vin := appendAlnum(nil, body[1:])
	for len(vin) < 17 {
		next, err := c.ex.Wait(ctx, 200*time.Millisecond, c.responseIDs()...)
		if err != nil {
			break
		}
		vin = appendAlnum(vin, can.StripLengthPrefix(next))
	}
	if len(vin) > 17 {
		vin = vin[:17]
	}
	return string(vin), nil
}

func appendAlnum(dst []byte, src []byte) []byte {
	for _, b := range src {
		switch {
		case b >= '0' && b <= '9', b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z':
			dst = append(dst, b)
		}
	}
	return dst
}

// Shutdown stops monitoring and drops the supported PID cache.
func (c *Client) Shutdown() {
	c.StopMonitoring()
	c.mu.Lock()
	c.supported = nil
	c.cached = false
	c.mu.Unlock()
}
