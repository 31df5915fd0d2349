package uds

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/dtc"
)

// Exchanger is the request/response coordinator the client runs on.
// *can.Exchanger implements it; tests substitute scripted fakes.
type Exchanger interface {
	Exchange(ctx context.Context, frame *can.Frame, timeout time.Duration, responseIDs ...uint32) ([]byte, error)
	Send(frame *can.Frame) error
}

// SeedToKeyFunc computes the security access key for a seed. Key
// derivation is manufacturer specific and always supplied by the
// caller.
type SeedToKeyFunc func(seed []byte, level byte) []byte

type Config struct {
	RequestID  uint32
	ResponseID uint32
	// Timeout is the ordinary response deadline (p2 client).
	Timeout time.Duration
	// P2Star is the extended deadline after a response-pending NRC.
	P2Star                time.Duration
	ExtendedAddressing    bool
	SourceAddr            byte
	TargetAddr            byte
	TesterPresentInterval time.Duration

	OnMessage func(string)
}

func DefaultConfig() Config {
	return Config{
		RequestID:             0x7E0,
		ResponseID:            0x7E8,
		Timeout:               50 * time.Millisecond,
		P2Star:                5 * time.Second,
		SourceAddr:            0xF1,
		TargetAddr:            0x10,
		TesterPresentInterval: 2 * time.Second,
	}
}

// Statistics is a snapshot of the client counters.
type Statistics struct {
	RequestsSent      uint64
	ResponsesReceived uint64
	NegativeResponses uint64
	Timeouts          uint64
}

// UnexpectedResponseError is a protocol level failure: the response
// decoded fine but did not belong to the request.
type UnexpectedResponseError struct {
	Service byte
	Detail  string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", ServiceName(e.Service), e.Detail)
}

// Client speaks UDS over a request/response coordinator. Requests are
// serialized: a second request waits for the first to complete.
type Client struct {
	ex  Exchanger
	cfg Config

	reqMu   sync.Mutex
	session atomic.Uint32

	mu       sync.Mutex
	unlocked map[byte]bool
	stats    Statistics

	tpMu   sync.Mutex
	tpQuit chan struct{}
	tpDone chan struct{}
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
	if cfg.P2Star <= 0 {
		cfg.P2Star = def.P2Star
	}
	if cfg.TesterPresentInterval <= 0 {
		cfg.TesterPresentInterval = def.TesterPresentInterval
	}
	c := &Client{
		ex:       ex,
		cfg:      cfg,
		unlocked: make(map[byte]bool),
	}
	c.session.Store(uint32(SessionDefault))
	if ce, ok := ex.(*can.Exchanger); ok {
		ce.P2Star = cfg.P2Star
	}
	return c
}

func (c *Client) message(format string, args ...any) {
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(fmt.Sprintf(format, args...))
	}
}

// Session returns the cached diagnostic session.
func (c *Client) Session() Session {
	return Session(c.session.Load())
}

// Unlocked reports whether the given security level is cached as
// unlocked.
func (c *Client) Unlocked(level byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocked[level]
}

func (c *Client) invalidateSecurity() {
	c.mu.Lock()
	c.unlocked = make(map[byte]bool)
	c.mu.Unlock()
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

// Request performs one service exchange and returns the positive
// response body (without the service byte). Negative responses come
// back as NegativeResponseError values; response-pending is absorbed by
// the coordinator and never surfaces here.
func (c *Client) Request(ctx context.Context, service byte, data ...byte) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.request(ctx, service, data)
}

func (c *Client) request(ctx context.Context, service byte, data []byte) ([]byte, error) {
	frame, err := can.NewSegmentedFrame(c.cfg.RequestID, Message{Service: service, Data: data}.Encode())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ServiceName(service), err)
	}
	c.count(func(s *Statistics) { s.RequestsSent++ })

	raw, err := c.ex.Exchange(ctx, frame, c.cfg.Timeout, c.cfg.ResponseID)
	if err != nil {
		if errors.Is(err, can.ErrTimeout) {
			c.count(func(s *Statistics) { s.Timeouts++ })
		}
		return nil, fmt.Errorf("%s: %w", ServiceName(service), err)
	}

	msg, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ServiceName(service), err)
	}
	c.count(func(s *Statistics) { s.ResponsesReceived++ })

	switch {
	case msg.Kind == NegativeResponse:
		c.count(func(s *Statistics) { s.NegativeResponses++ })
		return nil, fmt.Errorf("%s: %w", ServiceName(service), TranslateErrorCode(msg.NRC))
	case msg.Kind != PositiveResponse || msg.Service != service:
		return nil, &UnexpectedResponseError{
			Service: service,
			Detail:  fmt.Sprintf("got %s", msg),
		}
	}
	return msg.Data, nil
}

// RequestAsync runs Request on its own goroutine and hands the outcome
// to cb.
func (c *Client) RequestAsync(ctx context.Context, service byte, data []byte, cb func([]byte, error)) {
	go func() {
		body, err := c.Request(ctx, service, data...)
		cb(body, err)
	}()
}

// DiagnosticSessionControl switches the diagnostic session (0x10). Only
// a positive response mutates the cached session; every transition
// invalidates cached security unlocks.
func (c *Client) DiagnosticSessionControl(ctx context.Context, session Session) error {
	body, err := c.Request(ctx, DIAGNOSTIC_SESSION_CONTROL, byte(session))
	if err != nil {
		return err
	}
	if len(body) < 1 || Session(body[0]) != session {
		return &UnexpectedResponseError{Service: DIAGNOSTIC_SESSION_CONTROL, Detail: "session echo mismatch"}
	}
	c.session.Store(uint32(session))
	c.invalidateSecurity()
	if len(body) >= 5 {
		// Optional timing parameters: p2 in ms, p2* in 10 ms units.
		p2 := time.Duration(binary.BigEndian.Uint16(body[1:3])) * time.Millisecond
		p2Star := time.Duration(binary.BigEndian.Uint16(body[3:5])) * 10 * time.Millisecond
		c.message("session %s active, p2=%s p2*=%s", session, p2, p2Star)
	}
	return nil
}

// NotifySessionDropped resets the cached state after an unsolicited
// session change (tester-present lapse, ECU initiated timeout).
func (c *Client) NotifySessionDropped() {
	c.session.Store(uint32(SessionDefault))
	c.invalidateSecurity()
}

// ECUReset performs service 0x11. Any positive response drops the
// session back to default and invalidates security unlocks.
func (c *Client) ECUReset(ctx context.Context, resetType byte) error {
	if _, err := c.Request(ctx, ECU_RESET, resetType); err != nil {
		return err
	}
	c.session.Store(uint32(SessionDefault))
	c.invalidateSecurity()
	return nil
}

// RequestSeed asks for the security access seed of the given level
// (odd sub-function of 0x27).
func (c *Client) RequestSeed(ctx context.Context, level byte) ([]byte, error) {
	body, err := c.Request(ctx, SECURITY_ACCESS, level)
	if err != nil {
		return nil, err
	}
	if len(body) < 1 || body[0] != level {
		return nil, &UnexpectedResponseError{Service: SECURITY_ACCESS, Detail: "security level echo mismatch"}
	}
	return body[1:], nil
}

// SendKey submits the computed key for the level (even sub-function).
// On success the level is cached as unlocked until the next session
// transition or ECU reset.
func (c *Client) SendKey(ctx context.Context, level byte, key []byte) error {
	if _, err := c.Request(ctx, SECURITY_ACCESS, append([]byte{level + 1}, key...)...); err != nil {
		return err
	}
	c.mu.Lock()
	c.unlocked[level] = true
	c.mu.Unlock()
	return nil
}

// SecurityAccess runs the full seed/key handshake. An all-zero seed
// means the level is already unlocked.
func (c *Client) SecurityAccess(ctx context.Context, level byte, seedToKey SeedToKeyFunc) error {
	if seedToKey == nil {
		return errors.New("security access requires a seed-to-key function")
	}
	seed, err := c.RequestSeed(ctx, level)
	if err != nil {
		return err
	}
	if allZero(seed) {
		c.mu.Lock()
		c.unlocked[level] = true
		c.mu.Unlock()
		return nil
	}
	return c.SendKey(ctx, level, seedToKey(seed, level))
}

func allZero(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// TesterPresent sends service 0x3E. With suppress set the positive
// response is suppressed and nothing is awaited.
func (c *Client) TesterPresent(ctx context.Context, suppress bool) error {
	if suppress {
		frame, err := can.NewSegmentedFrame(c.cfg.RequestID, []byte{TESTER_PRESENT, SuppressPositiveResponse})
		if err != nil {
			return err
		}
		c.count(func(s *Statistics) { s.RequestsSent++ })
		return c.ex.Send(frame)
	}
	_, err := c.Request(ctx, TESTER_PRESENT, 0x00)
	return err
}

// StartTesterPresent runs a background ticker that keeps non-default
// sessions alive with suppressed tester-present messages. The interval
// must stay below the server's session timeout.
func (c *Client) StartTesterPresent() {
	c.tpMu.Lock()
	defer c.tpMu.Unlock()
	if c.tpQuit != nil {
		return
	}
	c.tpQuit = make(chan struct{})
	c.tpDone = make(chan struct{})
	go func(quit <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		t := time.NewTicker(c.cfg.TesterPresentInterval)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-t.C:
				if c.Session() == SessionDefault {
					continue
				}
				if err := c.TesterPresent(context.Background(), true); err != nil {
					c.message("tester present: %v", err)
				}
			}
		}
	}(c.tpQuit, c.tpDone)
}

// StopTesterPresent stops the ticker and joins the worker.
func (c *Client) StopTesterPresent() {
	c.tpMu.Lock()
	quit, done := c.tpQuit, c.tpDone
	c.tpQuit, c.tpDone = nil, nil
	c.tpMu.Unlock()
	if quit != nil {
		close(quit)
		<-done
	}
}

// Close stops background workers. The exchanger stays with its owner.
func (c *Client) Close() {
	c.StopTesterPresent()
}

// ReadDataByIdentifier reads a DID (0x22) and strips the echo.
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	body, err := c.Request(ctx, READ_DATA_BY_IDENTIFIER, byte(did>>8), byte(did))
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || binary.BigEndian.Uint16(body[:2]) != did {
		return nil, &UnexpectedResponseError{Service: READ_DATA_BY_IDENTIFIER, Detail: "identifier echo mismatch"}
	}
	return body[2:], nil
}

// ReadMultipleDataByIdentifier reads several DIDs, skipping the ones
// the server rejects.
func (c *Client) ReadMultipleDataByIdentifier(ctx context.Context, dids []uint16) (map[uint16][]byte, error) {
	out := make(map[uint16][]byte, len(dids))
	for _, did := range dids {
		data, err := c.ReadDataByIdentifier(ctx, did)
		if err != nil {
			if _, negative := IsNegativeResponse(err); negative {
				c.message("DID 0x%04X: %v", did, err)
				continue
			}
			return out, err
		}
		out[did] = data
	}
	return out, nil
}

// WriteDataByIdentifier writes a DID (0x2E).
func (c *Client) WriteDataByIdentifier(ctx context.Context, did uint16, data []byte) error {
	req := append([]byte{byte(did >> 8), byte(did)}, data...)
	body, err := c.Request(ctx, WRITE_DATA_BY_IDENTIFIER, req...)
	if err != nil {
		return err
	}
	if len(body) < 2 || binary.BigEndian.Uint16(body[:2]) != did {
		return &UnexpectedResponseError{Service: WRITE_DATA_BY_IDENTIFIER, Detail: "identifier echo mismatch"}
	}
	return nil
}

// ClearDiagnosticInformation clears a DTC group (0x14). Group 0xFFFFFF
// clears everything.
func (c *Client) ClearDiagnosticInformation(ctx context.Context, group uint32) error {
	_, err := c.Request(ctx, CLEAR_DIAGNOSTIC_INFORMATION, byte(group>>16), byte(group>>8), byte(group))
	return err
}

// ReadDTCInformation runs service 0x19 and decodes the four byte DTC
// records that follow the availability mask.
func (c *Client) ReadDTCInformation(ctx context.Context, subFunction, statusMask byte) ([]dtc.DTC, error) {
	body, err := c.Request(ctx, READ_DTC_INFORMATION, subFunction, statusMask)
	if err != nil {
		return nil, err
	}
	var out []dtc.DTC
	// body[0] echoes the sub-function, body[1] is the availability mask.
	for offset := 2; offset+4 <= len(body); offset += 4 {
		out = append(out, dtc.FromUDSBytes(body[offset], body[offset+1], body[offset+2], body[offset+3]))
	}
	return out, nil
}

func (c *Client) ReadStoredDTCs(ctx context.Context) ([]dtc.DTC, error) {
	return c.ReadDTCInformation(ctx, REPORT_DTC_BY_STATUS_MASK, dtc.StatusConfirmed)
}

func (c *Client) ReadPendingDTCs(ctx context.Context) ([]dtc.DTC, error) {
	return c.ReadDTCInformation(ctx, REPORT_DTC_BY_STATUS_MASK, dtc.StatusPending)
}

// RoutineControl runs service 0x31 and returns the routine status
// record after the echoed sub-function and routine id.
func (c *Client) RoutineControl(ctx context.Context, controlType byte, routineID uint16, params []byte) ([]byte, error) {
	req := append([]byte{controlType, byte(routineID >> 8), byte(routineID)}, params...)
	body, err := c.Request(ctx, ROUTINE_CONTROL, req...)
	if err != nil {
		return nil, err
	}
	if len(body) < 3 || body[0] != controlType || binary.BigEndian.Uint16(body[1:3]) != routineID {
		return nil, &UnexpectedResponseError{Service: ROUTINE_CONTROL, Detail: "routine echo mismatch"}
	}
	return body[3:], nil
}

// InputOutputControl runs service 0x2F.
func (c *Client) InputOutputControl(ctx context.Context, did uint16, controlParameter byte, state []byte) error {
	req := append([]byte{byte(did >> 8), byte(did), controlParameter}, state...)
	_, err := c.Request(ctx, INPUT_OUTPUT_CONTROL_BY_IDENTIFIER, req...)
	return err
}

// RequestDownload opens a download (0x34) with a 4+4 byte address and
// length format. It returns the server's maxNumberOfBlockLength, zero
// if the server did not report one.
func (c *Client) RequestDownload(ctx context.Context, address, size uint32) (uint32, error) {
	req := []byte{
		0x00, // dataFormatIdentifier: no compression or encryption
		0x44, // addressAndLengthFormatIdentifier: 4 byte address, 4 byte length
	}
	req = binary.BigEndian.AppendUint32(req, address)
	req = binary.BigEndian.AppendUint32(req, size)
	body, err := c.Request(ctx, REQUEST_DOWNLOAD, req...)
	if err != nil {
		return 0, err
	}
	if len(body) < 1 {
		return 0, nil
	}
	n := int(body[0] >> 4)
	if n == 0 || len(body) < 1+n {
		return 0, nil
	}
	var max uint32
	for _, b := range body[1 : 1+n] {
		max = max<<8 | uint32(b)
	}
	return max, nil
}

// TransferData sends one chunk (0x36) under the given block sequence
// counter.
func (c *Client) TransferData(ctx context.Context, sequence byte, data []byte) error {
	body, err := c.Request(ctx, TRANSFER_DATA, append([]byte{sequence}, data...)...)
	if err != nil {
		return err
	}
	if len(body) >= 1 && body[0] != sequence {
		return &UnexpectedResponseError{Service: TRANSFER_DATA, Detail: "block sequence echo mismatch"}
	}
	return nil
}

// RequestTransferExit closes the active download (0x37).
func (c *Client) RequestTransferExit(ctx context.Context) error {
	_, err := c.Request(ctx, REQUEST_TRANSFER_EXIT)
	return err
}

// ReadMemoryByAddress reads raw memory (0x23) with a 4+4 byte format.
func (c *Client) ReadMemoryByAddress(ctx context.Context, address, size uint32) ([]byte, error) {
	req := []byte{0x44}
	req = binary.BigEndian.AppendUint32(req, address)
	req = binary.BigEndian.AppendUint32(req, size)
	return c.Request(ctx, READ_MEMORY_BY_ADDRESS, req...)
}

// WriteMemoryByAddress writes raw memory (0x3D).
func (c *Client) WriteMemoryByAddress(ctx context.Context, address uint32, data []byte) error {
	req := []byte{0x44}
	req = binary.BigEndian.AppendUint32(req, address)
	req = binary.BigEndian.AppendUint32(req, uint32(len(data)))
	req = append(req, data...)
	_, err := c.Request(ctx, WRITE_MEMORY_BY_ADDRESS, req...)
	return err
}
