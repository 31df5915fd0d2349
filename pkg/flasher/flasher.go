package flasher

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/flashfile"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/uds"
)

// Services is the UDS surface the flash manager drives. *uds.Client
// implements it; tests script it.
type Services interface {
	DiagnosticSessionControl(ctx context.Context, session uds.Session) error
	SecurityAccess(ctx context.Context, level byte, seedToKey uds.SeedToKeyFunc) error
	RoutineControl(ctx context.Context, controlType byte, routineID uint16, params []byte) ([]byte, error)
	RequestDownload(ctx context.Context, address, size uint32) (uint32, error)
	TransferData(ctx context.Context, sequence byte, data []byte) error
	RequestTransferExit(ctx context.Context) error
	ReadMemoryByAddress(ctx context.Context, address, size uint32) ([]byte, error)
	ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error)
	StartTesterPresent()
	StopTesterPresent()
}

// State names the stage the flash run is in.
type State uint8

const (
	Idle State = iota
	EnteringProgramming
	Unlocking
	Erasing
	Writing
	Verifying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case EnteringProgramming:
		return "EnteringProgramming"
	case Unlocking:
		return "Unlocking"
	case Erasing:
		return "Erasing"
	case Writing:
		return "Writing"
	case Verifying:
		return "Verifying"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Idle"
	}
}

// ProgressFunc is invoked at every stage transition and block boundary.
type ProgressFunc func(operation string, current, total int, message string)

// Statistics summarizes a flash run.
type Statistics struct {
	TotalBlocks   int
	TotalBytes    int
	BlocksWritten int
	BytesWritten  int
	BlocksFailed  int
	Start         time.Time
	End           time.Time
}

func (s Statistics) Duration() time.Duration {
	if s.End.IsZero() || s.Start.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// AverageSpeed is bytes per second over the run.
func (s Statistics) AverageSpeed() float64 {
	d := s.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.BytesWritten) / d
}

func (s Statistics) String() string {
	return fmt.Sprintf("FlashStats[Duration:%s, Blocks:%d/%d, Bytes:%d/%d, Speed:%.2f B/s, Errors:%d]",
		s.Duration(), s.BlocksWritten, s.TotalBlocks, s.BytesWritten, s.TotalBytes, s.AverageSpeed(), s.BlocksFailed)
}

// Manager drives ECU reprogramming over UDS: programming session,
// security unlock, region erase, block download and optional verify.
type Manager struct {
	udsc Services
	cfg  Config

	mu    sync.Mutex
	state State
	stats Statistics

	progress ProgressFunc
}

func New(udsc Services, cfg Config) *Manager {
	cfg.fillDefaults()
	return &Manager{udsc: udsc, cfg: cfg}
}

// OnProgress installs the progress callback. Call before Program.
func (m *Manager) OnProgress(fn ProgressFunc) {
	m.progress = fn
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) message(format string, args ...any) {
	if m.cfg.OnMessage != nil {
		m.cfg.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.report(s.String(), 0, 1, "")
}

func (m *Manager) report(operation string, current, total int, message string) {
	if m.progress != nil {
		m.progress(operation, current, total, message)
	}
}

// Program runs the whole state machine for the file. On any failure the
// run terminates, after a best-effort return to the default session.
func (m *Manager) Program(ctx context.Context, file *flashfile.File) (err error) {
	if err := file.Validate(); err != nil {
		return failed(ErrFileLoad, err)
	}
	blocks := file.SortedBlocks()
	if err := m.checkRegions(blocks); err != nil {
		return err
	}

	m.mu.Lock()
	m.stats = Statistics{
		TotalBlocks: len(blocks),
		TotalBytes:  file.TotalSize(),
		Start:       time.Now(),
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.stats.End = time.Now()
		m.mu.Unlock()
		if err != nil {
			m.setState(Failed)
			m.cleanup()
		}
	}()

	m.message("starting flash: %s", file)

	m.setState(EnteringProgramming)
	if err := m.enterProgramming(ctx); err != nil {
		return failed(ErrBootloaderEntry, err)
	}
	m.udsc.StartTesterPresent()
	defer m.udsc.StopTesterPresent()

	if m.cfg.SeedToKey != nil {
		m.setState(Unlocking)
		if err := m.udsc.SecurityAccess(ctx, m.cfg.SecurityLevel, m.cfg.SeedToKey); err != nil {
			return failed(ErrSecurityAccess, err)
		}
	}

	if m.cfg.EraseBeforeWrite {
		m.setState(Erasing)
		if err := m.erase(ctx, file); err != nil {
			return err
		}
	}

	m.setState(Writing)
	for i, block := range blocks {
		m.report("Programming", i, len(blocks), fmt.Sprintf("Block %d @ 0x%X", i+1, block.Address))
		if err := m.writeBlock(ctx, block); err != nil {
			m.mu.Lock()
			m.stats.BlocksFailed++
			m.mu.Unlock()
			return err
		}
		m.mu.Lock()
		m.stats.BlocksWritten++
		m.mu.Unlock()
	}

	if m.cfg.VerifyAfterWrite {
		m.setState(Verifying)
		if err := m.verify(ctx, blocks); err != nil {
			return err
		}
	}

	m.setState(Done)
	m.report("Complete", 1, 1, "programming completed")
	m.message("flash finished: %s", m.Statistics())
	return nil
}

// enterProgramming retries the session switch a few times; bootloaders
// are routinely deaf right after reset.
func (m *Manager) enterProgramming(ctx context.Context) error {
	return retry.Do(
		func() error {
			return m.udsc.DiagnosticSessionControl(ctx, uds.SessionProgramming)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// A negative response is the ECU refusing, not missing.
			_, negative := uds.IsNegativeResponse(err)
			return !negative
		}),
	)
}

// checkRegions rejects blocks that fall outside the configured layout
// or into protected areas. With no regions configured everything is
// allowed.
func (m *Manager) checkRegions(blocks []flashfile.Block) error {
	if len(m.cfg.Regions) == 0 {
		return nil
	}
	for _, b := range blocks {
		region := m.regionFor(b.Address)
		if region == nil {
			return failedAt(ErrInvalidAddress, b.Address, nil)
		}
		if region.Protected {
			return failedAt(ErrRegionProtected, b.Address, nil)
		}
		if !region.Contains(b.End()) {
			return failedAt(ErrInvalidAddress, b.End(), fmt.Errorf("block runs past region %s", region.Name))
		}
	}
	return nil
}

func (m *Manager) regionFor(address uint32) *Region {
	for i := range m.cfg.Regions {
		if m.cfg.Regions[i].Contains(address) {
			return &m.cfg.Regions[i]
		}
	}
	return nil
}

// erase starts the erase routine for every non-protected region the
// file touches.
func (m *Manager) erase(ctx context.Context, file *flashfile.File) error {
	lo, hi := file.AddressRange()
	for _, region := range m.cfg.Regions {
		if region.Protected || region.Start > hi || region.End < lo {
			continue
		}
		m.report("Erasing", 0, 1, region.Name)
		params := binary.BigEndian.AppendUint32(nil, region.Start)
		params = binary.BigEndian.AppendUint32(params, region.Size())
		if _, err := m.udsc.RoutineControl(ctx, uds.ROUTINE_START, m.cfg.EraseRoutineID, params); err != nil {
			return failedAt(ErrErase, region.Start, err)
		}
	}
	return nil
}

// writeBlock downloads one block: request download, chunked transfer
// data with a wrapping 1..0xFF sequence counter, transfer exit.
func (m *Manager) writeBlock(ctx context.Context, block flashfile.Block) error {
	if _, err := m.udsc.RequestDownload(ctx, block.Address, uint32(len(block.Data))); err != nil {
		return failedAt(ErrProgramming, block.Address, err)
	}

	chunk := int(m.cfg.BlockSize)
	for i, offset := 0, 0; offset < len(block.Data); i, offset = i+1, offset+chunk {
		end := offset + chunk
		if end > len(block.Data) {
			end = len(block.Data)
		}
		sequence := byte(i%0xFF) + 1
		if err := m.udsc.TransferData(ctx, sequence, block.Data[offset:end]); err != nil {
			return failedAt(ErrProgramming, block.Address+uint32(offset), err)
		}
		m.mu.Lock()
		m.stats.BytesWritten += end - offset
		m.mu.Unlock()
	}

	if err := m.udsc.RequestTransferExit(ctx); err != nil {
		return failedAt(ErrProgramming, block.Address, err)
	}
	return nil
}

// verify re-reads every block and compares byte for byte. The primary
// path is ReadMemoryByAddress; ECUs that do not support service 0x23
// fall back to per-block DID reads.
func (m *Manager) verify(ctx context.Context, blocks []flashfile.Block) error {
	useDIDs := false
	for i, block := range blocks {
		m.report("Verifying", i, len(blocks), fmt.Sprintf("Block %d @ 0x%X", i+1, block.Address))

		var (
			readback []byte
			err      error
		)
		if !useDIDs {
			readback, err = m.udsc.ReadMemoryByAddress(ctx, block.Address, uint32(len(block.Data)))
			if err != nil && uds.IsServiceNotSupported(err) {
				m.message("ReadMemoryByAddress unsupported, falling back to DID reads")
				useDIDs = true
			}
		}
		if useDIDs {
			readback, err = m.udsc.ReadDataByIdentifier(ctx, m.cfg.VerifyDIDBase+uint16(i))
		}
		if err != nil {
			return failedAt(ErrVerification, block.Address, err)
		}
		if !bytes.Equal(readback, block.Data) {
			mismatch := block.Address
			for j := range block.Data {
				if j >= len(readback) || readback[j] != block.Data[j] {
					mismatch = block.Address + uint32(j)
					break
				}
			}
			return failedAt(ErrVerification, mismatch, fmt.Errorf("readback differs"))
		}
	}
	return nil
}

// cleanup tries to leave the ECU in a sane state after a failure.
func (m *Manager) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()
	// Best effort; the ECU may already have dropped the session.
	_ = m.udsc.RequestTransferExit(ctx)
	if err := m.udsc.DiagnosticSessionControl(ctx, uds.SessionDefault); err != nil {
		m.message("cleanup: %v", err)
	}
}
