package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/flasher"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/obd"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/uds"
)

// Profile is a diagnostics setup loaded from a TOML or YAML file.
type Profile struct {
	CAN   CANSection   `toml:"can" yaml:"can"`
	UDS   UDSSection   `toml:"uds" yaml:"uds"`
	OBD   OBDSection   `toml:"obd" yaml:"obd"`
	Flash FlashSection `toml:"flash" yaml:"flash"`
}

type CANSection struct {
	BaudRate       uint32 `toml:"baud_rate" yaml:"baud_rate"`
	ListenOnly     bool   `toml:"listen_only" yaml:"listen_only"`
	Loopback       bool   `toml:"loopback" yaml:"loopback"`
	ExtendedFrames bool   `toml:"extended_frames" yaml:"extended_frames"`
	TxTimeoutMs    uint32 `toml:"tx_timeout_ms" yaml:"tx_timeout_ms"`
	RxTimeoutMs    uint32 `toml:"rx_timeout_ms" yaml:"rx_timeout_ms"`
}

type UDSSection struct {
	RequestID          uint32 `toml:"request_id" yaml:"request_id"`
	ResponseID         uint32 `toml:"response_id" yaml:"response_id"`
	TimeoutMs          uint32 `toml:"timeout_ms" yaml:"timeout_ms"`
	P2StarMs           uint32 `toml:"p2_star_ms" yaml:"p2_star_ms"`
	ExtendedAddressing bool   `toml:"extended_addressing" yaml:"extended_addressing"`
	SourceAddr         uint8  `toml:"source_addr" yaml:"source_addr"`
	TargetAddr         uint8  `toml:"target_addr" yaml:"target_addr"`
}

type OBDSection struct {
	RequestID      uint32   `toml:"request_id" yaml:"request_id"`
	ResponseID     uint32   `toml:"response_id" yaml:"response_id"`
	ECUIDs         []uint32 `toml:"ecu_ids" yaml:"ecu_ids"`
	UseExtendedIDs bool     `toml:"use_extended_ids" yaml:"use_extended_ids"`
	TimeoutMs      uint32   `toml:"timeout_ms" yaml:"timeout_ms"`
}

type FlashSection struct {
	BlockSize        uint32          `toml:"block_size" yaml:"block_size"`
	TimeoutMs        uint32          `toml:"timeout_ms" yaml:"timeout_ms"`
	VerifyAfterWrite bool            `toml:"verify_after_write" yaml:"verify_after_write"`
	EraseBeforeWrite bool            `toml:"erase_before_write" yaml:"erase_before_write"`
	SecurityLevel    uint8           `toml:"security_level" yaml:"security_level"`
	EraseRoutineID   uint16          `toml:"erase_routine_id" yaml:"erase_routine_id"`
	Regions          []RegionSection `toml:"regions" yaml:"regions"`
}

type RegionSection struct {
	Name      string `toml:"name" yaml:"name"`
	Start     uint32 `toml:"start" yaml:"start"`
	End       uint32 `toml:"end" yaml:"end"`
	BlockSize uint32 `toml:"block_size" yaml:"block_size"`
	Protected bool   `toml:"protected" yaml:"protected"`
}

// Default returns a profile matching the stock ISO 15765 tester setup.
func Default() *Profile {
	return &Profile{
		CAN: CANSection{BaudRate: 500_000, TxTimeoutMs: 100, RxTimeoutMs: 100},
		UDS: UDSSection{RequestID: 0x7E0, ResponseID: 0x7E8, TimeoutMs: 50, P2StarMs: 5000, SourceAddr: 0xF1, TargetAddr: 0x10},
		OBD: OBDSection{RequestID: 0x7DF, ResponseID: 0x7E8, TimeoutMs: 1000},
		Flash: FlashSection{
			BlockSize:        256,
			TimeoutMs:        5000,
			EraseBeforeWrite: true,
			EraseRoutineID:   0xFF00,
		},
	}
}

// Load reads a profile, picking the decoder from the extension (.toml,
// .yaml or .yml). Missing sections keep their defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	p := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown profile format %q", filepath.Ext(path))
	}
	if !can.ValidBaudRate(p.CAN.BaudRate) {
		return nil, fmt.Errorf("%w: %d", can.ErrInvalidBaudRate, p.CAN.BaudRate)
	}
	return p, nil
}

func (p *Profile) CANConfig() can.Config {
	cfg := can.DefaultConfig()
	cfg.BaudRate = p.CAN.BaudRate
	cfg.ListenOnly = p.CAN.ListenOnly
	cfg.Loopback = p.CAN.Loopback
	cfg.ExtendedFrames = p.CAN.ExtendedFrames
	cfg.TxTimeout = time.Duration(p.CAN.TxTimeoutMs) * time.Millisecond
	cfg.RxTimeout = time.Duration(p.CAN.RxTimeoutMs) * time.Millisecond
	return cfg
}

func (p *Profile) UDSConfig() uds.Config {
	cfg := uds.DefaultConfig()
	cfg.RequestID = p.UDS.RequestID
	cfg.ResponseID = p.UDS.ResponseID
	cfg.Timeout = time.Duration(p.UDS.TimeoutMs) * time.Millisecond
	cfg.P2Star = time.Duration(p.UDS.P2StarMs) * time.Millisecond
	cfg.ExtendedAddressing = p.UDS.ExtendedAddressing
	cfg.SourceAddr = p.UDS.SourceAddr
	cfg.TargetAddr = p.UDS.TargetAddr
	return cfg
}

func (p *Profile) OBDConfig() obd.Config {
	cfg := obd.DefaultConfig()
	cfg.RequestID = p.OBD.RequestID
	cfg.ResponseID = p.OBD.ResponseID
	cfg.ECUIDs = p.OBD.ECUIDs
	cfg.UseExtendedIDs = p.OBD.UseExtendedIDs
	cfg.Timeout = time.Duration(p.OBD.TimeoutMs) * time.Millisecond
	return cfg
}

// FlashConfig builds the flasher configuration; the seed-to-key
// derivation cannot live in a file and is supplied by the caller.
func (p *Profile) FlashConfig(seedToKey uds.SeedToKeyFunc) flasher.Config {
	cfg := flasher.DefaultConfig()
	cfg.BlockSize = p.Flash.BlockSize
	cfg.Timeout = time.Duration(p.Flash.TimeoutMs) * time.Millisecond
	cfg.VerifyAfterWrite = p.Flash.VerifyAfterWrite
	cfg.EraseBeforeWrite = p.Flash.EraseBeforeWrite
	cfg.SecurityLevel = p.Flash.SecurityLevel
	cfg.SeedToKey = seedToKey
	if p.Flash.EraseRoutineID != 0 {
		cfg.EraseRoutineID = p.Flash.EraseRoutineID
	}
	for _, r := range p.Flash.Regions {
		cfg.Regions = append(cfg.Regions, flasher.Region{
			Name:      r.Name,
			Start:     r.Start,
			End:       r.End,
			BlockSize: r.BlockSize,
			Protected: r.Protected,
		})
	}
	return cfg
}
