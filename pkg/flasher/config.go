package flasher

import (
	"fmt"
	"time"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/uds"
)

// Region describes one flash area of the target ECU.
type Region struct {
	Name      string
	Start     uint32
	End       uint32
	BlockSize uint32
	Protected bool
}

func (r Region) Size() uint32 {
	return r.End - r.Start + 1
}

func (r Region) Contains(address uint32) bool {
	return address >= r.Start && address <= r.End
}

func (r Region) String() string {
	return fmt.Sprintf("FlashRegion[%s, 0x%X-0x%X, Size:%d, Protected:%t]",
		r.Name, r.Start, r.End, r.Size(), r.Protected)
}

type Config struct {
	// BlockSize is the transfer-data chunk size.
	BlockSize uint32
	Timeout   time.Duration

	VerifyAfterWrite bool
	EraseBeforeWrite bool

	// SecurityLevel and SeedToKey drive the unlock step. A nil
	// SeedToKey skips security access entirely.
	SecurityLevel byte
	SeedToKey     uds.SeedToKeyFunc

	// EraseRoutineID is the manufacturer's erase routine; parameters
	// are region address and size, both big endian 32 bit.
	EraseRoutineID uint16
	// VerifyDIDBase is the identifier base for the per-block DID
	// fallback when the ECU does not support ReadMemoryByAddress.
	VerifyDIDBase uint16

	Regions []Region

	OnMessage func(string)
}

func DefaultConfig() Config {
	return Config{
		BlockSize:        256,
		Timeout:          5 * time.Second,
		EraseBeforeWrite: true,
		EraseRoutineID:   0xFF00,
		VerifyDIDBase:    0x1000,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.BlockSize == 0 {
		c.BlockSize = def.BlockSize
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.EraseRoutineID == 0 {
		c.EraseRoutineID = def.EraseRoutineID
	}
	if c.VerifyDIDBase == 0 {
		c.VerifyDIDBase = def.VerifyDIDBase
	}
}

func (c Config) String() string {
	return fmt.Sprintf("FlashConfig[BlockSize:%d, Timeout:%s, Verify:%t, Erase:%t, SecurityLevel:%d, Regions:%d]",
		c.BlockSize, c.Timeout, c.VerifyAfterWrite, c.EraseBeforeWrite, c.SecurityLevel, len(c.Regions))
}
