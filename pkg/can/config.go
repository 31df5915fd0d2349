package can

import (
	"fmt"
	"time"
)

// standardBaudRates is the fixed set of rates the protocol accepts.
var standardBaudRates = []uint32{
	10_000,
	20_000,
	50_000,
	100_000,
	125_000,
	250_000,
	500_000,
	800_000,
	1_000_000,
}

func ValidBaudRate(rate uint32) bool {
	for _, r := range standardBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}

func StandardBaudRates() []uint32 {
	out := make([]uint32, len(standardBaudRates))
	copy(out, standardBaudRates)
	return out
}

type Config struct {
	BaudRate       uint32
	ListenOnly     bool
	Loopback       bool
	ExtendedFrames bool
	TxTimeout      time.Duration
	RxTimeout      time.Duration

	// PollInterval is how long each dispatch poll waits on the
	// transport. Short keeps shutdown responsive.
	PollInterval time.Duration
	// ErrorCooldown is how long dispatch suspends after three
	// consecutive transport errors.
	ErrorCooldown time.Duration

	// OnMessage and OnError receive incidental diagnostics. Both may be
	// nil.
	OnMessage func(string)
	OnError   func(error)
}

func DefaultConfig() Config {
	return Config{
		BaudRate:      500_000,
		TxTimeout:     100 * time.Millisecond,
		RxTimeout:     100 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		ErrorCooldown: time.Second,
	}
}

func (c *Config) validate() error {
	if !ValidBaudRate(c.BaudRate) {
		return fmt.Errorf("%w: %d", ErrInvalidBaudRate, c.BaudRate)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = time.Second
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("CANConfig[BaudRate:%d, ListenOnly:%t, Loopback:%t, ExtendedFrames:%t, TxTimeout:%s, RxTimeout:%s]",
		c.BaudRate, c.ListenOnly, c.Loopback, c.ExtendedFrames, c.TxTimeout, c.RxTimeout)
}
