package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/config"
)

const tomlProfile = `
[can]
baud_rate = 250000
extended_frames = true
tx_timeout_ms = 200
rx_timeout_ms = 200

[uds]
request_id = 0x7E1
response_id = 0x7E9
timeout_ms = 100
p2_star_ms = 4000

[obd]
request_id = 0x7DF
response_id = 0x7E8
ecu_ids = [0x7E9, 0x7EA]
timeout_ms = 750

[flash]
block_size = 128
timeout_ms = 8000
verify_after_write = true
erase_before_write = true
security_level = 1
erase_routine_id = 0xFF01

[[flash.regions]]
name = "boot"
start = 0x0000
end = 0x3FFF
protected = true

[[flash.regions]]
name = "app"
start = 0x8000
end = 0xFFFF
block_size = 256
`

const yamlProfile = `
can:
  baud_rate: 125000
uds:
  request_id: 0x7E0
  response_id: 0x7E8
  timeout_ms: 80
obd:
  ecu_ids: [0x7E8, 0x7E9]
flash:
  block_size: 512
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadTOML(t *testing.T) {
	p, err := config.Load(writeFile(t, "vehicle.toml", tomlProfile))
	require.NoError(t, err)

	assert.Equal(t, uint32(250_000), p.CAN.BaudRate)
	assert.True(t, p.CAN.ExtendedFrames)
	assert.Equal(t, uint32(0x7E1), p.UDS.RequestID)
	assert.Equal(t, []uint32{0x7E9, 0x7EA}, p.OBD.ECUIDs)
	assert.Equal(t, uint32(128), p.Flash.BlockSize)
	require.Len(t, p.Flash.Regions, 2)
	assert.True(t, p.Flash.Regions[0].Protected)

	udsCfg := p.UDSConfig()
	assert.Equal(t, 100*time.Millisecond, udsCfg.Timeout)
	assert.Equal(t, 4*time.Second, udsCfg.P2Star)

	flashCfg := p.FlashConfig(nil)
	assert.Equal(t, uint32(128), flashCfg.BlockSize)
	assert.Equal(t, uint16(0xFF01), flashCfg.EraseRoutineID)
	require.Len(t, flashCfg.Regions, 2)
	assert.Equal(t, "app", flashCfg.Regions[1].Name)
}

func TestLoadYAML(t *testing.T) {
	p, err := config.Load(writeFile(t, "vehicle.yaml", yamlProfile))
	require.NoError(t, err)

	assert.Equal(t, uint32(125_000), p.CAN.BaudRate)
	assert.Equal(t, []uint32{0x7E8, 0x7E9}, p.OBD.ECUIDs)
	assert.Equal(t, uint32(512), p.Flash.BlockSize)
	// Untouched sections keep their defaults.
	assert.Equal(t, uint32(0x7DF), p.OBD.RequestID)
}

func TestLoadRejectsBadBaudRate(t *testing.T) {
	_, err := config.Load(writeFile(t, "bad.toml", "[can]\nbaud_rate = 300000\n"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	_, err := config.Load(writeFile(t, "profile.ini", "can"))
	assert.Error(t, err)
}

func TestDefaultProfile(t *testing.T) {
	p := config.Default()
	assert.Equal(t, uint32(500_000), p.CAN.BaudRate)
	assert.Equal(t, uint32(0x7E0), p.UDS.RequestID)
	assert.Equal(t, uint32(0x7DF), p.OBD.RequestID)
	assert.Equal(t, uint32(256), p.Flash.BlockSize)
}
