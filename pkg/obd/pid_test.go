package obd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParameterFormulas(t *testing.T) {
	tests := []struct {
		name      string
		pid       byte
		raw       []byte
		wantValue float64
		wantUnit  string
	}{
		{name: "engine load", pid: ENGINE_LOAD, raw: []byte{0xFF}, wantValue: 100, wantUnit: "%"},
		{name: "coolant temp", pid: COOLANT_TEMP, raw: []byte{0x5A}, wantValue: 50, wantUnit: "°C"},
		{name: "fuel pressure", pid: FUEL_PRESSURE, raw: []byte{0x64}, wantValue: 300, wantUnit: "kPa"},
		{name: "intake map", pid: INTAKE_MAP, raw: []byte{0x21}, wantValue: 33, wantUnit: "kPa"},
		{name: "rpm", pid: ENGINE_RPM, raw: []byte{0x1A, 0xF8}, wantValue: 1726, wantUnit: "RPM"},
		{name: "speed", pid: VEHICLE_SPEED, raw: []byte{0x63}, wantValue: 99, wantUnit: "km/h"},
		{name: "timing advance", pid: TIMING_ADVANCE, raw: []byte{0x80}, wantValue: 0, wantUnit: "°"},
		{name: "intake air temp", pid: INTAKE_AIR_TEMP, raw: []byte{0x28}, wantValue: 0, wantUnit: "°C"},
		{name: "maf", pid: MAF_AIRFLOW, raw: []byte{0x01, 0x2C}, wantValue: 3, wantUnit: "g/s"},
		{name: "throttle", pid: THROTTLE_POSITION, raw: []byte{0x00}, wantValue: 0, wantUnit: "%"},
		{name: "runtime", pid: RUNTIME_SINCE_START, raw: []byte{0x01, 0x00}, wantValue: 256, wantUnit: "s"},
		{name: "distance mil", pid: DISTANCE_WITH_MIL, raw: []byte{0x00, 0x64}, wantValue: 100, wantUnit: "km"},
		{name: "fuel level", pid: FUEL_TANK_LEVEL, raw: []byte{0x80}, wantValue: 128 * 100.0 / 255.0, wantUnit: "%"},
		{name: "distance clear", pid: DISTANCE_SINCE_CLEAR, raw: []byte{0x01, 0x2C}, wantValue: 300, wantUnit: "km"},
		{name: "baro", pid: BARO_PRESSURE, raw: []byte{0x65}, wantValue: 101, wantUnit: "kPa"},
		{name: "unknown pid decodes raw", pid: 0x7B, raw: []byte{0x42, 0x00}, wantValue: 0x42, wantUnit: "raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParameter(tt.pid, tt.raw)
			assert.InDelta(t, tt.wantValue, p.Value, 1e-9)
			assert.Equal(t, tt.wantUnit, p.Unit)
		})
	}
}

func TestParseSupportedPIDs(t *testing.T) {
	// 0x18198003: PIDs 04, 05, 0C, 0D, 10, 11, 1F, 20.
	pids := parseSupportedPIDs([]byte{0x18, 0x19, 0x80, 0x03}, 0)
	assert.Equal(t, []byte{0x04, 0x05, 0x0C, 0x0D, 0x10, 0x11, 0x1F, 0x20}, pids)

	// Offset buckets shift by their base.
	pids = parseSupportedPIDs([]byte{0x80, 0x00, 0x00, 0x00}, 0x20)
	assert.Equal(t, []byte{0x21}, pids)

	assert.Nil(t, parseSupportedPIDs([]byte{0x80}, 0))
}
