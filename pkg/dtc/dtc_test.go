package dtc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/dtc"
)

func TestFromOBDRaw(t *testing.T) {
	tests := []struct {
		raw  uint16
		want string
	}{
		{raw: 0x0143, want: "P0143"},
		{raw: 0x0301, want: "P0301"},
		{raw: 0x4123, want: "C0123"},
		{raw: 0x8234, want: "B0234"},
		{raw: 0xC103, want: "U0103"},
		{raw: 0x3FFF, want: "P3FFF"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			d, err := dtc.FromOBDRaw(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Code)
		})
	}
}

func TestToOBDRawRejectsMalformed(t *testing.T) {
	for _, code := range []string{"", "P030", "X0301", "P4301", "P0G01", "P03011"} {
		_, err := dtc.ToOBDRaw(code)
		assert.Error(t, err, "code %q", code)
	}
}

// Round-trip law: every well-formed code survives encode/decode.
func TestOBDRoundTrip(t *testing.T) {
	letters := []byte{'P', 'C', 'B', 'U'}
	digits := []byte("0123456789ABCDEF")
	codes := []string{}
	for _, l := range letters {
		for _, d1 := range []byte("0123") {
			codes = append(codes,
				string([]byte{l, d1, '0', '0', '1'}),
				string([]byte{l, d1, 'F', 'A', '9'}),
			)
		}
	}
	for _, d := range digits {
		codes = append(codes, string([]byte{'P', '1', d, d, d}))
	}

	for _, code := range codes {
		raw, err := dtc.ToOBDRaw(code)
		require.NoError(t, err, "encode %q", code)
		back, err := dtc.FromOBDRaw(raw)
		require.NoError(t, err)
		assert.Equal(t, code, back.Code)
	}
}

func TestFromUDSBytes(t *testing.T) {
	d := dtc.FromUDSBytes(0x01, 0x43, 0x07, dtc.StatusConfirmed|dtc.StatusTestFailed)
	assert.Equal(t, "P0143", d.Code)
	assert.Equal(t, byte(0x07), d.FailureType)
	assert.True(t, d.IsConfirmed())
	assert.True(t, d.IsActive())
	assert.False(t, d.IsPending())
}

func TestStatusByteToString(t *testing.T) {
	assert.Empty(t, dtc.StatusByteToString(0))
	s := dtc.StatusByteToString(dtc.StatusConfirmed | dtc.StatusPending)
	assert.Contains(t, s, "confirmed at the time of the request")
	assert.Contains(t, s, "failed on the current or previous operation cycle")
}

func TestCategory(t *testing.T) {
	d, err := dtc.FromOBDRaw(0x0171)
	require.NoError(t, err)
	assert.Equal(t, byte('P'), d.Category())
	assert.True(t, d.IsEmissionsRelated())

	u, err := dtc.FromOBDRaw(0xC000)
	require.NoError(t, err)
	assert.Equal(t, byte('U'), u.Category())
	assert.False(t, u.IsEmissionsRelated())
}
