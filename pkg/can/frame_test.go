package can_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
)

func TestNewFrameValidation(t *testing.T) {
	tests := []struct {
		name    string
		id      uint32
		data    []byte
		wantErr bool
	}{
		{name: "valid standard", id: 0x7E0, data: []byte{0x01, 0x0C}},
		{name: "max standard id", id: 0x7FF, data: nil},
		{name: "standard id out of range", id: 0x800, wantErr: true},
		{name: "payload at limit", id: 0x100, data: make([]byte, 8)},
		{name: "payload too long", id: 0x100, data: make([]byte, 9), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := can.NewFrame(tt.id, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, can.Standard11, f.Kind)
			assert.LessOrEqual(t, len(f.Data), can.MaxFrameLength)
		})
	}
}

func TestNewExtendedFrameValidation(t *testing.T) {
	f, err := can.NewExtendedFrame(0x18DA10F1, []byte{0x22, 0xF1, 0x90})
	require.NoError(t, err)
	assert.Equal(t, can.Extended29, f.Kind)

	_, err = can.NewExtendedFrame(0x20000000, nil)
	assert.Error(t, err)
}

func TestNewSegmentedFrame(t *testing.T) {
	f, err := can.NewSegmentedFrame(0x7E0, make([]byte, 300))
	require.NoError(t, err)
	assert.Equal(t, can.Standard11, f.Kind)

	_, err = can.NewSegmentedFrame(0x7E0, make([]byte, can.MaxSegmentedLength+1))
	assert.Error(t, err)

	ext, err := can.NewSegmentedFrame(0x18DA10F1, []byte{0x3E, 0x80})
	require.NoError(t, err)
	assert.Equal(t, can.Extended29, ext.Kind)
}

func TestNewRemoteFrame(t *testing.T) {
	f, err := can.NewRemoteFrame(0x123, can.Standard11)
	require.NoError(t, err)
	assert.True(t, f.RTR)
	assert.Empty(t, f.Data)
}

func TestStripLengthPrefix(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{
			name: "exact single frame",
			in:   []byte{0x04, 0x41, 0x0C, 0x1A, 0xF8},
			want: []byte{0x41, 0x0C, 0x1A, 0xF8},
		},
		{
			name: "padded classic frame",
			in:   []byte{0x03, 0x7F, 0x22, 0x78, 0x00, 0x00, 0x00, 0x00},
			want: []byte{0x7F, 0x22, 0x78},
		},
		{
			name: "reassembled long payload",
			in:   append([]byte{0x14, 0x62, 0xF1, 0x90}, []byte("1HGBH41JXMN109186")...),
			want: append([]byte{0x62, 0xF1, 0x90}, []byte("1HGBH41JXMN109186")...),
		},
		{
			name: "raw payload unchanged",
			in:   []byte{0x62, 0xF1, 0x90, 0x41},
			want: []byte{0x62, 0xF1, 0x90, 0x41},
		},
		{
			name: "short payload unchanged",
			in:   []byte{0x44},
			want: []byte{0x44},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, can.StripLengthPrefix(tt.in))
		})
	}
}
