package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
)

func TestLoopbackSendRecordsFrames(t *testing.T) {
	lb := NewLoopback()
	defer lb.Close()

	f, err := can.NewFrame(0x7E0, []byte{0x3E, 0x00})
	require.NoError(t, err)
	require.NoError(t, lb.Send(f))

	sent := lb.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x7E0), sent[0].ID)
}

func TestLoopbackRecvTimesOutEmpty(t *testing.T) {
	lb := NewLoopback()
	defer lb.Close()

	start := time.Now()
	frames, err := lb.Recv(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLoopbackResponder(t *testing.T) {
	lb := NewLoopback()
	defer lb.Close()
	lb.OnSend(func(f *can.Frame) []*can.Frame {
		return []*can.Frame{{ID: f.ID + 8, Kind: can.Standard11, Data: f.Data}}
	})

	f, err := can.NewFrame(0x7E0, []byte{0x10, 0x03})
	require.NoError(t, err)
	require.NoError(t, lb.Send(f))

	frames, err := lb.Recv(time.Second)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0x7E8), frames[0].ID)
}

func TestLoopbackSendAfterClose(t *testing.T) {
	lb := NewLoopback()
	require.NoError(t, lb.Close())
	require.NoError(t, lb.Close())

	f, err := can.NewFrame(0x7E0, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, lb.Send(f), can.ErrClosed)
}

func TestParseSLCANLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantNil  bool
		wantID   uint32
		wantKind can.IDKind
		wantData []byte
		wantRTR  bool
	}{
		{
			name:     "standard data frame",
			line:     "t7E83025003",
			wantID:   0x7E8,
			wantKind: can.Standard11,
			wantData: []byte{0x02, 0x50, 0x03},
		},
		{
			name:     "extended data frame",
			line:     "T18DAF11023E00",
			wantID:   0x18DAF110,
			wantKind: can.Extended29,
			wantData: []byte{0x3E, 0x00},
		},
		{
			name:     "remote frame",
			line:     "r1230",
			wantID:   0x123,
			wantKind: can.Standard11,
			wantRTR:  true,
		},
		{name: "garbage", line: "xyz", wantNil: true},
		{name: "truncated", line: "t7E8", wantNil: true},
		{name: "short data", line: "t7E83AB", wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parseSLCANLine(tt.line)
			if tt.wantNil {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.wantID, f.ID)
			assert.Equal(t, tt.wantKind, f.Kind)
			assert.Equal(t, tt.wantRTR, f.RTR)
			if !tt.wantRTR {
				assert.Equal(t, tt.wantData, f.Data)
			}
		})
	}
}
