package uds_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/uds"
)

func TestDecodePositiveResponse(t *testing.T) {
	msg, err := uds.Decode([]byte{0x04, 0x62, 0xF1, 0x90, 0x31})
	require.NoError(t, err)
	assert.Equal(t, uds.PositiveResponse, msg.Kind)
	assert.Equal(t, byte(uds.READ_DATA_BY_IDENTIFIER), msg.Service)
	assert.Equal(t, []byte{0xF1, 0x90, 0x31}, msg.Data)
}

func TestDecodeNegativeResponse(t *testing.T) {
	msg, err := uds.Decode([]byte{0x03, 0x7F, 0x22, 0x33})
	require.NoError(t, err)
	assert.Equal(t, uds.NegativeResponse, msg.Kind)
	assert.Equal(t, byte(uds.READ_DATA_BY_IDENTIFIER), msg.Service)
	assert.Equal(t, byte(uds.SECURITY_ACCESS_DENIED), msg.NRC)
}

func TestDecodeRequest(t *testing.T) {
	msg, err := uds.Decode([]byte{0x10, 0x03})
	require.NoError(t, err)
	assert.Equal(t, uds.Request, msg.Kind)
	assert.Equal(t, byte(uds.DIAGNOSTIC_SESSION_CONTROL), msg.Service)
	assert.Equal(t, []byte{0x03}, msg.Data)
}

func TestDecodeEmptyPayload(t *testing.T) {
	_, err := uds.Decode(nil)
	assert.Error(t, err)
	_, err = uds.Decode([]byte{0x7F, 0x22})
	assert.Error(t, err)
}

func TestEncodeForms(t *testing.T) {
	req := uds.NewRequest(uds.READ_DATA_BY_IDENTIFIER, 0xF1, 0x90)
	assert.Equal(t, []byte{0x22, 0xF1, 0x90}, req.Encode())

	pos := uds.Message{Service: uds.READ_DATA_BY_IDENTIFIER, Kind: uds.PositiveResponse, Data: []byte{0xF1, 0x90, 0x31}}
	assert.Equal(t, []byte{0x62, 0xF1, 0x90, 0x31}, pos.Encode())

	neg := uds.Message{Service: uds.READ_DATA_BY_IDENTIFIER, Kind: uds.NegativeResponse, NRC: uds.SECURITY_ACCESS_DENIED}
	assert.Equal(t, []byte{0x7F, 0x22, 0x33}, neg.Encode())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := []uds.Message{
		uds.NewRequest(uds.TESTER_PRESENT, 0x00),
		{Service: uds.ROUTINE_CONTROL, Kind: uds.PositiveResponse, Data: []byte{0x01, 0xFF, 0x00}},
		{Service: uds.TRANSFER_DATA, Kind: uds.NegativeResponse, NRC: uds.WRONG_BLOCK_SEQUENCE_COUNTER, Data: []byte{}},
	}
	for _, msg := range msgs {
		back, err := uds.Decode(msg.Encode())
		require.NoError(t, err)
		assert.Equal(t, msg.Kind, back.Kind)
		assert.Equal(t, msg.Service, back.Service)
		assert.Equal(t, msg.NRC, back.NRC)
	}
}

func TestTranslateErrorCode(t *testing.T) {
	assert.NoError(t, uds.TranslateErrorCode(0x00))
	assert.ErrorIs(t, uds.TranslateErrorCode(0x33), uds.ErrSecurityAccessDenied)
	assert.ErrorIs(t, uds.TranslateErrorCode(0x78), uds.ErrResponsePending)

	err := uds.TranslateErrorCode(0x99)
	require.Error(t, err)
	code, ok := uds.IsNegativeResponse(err)
	assert.True(t, ok)
	assert.Equal(t, byte(0x99), code)
}
