package uds

import (
	"fmt"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/common"
)

type MessageKind uint8

const (
	Request MessageKind = iota
	PositiveResponse
	NegativeResponse
)

// Message is one UDS service PDU. Data excludes the service byte; for
// negative responses it holds anything after the NRC.
type Message struct {
	Service byte
	Data    []byte
	Kind    MessageKind
	NRC     byte
}

func NewRequest(service byte, data ...byte) Message {
	return Message{Service: service, Data: data, Kind: Request}
}

// Encode renders the on-wire payload.
func (m Message) Encode() []byte {
	switch m.Kind {
	case NegativeResponse:
		return append([]byte{NegativeResponseID, m.Service, m.NRC}, m.Data...)
	case PositiveResponse:
		return append([]byte{m.Service + PositiveResponseOffset}, m.Data...)
	default:
		return append([]byte{m.Service}, m.Data...)
	}
}

// Decode parses a received payload. The ISO15765 length prefix, if
// present, is stripped first.
func Decode(payload []byte) (Message, error) {
	data := can.StripLengthPrefix(payload)
	if len(data) == 0 {
		return Message{}, fmt.Errorf("empty UDS payload")
	}
	switch {
	case data[0] == NegativeResponseID:
		if len(data) < 3 {
			return Message{}, fmt.Errorf("truncated negative response % X", data)
		}
		return Message{
			Service: data[1],
			NRC:     data[2],
			Data:    data[3:],
			Kind:    NegativeResponse,
		}, nil
	case data[0] >= PositiveResponseOffset && data[0] < NegativeResponseID:
		return Message{
			Service: data[0] - PositiveResponseOffset,
			Data:    data[1:],
			Kind:    PositiveResponse,
		}, nil
	default:
		return Message{Service: data[0], Data: data[1:], Kind: Request}, nil
	}
}

func (m Message) String() string {
	switch m.Kind {
	case NegativeResponse:
		return fmt.Sprintf("UDS[NRC:%s %v]", ServiceName(m.Service), TranslateErrorCode(m.NRC))
	case PositiveResponse:
		return fmt.Sprintf("UDS[RSP:%s %s]", ServiceName(m.Service), common.BytesToHex(m.Data))
	default:
		return fmt.Sprintf("UDS[REQ:%s %s]", ServiceName(m.Service), common.BytesToHex(m.Data))
	}
}
