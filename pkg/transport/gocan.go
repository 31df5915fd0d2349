package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/roffe/gocan"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
)

// GocanBridge exposes any gocan adapter (J2534, OBDLink, CANUSB,
// CombiAdapter, ...) as a polling Transport.
type GocanBridge struct {
	adapter gocan.Adapter
	cancel  context.CancelFunc
}

// NewGocanBridge connects the adapter and wraps it.
func NewGocanBridge(ctx context.Context, adapter gocan.Adapter) (*GocanBridge, error) {
	ctx, cancel := context.WithCancel(ctx)
	if err := adapter.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", adapter.Name(), err)
	}
	return &GocanBridge{adapter: adapter, cancel: cancel}, nil
}

func (g *GocanBridge) Send(frame *can.Frame) error {
	out := gocan.NewFrame(frame.ID, frame.Data, gocan.Outgoing)
	select {
	case g.adapter.Send() <- out:
		return nil
	default:
		return fmt.Errorf("adapter %s send queue full", g.adapter.Name())
	}
}

func (g *GocanBridge) Recv(timeout time.Duration) ([]*can.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []*can.Frame
	for {
		select {
		case f, ok := <-g.adapter.Recv():
			if !ok {
				return out, can.ErrClosed
			}
			out = append(out, fromGocanFrame(f))
			// Drain without waiting for the rest of the window.
			for {
				select {
				case next, ok := <-g.adapter.Recv():
					if !ok {
						return out, nil
					}
					out = append(out, fromGocanFrame(next))
				default:
					return out, nil
				}
			}
		case err := <-g.adapter.Err():
			if err != nil {
				return out, err
			}
		case <-timer.C:
			return out, nil
		}
	}
}

func fromGocanFrame(f gocan.CANFrame) *can.Frame {
	kind := can.Standard11
	if f.Identifier() > can.MaxStandardID {
		kind = can.Extended29
	}
	data := make([]byte, len(f.Data()))
	copy(data, f.Data())
	return &can.Frame{ID: f.Identifier(), Kind: kind, Data: data}
}

func (g *GocanBridge) Close() error {
	g.cancel()
	return g.adapter.Close()
}
