package can

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultP2Star is the extended deadline applied after a UDS
	// response-pending negative response (NRC 0x78).
	DefaultP2Star = 5 * time.Second
	// DefaultMaxPending bounds the total time an exchange may be held
	// open by repeated response-pending notifications.
	DefaultMaxPending = 30 * time.Second
)

type awaiter struct {
	frames chan *Frame
	done   chan struct{}
}

// Exchanger couples requests with their responses. Before sending it
// publishes an awaiter keyed by the expected response identifiers, then
// blocks the caller until the dispatch sink resolves it or the deadline
// passes. At most one exchange is outstanding per response id; a second
// request on the same id waits for the first to resolve.
//
// Response-pending handling lives here rather than in the UDS client so
// that every consumer of the coordinator gets it: a 7F <sid> 78 payload
// does not resolve the awaiter but extends its deadline by P2Star.
type Exchanger struct {
	p *Protocol

	P2Star     time.Duration
	MaxPending time.Duration

	mu       sync.Mutex
	awaiters map[uint32]*awaiter
	sinkID   int
	closed   bool
	quit     chan struct{}
}

// NewExchanger installs a dispatch sink on the protocol and returns the
// coordinator.
func NewExchanger(p *Protocol) *Exchanger {
	e := &Exchanger{
		p:          p,
		P2Star:     DefaultP2Star,
		MaxPending: DefaultMaxPending,
		awaiters:   make(map[uint32]*awaiter),
		quit:       make(chan struct{}),
	}
	e.sinkID = p.Subscribe(e.onFrame)
	return e
}

func (e *Exchanger) onFrame(f *Frame) {
	e.mu.Lock()
	a, ok := e.awaiters[f.ID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case a.frames <- f:
	default:
		// Awaiter is not consuming; drop rather than block dispatch.
	}
}

// register claims every response id for a single awaiter, waiting out
// any exchange already holding one of them.
func (e *Exchanger) register(ctx context.Context, ids []uint32) (*awaiter, error) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrCancelled
		}
		var busy *awaiter
		for _, id := range ids {
			if a, ok := e.awaiters[id]; ok {
				busy = a
				break
			}
		}
		if busy == nil {
			a := &awaiter{frames: make(chan *Frame, 4), done: make(chan struct{})}
			for _, id := range ids {
				e.awaiters[id] = a
			}
			e.mu.Unlock()
			return a, nil
		}
		e.mu.Unlock()

		select {
		case <-busy.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}
}

func (e *Exchanger) release(ids []uint32, a *awaiter) {
	e.mu.Lock()
	for _, id := range ids {
		if e.awaiters[id] == a {
			delete(e.awaiters, id)
		}
	}
	e.mu.Unlock()
	close(a.done)
}

// Exchange sends the frame and waits for a payload on any of the given
// response identifiers.
func (e *Exchanger) Exchange(ctx context.Context, frame *Frame, timeout time.Duration, responseIDs ...uint32) ([]byte, error) {
	if len(responseIDs) == 0 {
		return nil, fmt.Errorf("exchange without response identifiers")
	}
	a, err := e.register(ctx, responseIDs)
	if err != nil {
		return nil, err
	}
	defer e.release(responseIDs, a)

	if err := e.p.Send(frame); err != nil {
		return nil, err
	}
	return e.wait(ctx, a, timeout)
}

// Send forwards a frame without expecting a response, for
// suppressed-response services like tester present.
func (e *Exchanger) Send(frame *Frame) error {
	return e.p.Send(frame)
}

// Wait listens for the next payload on the given identifiers without
// sending anything. Used for responses that span several frames.
func (e *Exchanger) Wait(ctx context.Context, timeout time.Duration, responseIDs ...uint32) ([]byte, error) {
	if len(responseIDs) == 0 {
		return nil, fmt.Errorf("wait without response identifiers")
	}
	a, err := e.register(ctx, responseIDs)
	if err != nil {
		return nil, err
	}
	defer e.release(responseIDs, a)
	return e.wait(ctx, a, timeout)
}

func (e *Exchanger) wait(ctx context.Context, a *awaiter, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	overall := time.NewTimer(e.MaxPending)
	defer overall.Stop()

	for {
		select {
		case f := <-a.frames:
			payload := StripLengthPrefix(f.Data)
			if len(payload) >= 3 && payload[0] == 0x7F && payload[2] == 0x78 {
				// Response pending: push the deadline out and keep
				// waiting, bounded by the overall timer.
				if !deadline.Stop() {
					select {
					case <-deadline.C:
					default:
					}
				}
				deadline.Reset(e.P2Star)
				continue
			}
			return f.Data, nil
		case <-deadline.C:
			return nil, ErrTimeout
		case <-overall.C:
			return nil, ErrTimeout
		case <-e.quit:
			return nil, ErrCancelled
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}
}

// Close removes the dispatch sink and fails any callers blocked in
// Exchange with ErrCancelled.
func (e *Exchanger) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.quit)
	e.mu.Unlock()
	e.p.Unsubscribe(e.sinkID)
}
