package can_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/transport"
)

func newProtocol(t *testing.T) (*can.Protocol, *transport.Loopback) {
	t.Helper()
	lb := transport.NewLoopback()
	cfg := can.DefaultConfig()
	p, err := can.New(lb, cfg)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p, lb
}

func TestNewRejectsBadBaudRate(t *testing.T) {
	cfg := can.DefaultConfig()
	cfg.BaudRate = 123_456
	_, err := can.New(transport.NewLoopback(), cfg)
	assert.ErrorIs(t, err, can.ErrInvalidBaudRate)
}

func TestSendValidatesAndCounts(t *testing.T) {
	p, lb := newProtocol(t)

	f, err := can.NewFrame(0x7E0, []byte{0x3E, 0x00})
	require.NoError(t, err)
	require.NoError(t, p.Send(f))

	bad := &can.Frame{ID: 0x900, Kind: can.Standard11}
	assert.Error(t, p.Send(bad))

	assert.Len(t, lb.Sent(), 1)
	assert.Equal(t, uint64(1), p.Statistics().Sent)
}

func TestDispatchDeliversInOrder(t *testing.T) {
	p, lb := newProtocol(t)

	var mu sync.Mutex
	var first, second []uint32
	p.Subscribe(func(f *can.Frame) {
		mu.Lock()
		first = append(first, f.ID)
		mu.Unlock()
	})
	p.Subscribe(func(f *can.Frame) {
		mu.Lock()
		second = append(second, f.ID)
		mu.Unlock()
	})

	for _, id := range []uint32{0x100, 0x200, 0x300} {
		lb.Inject(&can.Frame{ID: id, Kind: can.Standard11, Data: []byte{1}})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 3 && len(second) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{0x100, 0x200, 0x300}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(3), p.Statistics().Received)
}

func TestDispatchStampsTimestamps(t *testing.T) {
	p, lb := newProtocol(t)

	got := make(chan *can.Frame, 1)
	p.Subscribe(func(f *can.Frame) {
		select {
		case got <- f:
		default:
		}
	})
	lb.Inject(&can.Frame{ID: 0x123, Kind: can.Standard11})

	select {
	case f := <-got:
		assert.False(t, f.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestDispatchAppliesFilters(t *testing.T) {
	p, lb := newProtocol(t)
	p.AddFilter(can.Filter{Pattern: 0x7E8, Mask: 0x7FF, Kind: can.Standard11, Action: can.Drop})

	var mu sync.Mutex
	var seen []uint32
	p.Subscribe(func(f *can.Frame) {
		mu.Lock()
		seen = append(seen, f.ID)
		mu.Unlock()
	})

	lb.Inject(&can.Frame{ID: 0x7E8, Kind: can.Standard11})
	lb.Inject(&can.Frame{ID: 0x7E9, Kind: can.Standard11})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint32{0x7E9}, seen)
	mu.Unlock()
	assert.Eventually(t, func() bool {
		return p.Statistics().FilterRejected == 1
	}, time.Second, 10*time.Millisecond)
}

func TestExchangeResolvesOnResponse(t *testing.T) {
	p, lb := newProtocol(t)
	lb.OnSend(func(f *can.Frame) []*can.Frame {
		if f.ID == 0x7E0 {
			return []*can.Frame{{ID: 0x7E8, Kind: can.Standard11, Data: []byte{0x02, 0x50, 0x03}}}
		}
		return nil
	})

	ex := can.NewExchanger(p)
	defer ex.Close()

	req, err := can.NewFrame(0x7E0, []byte{0x10, 0x03})
	require.NoError(t, err)

	payload, err := ex.Exchange(context.Background(), req, time.Second, 0x7E8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x50, 0x03}, payload)
}

func TestExchangeTimesOut(t *testing.T) {
	p, _ := newProtocol(t)
	ex := can.NewExchanger(p)
	defer ex.Close()

	req, err := can.NewFrame(0x7E0, []byte{0x10, 0x03})
	require.NoError(t, err)

	_, err = ex.Exchange(context.Background(), req, 50*time.Millisecond, 0x7E8)
	assert.ErrorIs(t, err, can.ErrTimeout)
}

func TestExchangeAbsorbsResponsePending(t *testing.T) {
	p, lb := newProtocol(t)
	lb.OnSend(func(f *can.Frame) []*can.Frame {
		// Three response-pending notifications, then the answer. The
		// responder runs on its own goroutine, so it may sleep.
		for i := 0; i < 3; i++ {
			lb.Inject(&can.Frame{ID: 0x7E8, Kind: can.Standard11, Data: []byte{0x03, 0x7F, 0x22, 0x78}})
			time.Sleep(30 * time.Millisecond)
		}
		lb.Inject(&can.Frame{ID: 0x7E8, Kind: can.Standard11, Data: []byte{0x04, 0x62, 0xF1, 0x90, 0x31}})
		return nil
	})

	ex := can.NewExchanger(p)
	defer ex.Close()
	ex.P2Star = time.Second

	req, err := can.NewFrame(0x7E0, []byte{0x22, 0xF1, 0x90})
	require.NoError(t, err)

	payload, err := ex.Exchange(context.Background(), req, 100*time.Millisecond, 0x7E8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x62, 0xF1, 0x90, 0x31}, payload)
}

func TestExchangeCancelledOnClose(t *testing.T) {
	p, _ := newProtocol(t)
	ex := can.NewExchanger(p)

	req, err := can.NewFrame(0x7E0, []byte{0x22, 0xF1, 0x90})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := ex.Exchange(context.Background(), req, 5*time.Second, 0x7E8)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ex.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, can.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("exchange did not resolve on close")
	}
}

func TestExchangeSerializesPerResponseID(t *testing.T) {
	p, lb := newProtocol(t)
	ex := can.NewExchanger(p)
	defer ex.Close()

	lb.OnSend(func(f *can.Frame) []*can.Frame {
		time.Sleep(50 * time.Millisecond)
		return []*can.Frame{{ID: 0x7E8, Kind: can.Standard11, Data: []byte{0x02, 0x7E, 0x00}}}
	})

	req, err := can.NewFrame(0x7E0, []byte{0x3E, 0x00})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ex.Exchange(context.Background(), req, time.Second, 0x7E8)
		}(i)
	}
	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}
