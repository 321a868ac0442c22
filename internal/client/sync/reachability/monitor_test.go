package reachability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offlinesync/internal/client/sync/events"
)

// scriptedProber возвращает результаты по очереди, последний повторяется
type scriptedProber struct {
	results []error
	calls   int
	mu      sync.Mutex
}

func (p *scriptedProber) Health(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls
	p.calls++
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	return p.results[i]
}

func receive(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("no reachability update")
		return false
	}
}

func TestMonitor_EmitsTransitionsOnly(t *testing.T) {
	down := errors.New("connection refused")
	prober := &scriptedProber{results: []error{nil, nil, down, down, nil}}

	hub := events.NewHub(nil)
	sub, cancelSub := hub.Subscribe(8)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := New(prober, WithInterval(time.Millisecond), WithHub(hub)).Watch(ctx)

	assert.True(t, receive(t, ch))
	assert.False(t, receive(t, ch))
	assert.True(t, receive(t, ch))

	var statuses []bool
	for len(sub) > 0 {
		ev := <-sub
		require.Equal(t, events.NetworkStatus, ev.Name)
		statuses = append(statuses, ev.Data.(events.NetworkStatusData).Online)
	}
	assert.Equal(t, []bool{true, false, true}, statuses)
}

func TestMonitor_ClosesOnCancel(t *testing.T) {
	prober := &scriptedProber{results: []error{nil}}
	ctx, cancel := context.WithCancel(context.Background())

	ch := New(prober, WithInterval(time.Millisecond)).Watch(ctx)
	assert.True(t, receive(t, ch))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestNew_Defaults(t *testing.T) {
	m := New(&scriptedProber{}, WithInterval(-1), WithTimeout(0))
	assert.Equal(t, DefaultInterval, m.interval)
	assert.Equal(t, DefaultTimeout, m.timeout)
}
