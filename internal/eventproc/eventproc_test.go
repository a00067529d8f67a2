package eventproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos-faas/internal/callback"
	"github.com/tos-network/gtos-faas/internal/events"
	"github.com/tos-network/gtos-faas/internal/registry"
)

type queueSource struct {
	mu    sync.Mutex
	items []events.Event
}

func (q *queueSource) push(ev events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, ev)
}

func (q *queueSource) Next(ctx context.Context) (events.Event, bool, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return events.Event{}, false, nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakeOrchestrator struct {
	mu    sync.Mutex
	fired []string
}

func (f *fakeOrchestrator) Fire(ctx context.Context, fn *registry.FunctionVersion, triggerID string, ev events.Event, maxExecutionTime time.Duration) (*callback.CallbackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, triggerID)
	return &callback.CallbackResult{CallbackID: "cb-" + triggerID, Status: callback.StatusSuccess}, nil
}

func (f *fakeOrchestrator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func TestProcessor_FiresOnMatch(t *testing.T) {
	orch := &fakeOrchestrator{}
	source := &queueSource{}
	svc := NewService(orch)
	svc.RegisterSource("src", source)

	fn := &registry.FunctionVersion{ID: "fn-1", Principal: "alice"}
	req := CreateProcessorRequest{
		ID:       "proc-1",
		Function: fn,
		Triggers: map[string]registry.TriggerSpec{
			"trig-1": {Tag: registry.TriggerCustom, EventName: "order_placed"},
		},
		SourceName:         "src",
		ProcessingInterval: 10 * time.Millisecond,
	}
	_, err := svc.Create(req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx, "proc-1"))

	source.push(events.Event{Tag: events.TagCustom, EventName: "order_placed"})
	source.push(events.Event{Tag: events.TagCustom, EventName: "something_else"})

	require.Eventually(t, func() bool { return orch.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Stop("proc-1"))
	p, ok := svc.Get("proc-1")
	require.True(t, ok)
	<-p.Done()
	require.False(t, p.IsRunning())
}

func TestProcessor_StopIsCooperative(t *testing.T) {
	orch := &fakeOrchestrator{}
	source := &queueSource{}
	svc := NewService(orch)
	svc.RegisterSource("src", source)

	fn := &registry.FunctionVersion{ID: "fn-1"}
	_, err := svc.Create(CreateProcessorRequest{
		ID:                 "proc-2",
		Function:           fn,
		Triggers:           map[string]registry.TriggerSpec{},
		SourceName:         "src",
		ProcessingInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "proc-2"))
	p, _ := svc.Get("proc-2")
	require.True(t, p.IsRunning())

	require.NoError(t, svc.Delete("proc-2"))
	<-p.Done()
	_, ok := svc.Get("proc-2")
	require.False(t, ok)
}

func TestCreate_UnknownSourceFails(t *testing.T) {
	svc := NewService(&fakeOrchestrator{})
	_, err := svc.Create(CreateProcessorRequest{ID: "x", Function: &registry.FunctionVersion{}, SourceName: "missing"})
	require.ErrorIs(t, err, ErrSourceNotFound)
}
