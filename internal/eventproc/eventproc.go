// Package eventproc implements the Event Processor (C6): one
// long-running cooperative task per (principal, function), pulling
// events from a bound TaskSource, fanning them through the trigger
// evaluator (C5), and handing matches to the callback orchestrator
// (C7), per spec.md §4.6.
package eventproc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tos-network/gtos-faas/internal/callback"
	"github.com/tos-network/gtos-faas/internal/events"
	"github.com/tos-network/gtos-faas/internal/registry"
	"github.com/tos-network/gtos-faas/internal/trigger"
	"github.com/tos-network/gtos-faas/log"
)

// DefaultProcessingInterval is the sleep between loop iterations when a
// processor has no explicit override, per spec.md §4.6.
const DefaultProcessingInterval = time.Second

// TaskSource is an asynchronous pull stream of events for one
// (principal, function), per the GLOSSARY entry in spec.md §9.
type TaskSource interface {
	// Next blocks until an event is available, ctx is cancelled, or the
	// source is exhausted (ok=false, err=nil).
	Next(ctx context.Context) (ev events.Event, ok bool, err error)
}

// Orchestrator is the subset of callback.Orchestrator a Processor needs;
// declared here so tests can substitute a fake without constructing a
// real kvstore/sandbox/ledger stack.
type Orchestrator interface {
	Fire(ctx context.Context, fn *registry.FunctionVersion, triggerID string, ev events.Event, maxExecutionTime time.Duration) (*callback.CallbackResult, error)
}

var (
	ErrAlreadyRunning = errors.New("eventproc: processor already running")
	ErrNotFound       = errors.New("eventproc: processor not found")
	ErrSourceNotFound = errors.New("eventproc: task source not registered")
)

// namedTrigger pairs a TriggerSpec with the trigger_id identifying it in
// callback results.
type namedTrigger struct {
	ID   string
	Spec registry.TriggerSpec
}

// Processor runs the per-(principal, function) loop of spec.md §4.6.
type Processor struct {
	ID                 string
	fn                 *registry.FunctionVersion
	triggers           []namedTrigger
	source             TaskSource
	orch               Orchestrator
	processingInterval time.Duration
	maxExecutionTime   time.Duration

	running int32 // atomic run-flag; 1 = should keep looping
	done    chan struct{}
	cancel  context.CancelFunc // cancels the loop's context so a pending source.Next returns
	log     log.Logger
}

// IsRunning reports whether the processor's loop is currently active.
func (p *Processor) IsRunning() bool { return atomic.LoadInt32(&p.running) == 1 }

// Done is closed once the loop has exited after Stop.
func (p *Processor) Done() <-chan struct{} { return p.done }

func newProcessor(id string, fn *registry.FunctionVersion, triggers []namedTrigger, source TaskSource, orch Orchestrator, interval, maxExecTime time.Duration) *Processor {
	if interval <= 0 {
		interval = DefaultProcessingInterval
	}
	return &Processor{
		ID:                 id,
		fn:                 fn,
		triggers:           triggers,
		source:             source,
		orch:               orch,
		processingInterval: interval,
		maxExecutionTime:   maxExecTime,
		done:               make(chan struct{}),
		log:                log.New("component", "eventproc", "processor", id),
	}
}

// loop is the cooperative task body: acquire, evaluate, dispatch, sleep.
func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)
	for {
		if atomic.LoadInt32(&p.running) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, ok, err := p.source.Next(ctx)
		if err != nil {
			p.log.Warn("task source error", "err", err)
		} else if ok {
			for _, nt := range p.triggers {
				if trigger.Evaluate(nt.Spec, ev) {
					if _, err := p.orch.Fire(ctx, p.fn, nt.ID, ev, p.maxExecutionTime); err != nil && err != callback.ErrAlreadyProcessed {
						p.log.Warn("callback fire failed", "trigger_id", nt.ID, "err", err)
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.processingInterval):
		}
	}
}

// Service supervises named TaskSources and Processors by id, per the
// "supervising service" described in spec.md §4.6.
type Service struct {
	mu         sync.Mutex
	sources    map[string]TaskSource
	processors map[string]*Processor
	orch       Orchestrator
	log        log.Logger
}

// NewService creates a Service dispatching fired triggers through orch.
func NewService(orch Orchestrator) *Service {
	return &Service{
		sources:    make(map[string]TaskSource),
		processors: make(map[string]*Processor),
		orch:       orch,
		log:        log.New("component", "eventproc"),
	}
}

// RegisterSource names a TaskSource so processors can bind to it by name.
func (s *Service) RegisterSource(name string, source TaskSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = source
}

// CreateProcessorRequest names the function, its triggers, and the
// bound source for a new Processor.
type CreateProcessorRequest struct {
	ID                 string
	Function           *registry.FunctionVersion
	Triggers           map[string]registry.TriggerSpec // trigger_id -> spec
	SourceName         string
	ProcessingInterval time.Duration
	MaxExecutionTime   time.Duration
}

// Create registers a new, not-yet-started Processor.
func (s *Service) Create(req CreateProcessorRequest) (*Processor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processors[req.ID]; exists {
		return nil, ErrAlreadyRunning
	}
	source, ok := s.sources[req.SourceName]
	if !ok {
		return nil, ErrSourceNotFound
	}
	triggers := make([]namedTrigger, 0, len(req.Triggers))
	for id, spec := range req.Triggers {
		triggers = append(triggers, namedTrigger{ID: id, Spec: spec})
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := newProcessor(id, req.Function, triggers, source, s.orch, req.ProcessingInterval, req.MaxExecutionTime)
	s.processors[id] = p
	return p, nil
}

// Start begins a Processor's loop under ctx. Starting an already-running
// Processor is a no-op.
func (s *Service) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.processors[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return nil
	}
	p.done = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.loop(runCtx)
	return nil
}

// Stop flips the processor's run-flag and cancels the loop's context, so a
// loop blocked in source.Next returns too; the loop exits at its next
// iteration boundary (spec.md §4.6).
func (s *Service) Stop(id string) error {
	s.mu.Lock()
	p, ok := s.processors[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	atomic.StoreInt32(&p.running, 0)
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// Delete stops the processor (if running) and removes it.
func (s *Service) Delete(id string) error {
	if err := s.Stop(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processors, id)
	return nil
}

// Get returns the named Processor, if any.
func (s *Service) Get(id string) (*Processor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processors[id]
	return p, ok
}
