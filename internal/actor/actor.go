// Package actor provides the single-writer event loop used by chat consumers.
//
// A single goroutine owns the state. Callers and runtimes never mutate it;
// they enqueue inputs. A pure reducer turns (state, input) into the next state
// plus declarative effects, and a Runtime executes those effects and feeds
// their results back as new inputs.
package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by helpers when the actor has been stopped.
var ErrStopped = errors.New("actor stopped")

// Input is an item delivered to an actor mailbox: either a command from a
// caller or an event emitted by the runtime.
type Input interface {
	isActorInput()
}

// Effect is a declarative side-effect produced by a reducer.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition function. It must not perform I/O,
// spawn goroutines or read the clock.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs back to the actor.
type Runtime interface {
	// HandleEffects executes effects. It must return quickly; blocking work
	// runs asynchronously and reports back through emit. Inputs emitted
	// before HandleEffects returns are reduced next; emit called later blocks
	// until the mailbox has room or the actor stops.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background work. It may be called multiple times.
	Stop()
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnTransition is called after every reduction with the previous and
	// next state.
	OnTransition func(prev S, next S, input Input)
	// OnEffects is called before effects are handed to the Runtime.
	OnEffects func(effects []Effect)
	// OnPanic is called when reducing or running effects for one input
	// panics. The loop keeps running with the previous state.
	OnPanic func(input Input, recovered any)
}

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu      sync.Mutex
	state   S
	inbox   chan Input
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	start   sync.Once
	stop    sync.Once
	dropped atomic.Int64
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the actor mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.inbox = make(chan Input, n)
		}
	}
}

// New creates a new actor with initial state, reducer and runtime.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the actor loop. Calling Start more than once has no effect.
func (a *Actor[S]) Start() {
	a.start.Do(func() { go a.loop() })
}

// Stop cancels the actor context and stops the runtime. Inputs still queued
// are discarded. Stop is safe to call multiple times.
func (a *Actor[S]) Stop() {
	a.stop.Do(func() {
		a.cancel()
		if a.runtime != nil {
			a.runtime.Stop()
		}
	})
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Context returns the actor's lifetime context; it is canceled by Stop.
func (a *Actor[S]) Context() context.Context { return a.ctx }

// Enqueue delivers an input to the mailbox without blocking.
//
// It returns false when the actor is stopped or the mailbox is full; full
// mailboxes drop the input and count it in Dropped.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil {
		return false
	}
	if a.ctx.Err() != nil {
		return false
	}
	select {
	case a.inbox <- input:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

// Send delivers an input, waiting for mailbox space until ctx or the actor
// is done. Commands issued by callers use Send so they are never dropped.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many inputs Enqueue rejected because the mailbox was
// full.
func (a *Actor[S]) Dropped() int64 { return a.dropped.Load() }

// State returns a snapshot of the current state.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor[S]) loop() {
	defer close(a.done)

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}
			queue := []Input{in}
			for len(queue) > 0 && a.ctx.Err() == nil {
				next := queue[0]
				queue = append(queue[1:], a.step(next)...)
			}
		}
	}
}

// step reduces one input and runs its effects. Inputs the runtime emits
// before HandleEffects returns are handed back and reduced ahead of the
// mailbox; later emits wait for mailbox space.
func (a *Actor[S]) step(in Input) []Input {
	em := &emitter[S]{actor: a}
	a.apply(in, em.emit)
	return em.finish()
}

// apply confines a panic to the input that caused it.
func (a *Actor[S]) apply(in Input, emit func(Input)) {
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic == nil {
				panic(r)
			}
			a.hooks.OnPanic(in, r)
		}
	}()

	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) == 0 {
		return
	}
	if a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, emit)
	}
}

// emitter is the emit function handed to the runtime for one step.
type emitter[S any] struct {
	actor *Actor[S]

	mu       sync.Mutex
	returned bool
	pending  []Input
}

func (e *emitter[S]) emit(in Input) {
	if in == nil {
		return
	}
	e.mu.Lock()
	if !e.returned {
		e.pending = append(e.pending, in)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Called from runtime goroutines: wait for space until the actor stops.
	_ = e.actor.Send(e.actor.ctx, in)
}

func (e *emitter[S]) finish() []Input {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.returned = true
	pending := e.pending
	e.pending = nil
	return pending
}
