// Package secrettest provides test doubles for the secret package.
package secrettest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/secretops/secret"
)

// ErrScriptExhausted is returned once every scripted response has been used
// and no fallback is set.
var ErrScriptExhausted = errors.New("secrettest: script exhausted")

// Response is one scripted backend answer.
type Response struct {
	Secret secret.Secret
	Err    error
	// Delay is waited out, honoring the context, before answering.
	Delay time.Duration
}

// Value answers with a secret holding v.
func Value(v string) Response {
	return Response{Secret: secret.Secret{Value: v}}
}

// Versioned answers with a secret holding v at version.
func Versioned(v, version string) Response {
	return Response{Secret: secret.Secret{Value: v, Version: version}}
}

// Fail answers with err.
func Fail(err error) Response {
	return Response{Err: err}
}

// FailKind answers with a *secret.Error of kind.
func FailKind(kind secret.Kind) Response {
	return Response{Err: secret.NewError(kind, nil)}
}

// Request records one Fetch call.
type Request struct {
	Name    string
	Version string
}

// SimulatedBackend replays scripted responses in order.
//
// It is safe for concurrent use. Calls counts every Fetch, including those
// that were canceled before answering.
type SimulatedBackend struct {
	name string

	mu       sync.Mutex
	script   []Response
	next     int
	fallback *Response
	requests []Request
	gate     <-chan struct{}

	calls  atomic.Int64
	closed atomic.Bool
}

// NewSimulatedBackend creates a backend called name answering with script.
func NewSimulatedBackend(name string, script ...Response) *SimulatedBackend {
	return &SimulatedBackend{name: name, script: script}
}

// Always creates a backend that answers every call with r.
func Always(name string, r Response) *SimulatedBackend {
	b := NewSimulatedBackend(name)
	b.SetFallback(r)
	return b
}

// Push appends responses to the script.
func (b *SimulatedBackend) Push(rs ...Response) {
	b.mu.Lock()
	b.script = append(b.script, rs...)
	b.mu.Unlock()
}

// SetFallback sets the answer used after the script runs out.
func (b *SimulatedBackend) SetFallback(r Response) {
	b.mu.Lock()
	b.fallback = &r
	b.mu.Unlock()
}

// SetGate makes every Fetch block until gate is closed or receives.
func (b *SimulatedBackend) SetGate(gate <-chan struct{}) {
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()
}

// Name implements secret.Backend.
func (b *SimulatedBackend) Name() string {
	return b.name
}

// Fetch implements secret.Backend.
func (b *SimulatedBackend) Fetch(ctx context.Context, name, version string) (secret.Secret, error) {
	b.calls.Add(1)

	b.mu.Lock()
	b.requests = append(b.requests, Request{Name: name, Version: version})
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return secret.Secret{}, ctx.Err()
		}
	}

	r := b.take()
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return secret.Secret{}, ctx.Err()
		}
	}
	if r.Err != nil {
		return secret.Secret{}, r.Err
	}
	return r.Secret, nil
}

func (b *SimulatedBackend) take() Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.next < len(b.script) {
		r := b.script[b.next]
		b.next++
		return r
	}
	if b.fallback != nil {
		return *b.fallback
	}
	return Response{Err: ErrScriptExhausted}
}

// Calls returns the number of Fetch calls.
func (b *SimulatedBackend) Calls() int {
	return int(b.calls.Load())
}

// Requests returns a copy of the recorded requests.
func (b *SimulatedBackend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// Close marks the backend closed.
func (b *SimulatedBackend) Close() error {
	b.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (b *SimulatedBackend) Closed() bool {
	return b.closed.Load()
}

// PingBackend adds a Ping method to a SimulatedBackend.
type PingBackend struct {
	*SimulatedBackend
	PingErr error
}

// Ping returns PingErr.
func (b *PingBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.PingErr
}
