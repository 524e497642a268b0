package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"pngtools/internal/interp"
)

// ErrScopeActive is returned by Acquire while another scope holds the runtime.
var ErrScopeActive = errors.New("runtime scope already active")

// active is set for as long as a Scope is held.
var active atomic.Bool

// Scope is exclusive access to a started runtime.
type Scope struct {
	rt interp.Runtime

	once sync.Once
	err  error
}

// Acquire starts rt and returns the process-wide scope over it. Only one
// scope may be held at a time.
func Acquire(ctx context.Context, rt interp.Runtime) (*Scope, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, &Error{Kind: RuntimeAcquisition, Op: "acquire runtime", Err: ErrScopeActive}
	}

	if err := rt.Start(ctx); err != nil {
		rt.Close()
		active.Store(false)
		return nil, &Error{Kind: RuntimeAcquisition, Op: "start " + rt.Name() + " runtime", Err: err}
	}
	return &Scope{rt: rt}, nil
}

// Runtime returns the runtime the scope holds.
func (s *Scope) Runtime() interp.Runtime {
	return s.rt
}

// Release closes the runtime and frees the scope. Only the first call has
// any effect.
func (s *Scope) Release() error {
	s.once.Do(func() {
		s.err = s.rt.Close()
		active.Store(false)
	})
	return s.err
}
