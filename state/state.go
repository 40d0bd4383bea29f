package state

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State access must be done only on a single Goroutine: the node's dispatch
// loop owns it exclusively.
type State struct {
	*Env
}

// Env can be read from any Goroutine.
type Env struct {
	DispatchChannel chan func(s *State) error
	NodeCfg
	Context context.Context
	Cancel  context.CancelCauseFunc
	Log     *slog.Logger
	// Clock stamps route entries. Nil means the wall clock; tests and hosts
	// with their own notion of time inject a replacement.
	Clock    func() time.Time
	Stopping atomic.Bool
	// Tasks tracks the background scheduler goroutines so shutdown can wait
	// for them.
	Tasks sync.WaitGroup
}

// Now returns the host-provided time, falling back to the wall clock.
func (e *Env) Now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}
