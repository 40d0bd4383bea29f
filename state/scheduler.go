package state

import (
	"fmt"
	"time"
)

// Dispatch queues the function to run on the node's dispatch loop without
// waiting for it to complete.
func (e *Env) Dispatch(fun func(*State) error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case e.DispatchChannel <- fun:
	case <-e.Context.Done():
	}
}

// DispatchWait queues the function on the dispatch loop and waits for its
// result. Used by code outside the loop that needs a consistent read.
func (e *Env) DispatchWait(fun func(*State) (any, error)) (any, error) {
	ret := make(chan Pair[any, error], 1)
	e.Dispatch(func(s *State) error {
		res, err := fun(s)
		ret <- Pair[any, error]{res, err}
		return nil
	})
	select {
	case res := <-ret:
		return res.V1, res.V2
	case <-e.Context.Done():
		return nil, e.Context.Err()
	}
}

func (e *Env) repeatedTask(fun func(*State) error, delay time.Duration) {
	defer e.Tasks.Done()
	for {
		select {
		case <-e.Context.Done():
			return
		case <-time.After(delay):
			e.Dispatch(fun)
		}
	}
}

// RepeatTask dispatches fun every delay until the environment shuts down.
func (e *Env) RepeatTask(fun func(*State) error, delay time.Duration) {
	e.Tasks.Add(1)
	go e.repeatedTask(fun, delay)
}
