package core

import (
	"context"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/encodeous/tint"
	"github.com/fennelnet/fennel/perf"
	"github.com/fennelnet/fennel/state"
	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the node's logger: a tint console handler prefixed with
// the node id, fanned out to an optional log file.
func NewLogger(cfg state.NodeCfg, level slog.Level) (*slog.Logger, error) {
	if cfg.DisableLogging {
		return slog.New(slog.DiscardHandler), nil
	}
	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: string(cfg.Id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}),
	}
	if cfg.LogPath != "" {
		if err := os.MkdirAll(path.Dir(cfg.LogPath), 0700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Node owns one routing engine and the dispatch environment it runs in.
type Node struct {
	State  *state.State
	Driver *Driver
}

// NewNode wires a driver into a fresh single-goroutine dispatch environment
// and schedules its periodic timer. The caller provides the transport and
// runs MainLoop to start processing events.
func NewNode(ctx context.Context, cfg state.NodeCfg, log *slog.Logger, tr Transport) *Node {
	cfg.ApplyDefaults()
	nctx, cancel := context.WithCancelCause(ctx)
	env := &state.Env{
		DispatchChannel: make(chan func(*state.State) error, 128),
		NodeCfg:         cfg,
		Context:         nctx,
		Cancel:          cancel,
		Log:             log,
	}
	n := &Node{
		State:  &state.State{Env: env},
		Driver: NewDriver(env, tr),
	}
	env.RepeatTask(func(*state.State) error {
		n.Driver.HandleTimer()
		return nil
	}, cfg.TimerInterval.Std())
	return n
}

// MainLoop drains the dispatch channel until the environment shuts down.
// All table and driver state is touched exclusively from here. Handler
// errors are local, recoverable conditions: they are logged and the loop
// keeps going.
func MainLoop(s *state.State) {
	s.Log.Debug("started main loop")
	for {
		select {
		case fun := <-s.DispatchChannel:
			if fun == nil {
				continue
			}
			start := time.Now()
			if err := fun(s); err != nil {
				s.Log.Warn("event rejected", "error", err)
			}
			perf.DispatchLatency.Add(float64(time.Since(start).Microseconds()))
		case <-s.Context.Done():
			s.Log.Debug("stopped main loop", "reason", context.Cause(s.Context))
			return
		}
	}
}

// Stop shuts the node down and waits for its scheduler tasks to exit.
func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Tasks.Wait()
}
