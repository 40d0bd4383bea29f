package core

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/fennelnet/fennel/state"
	"github.com/google/go-cmp/cmp"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// TransportHarness records every outbound transmission so tests can assert
// on the driver's advertisement and forwarding policy.
type TransportHarness struct {
	actions []HarnessEvent
}

func (h *TransportHarness) Send(msg state.Message, port state.Port) {
	h.actions = append(h.actions, MakeEvent("SEND", msg, port))
}

func (h *TransportHarness) Flood(msg state.Message, exclude state.Port) {
	h.actions = append(h.actions, MakeEvent("FLOOD", msg, exclude))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

func (h *TransportHarness) GetActions() HarnessEvents {
	x := slices.Clone(h.actions)
	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message != msg || len(event.Args) < len(args) {
			continue
		}
		match := true
		for i, arg := range args {
			if !cmp.Equal(event.Args[i], arg) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

// changeRecorder counts observer notifications per host.
type changeRecorder struct {
	hosts []state.Host
}

func (c *changeRecorder) RouteChanged(host state.Host) {
	c.hosts = append(c.hosts, host)
}

func (c *changeRecorder) take() []state.Host {
	x := c.hosts
	c.hosts = nil
	return x
}

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestEnv(poison bool, clock func() time.Time) *state.Env {
	cfg := state.NodeCfg{Id: "a", PoisonReverse: poison, DisableLogging: true}
	cfg.ApplyDefaults()
	return &state.Env{
		NodeCfg: cfg,
		Log:     slog.New(slog.DiscardHandler),
		Clock:   clock,
	}
}

func newTestDriver(poison bool, clock func() time.Time) (*Driver, *TransportHarness) {
	h := &TransportHarness{}
	return NewDriver(newTestEnv(poison, clock), h), h
}
