package sim

import (
	"log/slog"
	"testing"
	"time"

	"github.com/fennelnet/fennel/state"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testNode(id state.NodeId) state.NodeCfg {
	return state.NodeCfg{
		Id:             id,
		PoisonReverse:  true,
		TimerInterval:  state.Duration(25 * time.Millisecond),
		DisableLogging: true,
	}
}

// triangle is a, b, c fully meshed with a cheap two-hop path a-b-c and an
// expensive direct link a-c, plus host h behind c.
func triangle() state.TopologyCfg {
	return state.TopologyCfg{
		Nodes: []state.NodeCfg{testNode("a"), testNode("b"), testNode("c")},
		Links: []state.LinkCfg{
			{A: "a", B: "b", Latency: 1},
			{A: "b", B: "c", Latency: 1},
			{A: "a", B: "c", Latency: 5},
		},
		Hosts: []state.HostCfg{{Id: "h", Attach: "c"}},
	}
}

func routeConverged(net *Network, node state.NodeId, host state.Host, distance state.Distance) func() bool {
	return func() bool {
		entry, err := net.Route(node, host)
		return err == nil && entry.Distance == distance
	}
}

func TestTriangleConvergesOnCheapestPath(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := triangle()
	net, err := Build(&cfg, slog.LevelError)
	require.NoError(t, err)
	defer net.Stop()

	// h is one hop from c, so a's best path is a-b-c-h at 1+1+1
	require.True(t, WaitFor(5*time.Second, routeConverged(net, "a", "h", 3)),
		"a never converged on the two-hop path")

	entry, err := net.Route("a", "h")
	require.NoError(t, err)
	viaB, err := net.PortTo("a", "b")
	require.NoError(t, err)
	assert.Equal(t, viaB, entry.NextHop)

	entry, err = net.Route("b", "h")
	require.NoError(t, err)
	assert.Equal(t, state.Distance(2), entry.Distance)
}

func TestCutLinkReroutesOntoBackupPath(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := triangle()
	net, err := Build(&cfg, slog.LevelError)
	require.NoError(t, err)
	defer net.Stop()

	require.True(t, WaitFor(5*time.Second, routeConverged(net, "a", "h", 3)))

	require.NoError(t, net.CutLink("a", "b"))
	require.True(t, WaitFor(5*time.Second, routeConverged(net, "a", "h", 6)),
		"a never rerouted onto the direct link")

	entry, err := net.Route("a", "h")
	require.NoError(t, err)
	viaC, err := net.PortTo("a", "c")
	require.NoError(t, err)
	assert.Equal(t, viaC, entry.NextHop)
}

func TestPoisonReverseWithdrawsUnreachableHost(t *testing.T) {
	defer goleak.VerifyNone(t)
	// a line a-b with the host behind b: cutting the only link must leave a
	// with a poisoned route instead of counting to infinity
	cfg := state.TopologyCfg{
		Nodes: []state.NodeCfg{testNode("a"), testNode("b")},
		Links: []state.LinkCfg{{A: "a", B: "b", Latency: 1}},
		Hosts: []state.HostCfg{{Id: "h", Attach: "b"}},
	}
	net, err := Build(&cfg, slog.LevelError)
	require.NoError(t, err)
	defer net.Stop()

	require.True(t, WaitFor(5*time.Second, routeConverged(net, "a", "h", 2)))

	require.NoError(t, net.CutLink("a", "b"))
	require.True(t, WaitFor(5*time.Second, func() bool {
		entry, err := net.Route("a", "h")
		return err == nil && !entry.Reachable()
	}), "a kept a route to an unreachable host")
}

func TestPartitionWithdrawsHostEverywhere(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := triangle()
	net, err := Build(&cfg, slog.LevelError)
	require.NoError(t, err)
	defer net.Stop()

	require.True(t, WaitFor(5*time.Second, routeConverged(net, "a", "h", 3)))

	// cut c off entirely; both remaining nodes must lose h
	require.NoError(t, net.CutLink("b", "c"))
	require.NoError(t, net.CutLink("a", "c"))
	require.True(t, WaitFor(5*time.Second, func() bool {
		ea, errA := net.Route("a", "h")
		eb, errB := net.Route("b", "h")
		return errA == nil && errB == nil && !ea.Reachable() && !eb.Reachable()
	}), "routes to the partitioned host survived the partition")
}

func TestDataDeliveredAcrossHops(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := triangle()
	net, err := Build(&cfg, slog.LevelError)
	require.NoError(t, err)
	defer net.Stop()

	require.True(t, WaitFor(5*time.Second, routeConverged(net, "a", "h", 3)))

	pkt := state.DataPacket{Id: uuid.New(), Source: "a", Destination: "h", Payload: []byte("ping")}
	require.NoError(t, net.InjectData("a", pkt))

	select {
	case got := <-net.Delivered:
		assert.Equal(t, state.NodeId("c"), got.Node)
		assert.Equal(t, state.Host("h"), got.Host)
		assert.Equal(t, pkt.Id, got.Packet.Id)
		assert.Equal(t, pkt.Payload, got.Packet.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("packet never reached the host")
	}
}

func TestDataForUnknownHostDoesNotLoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := triangle()
	net, err := Build(&cfg, slog.LevelError)
	require.NoError(t, err)
	defer net.Stop()

	require.True(t, WaitFor(5*time.Second, routeConverged(net, "a", "h", 3)))

	// a packet for a destination nobody advertises floods once per node and
	// is deduplicated when it loops back around the triangle
	pkt := state.DataPacket{Id: uuid.New(), Source: "a", Destination: "ghost", Payload: []byte("x")}
	require.NoError(t, net.InjectData("a", pkt))

	select {
	case got := <-net.Delivered:
		t.Fatalf("unexpected delivery at %s for %s", got.Node, got.Host)
	case <-time.After(200 * time.Millisecond):
	}

	// the loops are still responsive after the flood settles
	entry, err := net.Route("a", "h")
	require.NoError(t, err)
	assert.Equal(t, state.Distance(3), entry.Distance)
}

func TestDirectHostsAreOneHop(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := triangle()
	net, err := Build(&cfg, slog.LevelError)
	require.NoError(t, err)
	defer net.Stop()

	require.True(t, WaitFor(5*time.Second, func() bool {
		hosts, err := net.DirectHosts("c")
		return err == nil && len(hosts) == 1
	}))

	hosts, err := net.DirectHosts("c")
	require.NoError(t, err)
	assert.Equal(t, []state.Host{"h"}, hosts)

	hosts, err = net.DirectHosts("a")
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestBuildRejectsInvalidTopology(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := triangle()
	cfg.Links = append(cfg.Links, state.LinkCfg{A: "a", B: "ghost", Latency: 1})
	_, err := Build(&cfg, slog.LevelError)
	require.Error(t, err)
}
