package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/fennelnet/fennel/core"
	"github.com/fennelnet/fennel/state"
)

// Delivery records a data packet that reached an attached end host.
type Delivery struct {
	Node   state.NodeId
	Host   state.Host
	Packet state.DataPacket
}

// Network is an in-memory multi-node host: it joins routing nodes with
// latency-weighted links, runs one dispatch loop per node, and delivers
// engine messages between them.
type Network struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
	level  slog.Level
	// scale is the wall time simulated per latency unit; zero delivers
	// instantly, which keeps tests deterministic.
	scale time.Duration
	nodes map[state.NodeId]*Node
	loops sync.WaitGroup

	// Delivered receives packets that arrive at attached hosts. Sends never
	// block; when nobody is draining, deliveries are dropped.
	Delivered chan Delivery
}

func NewNetwork(level slog.Level) *Network {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Network{
		ctx:       ctx,
		cancel:    cancel,
		level:     level,
		nodes:     make(map[state.NodeId]*Node),
		Delivered: make(chan Delivery, 64),
	}
}

// WithScale sets the wall time simulated per unit of link latency.
func (v *Network) WithScale(scale time.Duration) *Network {
	v.scale = scale
	return v
}

// Build constructs a network from a validated topology config.
func Build(cfg *state.TopologyCfg, level slog.Level) (*Network, error) {
	if err := state.TopologyValidator(cfg); err != nil {
		return nil, err
	}
	v := NewNetwork(level)
	for _, ncfg := range cfg.Nodes {
		if _, err := v.AddNode(ncfg); err != nil {
			v.Stop()
			return nil, err
		}
	}
	for _, link := range cfg.Links {
		if err := v.Link(link.A, link.B, link.Latency); err != nil {
			v.Stop()
			return nil, err
		}
	}
	for _, host := range cfg.Hosts {
		if err := v.AttachHost(host.Attach, host.Id, host.Prefix); err != nil {
			v.Stop()
			return nil, err
		}
	}
	return v, nil
}

// Node is one simulated routing node. It implements core.Transport: sends
// are resolved against its port table and enqueued on the peer's dispatch
// loop after the link's simulated latency.
type Node struct {
	Id   state.NodeId
	net  *Network
	core *core.Node

	mu       sync.Mutex
	ports    map[state.Port]*endpoint
	nextPort state.Port
}

type endpoint struct {
	peer     *Node
	peerPort state.Port
	host     state.Host // set for end-host attachments
	latency  state.Distance
	up       bool
}

func (v *Network) AddNode(cfg state.NodeCfg) (*Node, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.nodes[cfg.Id]; ok {
		return nil, fmt.Errorf("duplicate node %s", cfg.Id)
	}
	log, err := core.NewLogger(cfg, v.level)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Id:       cfg.Id,
		net:      v,
		ports:    make(map[state.Port]*endpoint),
		nextPort: 1,
	}
	n.core = core.NewNode(v.ctx, cfg, log, n)
	v.nodes[cfg.Id] = n
	v.loops.Add(1)
	go func() {
		defer v.loops.Done()
		core.MainLoop(n.core.State)
	}()
	return n, nil
}

func (v *Network) node(id state.NodeId) (*Node, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s not defined", id)
	}
	return n, nil
}

// Link joins two nodes with a symmetric latency and raises both link ends.
func (v *Network) Link(a, b state.NodeId, latency state.Distance) error {
	na, err := v.node(a)
	if err != nil {
		return err
	}
	nb, err := v.node(b)
	if err != nil {
		return err
	}
	epA := &endpoint{peer: nb, latency: latency, up: true}
	epB := &endpoint{peer: na, latency: latency, up: true}
	pa := na.allocPort(epA)
	pb := nb.allocPort(epB)
	epA.peerPort = pb
	epB.peerPort = pa
	na.core.State.Env.Dispatch(func(*state.State) error {
		return na.core.Driver.HandleLinkUp(pa, latency)
	})
	nb.core.State.Env.Dispatch(func(*state.State) error {
		return nb.core.Driver.HandleLinkUp(pb, latency)
	})
	return nil
}

// CutLink drops the link between two nodes. Messages already in flight are
// rejected by the drivers as unknown-port events, which must not corrupt
// either table.
func (v *Network) CutLink(a, b state.NodeId) error {
	na, err := v.node(a)
	if err != nil {
		return err
	}
	nb, err := v.node(b)
	if err != nil {
		return err
	}
	pa, epA := na.findPeer(nb)
	if epA == nil {
		return fmt.Errorf("no link between %s and %s", a, b)
	}
	pb := epA.peerPort
	na.setDown(pa)
	nb.setDown(pb)
	na.core.State.Env.Dispatch(func(*state.State) error {
		return na.core.Driver.HandleLinkDown(pa)
	})
	nb.core.State.Env.Dispatch(func(*state.State) error {
		return nb.core.Driver.HandleLinkDown(pb)
	})
	return nil
}

// AttachHost plugs an end host into a node behind a unit-latency port and
// announces it with a HostDiscovery.
func (v *Network) AttachHost(node state.NodeId, host state.Host, prefix netip.Prefix) error {
	n, err := v.node(node)
	if err != nil {
		return err
	}
	ep := &endpoint{host: host, latency: state.HostLinkLatency, up: true}
	port := n.allocPort(ep)
	n.core.State.Env.Dispatch(func(*state.State) error {
		if err := n.core.Driver.HandleLinkUp(port, state.HostLinkLatency); err != nil {
			return err
		}
		if prefix != (netip.Prefix{}) {
			n.core.Driver.RegisterPrefix(host, prefix)
		}
		return n.core.Driver.HandleHostDiscovery(state.HostDiscovery{Source: host}, port)
	})
	return nil
}

// InjectData originates a data packet at a node, as if handed down from the
// local stack. The inbound port is Self, which never matches a real egress.
func (v *Network) InjectData(from state.NodeId, pkt state.DataPacket) error {
	n, err := v.node(from)
	if err != nil {
		return err
	}
	n.core.State.Env.Dispatch(func(*state.State) error {
		return n.core.Driver.HandleData(pkt, state.Self)
	})
	return nil
}

// Route reads a node's selected route for host from its dispatch loop.
func (v *Network) Route(node state.NodeId, host state.Host) (state.RouteEntry, error) {
	n, err := v.node(node)
	if err != nil {
		return state.RouteEntry{}, err
	}
	res, err := n.core.State.Env.DispatchWait(func(*state.State) (any, error) {
		return n.core.Driver.Table().Entry(host)
	})
	if err != nil {
		return state.RouteEntry{}, err
	}
	return res.(state.RouteEntry), nil
}

// DirectHosts reads a node's one-hop hosts from its dispatch loop.
func (v *Network) DirectHosts(node state.NodeId) ([]state.Host, error) {
	n, err := v.node(node)
	if err != nil {
		return nil, err
	}
	res, err := n.core.State.Env.DispatchWait(func(*state.State) (any, error) {
		return n.core.Driver.Table().DirectHosts(), nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]state.Host), nil
}

// PortTo returns node a's port facing node b.
func (v *Network) PortTo(a, b state.NodeId) (state.Port, error) {
	na, err := v.node(a)
	if err != nil {
		return 0, err
	}
	nb, err := v.node(b)
	if err != nil {
		return 0, err
	}
	port, ep := na.findPeer(nb)
	if ep == nil {
		return 0, fmt.Errorf("no link between %s and %s", a, b)
	}
	return port, nil
}

// Stop tears the network down and waits for every dispatch loop and
// scheduler task to exit.
func (v *Network) Stop() {
	v.cancel(errors.New("stopping network"))
	v.mu.Lock()
	nodes := make([]*Node, 0, len(v.nodes))
	for _, n := range v.nodes {
		nodes = append(nodes, n)
	}
	v.mu.Unlock()
	for _, n := range nodes {
		core.Stop(n.core.State)
	}
	v.loops.Wait()
}

func (n *Node) allocPort(ep *endpoint) state.Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	port := n.nextPort
	n.nextPort++
	n.ports[port] = ep
	return port
}

func (n *Node) findPeer(peer *Node) (state.Port, *endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for port, ep := range n.ports {
		if ep.peer == peer && ep.up {
			return port, ep
		}
	}
	return 0, nil
}

func (n *Node) setDown(port state.Port) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.ports[port]; ok {
		ep.up = false
	}
}

// Send implements core.Transport.
func (n *Node) Send(msg state.Message, port state.Port) {
	n.mu.Lock()
	ep, ok := n.ports[port]
	n.mu.Unlock()
	if !ok || !ep.up {
		return // link raced down; fire and forget
	}
	if ep.host != "" {
		if pkt, isData := msg.(state.DataPacket); isData && pkt.Destination == ep.host {
			select {
			case n.net.Delivered <- Delivery{Node: n.Id, Host: ep.host, Packet: pkt}:
			default:
			}
		}
		return // end hosts do not participate in routing
	}
	peer, peerPort := ep.peer, ep.peerPort
	delay := time.Duration(ep.latency) * n.net.scale
	if delay <= 0 {
		peer.receive(msg, peerPort)
		return
	}
	time.AfterFunc(delay, func() {
		if n.net.ctx.Err() == nil {
			peer.receive(msg, peerPort)
		}
	})
}

// Flood implements core.Transport: send to every port except exclude.
func (n *Node) Flood(msg state.Message, exclude state.Port) {
	n.mu.Lock()
	ports := make([]state.Port, 0, len(n.ports))
	for port := range n.ports {
		if port != exclude {
			ports = append(ports, port)
		}
	}
	n.mu.Unlock()
	slices.Sort(ports)
	for _, port := range ports {
		n.Send(msg, port)
	}
}

func (n *Node) receive(msg state.Message, port state.Port) {
	n.core.State.Env.Dispatch(func(*state.State) error {
		switch m := msg.(type) {
		case state.Advertisement:
			return n.core.Driver.HandleAdvertisement(m, port)
		case state.HostDiscovery:
			return n.core.Driver.HandleHostDiscovery(m, port)
		case state.DataPacket:
			return n.core.Driver.HandleData(m, port)
		}
		return nil
	})
}

// WaitFor polls cond until it holds or the timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
