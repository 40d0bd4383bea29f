package core

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fennelnet/fennel/state"
)

var (
	ErrInvalidLatency     = errors.New("invalid latency")
	ErrUnknownPort        = errors.New("unknown port")
	ErrDestinationUnknown = errors.New("destination unknown")
)

// RouteObserver is notified for every host whose selected route may need
// re-advertising. At most one notification fires per host per operation.
type RouteObserver interface {
	RouteChanged(host state.Host)
}

// Table holds, per neighbour link and for the node itself, a full distance
// vector (host -> {distance, next hop, last update}). It performs incremental
// Bellman-Ford relaxation one destination at a time and keeps the table
// rectangular: every host known to any port has an entry on every port.
//
// Not safe for concurrent use; a Table is owned by a single dispatch loop.
type Table struct {
	latencies map[state.Port]state.Distance
	vectors   map[state.Port]map[state.Host]state.RouteEntry
	observer  RouteObserver
	now       func() time.Time
}

func NewTable(observer RouteObserver, clock func() time.Time) *Table {
	if clock == nil {
		clock = time.Now
	}
	return &Table{
		latencies: map[state.Port]state.Distance{state.Self: 0},
		vectors:   map[state.Port]map[state.Host]state.RouteEntry{state.Self: {}},
		observer:  observer,
		now:       clock,
	}
}

// AddClamped sums two distances, saturating at Infinity so that two
// near-infinite legs can never overflow the sentinel.
func AddClamped(a, b state.Distance) state.Distance {
	if s := a + b; s < state.Infinity {
		return s
	}
	return state.Infinity
}

func (t *Table) notify(host state.Host) {
	if t.observer != nil {
		t.observer.RouteChanged(host)
	}
}

// seedHost gives every known port an Infinity placeholder for host, so the
// table stays rectangular.
func (t *Table) seedHost(host state.Host, now time.Time) {
	for port, vec := range t.vectors {
		if _, ok := vec[host]; !ok {
			vec[host] = state.RouteEntry{Distance: state.Infinity, NextHop: port, LastUpdate: now}
		}
	}
}

// RegisterLink adds or updates a neighbour link. A new link gives every host
// already known to the selected table an Infinity placeholder on the port and
// fires a change notification for each: no distance moved, but the topology
// grew and the policy layer re-advertises into it. Re-registering a link with
// a different latency re-relaxes every host so selections track the new cost.
func (t *Table) RegisterLink(port state.Port, latency state.Distance) error {
	if latency < 0 {
		return fmt.Errorf("%w: %d on port %d", ErrInvalidLatency, latency, port)
	}
	if port == state.Self {
		return fmt.Errorf("%w: port %d is reserved", ErrUnknownPort, port)
	}
	_, existing := t.vectors[port]
	t.latencies[port] = latency
	if !existing {
		t.vectors[port] = make(map[state.Host]state.RouteEntry)
	}
	now := t.now()
	for _, host := range t.Hosts() {
		if _, ok := t.vectors[port][host]; !ok {
			t.vectors[port][host] = state.RouteEntry{Distance: state.Infinity, NextHop: port, LastUpdate: now}
		}
		if t.relax(host) || !existing {
			t.notify(host)
		}
	}
	return nil
}

// RemoveLink tears down a neighbour link. Hosts whose selected route went
// through the downed port are re-relaxed over the remaining links; a change
// notification fires for each host whose selection changed.
func (t *Table) RemoveLink(port state.Port) error {
	if _, ok := t.latencies[port]; !ok || port == state.Self {
		return fmt.Errorf("%w: %d", ErrUnknownPort, port)
	}
	delete(t.latencies, port)
	delete(t.vectors, port)
	for _, host := range t.Hosts() {
		if t.vectors[state.Self][host].NextHop != port {
			continue
		}
		if t.relax(host) {
			t.notify(host)
		}
	}
	return nil
}

// ReceiveAdvertisement records a neighbour's claimed distance to host via
// port, stamps the entry, then re-relaxes that host. Reports whether the
// selected route changed.
func (t *Table) ReceiveAdvertisement(port state.Port, host state.Host, distance state.Distance) (bool, error) {
	vec, ok := t.vectors[port]
	if !ok || port == state.Self {
		return false, fmt.Errorf("%w: %d", ErrUnknownPort, port)
	}
	now := t.now()
	if _, ok := vec[host]; !ok {
		t.seedHost(host, now)
	}
	entry := vec[host]
	entry.Distance = min(max(distance, 0), state.Infinity)
	entry.NextHop = port
	entry.LastUpdate = now
	vec[host] = entry
	changed := t.relax(host)
	if changed {
		t.notify(host)
	}
	return changed, nil
}

// DiscoverHost records host as directly attached through port, at distance 0
// on that port's vector. Directly discovered hosts are always re-advertised,
// whether or not the selection moved.
func (t *Table) DiscoverHost(host state.Host, port state.Port) error {
	vec, ok := t.vectors[port]
	if !ok || port == state.Self {
		return fmt.Errorf("%w: %d", ErrUnknownPort, port)
	}
	now := t.now()
	t.seedHost(host, now)
	vec[host] = state.RouteEntry{Distance: 0, NextHop: port, LastUpdate: now}
	t.relax(host)
	t.notify(host)
	return nil
}

// relax recomputes the selected route for host as the minimum over all
// neighbour ports of latency(port) + vector[port][host], saturating at
// Infinity. Ports are scanned in ascending order and only a strictly smaller
// sum wins, so ties keep the lowest-numbered port regardless of map iteration
// order. The selected entry's timestamp is never touched here. Reports
// whether the selection changed.
func (t *Table) relax(host state.Host) bool {
	old := t.vectors[state.Self][host]
	best := old
	best.Distance = state.Infinity
	for _, port := range t.Ports() {
		d := AddClamped(t.latencies[port], t.vectors[port][host].Distance)
		if d < best.Distance {
			best.Distance = d
			best.NextHop = port
		}
	}
	t.vectors[state.Self][host] = best
	return best.Distance != old.Distance || best.NextHop != old.NextHop
}

// ExpireStale poisons learned entries that have not been refreshed within
// staleAfter and re-relaxes the affected hosts. Expiry applies to per-port
// vectors only: selected-table timestamps mark creation, not freshness.
// Returns the hosts whose selected route changed, each notified once.
func (t *Table) ExpireStale(staleAfter time.Duration) []state.Host {
	cutoff := t.now().Add(-staleAfter)
	stale := make(map[state.Host]struct{})
	for _, port := range t.Ports() {
		for host, entry := range t.vectors[port] {
			if entry.Distance >= state.Infinity || !entry.LastUpdate.Before(cutoff) {
				continue
			}
			entry.Distance = state.Infinity
			t.vectors[port][host] = entry
			stale[host] = struct{}{}
		}
	}
	changed := make([]state.Host, 0, len(stale))
	for host := range stale {
		if t.relax(host) {
			changed = append(changed, host)
			t.notify(host)
		}
	}
	slices.Sort(changed)
	return changed
}

// Latency returns the registered latency of a neighbour link.
func (t *Table) Latency(port state.Port) (state.Distance, error) {
	lat, ok := t.latencies[port]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownPort, port)
	}
	return lat, nil
}

// Ports returns the registered neighbour ports in ascending order. The
// ordering doubles as the relaxation tie-break.
func (t *Table) Ports() []state.Port {
	ports := make([]state.Port, 0, len(t.latencies))
	for port := range t.latencies {
		if port != state.Self {
			ports = append(ports, port)
		}
	}
	slices.Sort(ports)
	return ports
}

// Hosts returns every host known to the selected table, sorted.
func (t *Table) Hosts() []state.Host {
	hosts := make([]state.Host, 0, len(t.vectors[state.Self]))
	for host := range t.vectors[state.Self] {
		hosts = append(hosts, host)
	}
	slices.Sort(hosts)
	return hosts
}

// DirectHosts returns the hosts currently selected at distance exactly 1,
// i.e. one hop away. With unit-latency host attachments these are the hosts
// attached directly to this node.
func (t *Table) DirectHosts() []state.Host {
	hosts := make([]state.Host, 0)
	for host, entry := range t.vectors[state.Self] {
		if entry.Distance == 1 {
			hosts = append(hosts, host)
		}
	}
	slices.Sort(hosts)
	return hosts
}

// NextHop returns the selected egress port for host.
func (t *Table) NextHop(host state.Host) (state.Port, error) {
	entry, err := t.Entry(host)
	if err != nil {
		return 0, err
	}
	return entry.NextHop, nil
}

// Entry returns the selected route entry for host.
func (t *Table) Entry(host state.Host) (state.RouteEntry, error) {
	entry, ok := t.vectors[state.Self][host]
	if !ok {
		return state.RouteEntry{}, fmt.Errorf("%w: %s", ErrDestinationUnknown, host)
	}
	return entry, nil
}
