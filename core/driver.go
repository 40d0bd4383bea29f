package core

import (
	"errors"
	"net/netip"

	"github.com/fennelnet/fennel/perf"
	"github.com/fennelnet/fennel/state"
	"github.com/gaissmai/bart"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// Transport is the host's transmission primitive. Fire and forget; the
// driver assumes no delivery guarantee. Flood sends to every neighbour port
// except exclude; pass state.Self to exclude nothing.
type Transport interface {
	Send(msg state.Message, port state.Port)
	Flood(msg state.Message, exclude state.Port)
}

// Driver is the protocol policy layer. It translates host events into table
// operations and turns change notifications into advertisements, applying
// split horizon or poison reverse depending on configuration.
type Driver struct {
	env   *state.Env
	table *Table
	tr    Transport

	// fib mirrors the selected table for hosts that carry a routable prefix.
	fib      bart.Table[state.Port]
	prefixes map[state.Host]netip.Prefix

	// floodDedup suppresses re-flooding of recently seen data packets.
	floodDedup *ttlcache.Cache[uuid.UUID, struct{}]
}

func NewDriver(env *state.Env, tr Transport) *Driver {
	d := &Driver{
		env:      env,
		tr:       tr,
		prefixes: make(map[state.Host]netip.Prefix),
		floodDedup: ttlcache.New[uuid.UUID, struct{}](
			ttlcache.WithTTL[uuid.UUID, struct{}](state.FloodDedupTTL),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, struct{}](),
		),
	}
	d.table = NewTable(d, env.Now)
	return d
}

// Table exposes the routing table for host-side queries. Reads must happen
// on the dispatch loop that owns the driver.
func (d *Driver) Table() *Table {
	return d.table
}

// RegisterPrefix binds a routable prefix to a host, mirroring any already
// selected route into the FIB.
func (d *Driver) RegisterPrefix(host state.Host, prefix netip.Prefix) {
	d.prefixes[host] = prefix
	if entry, err := d.table.Entry(host); err == nil {
		d.syncFib(host, entry)
	}
}

// Lookup resolves an address against the FIB mirror, longest prefix first.
func (d *Driver) Lookup(addr netip.Addr) (state.Port, bool) {
	return d.fib.Lookup(addr)
}

func (d *Driver) HandleLinkUp(port state.Port, latency state.Distance) error {
	d.env.Log.Debug("link up", "port", port, "latency", latency)
	return d.table.RegisterLink(port, latency)
}

func (d *Driver) HandleLinkDown(port state.Port) error {
	d.env.Log.Debug("link down", "port", port)
	return d.table.RemoveLink(port)
}

func (d *Driver) HandleHostDiscovery(msg state.HostDiscovery, port state.Port) error {
	d.env.Log.Debug("rx host discovery", "host", msg.Source, "port", port)
	return d.table.DiscoverHost(msg.Source, port)
}

func (d *Driver) HandleAdvertisement(msg state.Advertisement, port state.Port) error {
	d.env.Log.Debug("rx advertisement", "host", msg.Destination, "distance", msg.Distance, "port", port)
	_, err := d.table.ReceiveAdvertisement(port, msg.Destination, msg.Distance)
	return err
}

// HandleData forwards a data packet along the selected route. Unknown or
// unreachable destinations are flooded to discover a path. When the selected
// route points back out the inbound port, the packet is dropped and, under
// poison reverse, the route is poisoned toward the sender instead of
// bouncing the packet.
func (d *Driver) HandleData(pkt state.DataPacket, inPort state.Port) error {
	entry, err := d.table.Entry(pkt.Destination)
	if errors.Is(err, ErrDestinationUnknown) || (err == nil && !entry.Reachable()) {
		d.floodData(pkt, inPort)
		return nil
	}
	if err != nil {
		return err
	}
	if entry.NextHop != inPort {
		perf.DataForwarded.Add(1)
		d.tr.Send(pkt, entry.NextHop)
		return nil
	}
	if d.env.PoisonReverse {
		d.tr.Send(state.Advertisement{Destination: pkt.Destination, Distance: state.Infinity}, inPort)
	}
	return nil
}

func (d *Driver) floodData(pkt state.DataPacket, inPort state.Port) {
	if d.floodDedup.Get(pkt.Id) != nil {
		return
	}
	d.floodDedup.Set(pkt.Id, struct{}{}, ttlcache.DefaultTTL)
	perf.DataFlooded.Add(1)
	d.env.Log.Debug("flooding data packet", "dst", pkt.Destination, "in", inPort)
	d.tr.Flood(pkt, inPort)
}

// HandleTimer runs the periodic maintenance pass: expire learned entries
// past the staleness window, then re-advertise the full selected table so
// neighbours recover from lost triggered updates. Expiry already advertised
// the hosts it withdrew through the observer, so the full-table pass skips
// them.
func (d *Driver) HandleTimer() {
	expired := d.table.ExpireStale(d.env.RouteStaleTime.Std())
	if len(expired) > 0 {
		perf.RoutesExpired.Add(float64(len(expired)))
		d.env.Log.Debug("expired stale routes", "hosts", expired)
	}
	justExpired := make(map[state.Host]struct{}, len(expired))
	for _, host := range expired {
		justExpired[host] = struct{}{}
	}
	for _, host := range d.table.Hosts() {
		if _, ok := justExpired[host]; ok {
			continue
		}
		d.RouteChanged(host)
	}
	d.floodDedup.DeleteExpired()
}

// RouteChanged implements RouteObserver: keep the FIB mirror in sync and
// advertise the selected route for host.
func (d *Driver) RouteChanged(host state.Host) {
	entry, err := d.table.Entry(host)
	if err != nil {
		d.env.Log.Warn("route change for unknown host", "host", host, "err", err)
		return
	}
	d.syncFib(host, entry)
	if entry.Reachable() {
		// split horizon: never advertise a route back out the port it is
		// reached through
		perf.AdvertisementsSent.Add(1)
		d.tr.Flood(state.Advertisement{Destination: host, Distance: entry.Distance}, entry.NextHop)
		if d.env.PoisonReverse {
			d.tr.Send(state.Advertisement{Destination: host, Distance: state.Infinity}, entry.NextHop)
		}
	} else if d.env.PoisonReverse {
		// a withdrawal must reach everyone even with no valid next hop
		perf.AdvertisementsSent.Add(1)
		d.tr.Flood(state.Advertisement{Destination: host, Distance: state.Infinity}, state.Self)
	}
}

func (d *Driver) syncFib(host state.Host, entry state.RouteEntry) {
	prefix, ok := d.prefixes[host]
	if !ok {
		return
	}
	if entry.Reachable() {
		d.fib.Insert(prefix, entry.NextHop)
	} else {
		d.fib.Delete(prefix)
	}
}
