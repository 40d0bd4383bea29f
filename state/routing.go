package state

import (
	"time"

	"github.com/google/uuid"
)

// NodeId identifies a routing node. Node identity is owned by the host; the
// engine only uses it for logging.
type NodeId string

// Port identifies a link attached to this node. Self is reserved for the
// node's own computed table and never names a real link.
type Port int

const Self Port = -1

// Host identifies a reachable destination (an end host or node).
type Host string

// Distance is a latency sum along a path. Sums saturate at Infinity.
type Distance int

// RouteEntry is what a single port believes about reaching a host. For
// port Self it is the currently selected route.
type RouteEntry struct {
	Distance   Distance
	NextHop    Port
	LastUpdate time.Time
}

// Reachable reports whether the entry names a usable route.
func (e RouteEntry) Reachable() bool {
	return e.Distance < Infinity
}

// Message is anything the engine hands to the host's transport. Wire
// encoding is owned by the transport, not the engine.
type Message interface {
	message()
}

// Advertisement carries one entry of a node's distance vector.
type Advertisement struct {
	Destination Host
	Distance    Distance
}

// HostDiscovery announces an end host attached to the receiving link.
type HostDiscovery struct {
	Source Host
}

// DataPacket is an opaque payload routed hop by hop. Id dedups floods.
type DataPacket struct {
	Id          uuid.UUID
	Source      Host
	Destination Host
	Payload     []byte
}

func (Advertisement) message() {}
func (HostDiscovery) message() {}
func (DataPacket) message()    {}
