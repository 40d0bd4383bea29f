package state

import (
	"net/netip"
	"strings"
	"time"
)

// Duration wraps time.Duration so YAML configs can say "5s" or "250ms".
type Duration time.Duration

func (d Duration) MarshalYAML() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(b []byte) error {
	parsed, err := time.ParseDuration(strings.Trim(string(b), `"'`))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NodeCfg is per-node engine configuration.
type NodeCfg struct {
	Id             NodeId
	PoisonReverse  bool     `yaml:"poison_reverse,omitempty"`
	TimerInterval  Duration `yaml:"timer_interval,omitempty"`
	RouteStaleTime Duration `yaml:"route_stale_time,omitempty"`
	DisableLogging bool     `yaml:"disable_logging,omitempty"`
	LogPath        string   `yaml:"log_path,omitempty"`
}

// ApplyDefaults fills the tunables the config left unset.
func (c *NodeCfg) ApplyDefaults() {
	if c.TimerInterval <= 0 {
		c.TimerInterval = Duration(DefaultTimerInterval)
	}
	if c.RouteStaleTime <= 0 {
		c.RouteStaleTime = Duration(RouteStaleFactor) * c.TimerInterval
	}
}

// LinkCfg joins two nodes with a symmetric latency.
type LinkCfg struct {
	A       NodeId
	B       NodeId
	Latency Distance
}

// HostCfg attaches an end host to a node. A host may carry a routable
// prefix, which the attached node's driver mirrors into its FIB.
type HostCfg struct {
	Id     Host
	Attach NodeId
	Prefix netip.Prefix `yaml:",omitempty"`
}

// TopologyCfg describes a simulated network.
type TopologyCfg struct {
	Nodes []NodeCfg
	Links []LinkCfg
	Hosts []HostCfg `yaml:",omitempty"`
}

func (c *TopologyCfg) GetNode(id NodeId) *NodeCfg {
	for i := range c.Nodes {
		if c.Nodes[i].Id == id {
			return &c.Nodes[i]
		}
	}
	return nil
}
