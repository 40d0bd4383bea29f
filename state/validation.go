package state

import (
	"fmt"
	"net/netip"
	"regexp"
	"slices"
)

var namePattern = regexp.MustCompile("^[0-9a-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func NodeConfigValidator(node *NodeCfg) error {
	if err := NameValidator(string(node.Id)); err != nil {
		return err
	}
	if node.TimerInterval < 0 {
		return fmt.Errorf("node %s: timer_interval must not be negative", node.Id)
	}
	if node.RouteStaleTime < 0 {
		return fmt.Errorf("node %s: route_stale_time must not be negative", node.Id)
	}
	return nil
}

func TopologyValidator(cfg *TopologyCfg) error {
	nodes := make([]NodeId, 0, len(cfg.Nodes))
	for i := range cfg.Nodes {
		node := &cfg.Nodes[i]
		if err := NodeConfigValidator(node); err != nil {
			return err
		}
		if slices.Contains(nodes, node.Id) {
			return fmt.Errorf("duplicate node: %s", node.Id)
		}
		nodes = append(nodes, node.Id)
	}

	edges := make([]Pair[NodeId, NodeId], 0, len(cfg.Links))
	for _, link := range cfg.Links {
		if link.A == link.B {
			return fmt.Errorf("link must join two distinct nodes, got %s twice", link.A)
		}
		if !slices.Contains(nodes, link.A) {
			return fmt.Errorf("node %s not defined", link.A)
		}
		if !slices.Contains(nodes, link.B) {
			return fmt.Errorf("node %s not defined", link.B)
		}
		if link.Latency < 0 {
			return fmt.Errorf("link %s, %s: latency must not be negative", link.A, link.B)
		}
		edge := MakeSortedPair(link.A, link.B)
		if slices.Contains(edges, edge) {
			return fmt.Errorf("duplicate link found: %s, %s", link.A, link.B)
		}
		edges = append(edges, edge)
	}

	hosts := make([]Host, 0, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		if err := NameValidator(string(host.Id)); err != nil {
			return err
		}
		if slices.Contains(hosts, host.Id) {
			return fmt.Errorf("duplicate host: %s", host.Id)
		}
		hosts = append(hosts, host.Id)
		if !slices.Contains(nodes, host.Attach) {
			return fmt.Errorf("host %s attaches to undefined node %s", host.Id, host.Attach)
		}
		if host.Prefix != (netip.Prefix{}) && !host.Prefix.IsValid() {
			return fmt.Errorf("host %s has an invalid prefix", host.Id)
		}
	}
	return nil
}
