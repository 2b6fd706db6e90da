// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package idgen hands out host ids. Ids are Snowflake values: time ordered,
// unique per node, and safe to generate concurrently.
package idgen

import (
	"errors"
	"fmt"
	"net"

	"github.com/bwmarrin/snowflake"
	"github.com/toeirei/fleetmaster/internal/model"
)

// Generator produces unique host ids.
type Generator interface {
	Next() model.HostID
}

// Snowflake is a Generator bound to one node number.
type Snowflake struct {
	node *snowflake.Node
	id   int64
}

// NewSnowflake returns a generator for node (0-1023). A negative node is
// derived from the machine's first non-loopback IPv4 address.
func NewSnowflake(node int64) (*Snowflake, error) {
	if node < 0 {
		derived, err := NodeFromIP()
		if err != nil {
			return nil, err
		}
		node = derived
	}
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &Snowflake{node: n, id: node}, nil
}

// Next returns a fresh id.
func (s *Snowflake) Next() model.HostID {
	return model.HostID(s.node.Generate().Int64())
}

// Node reports the node number the generator was built with.
func (s *Snowflake) Node() int64 { return s.id }

// NodeFromIP derives a node number from the low bits of the first
// non-loopback IPv4 address.
func NodeFromIP() (int64, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return nodeFromIPv4(ip4), nil
		}
	}
	return 0, errors.New("no non-loopback IPv4 address to derive a node id from")
}

func nodeFromIPv4(ip net.IP) int64 {
	return (int64(ip[2])<<8 | int64(ip[3])) & (1<<snowflake.NodeBits - 1)
}
