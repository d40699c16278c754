package model

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

// TableID identifies one OpenFlow table monitored by a stats manager.
type TableID uint8

// Match is the decoded match predicate of a flow entry.
// It is comparable so that it can be used as part of a map key.
type Match struct {
	InPort  uint32
	EthType layers.EthernetType
	IPProto layers.IPProtocol
	Src     netip.Prefix
	Dst     netip.Prefix
	// Reg0 and Reg2 carry the source and destination endpoint group ids.
	Reg0 uint32
	Reg2 uint32
	// Reg6 carries the routing domain id.
	Reg6 uint32
}

// String renders the match in an ovs-ofctl like form, e.g. "reg0=0x5,reg2=0x7,ip,tcp,nw_dst=10.0.0.1/32".
func (m Match) String() string {
	var parts []string
	if m.InPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.Reg0 != 0 {
		parts = append(parts, fmt.Sprintf("reg0=0x%x", m.Reg0))
	}
	if m.Reg2 != 0 {
		parts = append(parts, fmt.Sprintf("reg2=0x%x", m.Reg2))
	}
	if m.Reg6 != 0 {
		parts = append(parts, fmt.Sprintf("reg6=0x%x", m.Reg6))
	}
	switch m.EthType {
	case 0:
	case layers.EthernetTypeIPv4:
		parts = append(parts, "ip")
	case layers.EthernetTypeIPv6:
		parts = append(parts, "ipv6")
	default:
		parts = append(parts, "dl_type="+strings.ToLower(m.EthType.String()))
	}
	if m.IPProto != 0 {
		parts = append(parts, strings.ToLower(m.IPProto.String()))
	}
	if m.Src.IsValid() {
		parts = append(parts, "nw_src="+m.Src.String())
	}
	if m.Dst.IsValid() {
		parts = append(parts, "nw_dst="+m.Dst.String())
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ",")
}

// FlowKey is the identity of one physical flow entry in a switch table.
type FlowKey struct {
	Cookie   uint64
	Priority uint16
	Match    Match
}

func (k FlowKey) String() string {
	return fmt.Sprintf("cookie=0x%x,priority=%d,%s", k.Cookie, k.Priority, k.Match)
}

// LogicalKey is the aggregation identity of the object counters are reported for.
// Many flow entries may map onto one LogicalKey.
type LogicalKey struct {
	Cookie        uint64
	SrcGroup      uint32
	DstGroup      uint32
	// RoutingDomain is set on the keys of dropped traffic, which is counted
	// per routing domain rather than per classifier.
	RoutingDomain uint32
}

func (k LogicalKey) String() string {
	if k.RoutingDomain != 0 {
		return fmt.Sprintf("rd-%d", k.RoutingDomain)
	}
	if k.SrcGroup == 0 && k.DstGroup == 0 {
		return fmt.Sprintf("%d", k.Cookie)
	}
	return fmt.Sprintf("%d-%d-%d", k.Cookie, k.SrcGroup, k.DstGroup)
}

// Counters is a packet/byte pair. Used both for per-epoch deltas and cumulative totals.
type Counters struct {
	Packets uint64
	Bytes   uint64
}

// Add returns the sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{Packets: c.Packets + o.Packets, Bytes: c.Bytes + o.Bytes}
}

// CounterMap holds the aggregated counters of one table for one epoch.
type CounterMap map[LogicalKey]Counters

// Delta is what a stats manager hands to publishers once per epoch and table.
type Delta struct {
	AgentUUID string
	Table     TableID
	TableName string
	Timestamp time.Time
	Counters  CounterMap
}
