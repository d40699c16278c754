// Package switchsim simulates the flow tables of an OpenFlow switch: flows
// accumulate traffic, answer stats requests and are occasionally replaced.
package switchsim

import (
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/model"
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
)

// meanPacketSize is used to derive byte counts from packet counts.
const meanPacketSize = 64

type flow struct {
	key     model.FlowKey
	rate    float64 // packets per second
	packets float64
}

func (f *flow) counters() (uint64, uint64) {
	p := uint64(f.packets)
	return p, p * meanPacketSize
}

// Switch holds the simulated tables. It is safe for concurrent use.
type Switch struct {
	mu         sync.Mutex
	rng        *rand.Rand
	tables     map[model.TableID][]*flow
	nextCookie uint64
	cookies    int
}

// Options configures a simulated switch.
type Options struct {
	Tables        []model.TableID
	FlowsPerTable int
	// Cookies bounds the number of distinct cookies so that several flows share one.
	Cookies int
	// MaxRate is the highest packet rate of a flow.
	MaxRate float64
	Seed    uint64
}

// New creates a switch with FlowsPerTable flows in every table.
func New(opts Options) *Switch {
	if opts.Cookies <= 0 {
		opts.Cookies = 8
	}
	if opts.MaxRate <= 0 {
		opts.MaxRate = 100
	}
	s := &Switch{
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed)),
		tables:  make(map[model.TableID][]*flow, len(opts.Tables)),
		cookies: opts.Cookies,
	}
	for _, id := range opts.Tables {
		s.tables[id] = nil
		for range opts.FlowsPerTable {
			s.tables[id] = append(s.tables[id], s.newFlow(opts.MaxRate))
		}
	}
	return s
}

func (s *Switch) newFlow(maxRate float64) *flow {
	s.nextCookie++
	n := s.nextCookie
	dst := netip.AddrFrom4([4]byte{10, 96, byte(n >> 8), byte(n)})
	return &flow{
		key: model.FlowKey{
			Cookie:   uint64(s.rng.IntN(s.cookies)) + 1,
			Priority: 100,
			Match: model.Match{
				EthType: layers.EthernetTypeIPv4,
				IPProto: layers.IPProtocolTCP,
				Dst:     netip.PrefixFrom(dst, 32),
				Reg0:    uint32(s.rng.IntN(4)) + 1,
				Reg2:    uint32(s.rng.IntN(4)) + 1,
			},
		},
		rate: 1 + s.rng.Float64()*(maxRate-1),
	}
}

// Advance lets every flow accumulate d worth of traffic.
func (s *Switch) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, flows := range s.tables {
		for _, f := range flows {
			f.packets += f.rate * d.Seconds()
		}
	}
}

// Reply answers a stats request. Unknown tables get an empty reply.
func (s *Switch) Reply(req protocol.StatsRequest) protocol.FlowStatsReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply := protocol.FlowStatsReply{Table: req.Table, Xid: req.Xid}
	for _, f := range s.tables[req.Table] {
		p, b := f.counters()
		reply.Entries = append(reply.Entries, protocol.FlowStats{
			Key:     f.key,
			Flags:   protocol.FlagSendFlowRem,
			Packets: p,
			Bytes:   b,
		})
	}
	return reply
}

// Table returns the flows currently programmed in a table.
func (s *Switch) Table(id model.TableID) protocol.FlowTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := protocol.FlowTable{Table: id}
	for _, f := range s.tables[id] {
		t.Flows = append(t.Flows, f.key)
	}
	return t
}

// Churn deletes a random flow of the table, replacing it with a new one.
// It returns the removal notification of the deleted flow.
func (s *Switch) Churn(id model.TableID, maxRate float64) (protocol.FlowRemoved, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flows := s.tables[id]
	if len(flows) == 0 {
		return protocol.FlowRemoved{}, false
	}
	i := s.rng.IntN(len(flows))
	old := flows[i]
	flows[i] = s.newFlow(maxRate)

	p, b := old.counters()
	return protocol.FlowRemoved{
		Table:   id,
		Key:     old.key,
		Reason:  protocol.ReasonDelete,
		Packets: p,
		Bytes:   b,
	}, true
}
