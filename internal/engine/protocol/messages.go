package protocol

import (
	"Go2NetStats/internal/model"
	"fmt"
	"net/netip"

	"github.com/google/gopacket/layers"
	"google.golang.org/protobuf/encoding/protowire"
)

// FlagSendFlowRem marks flow entries that notify the controller when they are removed.
const FlagSendFlowRem uint16 = 1 << 0

// RemovedReason tells why a switch removed a flow entry.
type RemovedReason uint8

const (
	ReasonIdleTimeout RemovedReason = iota
	ReasonHardTimeout
	ReasonDelete
	ReasonGroupDelete
)

// StatsRequest asks the switch for the flow statistics of one table.
type StatsRequest struct {
	Table model.TableID
	Xid   uint32
}

// FlowStats is one entry of a flow stats reply.
type FlowStats struct {
	Key     model.FlowKey
	Flags   uint16
	Packets uint64
	Bytes   uint64
}

// FlowStatsReply carries the per-flow counters of one table.
type FlowStatsReply struct {
	Table   model.TableID
	Xid     uint32
	Entries []FlowStats
}

// FlowRemoved notifies that a flow entry was deleted, with its final counters.
type FlowRemoved struct {
	Table   model.TableID
	Key     model.FlowKey
	Reason  RemovedReason
	Packets uint64
	Bytes   uint64
}

// FlowTable announces the flows currently configured in a table.
type FlowTable struct {
	Table model.TableID
	Flows []model.FlowKey
}

func appendMatch(b []byte, m model.Match) ([]byte, error) {
	b = appendVarint(b, 1, uint64(m.InPort))
	b = appendVarint(b, 2, uint64(m.EthType))
	b = appendVarint(b, 3, uint64(m.IPProto))
	if m.Src.IsValid() {
		raw, err := m.Src.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode nw_src: %w", err)
		}
		b = appendBytes(b, 4, raw)
	}
	if m.Dst.IsValid() {
		raw, err := m.Dst.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode nw_dst: %w", err)
		}
		b = appendBytes(b, 5, raw)
	}
	b = appendVarint(b, 6, uint64(m.Reg0))
	b = appendVarint(b, 7, uint64(m.Reg2))
	b = appendVarint(b, 8, uint64(m.Reg6))
	return b, nil
}

func decodeMatch(b []byte) (model.Match, error) {
	var m model.Match
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.InPort = uint32(f.varint)
		case 2:
			m.EthType = layers.EthernetType(f.varint)
		case 3:
			m.IPProto = layers.IPProtocol(f.varint)
		case 4, 5:
			var p netip.Prefix
			if err := p.UnmarshalBinary(f.bytes); err != nil {
				return fmt.Errorf("invalid prefix in match: %w", err)
			}
			if f.num == 4 {
				m.Src = p
			} else {
				m.Dst = p
			}
		case 6:
			m.Reg0 = uint32(f.varint)
		case 7:
			m.Reg2 = uint32(f.varint)
		case 8:
			m.Reg6 = uint32(f.varint)
		}
		return nil
	})
	return m, err
}

func appendFlowKey(b []byte, k model.FlowKey) ([]byte, error) {
	b = appendVarint(b, 1, k.Cookie)
	b = appendVarint(b, 2, uint64(k.Priority))
	match, err := appendMatch(nil, k.Match)
	if err != nil {
		return nil, err
	}
	return appendBytes(b, 3, match), nil
}

func decodeFlowKey(b []byte) (model.FlowKey, error) {
	var k model.FlowKey
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			k.Cookie = f.varint
		case 2:
			k.Priority = uint16(f.varint)
		case 3:
			m, err := decodeMatch(f.bytes)
			if err != nil {
				return err
			}
			k.Match = m
		}
		return nil
	})
	return k, err
}

// EncodeStatsRequest serializes a StatsRequest.
func EncodeStatsRequest(r StatsRequest) []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Table))
	return appendVarint(b, 2, uint64(r.Xid))
}

// DecodeStatsRequest parses a StatsRequest.
func DecodeStatsRequest(data []byte) (StatsRequest, error) {
	var r StatsRequest
	if len(data) == 0 {
		return r, ErrEmptyMessage
	}
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			r.Table = model.TableID(f.varint)
		case 2:
			r.Xid = uint32(f.varint)
		}
		return nil
	})
	return r, err
}

// EncodeFlowStatsReply serializes a FlowStatsReply.
func EncodeFlowStatsReply(r FlowStatsReply) ([]byte, error) {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Table))
	b = appendVarint(b, 2, uint64(r.Xid))
	for _, e := range r.Entries {
		entry, err := appendFlowKey(nil, e.Key)
		if err != nil {
			return nil, err
		}
		entry = appendBytes(nil, 1, entry)
		entry = appendVarint(entry, 2, uint64(e.Flags))
		entry = appendVarint(entry, 3, e.Packets)
		entry = appendVarint(entry, 4, e.Bytes)
		b = appendBytes(b, 3, entry)
	}
	return b, nil
}

// DecodeFlowStatsReply parses a FlowStatsReply.
func DecodeFlowStatsReply(data []byte) (*FlowStatsReply, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	r := &FlowStatsReply{}
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			r.Table = model.TableID(f.varint)
		case 2:
			r.Xid = uint32(f.varint)
		case 3:
			var e FlowStats
			err := walk(f.bytes, func(ef field) error {
				switch ef.num {
				case 1:
					k, err := decodeFlowKey(ef.bytes)
					if err != nil {
						return err
					}
					e.Key = k
				case 2:
					e.Flags = uint16(ef.varint)
				case 3:
					e.Packets = ef.varint
				case 4:
					e.Bytes = ef.varint
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("invalid flow stats entry: %w", err)
			}
			r.Entries = append(r.Entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// EncodeFlowRemoved serializes a FlowRemoved.
func EncodeFlowRemoved(r FlowRemoved) ([]byte, error) {
	key, err := appendFlowKey(nil, r.Key)
	if err != nil {
		return nil, err
	}
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Table))
	b = appendBytes(b, 2, key)
	b = appendVarint(b, 3, uint64(r.Reason))
	b = appendVarint(b, 4, r.Packets)
	b = appendVarint(b, 5, r.Bytes)
	return b, nil
}

// DecodeFlowRemoved parses a FlowRemoved.
func DecodeFlowRemoved(data []byte) (*FlowRemoved, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	r := &FlowRemoved{}
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			r.Table = model.TableID(f.varint)
		case 2:
			k, err := decodeFlowKey(f.bytes)
			if err != nil {
				return err
			}
			r.Key = k
		case 3:
			r.Reason = RemovedReason(f.varint)
		case 4:
			r.Packets = f.varint
		case 5:
			r.Bytes = f.varint
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// EncodeFlowTable serializes a FlowTable.
func EncodeFlowTable(t FlowTable) ([]byte, error) {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Table))
	for _, k := range t.Flows {
		key, err := appendFlowKey(nil, k)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, 2, key)
	}
	return b, nil
}

// DecodeFlowTable parses a FlowTable.
func DecodeFlowTable(data []byte) (*FlowTable, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	t := &FlowTable{}
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			t.Table = model.TableID(f.varint)
		case 2:
			k, err := decodeFlowKey(f.bytes)
			if err != nil {
				return err
			}
			t.Flows = append(t.Flows, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
