package protocol

import (
	"Go2NetStats/internal/model"
	"cmp"
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EncodeDelta serializes the per-epoch counters of one table for fan-out to
// other consumers. Entries are sorted by logical key so the output is stable.
func EncodeDelta(d model.Delta) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(d.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("failed to encode timestamp: %w", err)
	}

	b := appendString(nil, 1, d.AgentUUID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Table))
	b = appendString(b, 3, d.TableName)
	b = appendBytes(b, 4, ts)

	for _, k := range SortedKeys(d.Counters) {
		c := d.Counters[k]
		var e []byte
		e = appendVarint(e, 1, k.Cookie)
		e = appendVarint(e, 2, uint64(k.SrcGroup))
		e = appendVarint(e, 3, uint64(k.DstGroup))
		e = appendVarint(e, 4, c.Packets)
		e = appendVarint(e, 5, c.Bytes)
		e = appendVarint(e, 6, uint64(k.RoutingDomain))
		b = appendBytes(b, 5, e)
	}
	return b, nil
}

// DecodeDelta parses a payload produced by EncodeDelta.
func DecodeDelta(data []byte) (model.Delta, error) {
	d := model.Delta{Counters: make(model.CounterMap)}
	if len(data) == 0 {
		return d, ErrEmptyMessage
	}
	err := walk(data, func(f field) error {
		switch f.num {
		case 1:
			d.AgentUUID = string(f.bytes)
		case 2:
			d.Table = model.TableID(f.varint)
		case 3:
			d.TableName = string(f.bytes)
		case 4:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(f.bytes, &ts); err != nil {
				return fmt.Errorf("invalid timestamp: %w", err)
			}
			d.Timestamp = ts.AsTime()
		case 5:
			var k model.LogicalKey
			var c model.Counters
			err := walk(f.bytes, func(ef field) error {
				switch ef.num {
				case 1:
					k.Cookie = ef.varint
				case 2:
					k.SrcGroup = uint32(ef.varint)
				case 3:
					k.DstGroup = uint32(ef.varint)
				case 4:
					c.Packets = ef.varint
				case 5:
					c.Bytes = ef.varint
				case 6:
					k.RoutingDomain = uint32(ef.varint)
				}
				return nil
			})
			if err != nil {
				return err
			}
			d.Counters[k] = d.Counters[k].Add(c)
		}
		return nil
	})
	return d, err
}

func compareLogicalKeys(a, b model.LogicalKey) int {
	if c := cmp.Compare(a.Cookie, b.Cookie); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SrcGroup, b.SrcGroup); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DstGroup, b.DstGroup); c != 0 {
		return c
	}
	return cmp.Compare(a.RoutingDomain, b.RoutingDomain)
}

// SortedKeys returns the keys of a CounterMap in a stable order.
func SortedKeys(m model.CounterMap) []model.LogicalKey {
	keys := make([]model.LogicalKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareLogicalKeys)
	return keys
}
