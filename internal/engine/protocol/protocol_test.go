package protocol

import (
	"Go2NetStats/internal/model"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleKey() model.FlowKey {
	return model.FlowKey{
		Cookie:   0xdeadbeef00000042,
		Priority: 100,
		Match: model.Match{
			InPort:  3,
			EthType: layers.EthernetTypeIPv4,
			IPProto: layers.IPProtocolTCP,
			Src:     netip.MustParsePrefix("10.0.0.0/24"),
			Dst:     netip.MustParsePrefix("10.96.0.10/32"),
			Reg0:    5,
			Reg2:    7,
			Reg6:    9,
		},
	}
}

func TestFlowStatsReply_Decode(t *testing.T) {
	reply := FlowStatsReply{
		Table: 12,
		Xid:   99,
		Entries: []FlowStats{
			{Key: sampleKey(), Flags: FlagSendFlowRem, Packets: 300, Bytes: 19200},
			{Key: model.FlowKey{Cookie: 1}, Packets: 0, Bytes: 0},
		},
	}
	data, err := EncodeFlowStatsReply(reply)
	require.NoError(t, err)

	got, err := DecodeFlowStatsReply(data)
	require.NoError(t, err)
	assert.Equal(t, reply, *got)
	// The decoded key must be usable as the same map key.
	assert.True(t, got.Entries[0].Key == sampleKey())
}

func TestFlowStatsReply_EmptyTableZeroIsNotEmptyMessage(t *testing.T) {
	data, err := EncodeFlowStatsReply(FlowStatsReply{})
	require.NoError(t, err)
	got, err := DecodeFlowStatsReply(data)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
}

func TestDecode_EmptyAndTruncated(t *testing.T) {
	_, err := DecodeFlowStatsReply(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = DecodeFlowRemoved([]byte{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = DecodeStatsRequest(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	data, err := EncodeFlowRemoved(FlowRemoved{Table: 12, Key: sampleKey(), Packets: 350})
	require.NoError(t, err)
	_, err = DecodeFlowRemoved(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecode_CutOnFieldBoundaryLosesTrailingFields(t *testing.T) {
	data, err := EncodeFlowRemoved(FlowRemoved{Table: 12, Key: sampleKey(), Packets: 350})
	require.NoError(t, err)

	// The packets field is the last one: its tag and a two byte varint.
	got, err := DecodeFlowRemoved(data[:len(data)-3])
	require.NoError(t, err)
	assert.Equal(t, sampleKey(), got.Key)
	assert.Zero(t, got.Packets)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	data := EncodeStatsRequest(StatsRequest{Table: 20, Xid: 7})
	data = protowire.AppendTag(data, 15, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 1234)
	data = protowire.AppendTag(data, 16, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))

	got, err := DecodeStatsRequest(data)
	require.NoError(t, err)
	assert.Equal(t, StatsRequest{Table: 20, Xid: 7}, got)
}

func TestFlowRemovedAndFlowTable(t *testing.T) {
	removed := FlowRemoved{Table: 12, Key: sampleKey(), Reason: ReasonDelete, Packets: 350, Bytes: 22400}
	data, err := EncodeFlowRemoved(removed)
	require.NoError(t, err)
	got, err := DecodeFlowRemoved(data)
	require.NoError(t, err)
	assert.Equal(t, removed, *got)

	table := FlowTable{Table: 12, Flows: []model.FlowKey{sampleKey(), {Cookie: 2, Priority: 1}}}
	data, err = EncodeFlowTable(table)
	require.NoError(t, err)
	gotTable, err := DecodeFlowTable(data)
	require.NoError(t, err)
	assert.Equal(t, table, *gotTable)
}

func TestDelta_RoundTrip(t *testing.T) {
	d := model.Delta{
		AgentUUID: "5a1c1e4e-8f43-4d2b-9a57-31c8a4a0a6b2",
		Table:     20,
		TableName: "policy_stats",
		Timestamp: time.Date(2026, 10, 19, 12, 0, 0, 500, time.UTC),
		Counters: model.CounterMap{
			{Cookie: 42}:                          {Packets: 270, Bytes: 17280},
			{Cookie: 8, SrcGroup: 3, DstGroup: 4}: {Packets: 5, Bytes: 50},
			{RoutingDomain: 2}:                    {Packets: 9, Bytes: 900},
		},
	}
	data, err := EncodeDelta(d)
	require.NoError(t, err)

	again, err := EncodeDelta(d)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	got, err := DecodeDelta(data)
	require.NoError(t, err)
	assert.True(t, d.Timestamp.Equal(got.Timestamp))
	got.Timestamp = d.Timestamp
	assert.Equal(t, d, got)
}

func TestMatch_String(t *testing.T) {
	assert.Equal(t, "in_port=3,reg0=0x5,reg2=0x7,reg6=0x9,ip,tcp,nw_src=10.0.0.0/24,nw_dst=10.96.0.10/32", sampleKey().Match.String())
	assert.Equal(t, "*", model.Match{}.String())
}
