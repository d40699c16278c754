package switchsim

import (
	"Go2NetStats/internal/engine/manager"
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/engine/reconcile"
	"Go2NetStats/internal/flowtable"
	"Go2NetStats/internal/metrics"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/publisher"
	"Go2NetStats/internal/transport"
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitch_ReplyAndChurn(t *testing.T) {
	sw := New(Options{Tables: []model.TableID{12}, FlowsPerTable: 5, Seed: 7})

	first := sw.Reply(protocol.StatsRequest{Table: 12, Xid: 1})
	require.Len(t, first.Entries, 5)
	assert.Equal(t, uint32(1), first.Xid)
	for _, e := range first.Entries {
		assert.Zero(t, e.Packets)
		assert.NotZero(t, e.Flags&protocol.FlagSendFlowRem)
	}

	sw.Advance(2 * time.Second)
	second := sw.Reply(protocol.StatsRequest{Table: 12})
	for i, e := range second.Entries {
		assert.Equal(t, first.Entries[i].Key, e.Key)
		assert.GreaterOrEqual(t, e.Packets, uint64(2))
		assert.Equal(t, e.Packets*meanPacketSize, e.Bytes)
	}

	removed, ok := sw.Churn(12, 100)
	require.True(t, ok)
	assert.GreaterOrEqual(t, removed.Packets, uint64(2))
	assert.NotContains(t, sw.Table(12).Flows, removed.Key)
	assert.Len(t, sw.Table(12).Flows, 5)

	_, ok = sw.Churn(13, 100)
	assert.False(t, ok)
	assert.Empty(t, sw.Reply(protocol.StatsRequest{Table: 13}).Entries)
}

// loopback answers stats requests synchronously through the dispatcher.
type loopback struct {
	t      *testing.T
	sw     *Switch
	handle func([]byte)
	last   map[model.TableID]protocol.FlowStatsReply
	prev   map[model.TableID]protocol.FlowStatsReply
}

func (l *loopback) RequestStats(id model.TableID) error {
	reply := l.sw.Reply(protocol.StatsRequest{Table: id})
	l.prev[id] = l.last[id]
	l.last[id] = reply
	data, err := protocol.EncodeFlowStatsReply(reply)
	require.NoError(l.t, err)
	l.handle(data)
	return nil
}

func TestEndToEnd_CountersMatchSwitch(t *testing.T) {
	const table model.TableID = 12
	sw := New(Options{Tables: []model.TableID{table}, FlowsPerTable: 20, Cookies: 4, MaxRate: 50, Seed: 42})
	flows := flowtable.NewRegistry()
	store, err := publisher.NewMemoryStore("")
	require.NoError(t, err)
	m := metrics.New()

	lb := &loopback{
		t:    t,
		sw:   sw,
		last: make(map[model.TableID]protocol.FlowStatsReply),
		prev: make(map[model.TableID]protocol.FlowStatsReply),
	}
	mgr, err := manager.NewManager(manager.Options{
		Interval:   time.Second,
		Tables:     []manager.TableConfig{{ID: table, Name: "service_stats", KeyFunc: reconcile.ByCookie}},
		Enumerator: flows,
		Requester:  lb,
		Publisher:  store,
		Clock:      clock.NewMock(),
		Metrics:    m,
	})
	require.NoError(t, err)
	d := transport.NewDispatcher(mgr, flows, m)
	lb.handle = d.HandleStatsReply

	announce := func() {
		data, err := protocol.EncodeFlowTable(sw.Table(table))
		require.NoError(t, err)
		d.HandleFlowTable(data)
	}

	var removedPackets uint64
	ctx := context.Background()
	for i := range 30 {
		announce()
		mgr.RunEpoch(ctx)
		sw.Advance(time.Second)
		if i%3 == 1 {
			removed, ok := sw.Churn(table, 50)
			require.True(t, ok)
			removedPackets += removed.Packets
			data, err := protocol.EncodeFlowRemoved(removed)
			require.NoError(t, err)
			d.HandleFlowRemoved(data)
		}
	}
	// The last iteration removes nothing, so the reply it requested covers every
	// live flow. One more epoch consumes its diffs.
	announce()
	mgr.RunEpoch(ctx)

	expected := removedPackets
	for _, e := range lb.prev[table].Entries {
		expected += e.Packets
	}

	totals, ok := store.Totals(table)
	require.True(t, ok)
	var published uint64
	for _, c := range totals.Counters {
		published += c.Packets
	}
	assert.Equal(t, expected, published)
	assert.LessOrEqual(t, len(totals.Counters), 4)
}
