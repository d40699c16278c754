package publisher

import (
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/model"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delta(table model.TableID, name string, counters model.CounterMap) model.Delta {
	return model.Delta{
		AgentUUID: "agent-1",
		Table:     table,
		TableName: name,
		Timestamp: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		Counters:  counters,
	}
}

func TestMemoryStore_Accumulates(t *testing.T) {
	s, err := NewMemoryStore("")
	require.NoError(t, err)
	ctx := context.Background()

	svc := model.LogicalKey{Cookie: 42}
	require.NoError(t, s.Publish(ctx, delta(12, "service_stats", model.CounterMap{svc: {Packets: 270, Bytes: 17280}})))
	require.NoError(t, s.Publish(ctx, delta(12, "service_stats", model.CounterMap{})))
	require.NoError(t, s.Publish(ctx, delta(12, "service_stats", model.CounterMap{svc: {Packets: 250, Bytes: 16000}})))
	require.NoError(t, s.Publish(ctx, delta(20, "policy_stats", model.CounterMap{{Cookie: 1, SrcGroup: 2}: {Packets: 1, Bytes: 60}})))

	totals, ok := s.Totals(12)
	require.True(t, ok)
	assert.Equal(t, "service_stats", totals.Name)
	assert.Equal(t, uint64(3), totals.Epochs)
	assert.Equal(t, model.Counters{Packets: 520, Bytes: 33280}, totals.Counters[svc])
	assert.Equal(t, []model.TableID{12, 20}, s.Tables())

	// Totals returns a copy.
	totals.Counters[svc] = model.Counters{}
	again, _ := s.Totals(12)
	assert.Equal(t, uint64(520), again.Counters[svc].Packets)

	_, ok = s.Totals(13)
	assert.False(t, ok)
}

func TestMemoryStore_Checkpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "counters.gob")

	s, err := NewMemoryStore(path)
	require.NoError(t, err, "a missing checkpoint is not an error")
	key := model.LogicalKey{Cookie: 7, SrcGroup: 1, DstGroup: 2}
	require.NoError(t, s.Publish(context.Background(), delta(20, "policy_stats", model.CounterMap{key: {Packets: 5, Bytes: 500}})))
	require.NoError(t, s.Close())

	restored, err := NewMemoryStore(path)
	require.NoError(t, err)
	totals, ok := restored.Totals(20)
	require.True(t, ok)
	assert.Equal(t, model.Counters{Packets: 5, Bytes: 500}, totals.Counters[key])
	assert.Equal(t, "policy_stats", totals.Name)

	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0644))
	_, err = NewMemoryStore(path)
	assert.Error(t, err)
}

type fakePublisher struct {
	name   string
	err    error
	mu     sync.Mutex
	got    []model.Delta
	closed bool
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, d model.Delta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, d)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return f.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	a := &fakePublisher{name: "a"}
	b := &fakePublisher{name: "b", err: boom}
	c := &fakePublisher{name: "c"}
	m := NewMulti(a, b, c)
	assert.Equal(t, "multi(a,b,c)", m.Name())

	d := delta(12, "service_stats", model.CounterMap{{Cookie: 1}: {Packets: 1}})
	err := m.Publish(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")
	for _, p := range []*fakePublisher{a, b, c} {
		assert.Len(t, p.got, 1, p.name)
	}

	assert.ErrorIs(t, m.Close(), boom)
	assert.True(t, a.closed)
	assert.True(t, c.closed)

	assert.NoError(t, NewMulti(a, c).Publish(context.Background(), d))
}

func TestCreate(t *testing.T) {
	pubs, err := Create([]config.PublisherDef{
		{Type: "memory", Enabled: true},
		{Type: "clickhouse", Enabled: false},
	})
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "memory", pubs[0].Name())

	_, err = Create([]config.PublisherDef{{Type: "memory", Enabled: true}, {Type: "kafka", Enabled: true}})
	assert.ErrorContains(t, err, "unknown publisher type: 'kafka'")
}

func TestRegister_Duplicate(t *testing.T) {
	assert.Panics(t, func() {
		Register("memory", func(config.PublisherDef) (model.Publisher, error) { return nil, nil })
	})
}

func TestRedis_HashIncrementClampsToSignedRange(t *testing.T) {
	v, clamped := hashIncrement(1500)
	assert.Equal(t, int64(1500), v)
	assert.False(t, clamped)

	v, clamped = hashIncrement(math.MaxInt64)
	assert.Equal(t, int64(math.MaxInt64), v)
	assert.False(t, clamped)

	v, clamped = hashIncrement(math.MaxUint64)
	assert.Equal(t, int64(math.MaxInt64), v)
	assert.True(t, clamped)
}

func TestRedis_Key(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	r := newRedis(client, "")

	assert.Equal(t, "ofstats:policy_stats:rd-2", r.Key("policy_stats", model.LogicalKey{RoutingDomain: 2}))
	assert.NoError(t, r.Publish(context.Background(), model.Delta{TableName: "policy_stats"}))
}
