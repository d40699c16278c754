package api

import (
	"Go2NetStats/internal/engine/flowstate"
	"Go2NetStats/internal/engine/manager"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/publisher"
	"Go2NetStats/internal/query"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{}

func (fakeStats) State() manager.State { return manager.Running }

func (fakeStats) Tables() []manager.TableInfo {
	return []manager.TableInfo{{ID: 12, Name: "service_stats", Flows: flowstate.Sizes{New: 1, Old: 3}}}
}

type fakeQuerier struct {
	got query.HistoryRequest
}

func (f *fakeQuerier) History(_ context.Context, req query.HistoryRequest) ([]query.ObjectTotal, error) {
	f.got = req
	return []query.ObjectTotal{{
		Key:      model.LogicalKey{Cookie: 42},
		Counters: model.Counters{Packets: 520, Bytes: 33280},
		Epochs:   2,
	}}, nil
}

func (f *fakeQuerier) Close() error { return nil }

func newTestServer(t *testing.T, q query.Querier) *httptest.Server {
	store, err := publisher.NewMemoryStore("")
	require.NoError(t, err)
	require.NoError(t, store.Publish(context.Background(), model.Delta{
		Table:     12,
		TableName: "service_stats",
		Timestamp: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		Counters: model.CounterMap{
			{Cookie: 42}: {Packets: 270, Bytes: 17280},
			{Cookie: 7}:  {Packets: 1, Bytes: 64},
		},
	}))

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	srv := httptest.NewServer(NewRouter(fakeStats{}, store, q, metrics))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) int {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestStatusAndTables(t *testing.T) {
	srv := newTestServer(t, nil)

	var status statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/status", &status))
	assert.Equal(t, "running", status.State)
	require.Len(t, status.Tables, 1)
	assert.Equal(t, 3, status.Tables[0].Flows.Old)

	var tables []manager.TableInfo
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/tables", &tables))
	assert.Equal(t, "service_stats", tables[0].Name)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/metrics", nil))
}

func TestCounters(t *testing.T) {
	srv := newTestServer(t, nil)

	var one tableCounters
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/counters/12", &one))
	assert.Equal(t, "service_stats", one.Name)
	assert.Equal(t, uint64(1), one.Epochs)
	assert.Equal(t, []counterEntry{
		{Cookie: 7, Packets: 1, Bytes: 64},
		{Cookie: 42, Packets: 270, Bytes: 17280},
	}, one.Counters)

	var all []tableCounters
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/counters", &all))
	assert.Len(t, all, 1)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/v1/counters/13", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/counters/300", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/v1/counters/abc", nil))
}

func TestHistory(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, newTestServer(t, nil).URL+"/api/v1/history/service_stats", nil))

	q := &fakeQuerier{}
	srv := newTestServer(t, q)

	var entries []historyEntry
	url := srv.URL + "/api/v1/history/service_stats?cookie=0x2a&since=2026-10-19T00:00:00Z&limit=5"
	require.Equal(t, http.StatusOK, getJSON(t, url, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(520), entries[0].Packets)

	assert.Equal(t, "service_stats", q.got.TableName)
	require.NotNil(t, q.got.Cookie)
	assert.Equal(t, uint64(42), *q.got.Cookie)
	assert.True(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC).Equal(q.got.Since))
	assert.True(t, q.got.Until.IsZero())
	assert.Equal(t, 5, q.got.Limit)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/history/service_stats?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/history/service_stats?since=yesterday", nil))
}
