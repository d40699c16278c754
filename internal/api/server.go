package api

import (
	"Go2NetStats/internal/engine/manager"
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/publisher"
	"Go2NetStats/internal/query"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// StatsSource exposes the state of the stats manager.
type StatsSource interface {
	State() manager.State
	Tables() []manager.TableInfo
}

// CounterSource exposes the cumulative counters.
type CounterSource interface {
	Tables() []model.TableID
	Totals(table model.TableID) (publisher.TableTotals, bool)
}

// Handler holds the dependencies for API handlers.
type Handler struct {
	stats    StatsSource
	counters CounterSource
	querier  query.Querier
}

// NewRouter builds the HTTP API. counters and querier may be nil, in which
// case their routes answer 503. metrics may be nil.
func NewRouter(stats StatsSource, counters CounterSource, querier query.Querier, metrics http.Handler) *mux.Router {
	h := &Handler{stats: stats, counters: counters, querier: querier}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", h.statusHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tables", h.tablesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/counters", h.allCountersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/counters/{table:[0-9]+}", h.tableCountersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/history/{name}", h.historyHandler).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

type statusResponse struct {
	State  string              `json:"state"`
	Tables []manager.TableInfo `json:"tables"`
}

type counterEntry struct {
	Cookie        uint64 `json:"cookie"`
	SrcGroup      uint32 `json:"src_group,omitempty"`
	DstGroup      uint32 `json:"dst_group,omitempty"`
	RoutingDomain uint32 `json:"routing_domain,omitempty"`
	Packets       uint64 `json:"packets"`
	Bytes         uint64 `json:"bytes"`
}

type tableCounters struct {
	Table    model.TableID  `json:"table"`
	Name     string         `json:"name"`
	Updated  time.Time      `json:"updated"`
	Epochs   uint64         `json:"epochs"`
	Counters []counterEntry `json:"counters"`
}

type historyEntry struct {
	counterEntry
	Epochs    uint64    `json:"epochs"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

func toTableCounters(t publisher.TableTotals) tableCounters {
	out := tableCounters{Table: t.Table, Name: t.Name, Updated: t.Updated, Epochs: t.Epochs, Counters: []counterEntry{}}
	for _, k := range protocol.SortedKeys(t.Counters) {
		c := t.Counters[k]
		out.Counters = append(out.Counters, counterEntry{
			Cookie:   k.Cookie,
			SrcGroup:      k.SrcGroup,
			DstGroup:      k.DstGroup,
			RoutingDomain: k.RoutingDomain,
			Packets:       c.Packets,
			Bytes:         c.Bytes,
		})
	}
	return out
}

func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{State: h.stats.State().String(), Tables: h.stats.Tables()})
}

func (h *Handler) tablesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Tables())
}

func (h *Handler) allCountersHandler(w http.ResponseWriter, r *http.Request) {
	if h.counters == nil {
		http.Error(w, "no counter store configured", http.StatusServiceUnavailable)
		return
	}
	resp := []tableCounters{}
	for _, id := range h.counters.Tables() {
		if t, ok := h.counters.Totals(id); ok {
			resp = append(resp, toTableCounters(t))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) tableCountersHandler(w http.ResponseWriter, r *http.Request) {
	if h.counters == nil {
		http.Error(w, "no counter store configured", http.StatusServiceUnavailable)
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["table"], 10, 8)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid table id: %v", err), http.StatusBadRequest)
		return
	}
	t, ok := h.counters.Totals(model.TableID(id))
	if !ok {
		http.Error(w, fmt.Sprintf("no counters for table %d", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toTableCounters(t))
}

func parseHistoryRequest(r *http.Request) (query.HistoryRequest, error) {
	req := query.HistoryRequest{TableName: mux.Vars(r)["name"]}
	q := r.URL.Query()
	if v := q.Get("cookie"); v != "" {
		cookie, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return req, fmt.Errorf("invalid cookie: %w", err)
		}
		req.Cookie = &cookie
	}
	for name, dst := range map[string]*time.Time{"since": &req.Since, "until": &req.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = ts
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return req, fmt.Errorf("invalid limit: %q", v)
		}
		req.Limit = limit
	}
	return req, nil
}

func (h *Handler) historyHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "no history store configured", http.StatusServiceUnavailable)
		return
	}
	req, err := parseHistoryRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	totals, err := h.querier.History(r.Context(), req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query history: %v", err), http.StatusInternalServerError)
		return
	}
	resp := make([]historyEntry, 0, len(totals))
	for _, t := range totals {
		resp = append(resp, historyEntry{
			counterEntry: counterEntry{
				Cookie:   t.Key.Cookie,
				SrcGroup:      t.Key.SrcGroup,
				DstGroup:      t.Key.DstGroup,
				RoutingDomain: t.Key.RoutingDomain,
				Packets:       t.Counters.Packets,
				Bytes:         t.Counters.Bytes,
			},
			Epochs:    t.Epochs,
			FirstSeen: t.FirstSeen,
			LastSeen:  t.LastSeen,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Failed to write API response: %v", err)
	}
}
