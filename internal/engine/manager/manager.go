package manager

import (
	"Go2NetStats/internal/engine/flowstate"
	"Go2NetStats/internal/engine/reconcile"
	"Go2NetStats/internal/metrics"
	"Go2NetStats/internal/model"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of the poller.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// TableConfig describes one managed table.
type TableConfig struct {
	ID      model.TableID
	Name    string
	KeyFunc reconcile.KeyFunc
}

// Options holds the collaborators and settings of a Manager.
type Options struct {
	AgentUUID  string
	Interval   time.Duration
	MaxAge     uint32
	Tables     []TableConfig
	Enumerator model.FlowEnumerator
	Requester  model.StatsRequester
	Publisher  model.Publisher
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	// OnStateChange, if set, is called after every lifecycle transition.
	// It must not call back into the Manager.
	OnStateChange func(State)
}

type table struct {
	id    model.TableID
	name  string
	state *flowstate.State
	agg   *reconcile.Aggregator
}

// Manager periodically reconciles the flow counters of a set of tables into
// per-logical-object deltas and hands them to a publisher.
type Manager struct {
	// mu serializes epoch passes and message handlers over all tables.
	mu     sync.Mutex
	tables map[model.TableID]*table
	order  []*table

	agentUUID  string
	interval   time.Duration
	enumerator model.FlowEnumerator
	requester  model.StatsRequester
	publisher  model.Publisher
	clock      clock.Clock
	metrics    *metrics.Metrics
	onState    func(State)

	// lifecycle
	lifeMu sync.Mutex
	state  State
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new Manager in the Stopped state.
func NewManager(opts Options) (*Manager, error) {
	if opts.Enumerator == nil || opts.Requester == nil || opts.Publisher == nil {
		return nil, fmt.Errorf("manager requires an enumerator, a requester and a publisher")
	}
	if len(opts.Tables) == 0 {
		return nil, fmt.Errorf("manager requires at least one table")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be a positive duration")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	m := &Manager{
		tables:     make(map[model.TableID]*table, len(opts.Tables)),
		agentUUID:  opts.AgentUUID,
		interval:   opts.Interval,
		enumerator: opts.Enumerator,
		requester:  opts.Requester,
		publisher:  opts.Publisher,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		onState:    opts.OnStateChange,
	}
	for _, tc := range opts.Tables {
		if _, exists := m.tables[tc.ID]; exists {
			return nil, fmt.Errorf("table %d configured twice", tc.ID)
		}
		if tc.Name == "" {
			tc.Name = fmt.Sprintf("table_%d", tc.ID)
		}
		t := &table{
			id:    tc.ID,
			name:  tc.Name,
			state: flowstate.NewState(),
			agg:   reconcile.NewAggregator(tc.KeyFunc, opts.MaxAge, log.WithField("table", tc.Name)),
		}
		m.tables[tc.ID] = t
		m.order = append(m.order, t)
	}
	return m, nil
}

// SetPollInterval changes the interval between epochs. It takes effect on the next Start.
func (m *Manager) SetPollInterval(d time.Duration) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if d > 0 {
		m.interval = d
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}

// Start begins scheduling epochs. Calling Start on a running manager is a no-op.
func (m *Manager) Start() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.state != Stopped {
		return
	}

	// The ticker is created here rather than in the goroutine so that the
	// first tick is scheduled relative to Start.
	ticker := m.clock.Ticker(m.interval)
	ctx, cancel := context.WithCancel(context.Background())
	m.done = make(chan struct{})
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx, ticker, m.done, m.interval)

	m.setState(Running)
	log.Printf("Stats manager started with interval %s for %d tables.", m.interval, len(m.order))
}

// Stop halts scheduling. An epoch in progress completes; no further epoch starts.
// Calling Stop on a stopped manager is a no-op.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.state != Running {
		return
	}
	m.setState(Stopping)
	log.Println("Stats manager stopping...")

	close(m.done)
	m.wg.Wait()
	m.cancel()

	m.setState(Stopped)
	log.Println("Stats manager stopped.")
}

func (m *Manager) run(ctx context.Context, ticker *clock.Ticker, done <-chan struct{}, interval time.Duration) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A tick and a stop may be ready together; stop wins.
			select {
			case <-done:
				return
			default:
			}
			// An epoch must not outlive the next tick.
			epochCtx, cancel := m.clock.WithTimeout(ctx, interval)
			m.RunEpoch(epochCtx)
			cancel()
		case <-done:
			return
		}
	}
}

// RunEpoch performs one polling epoch for every managed table: refresh the
// flow registrations, aggregate, publish and request the next stats.
func (m *Manager) RunEpoch(ctx context.Context) {
	for _, t := range m.order {
		delta := m.reconcileTable(t)

		if err := m.publisher.Publish(ctx, delta); err != nil {
			m.metrics.PublishErrors.WithLabelValues(m.publisher.Name()).Inc()
			log.WithField("table", t.name).Errorf("Failed to publish counters: %v", err)
		}

		if err := m.requester.RequestStats(t.id); err != nil {
			m.metrics.RequestErrors.WithLabelValues(t.name).Inc()
			log.WithField("table", t.name).Warnf("Failed to send stats request: %v", err)
		}
	}
}

// reconcileTable runs the refresh and aggregation passes of one table under the lock.
func (m *Manager) reconcileTable(t *table) model.Delta {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.clock.Now()
	var report reconcile.Report
	t.agg.Refresh(t.state, m.enumerator.Flows(t.id), &report)
	counters := t.agg.Aggregate(t.state, &report)

	sizes := t.state.Sizes()
	m.metrics.EpochDuration.WithLabelValues(t.name).Observe(m.clock.Since(start).Seconds())
	m.metrics.Epochs.WithLabelValues(t.name).Inc()
	m.metrics.TrackedFlows.WithLabelValues(t.name, "new").Set(float64(sizes.New))
	m.metrics.TrackedFlows.WithLabelValues(t.name, "old").Set(float64(sizes.Old))
	m.metrics.TrackedFlows.WithLabelValues(t.name, "removed").Set(float64(sizes.Removed))
	m.metrics.Evicted.WithLabelValues(t.name, "new").Add(float64(report.EvictedNew))
	m.metrics.Evicted.WithLabelValues(t.name, "old").Add(float64(report.EvictedOld))
	m.metrics.PublishedKeys.WithLabelValues(t.name).Add(float64(len(counters)))

	if report.EvictedNew+report.EvictedOld > 0 {
		log.WithField("table", t.name).Debugf("Evicted %d unsampled and %d stale flows.", report.EvictedNew, report.EvictedOld)
	}

	return model.Delta{
		AgentUUID: m.agentUUID,
		Table:     t.id,
		TableName: t.name,
		Timestamp: start,
		Counters:  counters,
	}
}

// OnStatsReply handles one flow entry of a FLOW_STATS_REPLY for the given table.
// Entries of unmanaged tables or unknown flows are ignored.
func (m *Manager) OnStatsReply(id model.TableID, key model.FlowKey, packets, bytes uint64) {
	m.mu.Lock()
	t, ok := m.tables[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	outcome := reconcile.ApplyStatsReply(t.state, key, packets, bytes)
	m.mu.Unlock()

	m.metrics.Replies.WithLabelValues(t.name, outcome.String()).Inc()
	if outcome == reconcile.Regressed {
		log.WithField("table", t.name).Debugf("Counter regression on %s, baseline reset.", key)
	}
}

// OnFlowRemoved handles one FLOW_REMOVED notification for the given table.
func (m *Manager) OnFlowRemoved(id model.TableID, key model.FlowKey, finalPackets, finalBytes uint64) {
	m.mu.Lock()
	t, ok := m.tables[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	outcome := reconcile.ApplyFlowRemoved(t.state, key, finalPackets, finalBytes)
	m.mu.Unlock()

	m.metrics.Removals.WithLabelValues(t.name, outcome.String()).Inc()
}

// TableInfo describes the state of one managed table.
type TableInfo struct {
	ID    model.TableID   `json:"id"`
	Name  string          `json:"name"`
	Flows flowstate.Sizes `json:"flows"`
}

// Tables returns the managed tables with their current map sizes.
func (m *Manager) Tables() []TableInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]TableInfo, 0, len(m.order))
	for _, t := range m.order {
		infos = append(infos, TableInfo{ID: t.id, Name: t.name, Flows: t.state.Sizes()})
	}
	return infos
}

// TableName resolves the configured name of a table.
func (m *Manager) TableName(id model.TableID) (string, bool) {
	t, ok := m.tables[id]
	if !ok {
		return "", false
	}
	return t.name, true
}
