package transport

import (
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/metrics"
	"Go2NetStats/internal/model"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Subject suffixes, appended to the configured prefix.
const (
	SubjectStatsRequest = "stats.request"
	SubjectStatsReply   = "stats.reply"
	SubjectFlowRemoved  = "flow.removed"
	SubjectFlowTable    = "flows"
)

// Subject joins a prefix and a subject suffix.
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

// Handler consumes decoded switch messages, one flow at a time.
type Handler interface {
	OnStatsReply(table model.TableID, key model.FlowKey, packets, bytes uint64)
	OnFlowRemoved(table model.TableID, key model.FlowKey, finalPackets, finalBytes uint64)
}

// FlowSink records the flows announced by the switch.
type FlowSink interface {
	Replace(table model.TableID, flows []model.FlowKey)
	Remove(table model.TableID, key model.FlowKey)
	Untrack(table model.TableID, key model.FlowKey)
}

// Dispatcher decodes raw payloads and routes them to a Handler and a FlowSink.
type Dispatcher struct {
	handler Handler
	flows   FlowSink
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher. flows may be nil when flow tables are
// enumerated from another source.
func NewDispatcher(h Handler, flows FlowSink, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{handler: h, flows: flows, metrics: m}
}

// HandleStatsReply dispatches every entry of a FLOW_STATS_REPLY. Entries
// without the SEND_FLOW_REM flag are skipped: their removal would never be
// reported, so their last interval would be lost or double counted.
func (d *Dispatcher) HandleStatsReply(data []byte) {
	reply, err := protocol.DecodeFlowStatsReply(data)
	if err != nil {
		d.decodeFailed(SubjectStatsReply, err)
		return
	}
	for _, e := range reply.Entries {
		if e.Flags&protocol.FlagSendFlowRem == 0 {
			if d.flows != nil {
				d.flows.Untrack(reply.Table, e.Key)
			}
			continue
		}
		d.handler.OnStatsReply(reply.Table, e.Key, e.Packets, e.Bytes)
	}
}

// HandleFlowRemoved dispatches a FLOW_REMOVED notification.
func (d *Dispatcher) HandleFlowRemoved(data []byte) {
	msg, err := protocol.DecodeFlowRemoved(data)
	if err != nil {
		d.decodeFailed(SubjectFlowRemoved, err)
		return
	}
	if d.flows != nil {
		d.flows.Remove(msg.Table, msg.Key)
	}
	d.handler.OnFlowRemoved(msg.Table, msg.Key, msg.Packets, msg.Bytes)
}

// HandleFlowTable replaces the known flows of a table.
func (d *Dispatcher) HandleFlowTable(data []byte) {
	if d.flows == nil {
		return
	}
	msg, err := protocol.DecodeFlowTable(data)
	if err != nil {
		d.decodeFailed(SubjectFlowTable, err)
		return
	}
	d.flows.Replace(msg.Table, msg.Flows)
}

func (d *Dispatcher) decodeFailed(subject string, err error) {
	if errors.Is(err, protocol.ErrEmptyMessage) {
		return
	}
	d.metrics.DecodeFailures.WithLabelValues(subject).Inc()
	log.WithField("subject", subject).Warnf("Dropping undecodable message: %v", err)
}
