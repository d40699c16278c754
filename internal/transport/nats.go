package transport

import (
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/model"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// NATS connects the agent to the switch codec over NATS subjects. It sends
// stats requests and feeds replies, removals and flow tables to a Dispatcher.
type NATS struct {
	nc     *nats.Conn
	prefix string
	subs   []*nats.Subscription
	xid    atomic.Uint32
}

// NewNATS connects to the configured NATS server.
func NewNATS(cfg config.TransportConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-statsd"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &NATS{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Start subscribes to the switch subjects.
func (t *NATS) Start(d *Dispatcher) error {
	handlers := map[string]func([]byte){
		SubjectStatsReply:  d.HandleStatsReply,
		SubjectFlowRemoved: d.HandleFlowRemoved,
		SubjectFlowTable:   d.HandleFlowTable,
	}
	for suffix, h := range handlers {
		subject := Subject(t.prefix, suffix)
		sub, err := t.nc.Subscribe(subject, func(msg *nats.Msg) {
			h(msg.Data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		t.subs = append(t.subs, sub)
		log.Printf("Subscribed to '%s'.", subject)
	}
	return nil
}

// RequestStats publishes a stats request for a table. It does not wait for the reply.
func (t *NATS) RequestStats(table model.TableID) error {
	data := protocol.EncodeStatsRequest(protocol.StatsRequest{Table: table, Xid: t.xid.Add(1)})
	return t.nc.Publish(Subject(t.prefix, SubjectStatsRequest), data)
}

// Close unsubscribes and drains the connection.
func (t *NATS) Close() error {
	var err error
	for _, sub := range t.subs {
		err = multierr.Append(err, sub.Unsubscribe())
	}
	t.subs = nil
	if t.nc != nil {
		err = multierr.Append(err, t.nc.Drain())
		log.Println("NATS transport drained and closed.")
	}
	return err
}
