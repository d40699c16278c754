package publisher

import (
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/model"
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

func init() {
	Register("nats", func(def config.PublisherDef) (model.Publisher, error) {
		return NewNATS(def.NATS)
	})
}

// NATS publishes every delta as an encoded CounterDelta message on
// "<subject>.<table name>".
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to the NATS server.
func NewNATS(cfg config.NATSPublisherConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("ns-statsd-publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "ofstats.counters"
	}
	log.Printf("Publishing counter deltas to NATS subject '%s.>'", subject)
	return &NATS{nc: nc, subject: subject}, nil
}

func (p *NATS) Name() string { return "nats" }

// Publish serializes d and publishes it.
func (p *NATS) Publish(_ context.Context, d model.Delta) error {
	data, err := protocol.EncodeDelta(d)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject+"."+d.TableName, data)
}

// Close drains the NATS connection.
func (p *NATS) Close() error {
	return p.nc.Drain()
}
