package main

import (
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/switchsim"
	"Go2NetStats/internal/transport"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

func main() {
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL.")
	prefix := flag.String("prefix", "ofstats", "Subject prefix shared with ns-statsd.")
	tablesFlag := flag.String("tables", "12,20", "Comma-separated table ids to simulate.")
	flowsPerTable := flag.Int("flows", 50, "Flows per table.")
	cookies := flag.Int("cookies", 8, "Distinct cookies per table.")
	maxRate := flag.Float64("max-rate", 200, "Highest packet rate of a flow, in packets per second.")
	churn := flag.Duration("churn", 15*time.Second, "Interval between flow replacements, 0 to disable.")
	announce := flag.Duration("announce", 5*time.Second, "Interval between flow table announcements.")
	flag.Parse()

	tables, err := parseTables(*tablesFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -tables: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	sw := switchsim.New(switchsim.Options{
		Tables:        tables,
		FlowsPerTable: *flowsPerTable,
		Cookies:       *cookies,
		MaxRate:       *maxRate,
		Seed:          uint64(time.Now().UnixNano()),
	})

	nc, err := nats.Connect(*natsURL, nats.Name("ns-switchsim"))
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Drain()
	log.Printf("Connected to NATS server at %s", *natsURL)

	subject := func(suffix string) string { return transport.Subject(*prefix, suffix) }

	_, err = nc.Subscribe(subject(transport.SubjectStatsRequest), func(msg *nats.Msg) {
		req, err := protocol.DecodeStatsRequest(msg.Data)
		if err != nil {
			log.Warnf("Dropping stats request: %v", err)
			return
		}
		data, err := protocol.EncodeFlowStatsReply(sw.Reply(req))
		if err != nil {
			log.Errorf("Failed to encode stats reply: %v", err)
			return
		}
		if err := nc.Publish(subject(transport.SubjectStatsReply), data); err != nil {
			log.Errorf("Failed to publish stats reply: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to stats requests: %v", err)
	}

	publishTables := func() {
		for _, id := range tables {
			data, err := protocol.EncodeFlowTable(sw.Table(id))
			if err != nil {
				log.Errorf("Failed to encode flow table %d: %v", id, err)
				continue
			}
			if err := nc.Publish(subject(transport.SubjectFlowTable), data); err != nil {
				log.Errorf("Failed to announce flow table %d: %v", id, err)
			}
		}
	}
	publishTables()

	const step = 100 * time.Millisecond
	trafficTicker := time.NewTicker(step)
	defer trafficTicker.Stop()
	announceTicker := time.NewTicker(*announce)
	defer announceTicker.Stop()
	var churnC <-chan time.Time
	if *churn > 0 {
		churnTicker := time.NewTicker(*churn)
		defer churnTicker.Stop()
		churnC = churnTicker.C
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.Printf("Simulating %d flows in tables %v.", *flowsPerTable*len(tables), tables)

	for {
		select {
		case <-trafficTicker.C:
			sw.Advance(step)
		case <-announceTicker.C:
			publishTables()
		case <-churnC:
			for _, id := range tables {
				removed, ok := sw.Churn(id, *maxRate)
				if !ok {
					continue
				}
				data, err := protocol.EncodeFlowRemoved(removed)
				if err != nil {
					log.Errorf("Failed to encode flow removed: %v", err)
					continue
				}
				if err := nc.Publish(subject(transport.SubjectFlowRemoved), data); err != nil {
					log.Errorf("Failed to publish flow removed: %v", err)
				}
				log.Debugf("Replaced flow %s in table %d.", removed.Key, id)
			}
			publishTables()
		case <-sigChan:
			log.Println("Shutdown signal received, exiting.")
			return
		}
	}
}

func parseTables(s string) ([]model.TableID, error) {
	var ids []model.TableID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, err
		}
		ids = append(ids, model.TableID(id))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no tables given")
	}
	return ids, nil
}
