package main

import (
	"Go2NetStats/internal/api"
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/manager"
	"Go2NetStats/internal/engine/reconcile"
	"Go2NetStats/internal/flowtable"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/metrics"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/publisher"
	"Go2NetStats/internal/query"
	"Go2NetStats/internal/rpc"
	"Go2NetStats/internal/transport"
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	interval, _ := cfg.Stats.Interval()
	log.WithField("agent", cfg.Agent.UUID).Printf("Starting ns-statsd, polling %d tables every %s.", len(cfg.Stats.Tables), interval)

	m := metrics.New()
	flows := flowtable.NewRegistry()

	// 2. Publishers
	pubs, err := publisher.Create(cfg.Publishers)
	if err != nil {
		log.Fatalf("Failed to create publishers: %v", err)
	}
	sink := publisher.NewMulti(pubs...)
	var counters api.CounterSource
	for _, p := range pubs {
		if store, ok := p.(*publisher.MemoryStore); ok {
			counters = store
			break
		}
	}

	// 3. Transport to the switch
	tr, err := transport.NewNATS(cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}

	// 4. Stats manager
	tables := make([]manager.TableConfig, 0, len(cfg.Stats.Tables))
	for _, def := range cfg.Stats.Tables {
		keyFn, err := reconcile.KeyFuncByName(def.Key)
		if err != nil {
			log.Fatalf("Invalid key for table %s: %v", def.Name, err)
		}
		tables = append(tables, manager.TableConfig{ID: model.TableID(def.ID), Name: def.Name, KeyFunc: keyFn})
	}

	health := rpc.NewServer()
	mgr, err := manager.NewManager(manager.Options{
		AgentUUID:     cfg.Agent.UUID,
		Interval:      interval,
		MaxAge:        cfg.Stats.MaxAge,
		Tables:        tables,
		Enumerator:    flows,
		Requester:     tr,
		Publisher:     sink,
		Metrics:       m,
		OnStateChange: health.SetState,
	})
	if err != nil {
		log.Fatalf("Failed to create stats manager: %v", err)
	}

	if err := tr.Start(transport.NewDispatcher(mgr, flows, m)); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}

	// 5. Optional history querier
	var querier query.Querier
	for _, def := range cfg.Publishers {
		if def.Enabled && def.Type == "clickhouse" {
			querier, err = query.NewClickHouseQuerier(context.Background(), def.ClickHouse)
			if err != nil {
				log.Fatalf("Failed to create querier: %v", err)
			}
			break
		}
	}

	// 6. API servers
	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(mgr, counters, querier, m.Handler()),
	}
	if cfg.API.ListenAddr != "" {
		go func() {
			log.Printf("API server starting on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Could not listen on %s: %v", httpServer.Addr, err)
			}
		}()
	}
	if cfg.GRPC.ListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
		if err != nil {
			log.Fatalf("Failed to listen on %s: %v", cfg.GRPC.ListenAddr, err)
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Fatalf("Failed to serve gRPC: %v", err)
			}
		}()
	}

	// 7. Run until a shutdown signal
	mgr.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping stats manager...")
	mgr.Stop()

	if err := tr.Close(); err != nil {
		log.Errorf("Failed to close transport: %v", err)
	}
	if err := sink.Close(); err != nil {
		log.Errorf("Failed to close publishers: %v", err)
	}
	if querier != nil {
		querier.Close()
	}

	health.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Errorf("API server forced to shutdown: %v", err)
	}
	log.Println("Shutdown complete.")
}
