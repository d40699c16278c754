package publisher

import (
	"Go2NetStats/internal/chdb"
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/engine/protocol"
	"Go2NetStats/internal/model"
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

func init() {
	Register("clickhouse", func(def config.PublisherDef) (model.Publisher, error) {
		return NewClickHouse(context.Background(), def.ClickHouse)
	})
}

// ClickHouse appends every per-epoch delta to the counter_deltas table.
type ClickHouse struct {
	conn driver.Conn
}

// NewClickHouse connects to ClickHouse and ensures the table exists.
func NewClickHouse(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := chdb.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, chdb.CreateTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")
	return &ClickHouse{conn: conn}, nil
}

func (w *ClickHouse) Name() string { return "clickhouse" }

// Publish inserts one row per logical key. Empty deltas are not written.
func (w *ClickHouse) Publish(ctx context.Context, d model.Delta) error {
	if len(d.Counters) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+chdb.Table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, k := range protocol.SortedKeys(d.Counters) {
		c := d.Counters[k]
		err := batch.Append(
			d.Timestamp,
			d.AgentUUID,
			uint8(d.Table),
			d.TableName,
			k.Cookie,
			k.SrcGroup,
			k.DstGroup,
			k.RoutingDomain,
			c.Packets,
			c.Bytes,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append counters to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.WithField("table", d.TableName).Debugf("Wrote %d counter rows to ClickHouse.", len(d.Counters))
	return nil
}

func (w *ClickHouse) Close() error {
	return w.conn.Close()
}
