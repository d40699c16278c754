// Package chdb holds the ClickHouse connection and schema shared by the
// counter publisher and the history querier.
package chdb

import (
	"Go2NetStats/internal/config"
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Table is the name of the table per-epoch deltas are written to.
const Table = "counter_deltas"

// CreateTableStatement creates the deltas table if it does not exist.
const CreateTableStatement = `
CREATE TABLE IF NOT EXISTS counter_deltas (
    Timestamp      DateTime64(3),
    AgentUUID      String,
    TableID        UInt8,
    TableName      String,
    Cookie         UInt64,
    SrcGroup       UInt32,
    DstGroup       UInt32,
    RoutingDomain  UInt32,
    Packets        UInt64,
    Bytes          UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (TableName, Cookie, SrcGroup, DstGroup, RoutingDomain, Timestamp);
`

// Connect opens and pings a ClickHouse connection.
func Connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}
