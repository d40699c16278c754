package query

import (
	"Go2NetStats/internal/chdb"
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/model"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// HistoryRequest selects the deltas to sum up.
type HistoryRequest struct {
	TableName string
	Cookie    *uint64
	Since     time.Time
	Until     time.Time
	Limit     int
}

// ObjectTotal is the sum of the deltas of one logical object over a time range.
type ObjectTotal struct {
	Key       model.LogicalKey
	Counters  model.Counters
	Epochs    uint64
	FirstSeen time.Time
	LastSeen  time.Time
}

// Querier answers questions about the counter history.
type Querier interface {
	History(ctx context.Context, req HistoryRequest) ([]ObjectTotal, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(ctx context.Context, cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := chdb.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// buildHistoryQuery builds the aggregation query and its arguments.
func buildHistoryQuery(req HistoryRequest) (string, []any) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			Cookie,
			SrcGroup,
			DstGroup,
			RoutingDomain,
			SUM(Packets) AS TotalPackets,
			SUM(Bytes) AS TotalBytes,
			COUNT(*) AS Epochs,
			min(Timestamp) AS FirstSeen,
			max(Timestamp) AS LastSeen
		FROM ` + chdb.Table)

	whereClauses := []string{"TableName = ?"}
	args := []any{req.TableName}

	if req.Cookie != nil {
		whereClauses = append(whereClauses, "Cookie = ?")
		args = append(args, *req.Cookie)
	}
	if !req.Since.IsZero() {
		whereClauses = append(whereClauses, "Timestamp >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, req.Until)
	}
	queryBuilder.WriteString("\n\t\tWHERE " + strings.Join(whereClauses, " AND "))
	queryBuilder.WriteString(`
		GROUP BY Cookie, SrcGroup, DstGroup, RoutingDomain
		ORDER BY TotalPackets DESC, Cookie, SrcGroup, DstGroup, RoutingDomain`)

	if req.Limit > 0 {
		queryBuilder.WriteString(fmt.Sprintf("\n\t\tLIMIT %d", req.Limit))
	}
	return queryBuilder.String(), args
}

// History sums the deltas of every logical object of a table.
func (q *clickhouseQuerier) History(ctx context.Context, req HistoryRequest) ([]ObjectTotal, error) {
	if req.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}
	query, args := buildHistoryQuery(req)

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var totals []ObjectTotal
	for rows.Next() {
		var t ObjectTotal
		if err := rows.Scan(&t.Key.Cookie, &t.Key.SrcGroup, &t.Key.DstGroup, &t.Key.RoutingDomain,
			&t.Counters.Packets, &t.Counters.Bytes, &t.Epochs, &t.FirstSeen, &t.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan history result: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}
	return totals, nil
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}
