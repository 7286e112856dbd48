// Package obs hosts the observability sinks the retrieval engine writes
// structured events to: a best-effort ClickHouse table of per-request
// retrieval telemetry, and the OpenTelemetry metric instruments recorded at
// each pipeline stage.
package obs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"notesrag/internal/config"
)

// RetrievalEvent is one row of structured retrieval telemetry: the
// candidate counts per stage, the score distribution, strategy, and
// elapsed time mandated by the retrieval engine's final stage.
type RetrievalEvent struct {
	Timestamp       time.Time
	Tenant          string
	QueryHash       string
	Strategy        string
	VectorCount     uint32
	LexicalCount    uint32
	RecencyCount    uint32
	MergedCount     uint32
	FinalCount      uint32
	TopScore        float64
	ScoreGap        float64
	UniqueNoteCount uint32
	DriftDetected   bool
	MissingRatio    float64
	ElapsedMS       uint32
}

// ClickHouseSink best-effort inserts RetrievalEvent rows. A zero-value sink
// (or one built with an empty DSN) is a safe no-op, so retrieval never
// blocks on observability infrastructure being down.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
	log   zerolog.Logger
}

// NewClickHouseSink opens a connection and ensures the retrieval_events
// table exists. Returns a no-op sink (nil conn) when cfg.DSN is empty or the
// connection/bootstrap fails; such a failure is logged here as a warning.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseConfig, log zerolog.Logger) *ClickHouseSink {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return &ClickHouseSink{log: log}
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		log.Warn().Err(err).Msg("clickhouse: parse dsn failed, telemetry disabled")
		return &ClickHouseSink{log: log}
	}
	if opts.Auth.Database == "" {
		opts.Auth.Database = "notesrag"
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		log.Warn().Err(err).Msg("clickhouse: open failed, telemetry disabled")
		return &ClickHouseSink{log: log}
	}

	sink := &ClickHouseSink{conn: conn, table: "retrieval_events", log: log}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dbName := opts.Auth.Database
	if err := conn.Exec(ctxTimeout, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		log.Warn().Err(err).Msg("clickhouse: create database failed, telemetry disabled")
		sink.conn = nil
		return sink
	}
	if err := sink.ensureTable(ctxTimeout, dbName); err != nil {
		log.Warn().Err(err).Msg("clickhouse: create table failed, telemetry disabled")
		sink.conn = nil
		return sink
	}
	sink.table = dbName + ".retrieval_events"
	return sink
}

func (s *ClickHouseSink) ensureTable(ctx context.Context, db string) error {
	sql := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.retrieval_events (
	Timestamp DateTime64(3),
	Tenant LowCardinality(String),
	QueryHash String,
	Strategy String,
	VectorCount UInt32,
	LexicalCount UInt32,
	RecencyCount UInt32,
	MergedCount UInt32,
	FinalCount UInt32,
	TopScore Float64,
	ScoreGap Float64,
	UniqueNoteCount UInt32,
	DriftDetected Bool,
	MissingRatio Float64,
	ElapsedMS UInt32
) ENGINE = MergeTree()
ORDER BY (Tenant, Timestamp)
TTL Timestamp + INTERVAL 30 DAY
SETTINGS index_granularity = 8192
`, db)
	if err := s.conn.Exec(ctx, sql); err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

// Record inserts ev; failures are logged and swallowed. A nil-conn sink
// (ClickHouse unconfigured or unreachable at startup) is a silent no-op.
func (s *ClickHouseSink) Record(ctx context.Context, ev RetrievalEvent) {
	if s == nil || s.conn == nil {
		return
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		s.log.Warn().Err(err).Msg("clickhouse: prepare batch failed")
		return
	}
	if err := batch.Append(
		ev.Timestamp, ev.Tenant, ev.QueryHash, ev.Strategy,
		ev.VectorCount, ev.LexicalCount, ev.RecencyCount, ev.MergedCount, ev.FinalCount,
		ev.TopScore, ev.ScoreGap, ev.UniqueNoteCount, ev.DriftDetected, ev.MissingRatio, ev.ElapsedMS,
	); err != nil {
		s.log.Warn().Err(err).Msg("clickhouse: append failed")
		return
	}
	if err := batch.Send(); err != nil {
		s.log.Warn().Err(err).Msg("clickhouse: send failed")
	}
}

// Close releases the underlying connection, if any.
func (s *ClickHouseSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
