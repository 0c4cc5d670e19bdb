package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	domain TEXT NOT NULL,
	record_type INTEGER NOT NULL,
	upstream_server TEXT,
	latency_us INTEGER NOT NULL,
	success INTEGER NOT NULL,
	pool_name TEXT
);
CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON queries(timestamp);
CREATE INDEX IF NOT EXISTS idx_queries_domain ON queries(domain);
`

// SQLiteStorage is the async, buffered SQLite-backed Storage. Writes never
// block the caller: LogQuery drops and reports ErrBufferFull when the
// buffer is saturated, matching the teacher's pkg/storage.SQLiteStorage
// drop-on-full idiom.
type SQLiteStorage struct {
	db              *sql.DB
	cfg             Config
	buffer          chan QueryLog
	stmtInsert      *sql.Stmt
	droppedCallback func(n int64)

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// ErrBufferFull is returned by LogQuery when the write buffer is saturated.
var ErrBufferFull = fmt.Errorf("storage: write buffer full")

// ErrClosed is returned by any operation on a closed Storage.
var ErrClosed = fmt.Errorf("storage: closed")

// NewSQLiteStorage opens (creating if needed) the SQLite database at
// cfg.Path, applies the schema, and starts the background flush worker.
func NewSQLiteStorage(cfg Config) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMs),
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeKB),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO queries
		(timestamp, domain, record_type, upstream_server, latency_us, success, pool_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: prepare insert: %w", err)
	}

	s := &SQLiteStorage{
		db:         db,
		cfg:        cfg,
		buffer:     make(chan QueryLog, cfg.BufferSize),
		stmtInsert: stmt,
		stop:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushWorker()
	return s, nil
}

// OnDropped registers a callback invoked whenever LogQuery drops an entry
// due to a full buffer, so the telemetry layer can count it.
func (s *SQLiteStorage) OnDropped(fn func(n int64)) {
	s.droppedCallback = fn
}

func (s *SQLiteStorage) LogQuery(ctx context.Context, entry QueryLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	select {
	case s.buffer <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if s.droppedCallback != nil {
			s.droppedCallback(1)
		}
		return ErrBufferFull
	}
}

func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]QueryLog, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			slog.Default().Error("storage: flush failed", "error", err, "batch_size", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.buffer:
			batch = append(batch, entry)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case entry := <-s.buffer:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *SQLiteStorage) flushBatch(batch []QueryLog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsert)
	for _, q := range batch {
		if _, err := stmt.Exec(q.Timestamp.Unix(), q.Domain, q.RecordType, q.UpstreamServer, q.LatencyUs, q.Success, q.PoolName); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) RecentQueries(ctx context.Context, limit int) ([]QueryLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, domain, record_type, upstream_server, latency_us, success, pool_name
		FROM queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueryLog
	for rows.Next() {
		var q QueryLog
		var ts int64
		var upstream, pool sql.NullString
		if err := rows.Scan(&q.ID, &ts, &q.Domain, &q.RecordType, &upstream, &q.LatencyUs, &q.Success, &pool); err != nil {
			return nil, err
		}
		q.Timestamp = time.Unix(ts, 0)
		q.UpstreamServer = upstream.String
		q.PoolName = pool.String
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Statistics(ctx context.Context, since time.Time) (Statistics, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
		COALESCE(AVG(latency_us), 0)
		FROM queries WHERE timestamp >= ?`, since.Unix())

	var stats Statistics
	var failures sql.NullInt64
	if err := row.Scan(&stats.TotalQueries, &failures, &stats.AvgLatencyUs); err != nil {
		return Statistics{}, err
	}
	stats.Failures = failures.Int64
	stats.Since = since
	stats.Until = time.Now()
	return stats, nil
}

func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE timestamp < ?`, olderThan.Unix())
	return err
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	_ = s.stmtInsert.Close()
	return s.db.Close()
}
