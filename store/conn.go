package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Connect opens the bounded connection pool backing a PostgresStore and
// verifies it with a ping before returning. Pool sizing is tuned for the
// matchmaking workload rather than a generic CRUD app: every engine poll
// tick, HTTP handler call, and the periodic queue-depth job borrows a
// connection only for the duration of one short transaction (spec §5: no
// connection is ever held across a sleep or a stream wait), so more open
// slots serve many concurrent in-flight poll loops better than a few
// long-held ones, while idle connections are capped lower since most
// borrow-and-return cycles are sub-millisecond and don't need to retain
// many idle slots between poll ticks.
func Connect(dsn string, timeout time.Duration) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}

	conn.SetMaxOpenConns(50)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		closeErr := conn.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to ping database within %v: %w (close also failed: %v)", timeout, err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database within %v: %w", timeout, err)
	}

	return conn, nil
}
