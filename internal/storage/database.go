package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Registers the postgres driver
)

// Supported values for the driver argument of Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// inChunk bounds the number of ids bound into a single IN (...) list.
const inChunk = 500

// DB represents a wrapper around the SQL database connection.
// Inside InTx, q is the running transaction; otherwise it is the pool itself.
type DB struct {
	conn    *sqlx.DB
	q       sqlx.ExtContext
	dialect dialect
}

// Open creates a new database connection. It does not touch the schema;
// run Migrate once at deployment time before serving requests.
func Open(driver, dsn string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(d.driverName, d.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.singleWriter {
		// SQLite doesn't support multiple writers.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{conn: conn, q: conn, dialect: d}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the name of the configured SQL dialect.
func (db *DB) Driver() string {
	return db.dialect.name
}

// Ping verifies the connection is still alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// InTx runs fn inside a single transaction. The *DB handed to fn issues every
// statement on that transaction; fn must not use the outer *DB, which would
// deadlock on SQLite's single connection.
func (db *DB) InTx(ctx context.Context, fn func(tx *DB) error) error {
	if _, nested := db.q.(*sqlx.Tx); nested {
		return fn(db)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&DB{conn: db.conn, q: tx, dialect: db.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// in expands slice arguments of query into IN lists and rebinds the
// placeholders for the active dialect.
func (db *DB) in(query string, args ...interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return db.q.Rebind(query), args, nil
}

// chunks splits ids into slices of at most inChunk elements.
func chunks(ids []uuid.UUID) [][]uuid.UUID {
	var out [][]uuid.UUID
	for len(ids) > inChunk {
		out = append(out, ids[:inChunk])
		ids = ids[inChunk:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// escapeLike escapes the LIKE wildcards of s using a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// get scans a single row into dest after rebinding the placeholders.
func (db *DB) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, db.q, dest, db.q.Rebind(query), args...)
}

// selectAll scans all rows into the slice pointed to by dest.
func (db *DB) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, db.q, dest, db.q.Rebind(query), args...)
}

// selectIn runs query once per chunk of ids, appending the rows to dest.
// The query must contain a single "IN (?)" bound to the ids, placed after
// the leading args and before the trailing ones.
func selectIn[T any](ctx context.Context, db *DB, query string, ids []uuid.UUID, lead, trail []interface{}) ([]T, error) {
	var out []T
	for _, chunk := range chunks(ids) {
		args := make([]interface{}, 0, len(lead)+1+len(trail))
		args = append(args, lead...)
		args = append(args, chunk)
		args = append(args, trail...)

		q, bound, err := db.in(query, args...)
		if err != nil {
			return nil, err
		}
		var rows []T
		if err := sqlx.SelectContext(ctx, db.q, &rows, q, bound...); err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
