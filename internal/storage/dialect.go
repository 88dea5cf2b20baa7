package storage

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/medbank/internal/knol"
)

type dialect struct {
	name       string
	driverName string
	// fold is the SQL function applying Unicode lower-casing to a text column.
	fold string
	// tableExists takes one placeholder, the table name, and yields a row if it exists.
	tableExists string
	// forUpdate is appended to a SELECT to lock the rows it reads until the
	// transaction ends. Single-writer dialects need no row locks.
	forUpdate    string
	singleWriter bool
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name:         DriverSQLite,
		driverName:   "sqlite",
		fold:         "fold",
		tableExists:  `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`,
		singleWriter: true,
	},
	DriverPostgres: {
		name:        DriverPostgres,
		driverName:  "postgres",
		fold:        "lower",
		tableExists: `SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`,
		forUpdate:   " FOR UPDATE",
	},
}

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)

	// SQLite's built-in lower() only folds ASCII, which misses umlauts.
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case string:
			return knol.Fold(v), nil
		case []byte:
			return knol.Fold(string(v)), nil
		default:
			return v, nil
		}
	})
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// dsn adds the connection parameters the store relies on.
func (d dialect) dsn(dsn string) string {
	if d.name != DriverSQLite {
		return dsn
	}
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}
	var missing []string
	for _, p := range params {
		key := p[:strings.Index(p, "=")]
		if key == "_pragma" {
			if strings.Contains(dsn, p) {
				continue
			}
		} else if strings.Contains(dsn, key+"=") {
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

// folded wraps a column expression in the dialect's case-folding function.
func (d dialect) folded(expr string) string {
	return d.fold + "(" + expr + ")"
}
