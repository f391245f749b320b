package store

import (
	"fmt"
	"regexp"
	"strings"
)

// dialect holds the few places where PostgreSQL and SQLite disagree.
type dialect struct {
	name      string
	driver    string
	forUpdate string
	like      string
	numbered  bool
	julian    bool
}

var (
	postgresDialect = dialect{name: DriverPostgres, driver: "pgx", forUpdate: " for update", like: "ilike"}
	sqliteDialect   = dialect{name: DriverSQLite, driver: "sqlite", like: "like", numbered: true, julian: true}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres, "pgx":
		return postgresDialect, nil
	case DriverSQLite:
		return sqliteDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders into ?N for SQLite.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

// lockOf locks only the rows of alias, leaving outer-joined tables unlocked.
func (d dialect) lockOf(alias string) string {
	if d.forUpdate == "" {
		return ""
	}
	return d.forUpdate + " of " + alias
}

// ts wraps a timestamp expression so comparisons are chronological.
func (d dialect) ts(expr string) string {
	if d.julian {
		return "julianday(" + expr + ")"
	}
	return expr
}

// sqliteTimeParam makes modernc bind time.Time as "2006-01-02 15:04:05.999999999-07:00",
// which julianday() parses. The driver's default layout is unreadable to SQLite.
const sqliteTimeParam = "_time_format=sqlite"

// dsn adjusts a caller-supplied DSN to what the dialect's queries rely on.
func (d dialect) dsn(dsn string) string {
	if !d.julian || strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqliteTimeParam
}
