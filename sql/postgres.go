package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/gocraft/dbr/v2"
	dbrdialect "github.com/gocraft/dbr/v2/dialect"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // postgres driver

	"github.com/acronis/perfkit/pooldb"
	"github.com/acronis/perfkit/pooldb/logger"
	"github.com/acronis/perfkit/pooldb/pgmbed"
)

func init() {
	for _, pgNameStyle := range []string{"postgres", "postgresql"} {
		if err := pooldb.Register(pgNameStyle, &pgConnector{}); err != nil {
			panic(err)
		}
	}
}

type pgDialect struct {
	schemaName   string
	embedded     bool
	embeddedPort int
}

func (d *pgDialect) name() pooldb.DialectName {
	return pooldb.POSTGRES
}

func (d *pgDialect) quoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (d *pgDialect) supportTransactions() bool {
	return true
}

func (d *pgDialect) canRollback(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func (d *pgDialect) rowsAffected(res sql.Result) (int64, error) {
	return res.RowsAffected()
}

// lastInsertID reads the sequence value of the statement that just ran on the same connection
func (d *pgDialect) lastInsertID(ctx context.Context, q sqlx.QueryerContext, _ sql.Result) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, "SELECT lastval()").Scan(&id); err != nil {
		return 0, fmt.Errorf("cannot read inserted id: %w", err)
	}
	return id, nil
}

func (d *pgDialect) schema(schema string) string {
	if schema != "" {
		return schema
	}
	return d.schemaName
}

func (d *pgDialect) tablesQuery(schema string) (string, []interface{}) {
	if s := d.schema(schema); s != "" {
		return `SELECT table_name FROM information_schema.tables
			WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`, []interface{}{s}
	}
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`, nil
}

func (d *pgDialect) columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]column, error) {
	schemaExpr, args := "current_schema()", []interface{}{table}
	if d.schemaName != "" {
		schemaExpr, args = "?", []interface{}{d.schemaName, table}
	}

	return scanColumns(ctx, q, `SELECT c.column_name AS column_name, c.data_type AS data_type,
		EXISTS (
			SELECT 1 FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage k
				ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name AND k.column_name = c.column_name
		) AS is_pk,
		(COALESCE(c.column_default, '') LIKE 'nextval(%' OR c.is_identity = 'YES') AS is_auto
		FROM information_schema.columns c
		WHERE c.table_schema = `+schemaExpr+` AND c.table_name = ?
		ORDER BY c.ordinal_position`, args...)
}

func (d *pgDialect) dbrDialect() dbr.Dialect {
	return dbrdialect.PostgreSQL
}

func (d *pgDialect) close() error {
	if d.embedded {
		return pgmbed.Terminate(d.embeddedPort)
	}

	return nil
}

type pgConnector struct{}

// postgresSchemaAndConnString moves the schema parameter into search_path
// and disables ssl unless sslmode is given
func postgresSchemaAndConnString(cs string) (string, string, error) {
	const schemaParamName = "schema"
	const sslModeParamName = "sslmode"
	var schemaName string

	var u, err = url.Parse(cs)
	if err != nil {
		return "", "", fmt.Errorf("cannot parse connection url %v, err: %v", sanitizeConn(cs), err)
	}

	m, _ := url.ParseQuery(u.RawQuery)
	if s, ok := m[schemaParamName]; ok {
		schemaName = s[0]
		delete(m, schemaParamName)
		m["search_path"] = []string{schemaName}
	}
	if _, ok := m[sslModeParamName]; !ok {
		m[sslModeParamName] = []string{"disable"}
	}
	u.RawQuery = m.Encode()

	return schemaName, u.String(), nil
}

func initializePostgresDB(cs string, l logger.Logger) (string, *pgDialect, error) {
	var embeddedOpts *pgmbed.Opts
	var err error
	if cs, embeddedOpts, err = pgmbed.ParseOptions(cs); err != nil {
		return "", nil, fmt.Errorf("sql: postgres: %v", err)
	}

	var dia = &pgDialect{}
	if embeddedOpts != nil && embeddedOpts.Enabled {
		if cs, err = pgmbed.Launch(cs, embeddedOpts, l); err != nil {
			return "", nil, fmt.Errorf("sql: cannot initialize embedded postgres: %v", err)
		}
		dia.embedded = true
		dia.embeddedPort = embeddedOpts.Port
	}

	if dia.schemaName, cs, err = postgresSchemaAndConnString(cs); err != nil {
		_ = dia.close()
		return "", nil, fmt.Errorf("sql: postgres: %v", err)
	}

	return cs, dia, nil
}

func (c *pgConnector) Connect(ctx context.Context, cfg pooldb.ConnConfig) (pooldb.Connection, error) {
	cs, dia, err := initializePostgresDB(cfg.URI, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return openHandle(ctx, "postgres", cs, cfg, dia)
}

func (c *pgConnector) DialectName(string) (pooldb.DialectName, error) {
	return pooldb.POSTGRES, nil
}
