package pooldb

import (
	"context"
)

// DialectName is the database engine behind a connection
type DialectName string

const (
	SQLITE     DialectName = "sqlite"     // SQLITE is the SQLite dialect
	MYSQL      DialectName = "mysql"      // MYSQL is the MySQL/MariaDB dialect
	POSTGRES   DialectName = "postgres"   // POSTGRES is the PostgreSQL dialect
	MSSQL      DialectName = "mssql"      // MSSQL is the Microsoft SQL Server dialect
	CLICKHOUSE DialectName = "clickhouse" // CLICKHOUSE is the ClickHouse dialect
	CASSANDRA  DialectName = "cassandra"  // CASSANDRA is the Cassandra dialect
)

// Row is one result row keyed by column name
type Row map[string]interface{}

// Rows is a fully read result set
type Rows []Row

// Metadata describes the columns of a table
type Metadata struct {
	// Attributes lists every column in table order
	Attributes []string
	// PrimaryKey lists the primary key columns
	PrimaryKey []string
	// AutoIncrementKey is the auto generated column, if any
	AutoIncrementKey string
	// IntTypeAttributes lists the integer typed columns
	IntTypeAttributes []string
}

// SelectParams is rendered into a SELECT statement by Connection.BuildSQL
type SelectParams struct {
	Distinct bool
	Fields   []string
	From     string
	Where    []string
	GroupBy  []string
	Having   []string
	OrderBy  []string
	Limit    uint64
	Offset   uint64
}

// Connection wraps exactly one physical database link. Statements use
// [identifier] quoting and :name (or ?) placeholders. A Connection is never
// used by two goroutines at once: the pool hands it to one session at a time.
type Connection interface {
	// Execute runs a statement and returns the affected rows, or the last
	// insert id when wantInsertID is set.
	Execute(ctx context.Context, sql string, bind Bind, wantInsertID bool) (int64, error)
	// Query runs a statement and reads the whole result set
	Query(ctx context.Context, sql string, bind Bind) (Rows, error)

	BeginTransaction(ctx context.Context) error
	Commit() error
	Rollback() error

	// GetTables lists the tables of schema, or of the current schema when empty
	GetTables(ctx context.Context, schema string) ([]string, error)
	GetMetadata(ctx context.Context, source string) (*Metadata, error)
	BuildSQL(params *SelectParams) (string, error)

	DialectName() DialectName
	URI() string
	Close() error
}
