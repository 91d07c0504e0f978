package pooldb

// Context is the execution state of one Session. It belongs to a single
// call chain and is never shared between goroutines.
type Context struct {
	// Connection is set while a transaction is open or while the session
	// pinned a connection with WithConnection
	Connection Connection
	// SQL is the last statement submitted
	SQL string
	// Bind holds the parameters of the last statement
	Bind Bind
	// TransactionLevel counts nested Begin calls; 0 means no transaction
	TransactionLevel int
	// AffectedRows is the row count of the last operation, -1 before any
	AffectedRows int64

	// pinned marks a connection held by WithConnection rather than by a transaction
	pinned bool
	// group is the pool group the held connection must be returned to
	group string
}

func newContext() Context {
	return Context{AffectedRows: -1}
}
