package pooldb

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a caller bug such as an insert without data
	ErrInvalidArgument = errors.New("pooldb: invalid argument")
	// ErrPoolExhausted is returned when no connection became free within the pool timeout
	ErrPoolExhausted = errors.New("pooldb: connection pool exhausted")
	// ErrQueryExecutionFailed matches every *QueryError
	ErrQueryExecutionFailed = errors.New("pooldb: query execution failed")
	// ErrTransaction matches every *TransactionError
	ErrTransaction = errors.New("pooldb: transaction failed")
	// ErrMisuse reports a programmer error, e.g. commit without begin
	ErrMisuse = errors.New("pooldb: misuse")
	// ErrUnknownScheme is returned for URIs whose scheme has no registered connector
	ErrUnknownScheme = errors.New("pooldb: unknown scheme")
	// ErrMalformedURI is returned when a connection URI cannot be parsed
	ErrMalformedURI = errors.New("pooldb: malformed uri")
	// ErrClosed is returned by operations on a closed Database
	ErrClosed = errors.New("pooldb: database is closed")
)

// QueryError is a driver failure with the statement that caused it
type QueryError struct {
	Kind string
	SQL  string
	Bind Bind
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("pooldb: %s failed: %v (sql: %s)", e.Kind, e.Err, e.SQL)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) Is(target error) bool {
	return target == ErrQueryExecutionFailed
}

// TransactionError is a begin, commit or rollback failure
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("pooldb: %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func (e *TransactionError) Is(target error) bool {
	return target == ErrTransaction
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
