package pooldb

import (
	"fmt"

	"github.com/acronis/perfkit/pooldb/logger"
)

// IsUnderTransaction reports whether Begin was called more times than Commit and Rollback
func (s *Session) IsUnderTransaction() bool {
	return s.c.TransactionLevel != 0
}

func (s *Session) TransactionLevel() int {
	return s.c.TransactionLevel
}

// release hands the held connection back unless WithConnection pinned it
func (s *Session) release() {
	if s.c.Connection == nil || s.c.pinned {
		return
	}

	s.db.push(s.c.Connection, s.c.group)
	s.c.Connection = nil
	s.c.group = ""
}

// Begin opens a transaction. Every call is logged but nested calls only
// increase the nesting level; the physical transaction starts at level 0 on
// a master connection that the session keeps until the outermost Commit or
// Rollback.
func (s *Session) Begin() error {
	s.record(logger.LevelInfo, "db.transaction.begin", nil)

	if s.c.TransactionLevel == 0 {
		s.fire(TransactionEvent{Type: BeginTransaction})

		if s.c.Connection == nil {
			conn, err := s.db.pop(s.ctx, DefaultGroup)
			if err != nil {
				s.db.stats.Failures.Inc()
				return err
			}
			s.c.Connection = conn
			s.c.group = DefaultGroup
		}

		if err := s.c.Connection.BeginTransaction(s.ctx); err != nil {
			s.db.stats.Failures.Inc()
			s.release()
			return &TransactionError{Op: "begin", Err: err}
		}

		s.db.stats.Begins.Inc()
	}

	s.c.TransactionLevel++

	return nil
}

// Commit closes one nesting level and commits at the outermost one. The
// connection is released even when the commit fails.
func (s *Session) Commit() error {
	s.record(logger.LevelInfo, "db.transaction.commit", nil)

	if s.c.TransactionLevel == 0 {
		return fmt.Errorf("%w: there is no active transaction", ErrMisuse)
	}

	s.c.TransactionLevel--
	if s.c.TransactionLevel != 0 {
		return nil
	}

	s.fire(TransactionEvent{Type: CommitTransaction})

	err := s.c.Connection.Commit()
	s.release()

	if err != nil {
		s.db.stats.Failures.Inc()
		return &TransactionError{Op: "commit", Err: err}
	}

	s.db.stats.Commits.Inc()
	return nil
}

// Rollback closes one nesting level and rolls back at the outermost one.
// Without an active transaction it does nothing.
func (s *Session) Rollback() error {
	if s.c.TransactionLevel == 0 {
		return nil
	}

	s.record(logger.LevelInfo, "db.transaction.rollback", nil)

	s.c.TransactionLevel--
	if s.c.TransactionLevel != 0 {
		return nil
	}

	s.fire(TransactionEvent{Type: RollbackTransaction})

	err := s.c.Connection.Rollback()
	s.release()

	if err != nil {
		s.db.stats.Failures.Inc()
		return &TransactionError{Op: "rollback", Err: err}
	}

	s.db.stats.Rollbacks.Inc()
	return nil
}

// Close ends the session: a transaction still open is rolled back and
// reported on the db.transaction.abnormal channel, then any held connection
// is returned to the pool. Close is idempotent.
func (s *Session) Close() error {
	if s.c.Connection == nil {
		s.c.TransactionLevel = 0
		return nil
	}

	var err error
	if s.c.TransactionLevel != 0 {
		s.c.TransactionLevel = 0
		s.record(logger.LevelError, "db.transaction.abnormal", logger.Fields{
			"message": "transaction is not closed correctly",
			"sql":     s.c.SQL,
		})

		s.fire(TransactionEvent{Type: RollbackTransaction})
		if rErr := s.c.Connection.Rollback(); rErr != nil {
			s.db.stats.Failures.Inc()
			err = &TransactionError{Op: "rollback", Err: rErr}
		} else {
			s.db.stats.Rollbacks.Inc()
		}
	}

	s.c.pinned = false
	s.release()

	return err
}
