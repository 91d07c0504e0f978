package sql

import (
	"fmt"

	"github.com/gocraft/dbr/v2"

	"github.com/acronis/perfkit/pooldb"
)

// BuildSQL renders params with the dbr builder of the dialect
func (h *handle) BuildSQL(params *pooldb.SelectParams) (string, error) {
	if params == nil || params.From == "" {
		return "", fmt.Errorf("sql: select needs a source table")
	}

	sess := (&dbr.Connection{
		DB:            h.db.DB,
		Dialect:       h.dialect.dbrDialect(),
		EventReceiver: &dbr.NullEventReceiver{},
	}).NewSession(nil)

	fields := params.Fields
	if len(fields) == 0 {
		fields = []string{"*"}
	}

	stmt := sess.Select(fields...).From(params.From)
	if params.Distinct {
		stmt = stmt.Distinct()
	}
	for _, w := range params.Where {
		stmt = stmt.Where(w)
	}
	if len(params.GroupBy) != 0 {
		stmt = stmt.GroupBy(params.GroupBy...)
	}
	for _, having := range params.Having {
		stmt = stmt.Having(having)
	}
	for _, o := range params.OrderBy {
		stmt = stmt.OrderBy(o)
	}
	if params.Limit > 0 {
		stmt = stmt.Limit(params.Limit)
	}
	if params.Offset > 0 {
		stmt = stmt.Offset(params.Offset)
	}

	buf := dbr.NewBuffer()
	if err := stmt.Build(h.dialect.dbrDialect(), buf); err != nil {
		return "", fmt.Errorf("sql: cannot build select: %w", err)
	}

	return buf.String(), nil
}
