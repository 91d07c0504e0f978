package pooldb

// Assignment is a SET value that renders its own SQL fragment, like
// "[hits]=[hits]+:hits_step", and may contribute bind parameters.
type Assignment interface {
	SQL(field string) string
	BindParams(field string) Params
}

// Increment adds Step to the current column value
type Increment struct {
	Step interface{}
}

func (a Increment) SQL(field string) string {
	return "[" + field + "]=[" + field + "]+:" + field + "_step"
}

func (a Increment) BindParams(field string) Params {
	return Params{field + "_step": a.Step}
}

// Expression assigns an SQL expression which may use its own placeholders
type Expression struct {
	Expr   string
	Params Params
}

func (a Expression) SQL(field string) string {
	return "[" + field + "]=" + a.Expr
}

func (a Expression) BindParams(string) Params {
	return a.Params
}

// Raw assigns a literal SQL right-hand side, e.g. Raw("CURRENT_TIMESTAMP")
type Raw string

func (a Raw) SQL(field string) string {
	return "[" + field + "]=" + string(a)
}

func (a Raw) BindParams(string) Params {
	return nil
}
