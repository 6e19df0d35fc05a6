package sql

import (
	"strconv"
	"strings"

	"github.com/regentdb/regent/dialect"
)

// Builder is the base statement writer. It accumulates the statement text
// and its arguments, and knows how to quote identifiers and render
// placeholders for the configured dialect. A single Builder is shared by a
// statement and all its subqueries so placeholder numbering stays correct.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// NewBuilder returns a fresh Builder for the given dialect.
func NewBuilder(dialect string) *Builder {
	return &Builder{dialect: dialect}
}

// Quote quotes an identifier. Qualified identifiers (table.column) are
// quoted per part.
func (b *Builder) Quote(ident string) string {
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + p + q
	}
	return strings.Join(parts, ".")
}

// Ident writes a quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(b.Quote(s))
	return b
}

// WriteString writes raw statement text.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg writes a placeholder and records its argument.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
	return b
}

// Args writes a comma-separated placeholder list.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// String returns the accumulated statement text.
func (b *Builder) String() string { return b.sb.String() }

// P is a condition node appended to WHERE or HAVING clauses.
type P func(*Builder)

// And joins the given conditions with AND.
func And(ps ...P) P {
	return func(b *Builder) {
		b.WriteString("(")
		for i, p := range ps {
			if i > 0 {
				b.WriteString(" AND ")
			}
			p(b)
		}
		b.WriteString(")")
	}
}

// Or joins the given conditions with OR.
func Or(ps ...P) P {
	return func(b *Builder) {
		b.WriteString("(")
		for i, p := range ps {
			if i > 0 {
				b.WriteString(" OR ")
			}
			p(b)
		}
		b.WriteString(")")
	}
}

// Not negates the given condition.
func Not(p P) P {
	return func(b *Builder) {
		b.WriteString("NOT (")
		p(b)
		b.WriteString(")")
	}
}

// EQ returns a column = value condition. A nil value renders as IS NULL.
func EQ(col string, v any) P {
	return func(b *Builder) {
		if v == nil {
			b.Ident(col).WriteString(" IS NULL")
			return
		}
		b.Ident(col).WriteString(" = ").Arg(v)
	}
}

// NEQ returns a column <> value condition. A nil value renders as IS NOT NULL.
func NEQ(col string, v any) P {
	return func(b *Builder) {
		if v == nil {
			b.Ident(col).WriteString(" IS NOT NULL")
			return
		}
		b.Ident(col).WriteString(" <> ").Arg(v)
	}
}

// GT returns a column > value condition.
func GT(col string, v any) P {
	return func(b *Builder) { b.Ident(col).WriteString(" > ").Arg(v) }
}

// GTE returns a column >= value condition.
func GTE(col string, v any) P {
	return func(b *Builder) { b.Ident(col).WriteString(" >= ").Arg(v) }
}

// LT returns a column < value condition.
func LT(col string, v any) P {
	return func(b *Builder) { b.Ident(col).WriteString(" < ").Arg(v) }
}

// LTE returns a column <= value condition.
func LTE(col string, v any) P {
	return func(b *Builder) { b.Ident(col).WriteString(" <= ").Arg(v) }
}

// In returns a column IN (...) condition. An empty set renders as a
// never-true condition rather than invalid SQL.
func In(col string, vs ...any) P {
	return func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("1 = 0")
			return
		}
		b.Ident(col).WriteString(" IN (").Args(vs...).WriteString(")")
	}
}

// NotIn returns a column NOT IN (...) condition. An empty set renders as an
// always-true condition.
func NotIn(col string, vs ...any) P {
	return func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("1 = 1")
			return
		}
		b.Ident(col).WriteString(" NOT IN (").Args(vs...).WriteString(")")
	}
}

// IsNull returns a column IS NULL condition.
func IsNull(col string) P {
	return func(b *Builder) { b.Ident(col).WriteString(" IS NULL") }
}

// NotNull returns a column IS NOT NULL condition.
func NotNull(col string) P {
	return func(b *Builder) { b.Ident(col).WriteString(" IS NOT NULL") }
}

// ColumnsEQ returns a column = column condition, used for correlating
// subqueries with their outer statement.
func ColumnsEQ(col1, col2 string) P {
	return func(b *Builder) {
		b.Ident(col1).WriteString(" = ").Ident(col2)
	}
}

// escapeLike escapes the LIKE wildcards in a literal substring.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// like renders a LIKE condition with an explicit escape character where the
// dialect needs one. MySQL's default escape is already the backslash.
func like(b *Builder, expr func(*Builder), pattern string) {
	expr(b)
	b.WriteString(" LIKE ").Arg(pattern)
	if b.dialect != dialect.MySQL {
		b.WriteString(` ESCAPE '\'`)
	}
}

// Contains returns a substring-match condition.
func Contains(col, sub string) P {
	return func(b *Builder) {
		like(b, func(b *Builder) { b.Ident(col) }, "%"+escapeLike(sub)+"%")
	}
}

// ContainsFold returns a case-insensitive substring-match condition.
func ContainsFold(col, sub string) P {
	return func(b *Builder) {
		like(b, func(b *Builder) {
			b.WriteString("LOWER(").Ident(col).WriteString(")")
		}, "%"+strings.ToLower(escapeLike(sub))+"%")
	}
}

// HasPrefix returns a prefix-match condition.
func HasPrefix(col, prefix string) P {
	return func(b *Builder) {
		like(b, func(b *Builder) { b.Ident(col) }, escapeLike(prefix)+"%")
	}
}

// HasPrefixFold returns a case-insensitive prefix-match condition.
func HasPrefixFold(col, prefix string) P {
	return func(b *Builder) {
		like(b, func(b *Builder) {
			b.WriteString("LOWER(").Ident(col).WriteString(")")
		}, strings.ToLower(escapeLike(prefix))+"%")
	}
}

// HasSuffix returns a suffix-match condition.
func HasSuffix(col, suffix string) P {
	return func(b *Builder) {
		like(b, func(b *Builder) { b.Ident(col) }, "%"+escapeLike(suffix))
	}
}

// HasSuffixFold returns a case-insensitive suffix-match condition.
func HasSuffixFold(col, suffix string) P {
	return func(b *Builder) {
		like(b, func(b *Builder) {
			b.WriteString("LOWER(").Ident(col).WriteString(")")
		}, "%"+strings.ToLower(escapeLike(suffix)))
	}
}

// EqualFold returns a case-insensitive equality condition.
func EqualFold(col, v string) P {
	return func(b *Builder) {
		b.WriteString("LOWER(").Ident(col).WriteString(") = ").Arg(strings.ToLower(v))
	}
}

// Exists returns an EXISTS (subquery) condition.
func Exists(s *Selector) P {
	return func(b *Builder) {
		b.WriteString("EXISTS (")
		s.render(b)
		b.WriteString(")")
	}
}

// NotExists returns a NOT EXISTS (subquery) condition.
func NotExists(s *Selector) P {
	return func(b *Builder) {
		b.WriteString("NOT EXISTS (")
		s.render(b)
		b.WriteString(")")
	}
}

// InSelect returns a column IN (subquery) condition.
func InSelect(col string, s *Selector) P {
	return func(b *Builder) {
		b.Ident(col).WriteString(" IN (")
		s.render(b)
		b.WriteString(")")
	}
}

// DialectBuilder is the statement-builder entry point for a dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect returns a DialectBuilder for the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select returns a Selector with the given raw select expressions.
func (d *DialectBuilder) Select(exprs ...string) *Selector {
	return &Selector{dialect: d.dialect, exprs: exprs}
}

// Insert returns an Inserter for the given table.
func (d *DialectBuilder) Insert(table string) *Inserter {
	return &Inserter{dialect: d.dialect, table: table}
}

// Update returns an Updater for the given table.
func (d *DialectBuilder) Update(table string) *Updater {
	return &Updater{dialect: d.dialect, table: table}
}

// Delete returns a Deleter for the given table.
func (d *DialectBuilder) Delete(table string) *Deleter {
	return &Deleter{dialect: d.dialect, table: table}
}

// OrderTerm is a single ORDER BY term.
type OrderTerm struct {
	Expr string // Raw expression produced by C or an aggregate helper.
	Desc bool
}

// Selector builds a SELECT statement.
type Selector struct {
	dialect  string
	table    string
	exprs    []string // Raw select-list expressions.
	distinct bool
	where    P
	groupBy  []string
	having   P
	orderBy  []OrderTerm
	limit    *int
	offset   *int
}

// From sets the table to select from.
func (s *Selector) From(table string) *Selector {
	s.table = table
	return s
}

// C returns the quoted, table-qualified form of the given column, for use
// as a raw select expression or order term.
func (s *Selector) C(col string) string {
	return NewBuilder(s.dialect).Quote(s.table + "." + col)
}

// Select replaces the select-list with the given raw expressions.
func (s *Selector) Select(exprs ...string) *Selector {
	s.exprs = exprs
	return s
}

// AppendSelect appends raw expressions to the select-list.
func (s *Selector) AppendSelect(exprs ...string) *Selector {
	s.exprs = append(s.exprs, exprs...)
	return s
}

// Distinct marks the select-list as DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// Where merges the given condition into the WHERE clause with AND.
func (s *Selector) Where(p P) *Selector {
	if s.where != nil {
		s.where = And(s.where, p)
	} else {
		s.where = p
	}
	return s
}

// GroupBy sets the GROUP BY expressions.
func (s *Selector) GroupBy(exprs ...string) *Selector {
	s.groupBy = exprs
	return s
}

// Having sets the HAVING condition.
func (s *Selector) Having(p P) *Selector {
	s.having = p
	return s
}

// OrderBy appends ORDER BY terms.
func (s *Selector) OrderBy(terms ...OrderTerm) *Selector {
	s.orderBy = append(s.orderBy, terms...)
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

func (s *Selector) render(b *Builder) {
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.exprs) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.exprs, ", "))
	}
	b.WriteString(" FROM ").Ident(s.table)
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where(b)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ").WriteString(strings.Join(s.groupBy, ", "))
	}
	if s.having != nil {
		b.WriteString(" HAVING ")
		s.having(b)
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, t := range s.orderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(t.Expr)
			if t.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	limit := s.limit
	if limit == nil && s.offset != nil && s.dialect != dialect.Postgres {
		// MySQL and SQLite require a LIMIT before OFFSET.
		all := -1
		if s.dialect == dialect.MySQL {
			all = int(^uint(0) >> 1)
		}
		limit = &all
	}
	if limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*s.offset))
	}
}

// Query returns the statement text and its arguments.
func (s *Selector) Query() (string, []any) {
	b := NewBuilder(s.dialect)
	s.render(b)
	return b.String(), b.args
}

// Inserter builds an INSERT statement.
type Inserter struct {
	dialect   string
	table     string
	columns   []string
	rows      [][]any
	ignore    bool
	returning string
}

// Columns sets the insert column list.
func (i *Inserter) Columns(cols ...string) *Inserter {
	i.columns = cols
	return i
}

// Values appends one row of values, in column order.
func (i *Inserter) Values(vs ...any) *Inserter {
	i.rows = append(i.rows, vs)
	return i
}

// OnConflictIgnore makes rows violating a uniqueness constraint be silently
// skipped instead of failing the statement.
func (i *Inserter) OnConflictIgnore() *Inserter {
	i.ignore = true
	return i
}

// Returning adds a RETURNING clause. Only meaningful on dialects that
// support it; MySQL callers read LastInsertId instead.
func (i *Inserter) Returning(col string) *Inserter {
	i.returning = col
	return i
}

// Query returns the statement text and its arguments.
func (i *Inserter) Query() (string, []any) {
	b := NewBuilder(i.dialect)
	b.WriteString("INSERT ")
	if i.ignore && i.dialect == dialect.MySQL {
		b.WriteString("IGNORE ")
	}
	b.WriteString("INTO ").Ident(i.table).WriteString(" (")
	for j, c := range i.columns {
		if j > 0 {
			b.WriteString(", ")
		}
		b.Ident(c)
	}
	b.WriteString(") VALUES ")
	for j, row := range i.rows {
		if j > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(").Args(row...).WriteString(")")
	}
	if i.ignore && i.dialect != dialect.MySQL {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	if i.returning != "" && i.dialect != dialect.MySQL {
		b.WriteString(" RETURNING ").Ident(i.returning)
	}
	return b.String(), b.args
}

// Updater builds an UPDATE statement.
type Updater struct {
	dialect string
	table   string
	columns []string
	values  []any
	where   P
}

// Set adds a column assignment.
func (u *Updater) Set(col string, v any) *Updater {
	u.columns = append(u.columns, col)
	u.values = append(u.values, v)
	return u
}

// Where merges the given condition into the WHERE clause with AND.
func (u *Updater) Where(p P) *Updater {
	if u.where != nil {
		u.where = And(u.where, p)
	} else {
		u.where = p
	}
	return u
}

// Query returns the statement text and its arguments.
func (u *Updater) Query() (string, []any) {
	b := NewBuilder(u.dialect)
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for j, c := range u.columns {
		if j > 0 {
			b.WriteString(", ")
		}
		b.Ident(c).WriteString(" = ")
		if u.values[j] == nil {
			b.WriteString("NULL")
		} else {
			b.Arg(u.values[j])
		}
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where(b)
	}
	return b.String(), b.args
}

// Deleter builds a DELETE statement.
type Deleter struct {
	dialect string
	table   string
	where   P
}

// Where merges the given condition into the WHERE clause with AND.
func (d *Deleter) Where(p P) *Deleter {
	if d.where != nil {
		d.where = And(d.where, p)
	} else {
		d.where = p
	}
	return d
}

// Query returns the statement text and its arguments.
func (d *Deleter) Query() (string, []any) {
	b := NewBuilder(d.dialect)
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where(b)
	}
	return b.String(), b.args
}

// Count returns a COUNT aggregate expression.
func Count(expr string) string { return "COUNT(" + expr + ")" }

// CountAll returns the COUNT(*) expression.
func CountAll() string { return "COUNT(*)" }

// Min returns a MIN aggregate expression.
func Min(expr string) string { return "MIN(" + expr + ")" }

// Max returns a MAX aggregate expression.
func Max(expr string) string { return "MAX(" + expr + ")" }

// Sum returns a SUM aggregate expression.
func Sum(expr string) string { return "SUM(" + expr + ")" }

// Avg returns an AVG aggregate expression.
func Avg(expr string) string { return "AVG(" + expr + ")" }

// As returns an aliased expression. Aliases are engine-chosen identifiers
// and are emitted unquoted.
func As(expr, alias string) string {
	return expr + " AS " + alias
}
