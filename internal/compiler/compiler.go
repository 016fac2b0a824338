// Package compiler lowers an internal/query.Builder AST into a parameterized
// SQL string plus its positional argument list, the way
// internal/storage/sqlite's query functions hand-assembled whereClauses and
// args slices before driving database/sql. Everything here is pure: no
// *sql.DB, no I/O.
package compiler

import (
	"fmt"
	"strings"

	"github.com/skibbadb/skibbadb/internal/query"
)

// FieldResolver answers how a dotted document field is reached in SQL: either
// a materialized column (fast path, indexable) or a json_extract expression
// over the doc column (fallback for any field, per the dual-storage
// invariant). internal/registry supplies the concrete implementation from a
// collection's constrained-field list.
type FieldResolver interface {
	// Resolve returns the SQL expression for field: either a
	// table-qualified column (`tbl.col`) or `json_extract(tbl.doc, '$.a.b')`.
	Resolve(table, field string) string
}

// Compiled is one compiled statement.
type Compiled struct {
	SQL  string
	Args []any
}

// Compile lowers b into a SELECT statement. resolver must not be nil.
func Compile(b *query.Builder, resolver FieldResolver) (*Compiled, error) {
	if b.Err() != nil {
		return nil, b.Err()
	}

	joined := map[string]bool{b.Collection: true}
	for _, j := range b.Joins {
		joined[j.Table] = true
	}
	c := &compilation{resolver: resolver, rootTable: b.Collection, joinedTables: joined}

	selectList, err := c.buildSelectList(b)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder
	buf.WriteString("SELECT ")
	if b.DistinctResults {
		buf.WriteString("DISTINCT ")
	}
	buf.WriteString(selectList)
	fmt.Fprintf(&buf, " FROM %s", quoteIdent(b.Collection))

	for _, j := range b.Joins {
		kind := "INNER JOIN"
		if j.Kind == query.JoinLeft {
			kind = "LEFT JOIN"
		}
		op := j.Op
		if op == "" {
			op = "="
		}
		fmt.Fprintf(&buf, " %s %s ON %s %s %s",
			kind, quoteIdent(j.Table),
			c.resolver.Resolve(b.Collection, j.LeftField), op, c.resolver.Resolve(j.Table, j.RightField))
	}

	if b.HasFilters() {
		whereSQL, err := c.compileNode(b.Root, b.Collection)
		if err != nil {
			return nil, err
		}
		buf.WriteString(" WHERE ")
		buf.WriteString(whereSQL)
	}

	if len(b.GroupByList) > 0 {
		buf.WriteString(" GROUP BY ")
		parts := make([]string, len(b.GroupByList))
		for i, f := range b.GroupByList {
			parts[i] = c.resolveField(b.Collection, f)
		}
		buf.WriteString(strings.Join(parts, ", "))
	}

	if b.Having != nil && len(b.Having.Items) > 0 {
		havingSQL, err := c.compileNode(b.Having, b.Collection)
		if err != nil {
			return nil, err
		}
		buf.WriteString(" HAVING ")
		buf.WriteString(havingSQL)
	}

	if len(b.OrderByList) > 0 {
		buf.WriteString(" ORDER BY ")
		parts := make([]string, len(b.OrderByList))
		for i, term := range b.OrderByList {
			dir := "ASC"
			if term.Desc {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", c.resolveField(b.Collection, term.Field), dir)
		}
		buf.WriteString(strings.Join(parts, ", "))
	}

	if b.HasLimit {
		fmt.Fprintf(&buf, " LIMIT %d", b.Limit)
	}
	if b.HasOffset {
		fmt.Fprintf(&buf, " OFFSET %d", b.Offset)
	}

	return &Compiled{SQL: buf.String(), Args: c.args}, nil
}

type compilation struct {
	resolver     FieldResolver
	rootTable    string
	joinedTables map[string]bool
	args         []any
}

func (c *compilation) bind(v any) string {
	c.args = append(c.args, v)
	return "?"
}

// resolveField splits off a "tbl.field" prefix when tbl names the root
// collection or a joined table (§4.6 "subsequent filters may reference
// either table via tbl.field"), so a cross-table reference resolves against
// that table's own constrained fields/doc instead of being treated as a
// dotted JSON path into table's document.
func (c *compilation) resolveField(table, field string) string {
	if dot := strings.Index(field, "."); dot >= 0 {
		prefix, rest := field[:dot], field[dot+1:]
		if c.joinedTables[prefix] {
			return c.resolver.Resolve(prefix, rest)
		}
	}
	return c.resolver.Resolve(table, field)
}

func (c *compilation) buildSelectList(b *query.Builder) (string, error) {
	if len(b.Aggregates) > 0 {
		parts := make([]string, 0, len(b.Aggregates)+len(b.GroupByList))
		for _, g := range b.GroupByList {
			parts = append(parts, c.resolveField(b.Collection, g))
		}
		for _, agg := range b.Aggregates {
			parts = append(parts, c.compileAggregate(b.Collection, agg))
		}
		return strings.Join(parts, ", "), nil
	}
	if len(b.SelectFields) > 0 {
		parts := make([]string, len(b.SelectFields))
		for i, f := range b.SelectFields {
			parts[i] = c.resolveField(b.Collection, f)
		}
		return strings.Join(parts, ", "), nil
	}
	return fmt.Sprintf("%s.doc", quoteIdent(b.Collection)), nil
}

func (c *compilation) compileAggregate(table string, agg query.Aggregate) string {
	fn := strings.ToUpper(string(agg.Fn))
	inner := "*"
	if agg.Field != "" {
		inner = c.resolveField(table, agg.Field)
	}
	if agg.Distinct && inner != "*" {
		inner = "DISTINCT " + inner
	}
	expr := fmt.Sprintf("%s(%s)", fn, inner)
	if agg.Alias != "" {
		expr = fmt.Sprintf("%s AS %s", expr, quoteIdent(agg.Alias))
	}
	return expr
}

// compileNode lowers one AST node to a SQL boolean expression, table is the
// node's owning table (the root collection; a "table.field" reference to a
// joined table is split off by resolveField).
func (c *compilation) compileNode(n query.Node, table string) (string, error) {
	switch v := n.(type) {
	case query.Filter:
		return c.compileFilter(v, table)
	case *query.Group:
		return c.compileGroup(v, table)
	case *query.Subquery:
		return c.compileSubquery(v, table)
	default:
		return "", fmt.Errorf("compiler: unknown node type %T", n)
	}
}

func (c *compilation) compileGroup(g *query.Group, table string) (string, error) {
	if len(g.Items) == 0 {
		return "1=1", nil
	}
	if len(g.Items) == 1 {
		return c.compileNode(g.Items[0], table)
	}
	joiner := " AND "
	if g.Type == query.GroupOr {
		joiner = " OR "
	}
	parts := make([]string, len(g.Items))
	for i, item := range g.Items {
		sql, err := c.compileNode(item, table)
		if err != nil {
			return "", err
		}
		parts[i] = fmt.Sprintf("(%s)", sql)
	}
	return strings.Join(parts, joiner), nil
}

var filterOps = map[query.Op]string{
	query.OpEq:  "=",
	query.OpNeq: "!=",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

func (c *compilation) compileFilter(f query.Filter, table string) (string, error) {
	expr := c.resolveField(table, f.Field)

	switch f.Op {
	case query.OpEq, query.OpNeq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return fmt.Sprintf("%s %s %s", expr, filterOps[f.Op], c.bind(f.Value)), nil

	case query.OpBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", expr, c.bind(f.Value), c.bind(f.Value2)), nil

	case query.OpIn, query.OpNin:
		values, err := toAnySlice(f.Value)
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			if f.Op == query.OpIn {
				return "1=0", nil
			}
			return "1=1", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = c.bind(v)
		}
		kw := "IN"
		if f.Op == query.OpNin {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", expr, kw, strings.Join(placeholders, ", ")), nil

	case query.OpLike:
		return fmt.Sprintf("%s LIKE %s", expr, c.bind(f.Value)), nil

	case query.OpILike:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", expr, c.bind(f.Value)), nil

	case query.OpStartsWith:
		return fmt.Sprintf("%s LIKE %s ESCAPE '\\'", expr, c.bind(fmt.Sprintf("%s%%", escapeLike(asString(f.Value))))), nil

	case query.OpEndsWith:
		return fmt.Sprintf("%s LIKE %s ESCAPE '\\'", expr, c.bind(fmt.Sprintf("%%%s", escapeLike(asString(f.Value))))), nil

	case query.OpContains:
		return fmt.Sprintf("%s LIKE %s ESCAPE '\\'", expr, c.bind(fmt.Sprintf("%%%s%%", escapeLike(asString(f.Value))))), nil

	case query.OpExists:
		return fmt.Sprintf("%s IS NOT NULL", expr), nil

	case query.OpNotExists:
		return fmt.Sprintf("%s IS NULL", expr), nil

	case query.OpArrayContains:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = %s)", expr, c.bind(f.Value)), nil

	case query.OpArrayNotContains:
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = %s)", expr, c.bind(f.Value)), nil

	case query.OpArrayLength:
		cmpOp, ok := f.Value.(query.Op)
		if !ok {
			return "", fmt.Errorf("compiler: arraylength filter on %q requires an Op comparator, got %T", f.Field, f.Value)
		}
		sqlOp, ok := filterOps[cmpOp]
		if !ok {
			return "", fmt.Errorf("compiler: arraylength filter on %q has unsupported comparator %q", f.Field, cmpOp)
		}
		return fmt.Sprintf("json_array_length(%s) %s %s", expr, sqlOp, c.bind(f.Value2)), nil

	default:
		return "", fmt.Errorf("compiler: unsupported operator %q on field %q", f.Op, f.Field)
	}
}

func (c *compilation) compileSubquery(s *query.Subquery, table string) (string, error) {
	childCompiled, err := Compile(s.Child, c.resolver)
	if err != nil {
		return "", fmt.Errorf("compiler: subquery on %q: %w", s.Table, err)
	}
	c.args = append(c.args, childCompiled.Args...)

	switch s.Kind {
	case query.SubExists:
		return fmt.Sprintf("EXISTS (%s)", childCompiled.SQL), nil
	case query.SubNotExists:
		return fmt.Sprintf("NOT EXISTS (%s)", childCompiled.SQL), nil
	case query.SubIn:
		expr := c.resolveField(table, s.Field)
		return fmt.Sprintf("%s IN (%s)", expr, childCompiled.SQL), nil
	case query.SubNotIn:
		expr := c.resolveField(table, s.Field)
		return fmt.Sprintf("%s NOT IN (%s)", expr, childCompiled.SQL), nil
	default:
		return "", fmt.Errorf("compiler: unknown subquery kind %q", s.Kind)
	}
}

func toAnySlice(v any) ([]any, error) {
	switch vv := v.(type) {
	case []any:
		return vv, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("compiler: in/nin filter value must be a slice, got %T", v)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// escapeLike escapes SQLite LIKE metacharacters in a value destined for a
// generated pattern (startswith/endswith/contains); the pattern as a whole is
// still bound as a parameter, this only prevents the value itself from being
// interpreted as a wildcard.
func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
