package query

import "fmt"

// Builder is the fluent AST root for one collection query. It is deliberately
// a plain value builder: every mutating call returns *Builder so calls chain,
// and Clone/Reset/Clear* give the introspection surface §4.6 requires.
type Builder struct {
	Collection string
	Root       *Group

	Joins []Join

	OrderByList []OrderTerm

	HasLimit  bool
	Limit     int
	HasOffset bool
	Offset    int

	GroupByList []string
	Having      *Group

	SelectFields    []string
	Aggregates      []Aggregate
	DistinctResults bool

	err error
}

// New starts a query against collection.
func New(collection string) *Builder {
	return &Builder{
		Collection: collection,
		Root:       &Group{Type: GroupAnd},
		Having:     &Group{Type: GroupAnd},
	}
}

// Err returns the first builder-construction error (e.g. an invalid Page
// call), if any. The compiler refuses to compile a builder carrying one.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// FieldBuilder binds a field name to the Group its filters append to,
// returned by Where/HavingWhere.
type FieldBuilder struct {
	b      *Builder
	field  string
	target *[]Node
}

// Where starts a filter on field, appended to the query's top-level (AND,
// unless a prior Or() promoted it) group.
func (b *Builder) Where(field string) *FieldBuilder {
	return &FieldBuilder{b: b, field: field, target: &b.Root.Items}
}

// HavingWhere starts a filter on an aggregate alias, appended to the HAVING
// clause's group.
func (b *Builder) HavingWhere(field string) *FieldBuilder {
	return &FieldBuilder{b: b, field: field, target: &b.Having.Items}
}

func (f *FieldBuilder) push(n Node) *Builder {
	*f.target = append(*f.target, n)
	return f.b
}

func (f *FieldBuilder) Eq(v any) *Builder    { return f.push(Filter{Field: f.field, Op: OpEq, Value: v}) }
func (f *FieldBuilder) Neq(v any) *Builder   { return f.push(Filter{Field: f.field, Op: OpNeq, Value: v}) }
func (f *FieldBuilder) Gt(v any) *Builder    { return f.push(Filter{Field: f.field, Op: OpGt, Value: v}) }
func (f *FieldBuilder) Gte(v any) *Builder   { return f.push(Filter{Field: f.field, Op: OpGte, Value: v}) }
func (f *FieldBuilder) Lt(v any) *Builder    { return f.push(Filter{Field: f.field, Op: OpLt, Value: v}) }
func (f *FieldBuilder) Lte(v any) *Builder   { return f.push(Filter{Field: f.field, Op: OpLte, Value: v}) }

func (f *FieldBuilder) Between(lo, hi any) *Builder {
	return f.push(Filter{Field: f.field, Op: OpBetween, Value: lo, Value2: hi})
}

func (f *FieldBuilder) In(values []any) *Builder {
	return f.push(Filter{Field: f.field, Op: OpIn, Value: values})
}

func (f *FieldBuilder) Nin(values []any) *Builder {
	return f.push(Filter{Field: f.field, Op: OpNin, Value: values})
}

func (f *FieldBuilder) Like(pattern string) *Builder {
	return f.push(Filter{Field: f.field, Op: OpLike, Value: pattern})
}

func (f *FieldBuilder) ILike(pattern string) *Builder {
	return f.push(Filter{Field: f.field, Op: OpILike, Value: pattern})
}

func (f *FieldBuilder) StartsWith(s string) *Builder {
	return f.push(Filter{Field: f.field, Op: OpStartsWith, Value: s})
}

func (f *FieldBuilder) EndsWith(s string) *Builder {
	return f.push(Filter{Field: f.field, Op: OpEndsWith, Value: s})
}

func (f *FieldBuilder) Contains(s string) *Builder {
	return f.push(Filter{Field: f.field, Op: OpContains, Value: s})
}

func (f *FieldBuilder) Exists() *Builder {
	return f.push(Filter{Field: f.field, Op: OpExists})
}

func (f *FieldBuilder) NotExists() *Builder {
	return f.push(Filter{Field: f.field, Op: OpNotExists})
}

func (f *FieldBuilder) ArrayContains(v any) *Builder {
	return f.push(Filter{Field: f.field, Op: OpArrayContains, Value: v})
}

func (f *FieldBuilder) ArrayNotContains(v any) *Builder {
	return f.push(Filter{Field: f.field, Op: OpArrayNotContains, Value: v})
}

// ArrayLength compares json_array_length(field) cmp n, where cmp is one of
// eq/neq/gt/gte/lt/lte.
func (f *FieldBuilder) ArrayLength(cmp Op, n int) *Builder {
	return f.push(Filter{Field: f.field, Op: OpArrayLength, Value: cmp, Value2: n})
}

// Or promotes the query to a top-level OR between everything built so far
// and a new sub-group populated by fn, per §4.6: "the top-level filter list
// is implicitly AND unless replaced by a single OR-group (the builder does
// this when the user calls or(...) after existing filters)".
func (b *Builder) Or(fn func(*Builder)) *Builder {
	sub := New(b.Collection)
	fn(sub)

	if b.Root.Type == GroupOr {
		b.Root.Items = append(b.Root.Items, flattenSingle(sub.Root))
		return b
	}

	left := flattenSingle(b.Root)
	right := flattenSingle(sub.Root)
	b.Root = &Group{Type: GroupOr, Items: []Node{left, right}}
	return b
}

// flattenSingle collapses a single-item AND group down to its bare item, so
// e.g. Or()'s operands don't carry a redundant wrapper the compiler would
// otherwise have to special-case.
func flattenSingle(g *Group) Node {
	if len(g.Items) == 1 {
		return g.Items[0]
	}
	return g
}

// AndGroup appends a nested AND sub-group as one item of the current
// top-level group, for expressions like `a AND (b OR c)`.
func (b *Builder) AndGroup(fn func(*Builder)) *Builder {
	sub := New(b.Collection)
	fn(sub)
	sub.Root.Type = GroupAnd
	b.Root.Items = append(b.Root.Items, flattenSingle(sub.Root))
	return b
}

// OrGroupNested appends a nested OR sub-group as one item of the current
// top-level group, distinct from Or (which promotes the whole query).
func (b *Builder) OrGroupNested(fn func(*Builder)) *Builder {
	sub := New(b.Collection)
	fn(sub)
	sub.Root.Type = GroupOr
	b.Root.Items = append(b.Root.Items, flattenSingle(sub.Root))
	return b
}

// InnerJoin adds an inner join reachable as "table.field" in subsequent AST
// nodes.
func (b *Builder) InnerJoin(table, leftField, rightField string, op ...string) *Builder {
	return b.join(table, leftField, rightField, JoinInner, op...)
}

// LeftJoin adds a left join.
func (b *Builder) LeftJoin(table, leftField, rightField string, op ...string) *Builder {
	return b.join(table, leftField, rightField, JoinLeft, op...)
}

func (b *Builder) join(table, leftField, rightField string, kind JoinKind, op ...string) *Builder {
	o := "="
	if len(op) > 0 && op[0] != "" {
		o = op[0]
	}
	b.Joins = append(b.Joins, Join{Table: table, LeftField: leftField, RightField: rightField, Op: o, Kind: kind})
	return b
}

// ExistsSubquery adds a correlated/non-correlated EXISTS predicate.
func (b *Builder) ExistsSubquery(table string, fn func(*Builder)) *Builder {
	child := New(table)
	fn(child)
	b.Root.Items = append(b.Root.Items, &Subquery{Kind: SubExists, Table: table, Child: child})
	return b
}

// NotExistsSubquery adds a NOT EXISTS predicate.
func (b *Builder) NotExistsSubquery(table string, fn func(*Builder)) *Builder {
	child := New(table)
	fn(child)
	b.Root.Items = append(b.Root.Items, &Subquery{Kind: SubNotExists, Table: table, Child: child})
	return b
}

// InSubquery adds `field IN (<child SELECT projection>)`; child must select
// exactly the one field to compare against via Select.
func (b *Builder) InSubquery(field, table string, fn func(*Builder)) *Builder {
	child := New(table)
	fn(child)
	b.Root.Items = append(b.Root.Items, &Subquery{Kind: SubIn, Field: field, Table: table, Child: child})
	return b
}

// NotInSubquery adds `field NOT IN (<child SELECT projection>)`.
func (b *Builder) NotInSubquery(field, table string, fn func(*Builder)) *Builder {
	child := New(table)
	fn(child)
	b.Root.Items = append(b.Root.Items, &Subquery{Kind: SubNotIn, Field: field, Table: table, Child: child})
	return b
}

// OrderByOnly replaces the whole ORDER BY list with a single key.
func (b *Builder) OrderByOnly(field string, desc bool) *Builder {
	b.OrderByList = []OrderTerm{{Field: field, Desc: desc}}
	return b
}

// OrderByMultiple replaces the whole ORDER BY list.
func (b *Builder) OrderByMultiple(terms []OrderTerm) *Builder {
	b.OrderByList = terms
	return b
}

// OrderBy appends one more key to the ORDER BY list.
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	b.OrderByList = append(b.OrderByList, OrderTerm{Field: field, Desc: desc})
	return b
}

// LimitTo sets LIMIT.
func (b *Builder) LimitTo(n int) *Builder {
	if n < 0 {
		return b.fail(fmt.Errorf("query: limit must be >= 0, got %d", n))
	}
	b.HasLimit = true
	b.Limit = n
	return b
}

// OffsetBy sets OFFSET.
func (b *Builder) OffsetBy(n int) *Builder {
	if n < 0 {
		return b.fail(fmt.Errorf("query: offset must be >= 0, got %d", n))
	}
	b.HasOffset = true
	b.Offset = n
	return b
}

// Page sets limit=size, offset=(page-1)*size. page and size must both be >= 1.
func (b *Builder) Page(page, size int) *Builder {
	if page < 1 || size < 1 {
		return b.fail(fmt.Errorf("query: page(%d, %d) requires page >= 1 and size >= 1", page, size))
	}
	b.HasLimit = true
	b.Limit = size
	b.HasOffset = true
	b.Offset = (page - 1) * size
	return b
}

// GroupBy sets the GROUP BY field list.
func (b *Builder) GroupBy(fields ...string) *Builder {
	b.GroupByList = fields
	return b
}

// Select restricts the projected shape to the listed fields.
func (b *Builder) Select(fields ...string) *Builder {
	b.SelectFields = fields
	return b
}

// Distinct requests row deduplication on the final result set.
func (b *Builder) Distinct() *Builder {
	b.DistinctResults = true
	return b
}

func (b *Builder) addAggregate(fn AggregateFn, field, alias string, distinct bool) *Builder {
	b.Aggregates = append(b.Aggregates, Aggregate{Fn: fn, Field: field, Alias: alias, Distinct: distinct})
	return b
}

// CountAll adds COUNT(*) [AS alias].
func (b *Builder) CountAll(alias string) *Builder { return b.addAggregate(AggCount, "", alias, false) }

// Count adds COUNT(field) or COUNT(DISTINCT field).
func (b *Builder) Count(field, alias string, distinct bool) *Builder {
	return b.addAggregate(AggCount, field, alias, distinct)
}

func (b *Builder) Sum(field, alias string) *Builder { return b.addAggregate(AggSum, field, alias, false) }
func (b *Builder) Avg(field, alias string) *Builder { return b.addAggregate(AggAvg, field, alias, false) }
func (b *Builder) Min(field, alias string) *Builder { return b.addAggregate(AggMin, field, alias, false) }
func (b *Builder) Max(field, alias string) *Builder { return b.addAggregate(AggMax, field, alias, false) }

// HasFilters reports whether any predicate (filter, group, or subquery) was
// added to the top-level WHERE clause.
func (b *Builder) HasFilters() bool { return len(b.Root.Items) > 0 }

// HasOrdering reports whether an ORDER BY key was set.
func (b *Builder) HasOrdering() bool { return len(b.OrderByList) > 0 }

// HasPagination reports whether LIMIT or OFFSET was set.
func (b *Builder) HasPagination() bool { return b.HasLimit || b.HasOffset }

// GetFilterCount recursively counts leaf Filter nodes in the WHERE clause.
func (b *Builder) GetFilterCount() int { return countFilters(b.Root) }

func countFilters(n Node) int {
	switch v := n.(type) {
	case Filter:
		return 1
	case *Group:
		total := 0
		for _, item := range v.Items {
			total += countFilters(item)
		}
		return total
	case *Subquery:
		return 1
	default:
		return 0
	}
}

// ClearFilters resets the WHERE clause.
func (b *Builder) ClearFilters() *Builder {
	b.Root = &Group{Type: GroupAnd}
	return b
}

// ClearOrdering resets the ORDER BY list.
func (b *Builder) ClearOrdering() *Builder {
	b.OrderByList = nil
	return b
}

// ClearPagination resets LIMIT/OFFSET.
func (b *Builder) ClearPagination() *Builder {
	b.HasLimit, b.Limit, b.HasOffset, b.Offset = false, 0, false, 0
	return b
}

// Reset restores the builder to its newly-constructed state for Collection.
func (b *Builder) Reset() *Builder {
	fresh := New(b.Collection)
	*b = *fresh
	return b
}

// Clone deep-copies the builder so mutations on the copy never affect the
// original (§4.6 I6: a builder and its clone must compile identically and
// independently).
func (b *Builder) Clone() *Builder {
	clone := &Builder{
		Collection:      b.Collection,
		Root:            cloneGroup(b.Root),
		Joins:           append([]Join(nil), b.Joins...),
		OrderByList:     append([]OrderTerm(nil), b.OrderByList...),
		HasLimit:        b.HasLimit,
		Limit:           b.Limit,
		HasOffset:       b.HasOffset,
		Offset:          b.Offset,
		GroupByList:     append([]string(nil), b.GroupByList...),
		Having:          cloneGroup(b.Having),
		SelectFields:    append([]string(nil), b.SelectFields...),
		Aggregates:      append([]Aggregate(nil), b.Aggregates...),
		DistinctResults: b.DistinctResults,
		err:             b.err,
	}
	return clone
}

func cloneGroup(g *Group) *Group {
	if g == nil {
		return nil
	}
	out := &Group{Type: g.Type, Items: make([]Node, len(g.Items))}
	for i, item := range g.Items {
		out.Items[i] = cloneNode(item)
	}
	return out
}

func cloneNode(n Node) Node {
	switch v := n.(type) {
	case Filter:
		return v
	case *Group:
		return cloneGroup(v)
	case *Subquery:
		clone := *v
		clone.Child = v.Child.Clone()
		return &clone
	default:
		return n
	}
}
