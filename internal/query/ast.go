// Package query implements the fluent filter/group/join/subquery/aggregate
// AST described by the engine's query builder. Construction is purely
// mechanical here; internal/compiler does the interesting work of lowering
// this AST to parameterized SQL.
package query

// Op is the filter operator vocabulary.
type Op string

const (
	OpEq               Op = "eq"
	OpNeq              Op = "neq"
	OpGt               Op = "gt"
	OpGte              Op = "gte"
	OpLt               Op = "lt"
	OpLte              Op = "lte"
	OpBetween          Op = "between"
	OpIn               Op = "in"
	OpNin              Op = "nin"
	OpLike             Op = "like"
	OpILike            Op = "ilike"
	OpStartsWith       Op = "startswith"
	OpEndsWith         Op = "endswith"
	OpContains         Op = "contains"
	OpExists           Op = "exists"
	OpNotExists        Op = "notexists"
	OpArrayContains    Op = "arraycontains"
	OpArrayNotContains Op = "arraynotcontains"
	OpArrayLength      Op = "arraylength"
)

// GroupType is the logical combinator for a Group's items.
type GroupType string

const (
	GroupAnd GroupType = "and"
	GroupOr  GroupType = "or"
)

// Node is any element that can live inside a Group: a Filter, a nested
// Group, or a Subquery predicate.
type Node interface {
	isNode()
}

// Filter is an atomic (field, op, value[, value2]) predicate. ArrayLength
// uses Value as the comparison Op (eq/gt/gte/lt/lte/neq) and Value2 as the
// target length.
type Filter struct {
	Field  string
	Op     Op
	Value  any
	Value2 any
}

func (Filter) isNode() {}

// Group combines its Items with AND or OR. A single-item group compiles
// without redundant parentheses; compiler.go implements that collapse.
type Group struct {
	Type  GroupType
	Items []Node
}

func (*Group) isNode() {}

// JoinKind selects SQL JOIN semantics.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
)

// Join adds a joined table reachable by subsequent field references as
// "table.field".
type Join struct {
	Table      string
	LeftField  string
	RightField string
	Op         string // comparison operator, defaults to "="
	Kind       JoinKind
}

// SubqueryKind selects how a child AST is embedded in the parent predicate.
type SubqueryKind string

const (
	SubExists    SubqueryKind = "exists"
	SubNotExists SubqueryKind = "notExists"
	SubIn        SubqueryKind = "in"
	SubNotIn     SubqueryKind = "notIn"
)

// Subquery is a correlated or non-correlated child query embedded as a
// predicate. Field is the outer expression compared against the child's
// projected column for SubIn/SubNotIn; it is unused for SubExists/SubNotExists,
// where correlation (if any) comes from filters inside Child referencing the
// outer table.
type Subquery struct {
	Kind  SubqueryKind
	Field string
	Table string
	Child *Builder
}

func (*Subquery) isNode() {}

// OrderTerm is one key of a (possibly multi-key) ORDER BY list.
type OrderTerm struct {
	Field string
	Desc  bool
}

// AggregateFn is the supported aggregate vocabulary.
type AggregateFn string

const (
	AggCount AggregateFn = "count"
	AggSum   AggregateFn = "sum"
	AggAvg   AggregateFn = "avg"
	AggMin   AggregateFn = "min"
	AggMax   AggregateFn = "max"
)

// Aggregate is one SELECT-list aggregate expression. An empty Field with
// AggCount means COUNT(*).
type Aggregate struct {
	Fn       AggregateFn
	Field    string
	Alias    string
	Distinct bool
}
