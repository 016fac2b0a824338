// Package constraints computes and applies the DDL for one collection's
// backing table: the _id/doc columns, one column per constrained field, its
// indexes (including expression indexes over JSON paths), and foreign-key
// clauses — the way the teacher's dolt schema lays out inline FK constraints
// and named indexes per table, adapted here to SQLite's CREATE TABLE IF NOT
// EXISTS idempotency instead of a versioned migration script.
package constraints

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/skibbadb/skibbadb/internal/registry"
)

// Execer is the minimal driver surface the installer needs; satisfied by
// *sql.DB, *sql.Conn, and *sql.Tx alike.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Plan is the computed DDL for one collection: a table statement followed by
// its index statements, in application order. Install is idempotent: running
// Plan's statements against an already-installed table is a no-op.
type Plan struct {
	TableSQL string
	IndexSQL []string
}

// BuildPlan computes the CREATE TABLE / CREATE INDEX statements for desc.
func BuildPlan(desc *registry.CollectionDescriptor) (*Plan, error) {
	var cols []string
	cols = append(cols, "_id TEXT PRIMARY KEY", "doc TEXT NOT NULL")

	var tableUniques []string
	var indexStmts []string

	paths := make([]string, 0, len(desc.ConstrainedFields))
	for path := range desc.ConstrainedFields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		def := desc.ConstrainedFields[path]
		col := columnName(path)
		colDef, err := columnDefinition(col, def)
		if err != nil {
			return nil, err
		}
		cols = append(cols, colDef)

		if strings.Contains(path, ".") {
			indexStmts = append(indexStmts, fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS "idx_%s_%s" ON %s (json_extract(doc, '$.%s'))`,
				desc.Name, col, quoteIdent(desc.Name), path))
		} else {
			indexStmts = append(indexStmts, fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS "idx_%s_%s" ON %s (%s)`,
				desc.Name, col, quoteIdent(desc.Name), col))
		}
	}

	for _, group := range desc.CompositeUniques {
		quotedCols := make([]string, len(group))
		for i, p := range group {
			quotedCols[i] = columnName(p)
		}
		tableUniques = append(tableUniques, fmt.Sprintf("UNIQUE(%s)", strings.Join(quotedCols, ", ")))
	}

	allCols := append(append([]string{}, cols...), tableUniques...)
	tableSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		quoteIdent(desc.Name), strings.Join(allCols, ",\n    "))

	for _, idx := range desc.Indexes {
		indexStmts = append(indexStmts, buildNamedIndex(desc.Name, idx))
	}

	return &Plan{TableSQL: tableSQL, IndexSQL: indexStmts}, nil
}

func buildNamedIndex(table string, idx registry.IndexDef) string {
	exprs := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		if strings.Contains(f, ".") {
			exprs[i] = fmt.Sprintf("json_extract(doc, '$.%s')", f)
		} else {
			exprs[i] = columnName(f)
		}
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS "%s" ON %s (%s)`,
		unique, idx.Name, quoteIdent(table), strings.Join(exprs, ", "))
	if idx.Where != "" {
		stmt += " WHERE " + idx.Where
	}
	return stmt
}

func columnDefinition(col string, def registry.ConstrainedFieldDef) (string, error) {
	sqlType, err := ddlType(def)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", col, sqlType)
	if !def.Nullable {
		b.WriteString(" NOT NULL")
	}
	if def.Unique {
		b.WriteString(" UNIQUE")
	}
	if def.Check != "" {
		fmt.Fprintf(&b, " CHECK (%s)", def.Check)
	}
	if def.ForeignKey != "" {
		table, field, err := splitForeignKey(def.ForeignKey)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " REFERENCES %s(%s)", quoteIdent(table), field)
		if def.OnDelete != "" {
			fmt.Fprintf(&b, " ON DELETE %s", def.OnDelete)
		}
		if def.OnUpdate != "" {
			fmt.Fprintf(&b, " ON UPDATE %s", def.OnUpdate)
		}
	}
	return b.String(), nil
}

// ddlType maps a constrained field's declared type to a physical SQLite
// column type. VECTOR has no native SQLite type; it is packed as BLOB per
// §4.11, with dimensionality left as documentation rather than an enforced
// length (SQLite has no fixed-size BLOB constraint).
func ddlType(def registry.ConstrainedFieldDef) (string, error) {
	switch def.Type {
	case registry.TypeText:
		return "TEXT", nil
	case registry.TypeInteger:
		return "INTEGER", nil
	case registry.TypeReal:
		return "REAL", nil
	case registry.TypeBoolean:
		return "INTEGER", nil
	case registry.TypeBlob:
		return "BLOB", nil
	case registry.TypeVector:
		return fmt.Sprintf("BLOB /* vector dims=%d type=%s */", def.VectorDimensions, def.VectorType), nil
	default:
		return "", fmt.Errorf("constraints: unknown field type %q", def.Type)
	}
}

func splitForeignKey(ref string) (table, field string, err error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("constraints: foreign key %q must be \"table.field\"", ref)
	}
	return parts[0], parts[1], nil
}

// columnName derives the physical column identifier for a constrained field
// path, matching registry.Resolve's naming so compiled SQL and installed DDL
// always agree.
func columnName(path string) string {
	return strings.ReplaceAll(path, ".", "_")
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Install applies plan's statements against exec. Each statement uses IF NOT
// EXISTS, so re-entry on an already-installed table is a no-op (§4.4).
func Install(ctx context.Context, exec Execer, plan *Plan) error {
	if _, err := exec.ExecContext(ctx, plan.TableSQL); err != nil {
		return fmt.Errorf("constraints: create table: %w", err)
	}
	for _, stmt := range plan.IndexSQL {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("constraints: create index: %w", err)
		}
	}
	return nil
}
