package skibbadb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/skibbadb/skibbadb/internal/codec"
	"github.com/skibbadb/skibbadb/internal/compiler"
	"github.com/skibbadb/skibbadb/internal/plugin"
	"github.com/skibbadb/skibbadb/internal/query"
	"github.com/skibbadb/skibbadb/internal/registry"
	"github.com/skibbadb/skibbadb/internal/txn"
	"github.com/skibbadb/skibbadb/internal/validatorapi"
)

// Collection is the per-table CRUD facade (§4.7). Every operation works
// identically against the blocking and cooperative drivers, since both
// satisfy driverapi.Driver; there is no separate code path per variant.
type Collection struct {
	db   *Database
	desc *registry.CollectionDescriptor

	ready   chan struct{}
	initErr error
}

func newCollection(db *Database, desc *registry.CollectionDescriptor) *Collection {
	return &Collection{db: db, desc: desc, ready: make(chan struct{})}
}

// initialize runs the constraint install + migrate + seed pipeline once per
// collection, in the background, and unblocks WaitForInitialization either
// way (§4.10 "ready").
func (c *Collection) initialize() {
	defer close(c.ready)
	c.initErr = c.db.installAndMigrate(context.Background(), c.desc)
}

// WaitForInitialization blocks until the collection's constraint install and
// migration pipeline has completed, or ctx is cancelled first.
func (c *Collection) WaitForInitialization(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Collection) resolver() compiler.FieldResolver { return c.db.registry }

func (c *Collection) name() string { return c.desc.Name }

// Query starts a fluent builder scoped to this collection's table.
func (c *Collection) Query() *query.Builder {
	return query.New(c.desc.Name)
}

// Insert assigns a primary key if absent, validates, derives constrained
// columns, and inserts one document (§4.7).
func (c *Collection) Insert(ctx context.Context, doc map[string]any) (map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}

	docs, err := c.insertBulkTx(ctx, []map[string]any{doc})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// InsertBulk inserts every document inside one transaction: either all
// persist or none do (§4.7, §7).
func (c *Collection) InsertBulk(ctx context.Context, docs []map[string]any) ([]map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	return c.insertBulkTx(ctx, docs)
}

func (c *Collection) insertBulkTx(ctx context.Context, docs []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(docs))

	err := c.db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		for _, doc := range docs {
			prepared, err := c.prepareForInsert(doc)
			if err != nil {
				return err
			}

			if err := c.fireHook(ctx, "onBeforeInsert", prepared); err != nil {
				return err
			}

			if err := c.execInsert(ctx, prepared); err != nil {
				return c.classifyWriteError(err, prepared)
			}

			if err := c.fireHook(ctx, "onAfterInsert", prepared); err != nil {
				return err
			}

			out = append(out, prepared)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prepareForInsert assigns a UUIDv4 primary key when absent and validates
// the resulting document.
func (c *Collection) prepareForInsert(doc map[string]any) (map[string]any, error) {
	prepared := cloneDoc(doc)
	pk := c.desc.PrimaryKeyField
	if _, ok := prepared[pk]; !ok || prepared[pk] == "" {
		prepared[pk] = uuid.NewString()
	}
	return c.validate(prepared)
}

func (c *Collection) validate(doc map[string]any) (map[string]any, error) {
	if c.desc.Validator == nil {
		return doc, nil
	}
	value, fieldErrs, err := c.desc.Validator.Parse(context.Background(), doc)
	if err != nil {
		return nil, wrapDBError("validate", err)
	}
	if len(fieldErrs) > 0 {
		return nil, &ValidationError{Collection: c.name(), Messages: fieldMessages(fieldErrs)}
	}
	if m, ok := value.(map[string]any); ok {
		return m, nil
	}
	return doc, nil
}

func fieldMessages(errs []validatorapi.FieldError) []string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		if e.Path != "" {
			msgs[i] = fmt.Sprintf("%s: %s", e.Path, e.Message)
		} else {
			msgs[i] = e.Message
		}
	}
	return msgs
}

func (c *Collection) execInsert(ctx context.Context, doc map[string]any) error {
	cols, vals, err := c.constrainedValues(doc)
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(c.stripVectorFields(doc))
	if err != nil {
		return wrapDBError("encode", err)
	}

	names := append([]string{"_id", "doc"}, cols...)
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = "?"
	}
	args := append([]any{doc[c.desc.PrimaryKeyField], encoded}, vals...)

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(c.name()), strings.Join(quoteIdents(names), ", "), strings.Join(placeholders, ", "))

	_, err = c.db.driver.Exec(ctx, stmt, args...)
	return err
}

// constrainedValues derives each constrained field's projected column value
// from doc, per the dual-storage invariant (§3 I1).
func (c *Collection) constrainedValues(doc map[string]any) (cols []string, vals []any, err error) {
	for path, def := range c.desc.ConstrainedFields {
		v, _ := codec.GetPath(doc, path)
		if def.Type == registry.TypeVector {
			packed, perr := packVector(v, def)
			if perr != nil {
				return nil, nil, perr
			}
			v = packed
		}
		cols = append(cols, strings.ReplaceAll(path, ".", "_"))
		vals = append(vals, v)
	}
	return cols, vals, nil
}

// stripVectorFields returns doc unchanged if it declares no VECTOR
// constrained fields, otherwise a copy with each vector path removed before
// it reaches the doc JSON column — a vector lives only in its packed BLOB
// column, never duplicated into the document text (§4.11 "write-only
// projection").
func (c *Collection) stripVectorFields(doc map[string]any) map[string]any {
	var vectorPaths []string
	for path, def := range c.desc.ConstrainedFields {
		if def.Type == registry.TypeVector {
			vectorPaths = append(vectorPaths, path)
		}
	}
	if len(vectorPaths) == 0 {
		return doc
	}
	out := cloneDoc(doc)
	for _, path := range vectorPaths {
		deletePath(out, path)
	}
	return out
}

func deletePath(doc map[string]any, path string) {
	segs := strings.Split(path, ".")
	cur := doc
	for i, seg := range segs {
		if i == len(segs)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

// packVector encodes a []any of numbers into a little-endian BLOB per
// §4.11's VECTOR column declaration.
func packVector(v any, def registry.ConstrainedFieldDef) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("skibbadb: vector field expects an array, got %T", v)
	}
	if def.VectorDimensions > 0 && len(items) != def.VectorDimensions {
		return nil, fmt.Errorf("skibbadb: vector field expects %d dimensions, got %d", def.VectorDimensions, len(items))
	}
	buf := make([]byte, 0, len(items)*4)
	for _, item := range items {
		f, ok := toFloat64(item)
		if !ok {
			return nil, fmt.Errorf("skibbadb: vector element is not numeric: %v", item)
		}
		buf = appendFloat32LE(buf, float32(f))
	}
	return buf, nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func appendFloat32LE(buf []byte, f float32) []byte {
	bits := math.Float32bits(f)
	return append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

// classifyWriteError recognizes SQLite's unique and foreign-key constraint
// failures and upgrades them into the taxonomy from §7; anything else stays
// a generic DatabaseError.
func (c *Collection) classifyWriteError(err error, doc map[string]any) error {
	msg := err.Error()
	upper := strings.ToUpper(msg)
	switch {
	case strings.Contains(upper, "UNIQUE CONSTRAINT"):
		return &UniqueConstraintError{Collection: c.name(), Fields: c.guessUniqueFields(msg)}
	case strings.Contains(upper, "FOREIGN KEY CONSTRAINT"):
		table, field := c.guessForeignKeyTarget()
		return &ValidationError{Collection: c.name(), RefTable: table, RefField: field}
	default:
		return wrapDBError("write", err)
	}
}

// guessUniqueFields extracts the column names named in SQLite's
// "UNIQUE constraint failed: table.col1, table.col2" message.
func (c *Collection) guessUniqueFields(msg string) []string {
	const marker = "UNIQUE constraint failed: "
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return nil
	}
	rest := msg[idx+len(marker):]
	parts := strings.Split(rest, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if dot := strings.LastIndex(p, "."); dot >= 0 {
			p = p[dot+1:]
		}
		fields = append(fields, strings.ReplaceAll(p, "_", "."))
	}
	return fields
}

func (c *Collection) guessForeignKeyTarget() (table, field string) {
	for _, def := range c.desc.ConstrainedFields {
		if def.ForeignKey != "" {
			parts := strings.SplitN(def.ForeignKey, ".", 2)
			if len(parts) == 2 {
				return parts[0], parts[1]
			}
		}
	}
	return "", ""
}

// FindByID returns the merged document for id, or (nil, nil) if absent.
func (c *Collection) FindByID(ctx context.Context, id string) (map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}

	row := c.db.driver.QueryRow(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE _id = ? LIMIT 1", quoteIdent(c.name())), id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapDBError("find by id", err)
	}

	doc, err := codec.Decode(raw)
	if err != nil {
		return nil, wrapDBError("decode", err)
	}
	m, _ := doc.(map[string]any)
	return c.mergeConstrainedFromRow(ctx, id, m)
}

// mergeConstrainedFromRow re-reads the constrained columns for id and merges
// them back over the decoded document, since doc's JSON may lag a concurrent
// column-only mutation within the same row lifetime.
func (c *Collection) mergeConstrainedFromRow(ctx context.Context, id string, doc map[string]any) (map[string]any, error) {
	if len(c.desc.ConstrainedFields) == 0 {
		return doc, nil
	}

	cols := make([]string, 0, len(c.desc.ConstrainedFields))
	paths := make([]string, 0, len(c.desc.ConstrainedFields))
	for path := range c.desc.ConstrainedFields {
		paths = append(paths, path)
		cols = append(cols, strings.ReplaceAll(path, ".", "_"))
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE _id = ? LIMIT 1", strings.Join(quoteIdents(cols), ", "), quoteIdent(c.name()))
	row := c.db.driver.QueryRow(ctx, stmt, id)

	dest := make([]any, len(cols))
	scanTargets := make([]any, len(cols))
	for i := range dest {
		scanTargets[i] = &dest[i]
	}
	if err := row.Scan(scanTargets...); err != nil {
		if err == sql.ErrNoRows {
			return doc, nil
		}
		return nil, wrapDBError("read constrained columns", err)
	}

	constrained := make(map[string]any, len(paths))
	for i, path := range paths {
		def := c.desc.ConstrainedFields[path]
		if def.Type == registry.TypeVector {
			continue // vectors are write-only projections, not surfaced on read
		}
		constrained[path] = dest[i]
	}
	return codec.MergeConstrained(doc, constrained), nil
}

// Put loads the existing document, merges partial over it, re-validates, and
// updates both doc and constrained columns. A missing id is a NotFoundError.
func (c *Collection) Put(ctx context.Context, id string, partial map[string]any) (map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}

	var result map[string]any
	err := c.db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		existing, err := c.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return &NotFoundError{Collection: c.name(), ID: id}
		}

		merged := mergeOver(existing, partial)
		merged[c.desc.PrimaryKeyField] = id

		validated, err := c.validate(merged)
		if err != nil {
			return err
		}

		if err := c.fireHook(ctx, "onBeforeUpdate", validated); err != nil {
			return err
		}
		if err := c.execUpdate(ctx, id, validated); err != nil {
			return c.classifyWriteError(err, validated)
		}
		if err := c.fireHook(ctx, "onAfterUpdate", validated); err != nil {
			return err
		}

		result = validated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PutBulk applies Put to each (id, partial) pair inside one transaction.
func (c *Collection) PutBulk(ctx context.Context, updates map[string]map[string]any) (map[string]map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(updates))
	err := c.db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		for id, partial := range updates {
			doc, err := c.Put(ctx, id, partial)
			if err != nil {
				return err
			}
			out[id] = doc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Collection) execUpdate(ctx context.Context, id string, doc map[string]any) error {
	cols, vals, err := c.constrainedValues(doc)
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(c.stripVectorFields(doc))
	if err != nil {
		return wrapDBError("encode", err)
	}

	setClauses := []string{"doc = ?"}
	args := []any{encoded}
	for i, col := range cols {
		setClauses = append(setClauses, quoteIdent(col)+" = ?")
		args = append(args, vals[i])
	}
	args = append(args, id)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE _id = ?", quoteIdent(c.name()), strings.Join(setClauses, ", "))
	_, err = c.db.driver.Exec(ctx, stmt, args...)
	return err
}

// Upsert inserts doc if id is absent, otherwise replaces it in one
// statement using SQLite's "INSERT ... ON CONFLICT(_id) DO UPDATE" form
// (§4.7 "avoid two round-trips").
func (c *Collection) Upsert(ctx context.Context, id string, doc map[string]any) (map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}

	prepared := cloneDoc(doc)
	prepared[c.desc.PrimaryKeyField] = id
	validated, err := c.validate(prepared)
	if err != nil {
		return nil, err
	}

	err = c.db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		if err := c.fireHook(ctx, "onBeforeUpdate", validated); err != nil {
			return err
		}
		if err := c.execUpsert(ctx, id, validated); err != nil {
			return c.classifyWriteError(err, validated)
		}
		return c.fireHook(ctx, "onAfterUpdate", validated)
	})
	if err != nil {
		return nil, err
	}
	return validated, nil
}

// UpsertBulk applies Upsert to every (id, doc) pair inside one transaction.
func (c *Collection) UpsertBulk(ctx context.Context, docs map[string]map[string]any) (map[string]map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(docs))
	err := c.db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		for id, doc := range docs {
			result, err := c.Upsert(ctx, id, doc)
			if err != nil {
				return err
			}
			out[id] = result
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Collection) execUpsert(ctx context.Context, id string, doc map[string]any) error {
	cols, vals, err := c.constrainedValues(doc)
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(c.stripVectorFields(doc))
	if err != nil {
		return wrapDBError("encode", err)
	}

	names := append([]string{"_id", "doc"}, cols...)
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = "?"
	}
	args := append([]any{id, encoded}, vals...)

	updateClauses := []string{"doc = excluded.doc"}
	for _, col := range cols {
		updateClauses = append(updateClauses, fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col)))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(_id) DO UPDATE SET %s",
		quoteIdent(c.name()), strings.Join(quoteIdents(names), ", "), strings.Join(placeholders, ", "), strings.Join(updateClauses, ", "))

	_, err = c.db.driver.Exec(ctx, stmt, args...)
	return err
}

// Delete removes id, returning whether a row was actually removed. Engine-
// enforced ON DELETE actions handle cascading to child rows.
func (c *Collection) Delete(ctx context.Context, id string) (bool, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return false, err
	}

	var removed bool
	err := c.db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		if err := c.fireHook(ctx, "onBeforeDelete", map[string]any{c.desc.PrimaryKeyField: id}); err != nil {
			return err
		}

		res, err := c.db.driver.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE _id = ?", quoteIdent(c.name())), id)
		if err != nil {
			return wrapDBError("delete", err)
		}
		if res != nil {
			n, _ := res.RowsAffected()
			removed = n > 0
		}

		return c.fireHook(ctx, "onAfterDelete", map[string]any{c.desc.PrimaryKeyField: id})
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// DeleteBulk deletes every id inside one transaction.
func (c *Collection) DeleteBulk(ctx context.Context, ids []string) (int, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return 0, err
	}
	var count int
	err := c.db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		for _, id := range ids {
			removed, err := c.Delete(ctx, id)
			if err != nil {
				return err
			}
			if removed {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Count rewrites a clone of b's select list to COUNT(*) (or COUNT(DISTINCT
// field) when distinctField is non-empty), dropping ordering/pagination/any
// prior select or aggregate list, and returns the scalar result (§4.7).
func (c *Collection) Count(ctx context.Context, b *query.Builder, distinctField string) (int64, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return 0, err
	}
	if b == nil {
		b = c.Query()
	}
	countBuilder := b.Clone().ClearOrdering().ClearPagination()
	countBuilder.SelectFields = nil
	countBuilder.Aggregates = nil
	if distinctField != "" {
		countBuilder.Count(distinctField, "n", true)
	} else {
		countBuilder.CountAll("n")
	}

	compiled, err := compiler.Compile(countBuilder, c.resolver())
	if err != nil {
		return 0, wrapDBError("compile", err)
	}

	row := c.db.driver.QueryRow(ctx, compiled.SQL, compiled.Args...)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, wrapDBError("count", err)
	}
	return n, nil
}

// First applies LIMIT 1 to b and returns the sole result, or nil if none.
func (c *Collection) First(ctx context.Context, b *query.Builder) (map[string]any, error) {
	if b == nil {
		b = c.Query()
	}
	results, err := c.ToArray(ctx, b.Clone().LimitTo(1))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// ToArray compiles and executes b, merging constrained-column state back
// into each decoded document unless b declared an explicit select list (in
// which case rows are already a plain projection, per §4.6).
func (c *Collection) ToArray(ctx context.Context, b *query.Builder) ([]map[string]any, error) {
	if err := c.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	if b == nil {
		b = c.Query()
	}

	if err := c.fireHook(ctx, "onBeforeQuery", nil); err != nil {
		return nil, err
	}

	compiled, err := compiler.Compile(b, c.resolver())
	if err != nil {
		return nil, wrapDBError("compile", err)
	}

	rows, err := c.db.driver.Query(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, wrapDBError("query", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	results, err := c.scanRows(rows, len(b.SelectFields) > 0 || len(b.Aggregates) > 0)
	if err != nil {
		return nil, err
	}

	if err := c.fireHook(ctx, "onAfterQuery", nil); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Collection) scanRows(rows *sql.Rows, projected bool) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, wrapDBError("read columns", err)
	}

	var results []map[string]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrapDBError("scan", err)
		}

		if projected {
			row := make(map[string]any, len(cols))
			for i, name := range cols {
				row[name] = dest[i]
			}
			results = append(results, row)
			continue
		}

		doc, merged, err := c.decodeFullRow(cols, dest)
		if err != nil {
			return nil, err
		}
		_ = doc
		results = append(results, merged)
	}
	return results, wrapDBError("rows", rows.Err())
}

// decodeFullRow expects cols to be "_id, doc, <constrained cols...>" (the
// star-select shape) and merges the constrained values back over doc.
func (c *Collection) decodeFullRow(cols []string, dest []any) (map[string]any, map[string]any, error) {
	var docRaw string
	constrained := make(map[string]any)

	for i, name := range cols {
		switch name {
		case "_id":
			continue
		case "doc":
			if s, ok := dest[i].(string); ok {
				docRaw = s
			} else if b, ok := dest[i].([]byte); ok {
				docRaw = string(b)
			}
		default:
			path := strings.ReplaceAll(name, "_", ".")
			constrained[path] = dest[i]
		}
	}

	decoded, err := codec.Decode(docRaw)
	if err != nil {
		return nil, nil, wrapDBError("decode", err)
	}
	m, _ := decoded.(map[string]any)
	merged := codec.MergeConstrained(m, constrained)
	return m, merged, nil
}

func (c *Collection) fireHook(ctx context.Context, hookName string, doc any) error {
	err := c.db.plugins.ExecuteHook(ctx, hookName, &plugin.Hook{Collection: c.name(), Document: doc})
	if err == nil {
		return nil
	}
	var hookErr *plugin.HookError
	if as, ok := err.(*plugin.HookError); ok {
		hookErr = as
		return &PluginError{PluginName: hookErr.PluginName, HookName: hookErr.HookName, Err: hookErr.Err}
	}
	var timeoutErr *plugin.HookTimeoutError
	if as, ok := err.(*plugin.HookTimeoutError); ok {
		timeoutErr = as
		return &PluginTimeoutError{PluginName: timeoutErr.PluginName, HookName: timeoutErr.HookName, Timeout: timeoutErr.Timeout}
	}
	return wrapDBError("plugin hook", err)
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// mergeOver applies partial's keys over base, shallow at the top level
// (matching the teacher's "patch" semantics: nested objects are replaced
// wholesale unless the caller passes the full nested object back).
func mergeOver(base, partial map[string]any) map[string]any {
	out := cloneDoc(base)
	for k, v := range partial {
		out[k] = v
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
