// Package sqlfilter translates parsed record filters and sort keys into
// squirrel predicates for stores that keep record data as a JSON document.
package sqlfilter

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/filter"
)

// Dialect renders the JSON-document primitives of one SQL engine. Field
// names passed to a Dialect are always valid identifiers. Every predicate
// must be false or NULL, never an error, when the stored value has another
// kind than v.
type Dialect interface {
	// Equal matches a field holding exactly v (a string, float64 or bool).
	Equal(field string, v any) sq.Sqlizer
	// IsNull matches a field that is absent or JSON null.
	IsNull(field string) sq.Sqlizer
	// Compare orders a field against v within v's kind.
	Compare(field string, op filter.Op, v any) sq.Sqlizer
	// OrderBy returns ORDER BY terms giving the null < bool < number <
	// string < other ordering.
	OrderBy(field string, desc bool) []string
}

// Pred is a literal SQL fragment with its arguments.
type Pred struct {
	SQL  string
	Args []any
}

func (p Pred) ToSql() (string, []any, error) { return p.SQL, p.Args, nil }

var alwaysFalse = Pred{SQL: "FALSE"}

// Where translates expr. A nil expression yields nil.
func Where(expr *filter.Expr, d Dialect) (sq.Sqlizer, error) {
	if expr == nil || len(expr.Conditions) == 0 {
		return nil, nil
	}
	var result sq.Sqlizer = leaf(expr.Conditions[0], d)
	for i, join := range expr.Joins {
		next := leaf(expr.Conditions[i+1], d)
		switch join {
		case filter.And:
			result = sq.And{result, next}
		case filter.Or:
			result = sq.Or{result, next}
		default:
			return nil, fmt.Errorf("%w: unknown join %q", domain.ErrInvalidFilter, join)
		}
	}
	return result, nil
}

// leaf wraps a clause so that NULL collapses to false, which keeps NOT and
// the left-to-right fold two-valued.
func leaf(c filter.Condition, d Dialect) sq.Sqlizer {
	return coalesce(clause(c, d))
}

func coalesce(s sq.Sqlizer) sq.Sqlizer {
	return wrap{format: "COALESCE((%s), FALSE)", inner: s}
}

func not(s sq.Sqlizer) sq.Sqlizer {
	return wrap{format: "NOT %s", inner: coalesce(s)}
}

type wrap struct {
	format string
	inner  sq.Sqlizer
}

func (w wrap) ToSql() (string, []any, error) {
	sql, args, err := w.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf(w.format, sql), args, nil
}

func clause(c filter.Condition, d Dialect) sq.Sqlizer {
	switch c.Op {
	case filter.OpEq:
		return equal(c.Field, c.Value, d)
	case filter.OpNeq:
		return not(equal(c.Field, c.Value, d))
	case filter.OpIn:
		if len(c.Values) == 0 {
			return alwaysFalse
		}
		or := make(sq.Or, len(c.Values))
		for i, v := range c.Values {
			or[i] = coalesce(equal(c.Field, v, d))
		}
		return or
	}

	switch v := c.Value.(type) {
	case nil:
		// null only orders against null, where it is equal.
		if c.Op == filter.OpGte || c.Op == filter.OpLte {
			return d.IsNull(c.Field)
		}
		return alwaysFalse
	case string, float64, bool:
		return d.Compare(c.Field, c.Op, v)
	}
	return alwaysFalse
}

func equal(field string, v any, d Dialect) sq.Sqlizer {
	switch v.(type) {
	case nil:
		return d.IsNull(field)
	case string, float64, bool:
		return d.Equal(field, v)
	}
	return alwaysFalse
}

// Apply adds filter, sort and paging from opts to b. Rows with equal sort
// keys keep insertion order through seqColumn.
func Apply(b sq.SelectBuilder, d Dialect, seqColumn string, opts domain.FindOptions) (sq.SelectBuilder, error) {
	expr, err := filter.Parse(opts.Filter)
	if err != nil {
		return b, err
	}
	keys, err := filter.ParseSort(opts.Sort)
	if err != nil {
		return b, err
	}

	where, err := Where(expr, d)
	if err != nil {
		return b, err
	}
	if where != nil {
		b = b.Where(where)
	}

	for _, k := range keys {
		b = b.OrderBy(d.OrderBy(k.Field, k.Desc)...)
	}
	b = b.OrderBy(seqColumn)

	if opts.PerPage > 0 {
		b = b.Limit(uint64(opts.PerPage)).Offset(uint64(opts.Offset()))
	}
	return b, nil
}

// Direction returns the SQL keyword for a sort direction.
func Direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

// Operator returns the SQL comparison operator for a filter operator.
func Operator(op filter.Op) string {
	switch op {
	case filter.OpGt, filter.OpLt, filter.OpGte, filter.OpLte:
		return string(op)
	}
	return "="
}
