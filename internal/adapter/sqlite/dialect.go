package sqlite

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/heartmarshall/fedrecords/internal/adapter/sqlfilter"
	"github.com/heartmarshall/fedrecords/internal/filter"
)

// jsonText renders filter primitives with SQLite's JSON1 functions over the
// data column. json_type is NULL for an absent field and 'null' for an
// explicit null.
type jsonText struct{}

func typeOf(field string) string  { return fmt.Sprintf("json_type(data, '$.%s')", field) }
func extract(field string) string { return fmt.Sprintf("json_extract(data, '$.%s')", field) }

func (jsonText) Equal(field string, v any) sq.Sqlizer {
	switch v := v.(type) {
	case string:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("(%s = 'text' AND %s = ?)", typeOf(field), extract(field)),
			Args: []any{v},
		}
	case float64:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("(%s IN ('integer', 'real') AND %s = ?)", typeOf(field), extract(field)),
			Args: []any{v},
		}
	case bool:
		return sqlfilter.Pred{SQL: fmt.Sprintf("%s = '%t'", typeOf(field), v)}
	}
	return sqlfilter.Pred{SQL: "FALSE"}
}

func (jsonText) IsNull(field string) sq.Sqlizer {
	return sqlfilter.Pred{SQL: fmt.Sprintf("COALESCE(%s, 'null') = 'null'", typeOf(field))}
}

func (jsonText) Compare(field string, op filter.Op, v any) sq.Sqlizer {
	o := sqlfilter.Operator(op)
	switch v := v.(type) {
	case string:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("(%s = 'text' AND %s %s ?)", typeOf(field), extract(field), o),
			Args: []any{v},
		}
	case float64:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("(%s IN ('integer', 'real') AND %s %s ?)", typeOf(field), extract(field), o),
			Args: []any{v},
		}
	case bool:
		rank := 0
		if v {
			rank = 1
		}
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("(%s IN ('true', 'false') AND (%s = 'true') %s ?)", typeOf(field), typeOf(field), o),
			Args: []any{rank},
		}
	}
	return sqlfilter.Pred{SQL: "FALSE"}
}

// OrderBy sorts by kind first. json_extract yields 0/1 for booleans, a
// number or text otherwise, so within one kind it orders correctly.
func (jsonText) OrderBy(field string, desc bool) []string {
	dir := sqlfilter.Direction(desc)
	return []string{
		fmt.Sprintf("CASE COALESCE(%s, 'null') WHEN 'null' THEN 0 WHEN 'true' THEN 1 WHEN 'false' THEN 1 WHEN 'integer' THEN 2 WHEN 'real' THEN 2 WHEN 'text' THEN 3 ELSE 4 END %s", typeOf(field), dir),
		fmt.Sprintf("%s %s", extract(field), dir),
	}
}
