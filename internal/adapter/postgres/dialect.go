package postgres

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/heartmarshall/fedrecords/internal/adapter/sqlfilter"
	"github.com/heartmarshall/fedrecords/internal/filter"
)

// jsonb renders filter primitives over the data jsonb column. Casts sit
// behind CASE on jsonb_typeof so a field of another kind never raises a
// cast error.
type jsonb struct{}

func path(field string) string { return fmt.Sprintf("data->'%s'", field) }
func text(field string) string { return fmt.Sprintf("(data->>'%s')", field) }

func typeOf(field string) string { return "jsonb_typeof(" + path(field) + ")" }

func (jsonb) Equal(field string, v any) sq.Sqlizer {
	switch v := v.(type) {
	case string:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("(%s = 'string' AND %s = ?)", typeOf(field), text(field)),
			Args: []any{v},
		}
	case float64:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("CASE WHEN %s = 'number' THEN %s::float8 = ?::float8 ELSE FALSE END", typeOf(field), text(field)),
			Args: []any{v},
		}
	case bool:
		return sqlfilter.Pred{
			SQL: fmt.Sprintf("(%s = 'boolean' AND %s = '%t')", typeOf(field), text(field), v),
		}
	}
	return sqlfilter.Pred{SQL: "FALSE"}
}

func (jsonb) IsNull(field string) sq.Sqlizer {
	return sqlfilter.Pred{SQL: fmt.Sprintf("(%s IS NULL OR %s = 'null')", path(field), typeOf(field))}
}

func (jsonb) Compare(field string, op filter.Op, v any) sq.Sqlizer {
	o := sqlfilter.Operator(op)
	switch v := v.(type) {
	case string:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf(`CASE WHEN %s = 'string' THEN %s COLLATE "C" %s ?::text ELSE FALSE END`, typeOf(field), text(field), o),
			Args: []any{v},
		}
	case float64:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("CASE WHEN %s = 'number' THEN %s::float8 %s ?::float8 ELSE FALSE END", typeOf(field), text(field), o),
			Args: []any{v},
		}
	case bool:
		return sqlfilter.Pred{
			SQL:  fmt.Sprintf("CASE WHEN %s = 'boolean' THEN %s::boolean %s ?::boolean ELSE FALSE END", typeOf(field), text(field), o),
			Args: []any{v},
		}
	}
	return sqlfilter.Pred{SQL: "FALSE"}
}

func (jsonb) OrderBy(field string, desc bool) []string {
	dir := sqlfilter.Direction(desc)
	t := typeOf(field)
	return []string{
		fmt.Sprintf("CASE COALESCE(%s, 'null') WHEN 'null' THEN 0 WHEN 'boolean' THEN 1 WHEN 'number' THEN 2 WHEN 'string' THEN 3 ELSE 4 END %s", t, dir),
		fmt.Sprintf("CASE WHEN %s = 'boolean' THEN %s::boolean END %s", t, text(field), dir),
		fmt.Sprintf("CASE WHEN %s = 'number' THEN %s::float8 END %s", t, text(field), dir),
		fmt.Sprintf(`CASE WHEN %s = 'string' THEN %s END COLLATE "C" %s`, t, text(field), dir),
	}
}
