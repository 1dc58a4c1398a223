package filter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// SortKey is one component of a sort specification.
type SortKey struct {
	Field string
	Desc  bool
}

// ParseSort parses "a,-b,+c": comma separated fields, "-" for descending.
func ParseSort(spec string) ([]SortKey, error) {
	var keys []SortKey
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := SortKey{Field: part}
		switch part[0] {
		case '-':
			key = SortKey{Field: part[1:], Desc: true}
		case '+':
			key = SortKey{Field: part[1:]}
		}
		if !IsIdent(key.Field) {
			return nil, domain.NewValidationError("sort", fmt.Sprintf("invalid field %q", part))
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CompareBy compares two records by keys; the first non-equal key decides.
func CompareBy(keys []SortKey, a, b map[string]any) int {
	for _, k := range keys {
		n := Order(a[k.Field], b[k.Field])
		if n == 0 {
			continue
		}
		if k.Desc {
			return -n
		}
		return n
	}
	return 0
}

// Select applies opts' filter, sort and paging to rows, which must be in
// insertion order. PerPage <= 0 disables the page limit.
func Select(rows []domain.Data, opts domain.FindOptions) ([]domain.Data, error) {
	expr, err := Parse(opts.Filter)
	if err != nil {
		return nil, err
	}
	keys, err := ParseSort(opts.Sort)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Data, 0, len(rows))
	for _, row := range rows {
		if expr.Match(row) {
			out = append(out, row)
		}
	}

	if len(keys) > 0 {
		slices.SortStableFunc(out, func(a, b domain.Data) int {
			return CompareBy(keys, a, b)
		})
	}

	if opts.PerPage <= 0 {
		return out, nil
	}
	offset := opts.Offset()
	if offset >= len(out) {
		return []domain.Data{}, nil
	}
	end := min(offset+opts.PerPage, len(out))
	return out[offset:end], nil
}
