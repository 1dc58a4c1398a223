// Package filter implements the record filter language:
//
//	field op value [AND|OR field op value ...]
//
// Clauses fold strictly left to right with no precedence, so
// "a = 1 OR b = 2 AND c = 3" means "(a = 1 OR b = 2) AND c = 3".
// Values are JSON literals; single-quoted strings are accepted as well.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpGt  Op = ">"
	OpLt  Op = "<"
	OpGte Op = ">="
	OpLte Op = "<="
	OpIn  Op = "IN"
)

// Logic joins two clauses.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// Condition is one "field op value" clause. Values holds the list for IN,
// Value everything else.
type Condition struct {
	Field  string
	Op     Op
	Value  any
	Values []any
}

// Expr is a parsed filter. Joins[i] combines the result so far with
// Conditions[i+1].
type Expr struct {
	Conditions []Condition
	Joins      []Logic
}

// Parse parses a filter expression. A blank expression yields nil, which
// matches every record.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}

	p := &parser{src: src}
	expr := &Expr{}

	cond, err := p.condition()
	if err != nil {
		return nil, err
	}
	expr.Conditions = append(expr.Conditions, cond)

	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		start := p.pos
		word := p.ident()
		var join Logic
		switch strings.ToUpper(word) {
		case "AND":
			join = And
		case "OR":
			join = Or
		default:
			return nil, p.errorAt(start, "expected AND or OR")
		}
		cond, err := p.condition()
		if err != nil {
			return nil, err
		}
		expr.Joins = append(expr.Joins, join)
		expr.Conditions = append(expr.Conditions, cond)
	}

	return expr, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) errorAt(pos int, msg string) error {
	return fmt.Errorf("%w: %s at offset %d in %q", domain.ErrInvalidFilter, msg, pos, p.src)
}

// ident reads [A-Za-z_][A-Za-z0-9_]*, returning "" when none is present.
func (p *parser) ident() string {
	p.skipSpace()
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if isIdentStart(c) || (p.pos > start && c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsIdent reports whether s is a valid field name.
func IsIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isIdentStart(c) && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func (p *parser) condition() (Condition, error) {
	start := p.pos
	field := p.ident()
	if field == "" {
		return Condition{}, p.errorAt(start, "expected field name")
	}

	op, err := p.operator()
	if err != nil {
		return Condition{}, err
	}

	if op != OpIn {
		v, err := p.value()
		if err != nil {
			return Condition{}, err
		}
		return Condition{Field: field, Op: op, Value: v}, nil
	}

	p.skipSpace()
	if p.peek() != '(' {
		return Condition{}, p.errorAt(p.pos, "expected ( after IN")
	}
	p.pos++

	var values []any
	for {
		v, err := p.value()
		if err != nil {
			return Condition{}, err
		}
		values = append(values, v)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			continue
		case ')':
			p.pos++
			return Condition{Field: field, Op: OpIn, Values: values}, nil
		default:
			return Condition{}, p.errorAt(p.pos, "expected , or ) in IN list")
		}
	}
}

func (p *parser) operator() (Op, error) {
	p.skipSpace()
	rest := p.src[p.pos:]
	for _, op := range []Op{OpGte, OpLte, OpNeq, OpEq, OpGt, OpLt} {
		if strings.HasPrefix(rest, string(op)) {
			p.pos += len(op)
			return op, nil
		}
	}
	start := p.pos
	if strings.EqualFold(p.ident(), "IN") {
		return OpIn, nil
	}
	return "", p.errorAt(start, "expected operator")
}

func (p *parser) value() (any, error) {
	p.skipSpace()
	start := p.pos
	switch p.peek() {
	case 0:
		return nil, p.errorAt(start, "expected value")
	case '\'':
		return p.singleQuoted()
	case '"':
		return p.doubleQuoted()
	}

	for !p.eof() {
		c := p.src[p.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' || c == ')' {
			break
		}
		p.pos++
	}
	tok := p.src[start:p.pos]
	if tok == "" {
		return nil, p.errorAt(start, "expected value")
	}

	var v any
	if err := json.Unmarshal([]byte(tok), &v); err != nil {
		return nil, p.errorAt(start, fmt.Sprintf("invalid literal %q", tok))
	}
	switch v.(type) {
	case map[string]any, []any:
		return nil, p.errorAt(start, "composite literals are not supported")
	}
	return v, nil
}

// singleQuoted rewrites 'text' into a JSON string and decodes it, so JSON
// escapes keep working inside single quotes.
func (p *parser) singleQuoted() (any, error) {
	start := p.pos
	p.pos++

	var b strings.Builder
	b.WriteByte('"')
	for {
		if p.eof() {
			return nil, p.errorAt(start, "unterminated string")
		}
		c := p.src[p.pos]
		p.pos++
		switch c {
		case '\'':
			b.WriteByte('"')
			var s string
			if err := json.Unmarshal([]byte(b.String()), &s); err != nil {
				return nil, p.errorAt(start, "invalid string literal")
			}
			return s, nil
		case '"':
			b.WriteString(`\"`)
		case '\\':
			if p.eof() {
				return nil, p.errorAt(start, "unterminated string")
			}
			next := p.src[p.pos]
			p.pos++
			if next == '\'' {
				b.WriteByte('\'')
			} else {
				b.WriteByte('\\')
				b.WriteByte(next)
			}
		default:
			b.WriteByte(c)
		}
	}
}

func (p *parser) doubleQuoted() (any, error) {
	start := p.pos
	p.pos++
	for {
		if p.eof() {
			return nil, p.errorAt(start, "unterminated string")
		}
		c := p.src[p.pos]
		p.pos++
		if c == '\\' {
			p.pos++
			continue
		}
		if c == '"' {
			break
		}
	}
	var s string
	if err := json.Unmarshal([]byte(p.src[start:p.pos]), &s); err != nil {
		return nil, p.errorAt(start, "invalid string literal")
	}
	return s, nil
}
