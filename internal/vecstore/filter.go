package vecstore

import (
	"strings"

	"strix/internal/errors"
)

// predicate evaluates a parsed filter against a record's scalar fields.
type predicate func(fields map[string]string) bool

// scalarFields exposes the filterable fields of a record.
func scalarFields(r *Record) map[string]string {
	return map[string]string{
		"session_id":  r.SessionID,
		"content":     r.Content,
		"memory_type": r.MemoryType,
	}
}

// parseFilter compiles a filter expression into a predicate. The grammar is
// deliberately small: `field == "literal"`, `field like "%sub%"`, joined
// with `and`. An empty expression matches all records.
func parseFilter(expr string) (predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return func(map[string]string) bool { return true }, nil
	}

	var clauses []predicate
	for _, part := range strings.Split(expr, " and ") {
		clause, err := parseClause(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	return func(fields map[string]string) bool {
		for _, clause := range clauses {
			if !clause(fields) {
				return false
			}
		}
		return true
	}, nil
}

func parseClause(clause string) (predicate, error) {
	if field, lit, ok := splitOperator(clause, "=="); ok {
		return func(fields map[string]string) bool {
			v, present := fields[field]
			return present && v == lit
		}, nil
	}
	if field, lit, ok := splitOperator(clause, " like "); ok {
		match := likeMatcher(lit)
		return func(fields map[string]string) bool {
			v, present := fields[field]
			return present && match(v)
		}, nil
	}
	return nil, errors.New(errors.KindValidation, "unsupported filter clause: "+clause)
}

// splitOperator splits `field <op> "literal"` and unquotes the literal.
func splitOperator(clause, op string) (field, literal string, ok bool) {
	idx := strings.Index(clause, op)
	if idx < 0 {
		return "", "", false
	}
	field = strings.TrimSpace(clause[:idx])
	raw := strings.TrimSpace(clause[idx+len(op):])
	if field == "" || len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", "", false
	}
	literal = raw[1 : len(raw)-1]
	// A quote inside the literal means the clause was not a single
	// quoted string (e.g. an unsupported `or` expression).
	if strings.Contains(literal, `"`) {
		return "", "", false
	}
	return field, literal, true
}

// likeMatcher interprets SQL-style `%` wildcards at the pattern edges.
func likeMatcher(pattern string) func(string) bool {
	prefix := strings.HasPrefix(pattern, "%")
	suffix := strings.HasSuffix(pattern, "%")
	inner := strings.TrimSuffix(strings.TrimPrefix(pattern, "%"), "%")

	switch {
	case prefix && suffix:
		return func(v string) bool { return strings.Contains(v, inner) }
	case prefix:
		return func(v string) bool { return strings.HasSuffix(v, inner) }
	case suffix:
		return func(v string) bool { return strings.HasPrefix(v, inner) }
	default:
		return func(v string) bool { return v == inner }
	}
}
