// Package search parses the field:value query language and lowers it to
// IMAP SEARCH criteria.
package search

import (
	"strings"
	"unicode"
)

// Field names a leaf predicate's target
type Field string

const (
	FieldFrom    Field = "from"
	FieldTo      Field = "to"
	FieldSubject Field = "subject"
	FieldBody    Field = "body"
)

// Op combines child predicates
type Op int

const (
	OpLeaf Op = iota
	OpAnd
	OpOr
)

// Predicate is a node of the query tree
type Predicate struct {
	Op       Op
	Field    Field
	Value    string
	Children []Predicate
}

// Leaf matches value against one field
func Leaf(f Field, value string) Predicate {
	return Predicate{Op: OpLeaf, Field: f, Value: value}
}

// And requires every child to match
func And(children ...Predicate) Predicate {
	return Predicate{Op: OpAnd, Children: children}
}

// Or requires at least one child to match
func Or(children ...Predicate) Predicate {
	return Predicate{Op: OpOr, Children: children}
}

// MatchAll is the predicate for a blank query
func MatchAll() Predicate {
	return Leaf(FieldBody, "")
}

// Parse turns a query into a predicate. It never fails: unknown fields
// are dropped and a blank query matches every message.
func Parse(query string) Predicate {
	var preds []Predicate
	for _, tok := range tokenize(query) {
		if p, ok := parseToken(tok); ok {
			preds = append(preds, p)
		}
	}

	switch len(preds) {
	case 0:
		return MatchAll()
	case 1:
		return preds[0]
	default:
		return And(preds...)
	}
}

func parseToken(tok string) (Predicate, bool) {
	idx := strings.Index(tok, ":")
	if idx < 0 {
		value := unquote(tok)
		return Or(Leaf(FieldSubject, value), Leaf(FieldBody, value)), true
	}

	field := Field(strings.ToLower(tok[:idx]))
	value := unquote(tok[idx+1:])
	switch field {
	case FieldFrom, FieldTo, FieldSubject, FieldBody:
		return Leaf(field, value), true
	default:
		return Predicate{}, false
	}
}

// tokenize splits on whitespace outside double quotes
func tokenize(query string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range query {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case unicode.IsSpace(r) && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// unquote strips one layer of matching double quotes
func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
