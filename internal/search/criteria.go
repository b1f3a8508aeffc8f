package search

import (
	"net/textproto"

	"github.com/emersion/go-imap"
)

// Criteria lowers a predicate to IMAP SEARCH criteria
func Criteria(p Predicate) *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	apply(c, p)
	return c
}

func apply(c *imap.SearchCriteria, p Predicate) {
	switch p.Op {
	case OpLeaf:
		applyLeaf(c, p.Field, p.Value)
	case OpAnd:
		for _, child := range p.Children {
			apply(c, child)
		}
	case OpOr:
		switch len(p.Children) {
		case 0:
		case 1:
			apply(c, p.Children[0])
		default:
			// IMAP OR is binary, fold the tail to the right
			rest := Or(p.Children[1:]...)
			c.Or = append(c.Or, [2]*imap.SearchCriteria{Criteria(p.Children[0]), Criteria(rest)})
		}
	}
}

func applyLeaf(c *imap.SearchCriteria, f Field, value string) {
	switch f {
	case FieldFrom:
		addHeader(c, "From", value)
	case FieldTo:
		addHeader(c, "To", value)
	case FieldSubject:
		addHeader(c, "Subject", value)
	case FieldBody:
		c.Body = append(c.Body, value)
	}
}

func addHeader(c *imap.SearchCriteria, key, value string) {
	if c.Header == nil {
		c.Header = make(textproto.MIMEHeader)
	}
	c.Header.Add(key, value)
}
