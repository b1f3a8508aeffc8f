package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyQueryMatchesAll(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		assert.Equal(t, MatchAll(), Parse(q))
	}
}

func TestParseFields(t *testing.T) {
	p := Parse(`from:alice@x.test subject:"quarterly report" budget`)
	require.Equal(t, OpAnd, p.Op)
	require.Len(t, p.Children, 3)

	assert.Equal(t, Leaf(FieldFrom, "alice@x.test"), p.Children[0])
	assert.Equal(t, Leaf(FieldSubject, "quarterly report"), p.Children[1])
	assert.Equal(t, Or(Leaf(FieldSubject, "budget"), Leaf(FieldBody, "budget")), p.Children[2])
}

func TestParseUnknownFieldIgnored(t *testing.T) {
	assert.Equal(t, Leaf(FieldTo, "bob"), Parse("label:work TO:bob"))
	assert.Equal(t, MatchAll(), Parse("has:attachment"))
}

func TestParseDegradesOnMalformedInput(t *testing.T) {
	// Unterminated quote keeps the rest as one token
	p := Parse(`subject:"open ended`)
	assert.Equal(t, Leaf(FieldSubject, `"open ended`), p)

	p = Parse("body:")
	assert.Equal(t, Leaf(FieldBody, ""), p)
}

func TestCriteria(t *testing.T) {
	c := Criteria(Parse("from:alice to:bob subject:plan body:draft"))
	assert.Equal(t, []string{"alice"}, c.Header.Values("From"))
	assert.Equal(t, []string{"bob"}, c.Header.Values("To"))
	assert.Equal(t, []string{"plan"}, c.Header.Values("Subject"))
	assert.Equal(t, []string{"draft"}, c.Body)
	assert.Empty(t, c.Or)
}

func TestCriteriaBareTokenIsOr(t *testing.T) {
	c := Criteria(Parse("budget"))
	require.Len(t, c.Or, 1)
	assert.Equal(t, []string{"budget"}, c.Or[0][0].Header.Values("Subject"))
	assert.Equal(t, []string{"budget"}, c.Or[0][1].Body)
}

func TestCriteriaFoldsWideOr(t *testing.T) {
	c := Criteria(Or(Leaf(FieldFrom, "a"), Leaf(FieldFrom, "b"), Leaf(FieldFrom, "c")))
	require.Len(t, c.Or, 1)
	assert.Equal(t, []string{"a"}, c.Or[0][0].Header.Values("From"))
	right := c.Or[0][1]
	require.Len(t, right.Or, 1)
	assert.Equal(t, []string{"b"}, right.Or[0][0].Header.Values("From"))
	assert.Equal(t, []string{"c"}, right.Or[0][1].Header.Values("From"))
}

func TestCriteriaEmptyQuery(t *testing.T) {
	c := Criteria(Parse(""))
	assert.Equal(t, []string{""}, c.Body)
}
