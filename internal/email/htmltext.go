package email

import (
	"regexp"
	"strings"
)

var (
	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
	markupReplacer = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
	)
	closingBlockTag = regexp.MustCompile(`(?i)</(div|p|br|h[1-6]|ul|ol|li|tr|td|th)\s*>`)
	breakTag        = regexp.MustCompile(`(?i)<br\s*/?>`)
	ruleTag         = regexp.MustCompile(`(?i)<hr\s*/?>`)
	anyTag          = regexp.MustCompile(`<[^>]*>`)
	spaceAroundLine = regexp.MustCompile(`[ \t\r]*\n[ \t\r]*`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
	spaceRun        = regexp.MustCompile(`[ \t]{2,}`)

	preEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// htmlToText flattens html to readable plain text. Markup entities are
// decoded after tags are stripped so escaped text such as &lt;b&gt; is kept,
// and in a single pass so &amp;lt; stays literal.
func htmlToText(html string) string {
	s := entityReplacer.Replace(html)
	s = closingBlockTag.ReplaceAllString(s, "\n")
	s = breakTag.ReplaceAllString(s, "\n")
	s = ruleTag.ReplaceAllString(s, "\n---\n")
	s = anyTag.ReplaceAllString(s, "")
	s = spaceAroundLine.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	s = spaceRun.ReplaceAllString(s, " ")
	s = markupReplacer.Replace(s)
	return strings.TrimSpace(s)
}

// preWrap renders plain text as html for messages without an html part
func preWrap(text string) string {
	return "<pre>" + preEscaper.Replace(text) + "</pre>"
}

// looksLikeHTML reports whether content carries markup
func looksLikeHTML(content string) bool {
	return anyTag.MatchString(content)
}
