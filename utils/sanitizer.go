package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// StrictPolicy removes every tag
	StrictPolicy = bluemonday.StrictPolicy()
	// UGCPolicy keeps basic formatting for rendered dossiers
	UGCPolicy = newUGCPolicy()
)

func newUGCPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("strong", "em", "code", "pre", "ul", "ol", "li", "blockquote")
	p.AllowAttrs("href").OnElements("a")
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	return p
}

// SanitizeHTML sanitizes HTML content using the UGC policy
func SanitizeHTML(s string) string {
	return UGCPolicy.Sanitize(s)
}

// StripHTML removes all HTML tags from content and unescapes entities,
// so model output that sneaks markup in is reduced to plain text
func StripHTML(s string) string {
	return html.UnescapeString(StrictPolicy.Sanitize(s))
}

// CollapseWhitespace replaces runs of whitespace with a single space
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
