package services

import (
	htmltemplate "html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Communication content formats
const (
	ContentFormatText = "text"
	ContentFormatHTML = "html"
)

var ugcPolicy = bluemonday.UGCPolicy()

// CleanText trims surrounding whitespace. Free text is otherwise stored verbatim and
// escaped where it is rendered.
func CleanText(s string) string {
	return strings.TrimSpace(s)
}

// CleanList applies CleanText to each entry and drops empties
func CleanList(items []string) []string {
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if v := CleanText(item); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// RenderContent turns stored communication content into markup for the response
// package. HTML bodies keep basic formatting but lose scripts, styles and handlers;
// anything else is escaped with line breaks preserved.
func RenderContent(content, format string) htmltemplate.HTML {
	if format == ContentFormatHTML {
		return htmltemplate.HTML(ugcPolicy.Sanitize(content))
	}
	escaped := htmltemplate.HTMLEscapeString(content)
	return htmltemplate.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}
