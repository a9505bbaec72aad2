// Package render turns markdown answers into HTML or plain text.
package render

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTMLFragment converts markdown to an HTML fragment.
func HTMLFragment(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}

// HTML converts a markdown answer to a standalone HTML page. The
// question, if non-empty, becomes the page title and heading.
func HTML(question, answer string) (string, error) {
	body, err := HTMLFragment(answer)
	if err != nil {
		return "", err
	}

	var heading string
	title := "docent"
	if question != "" {
		title = html.EscapeString(question)
		heading = "<h1>" + title + "</h1>\n"
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48em;">
%s%s</body></html>
`, title, heading, body), nil
}

// Patterns for stripping markdown formatting.
var (
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*(.+?)\*`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeBlock  = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

// Plain strips markdown formatting while keeping the text structure.
// List markers are left alone.
func Plain(src string) string {
	s := mdCodeBlock.ReplaceAllString(src, "$1")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1 ($2)")
	s = mdBold.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
