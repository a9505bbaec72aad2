package docsearch

import (
	"strings"

	"golang.org/x/net/html"
)

// excerptLimit is the number of characters of main_text kept per hit.
const excerptLimit = 1000

// cleanText turns extracted document text, which may carry stray HTML
// from PDF conversion, into plain text with normalized whitespace.
func cleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return cleanWhitespace(s)
	}

	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return cleanWhitespace(b.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if n := string(name); (n == "script" || n == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

// cleanWhitespace collapses runs of spaces within lines and drops
// consecutive blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// excerpt returns at most limit runes of s.
func excerpt(s string, limit int) (string, bool) {
	r := []rune(s)
	if len(r) <= limit {
		return s, false
	}
	return string(r[:limit]), true
}
