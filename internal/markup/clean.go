package markup

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var (
	fenceLineRe = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_-]*[ \t]*\r?\n?")
	fenceTailRe = regexp.MustCompile("```[ \t]*$")
	headingRe   = regexp.MustCompile(`(?is)<h([1-6])\b[^>]*>(.*?)</h[1-6]\s*>`)
	anyTagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	numPrefixRe = regexp.MustCompile(`^(\d+)[.):]?\s+(.*)$`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// StripFences removes fenced-code markers the model sometimes wraps its
// markup in. It is idempotent.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = fenceLineRe.ReplaceAllString(text, "")
	text = fenceTailRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Clean strips wrapper artifacts from a raw model reply. With section context
// it also drops a heading that immediately restates the section title right
// after the expected heading.
func Clean(raw string, sec Section) string {
	text := StripFences(raw)
	if !sec.known() || text == "" {
		return text
	}
	return dropRestatedHeading(text, sec)
}

func dropRestatedHeading(text string, sec Section) string {
	first := -1
	for _, m := range headingRe.FindAllStringSubmatchIndex(text, -1) {
		if isSectionHeading(text[m[4]:m[5]], sec) {
			first = m[1]
			break
		}
	}
	if first < 0 {
		return text
	}
	rest := text[first:]
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	next := headingRe.FindStringSubmatchIndex(trimmed)
	if next == nil || next[0] != 0 {
		return text
	}
	if !isSectionHeading(trimmed[next[4]:next[5]], sec) {
		return text
	}
	return text[:first] + trimmed[next[1]:]
}

// isSectionHeading reports whether heading markup restates sec, either as
// "{number}. {title}" or as the bare title.
func isSectionHeading(inner string, sec Section) bool {
	got := normalizeText(inner)
	title := normalizeText(sec.Title)
	if got == "" || title == "" {
		return false
	}
	if got == title {
		return true
	}
	if m := numPrefixRe.FindStringSubmatch(got); m != nil {
		return m[1] == strconv.Itoa(sec.Number) && m[2] == title
	}
	return false
}

func normalizeText(s string) string {
	s = anyTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ":. ")
}
