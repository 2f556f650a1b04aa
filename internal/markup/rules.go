package markup

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// rule is one independent structural repair. Rules must leave already
// well-formed input byte-for-byte unchanged.
type rule struct {
	name  string
	apply func(text string, sec Section) string
}

var repairRules = []rule{
	{name: "wrapper", apply: ensureWrapper},
	{name: "heading", apply: ensureHeading},
	{name: "close-elements", apply: closeOpenElements},
	{name: "balance-containers", apply: balanceContainers},
	{name: "table-sections", apply: splitTableSections},
}

var (
	firstDivRe  = regexp.MustCompile(`(?i)^<div\b([^>]*)>`)
	hasIDAttrRe = regexp.MustCompile(`(?i)\bid\s*=`)
	classAttrRe = regexp.MustCompile(`(?i)\bclass\s*=\s*(["'])([^"']*)["']`)
	tableRe     = regexp.MustCompile(`(?is)(<table\b[^>]*>)(.*?)(</table\s*>)`)
	rowRe       = regexp.MustCompile(`(?is)<tr\b[^>]*>.*?</tr\s*>`)
	thOpenRe    = regexp.MustCompile(`(?i)<th\b`)
	tdOpenRe    = regexp.MustCompile(`(?i)<td\b`)
	theadRe     = regexp.MustCompile(`(?i)<thead\b`)
	tbodyRe     = regexp.MustCompile(`(?i)<tbody\b`)
)

func wrapperOpenRe(sec Section) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)<div\b[^>]*\bid\s*=\s*["']%s["'][^>]*>`, regexp.QuoteMeta(sec.ID())))
}

// ensureWrapper makes sure a wrapper element carrying the section id exists.
// An id-less div that encloses the whole text is tagged in place; otherwise
// the text is wrapped.
func ensureWrapper(text string, sec Section) string {
	if !sec.known() || wrapperOpenRe(sec).MatchString(text) {
		return text
	}
	m := firstDivRe.FindStringSubmatchIndex(text)
	if m != nil && !hasIDAttrRe.MatchString(text[m[2]:m[3]]) && leadingDivEnd(text) == len(text) {
		return fmt.Sprintf(`<div id="%s"%s>`, sec.ID(), withSectionClass(text[m[2]:m[3]])) + text[m[1]:]
	}
	return sec.openTag() + "\n" + text + "\n</div>"
}

// leadingDivEnd returns the offset just past the end tag that closes the
// div text starts with, or -1 when it is never closed.
func leadingDivEnd(text string) int {
	z := html.NewTokenizer(strings.NewReader(text))
	depth, offset := 0, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return -1
		}
		offset += len(z.Raw())
		name, _ := z.TagName()
		if string(name) != "div" {
			continue
		}
		switch tt {
		case html.SelfClosingTagToken:
			if depth == 0 {
				return -1
			}
		case html.StartTagToken:
			depth++
		case html.EndTagToken:
			depth--
			if depth == 0 {
				return offset
			}
		}
	}
}

// withSectionClass adds report-section to the class list in attrs.
func withSectionClass(attrs string) string {
	m := classAttrRe.FindStringSubmatchIndex(attrs)
	if m == nil {
		return attrs + ` class="report-section"`
	}
	classes := attrs[m[4]:m[5]]
	for _, c := range strings.Fields(classes) {
		if c == "report-section" {
			return attrs
		}
	}
	return attrs[:m[4]] + strings.TrimSpace("report-section "+classes) + attrs[m[5]:]
}

// ensureHeading removes every heading restating the section and places the
// canonical one immediately inside the wrapper.
func ensureHeading(text string, sec Section) string {
	if !sec.known() {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range headingRe.FindAllStringSubmatchIndex(text, -1) {
		if !isSectionHeading(text[m[4]:m[5]], sec) {
			continue
		}
		start := m[0]
		for start > last && isSpace(text[start-1]) {
			start--
		}
		b.WriteString(text[last:start])
		last = m[1]
	}
	b.WriteString(text[last:])
	stripped := b.String()

	loc := wrapperOpenRe(sec).FindStringIndex(stripped)
	if loc == nil {
		return text
	}
	return stripped[:loc[1]] + "\n" + sec.headingTag() + stripped[loc[1]:]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Elements whose open/close pairs closeOpenElements maintains.
var trackedElements = map[string]bool{
	"div": true, "p": true, "ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "th": true, "td": true,
}

// Start tags that implicitly end an open paragraph.
var closesParagraph = map[string]bool{
	"div": true, "p": true, "ul": true, "ol": true, "table": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// closeOpenElements walks the fragment and inserts the closers HTML would
// imply: a new cell ends the previous cell, a new row ends the previous row,
// a new item ends the previous item, block elements end paragraphs, and an
// end tag closes whatever is still open inside it. Stray closers are dropped
// and anything left open at the end is closed.
func closeOpenElements(text string, _ Section) string {
	z := html.NewTokenizer(strings.NewReader(text))
	var out strings.Builder
	var stack []string

	popWhile := func(in ...string) {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if !contains(in, top) {
				return
			}
			stack = stack[:len(stack)-1]
			out.WriteString("</" + top + ">")
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				out.Write(z.Raw())
			}
			break
		}
		raw := string(z.Raw())
		name, _ := z.TagName()
		tag := string(name)

		switch tt {
		case html.StartTagToken:
			switch tag {
			case "td", "th":
				popWhile("p", "td", "th")
			case "tr":
				popWhile("p", "td", "th", "tr")
			case "thead", "tbody":
				popWhile("p", "td", "th", "tr", "thead", "tbody")
			case "li":
				popWhile("p", "li")
			default:
				if closesParagraph[tag] {
					popWhile("p")
				}
			}
			out.WriteString(raw)
			if trackedElements[tag] {
				stack = append(stack, tag)
			}
		case html.EndTagToken:
			if !trackedElements[tag] {
				if closesParagraph[tag] {
					popWhile("p")
				}
				out.WriteString(raw)
				continue
			}
			idx := lastIndex(stack, tag)
			if idx < 0 {
				continue
			}
			for len(stack)-1 > idx {
				out.WriteString("</" + stack[len(stack)-1] + ">")
				stack = stack[:len(stack)-1]
			}
			stack = stack[:idx]
			out.WriteString(raw)
		default:
			out.WriteString(raw)
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteString("</" + stack[i] + ">")
	}
	return out.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func lastIndex(stack []string, tag string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == tag {
			return i
		}
	}
	return -1
}

// balanceContainers equalises the number of div open and close tags by
// appending missing closers or trimming surplus ones from the end. Tags
// inside comments and raw text elements are not counted.
func balanceContainers(text string, _ Section) string {
	z := html.NewTokenizer(strings.NewReader(text))
	opens, offset := 0, 0
	var closes [][2]int
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		start := offset
		offset += len(z.Raw())
		name, _ := z.TagName()
		if string(name) != "div" {
			continue
		}
		switch tt {
		case html.StartTagToken:
			opens++
		case html.EndTagToken:
			closes = append(closes, [2]int{start, offset})
		}
	}
	switch {
	case opens > len(closes):
		return text + strings.Repeat("</div>", opens-len(closes))
	case opens < len(closes):
		var b strings.Builder
		last := 0
		for _, loc := range closes[opens:] {
			b.WriteString(text[last:loc[0]])
			last = loc[1]
		}
		b.WriteString(text[last:])
		return b.String()
	}
	return text
}

// splitTableSections groups a table's header row into thead and its data rows
// into tbody. Only a first row made entirely of th cells counts as a header,
// and tables that already have a thead are left alone.
func splitTableSections(text string, _ Section) string {
	return tableRe.ReplaceAllStringFunc(text, func(block string) string {
		m := tableRe.FindStringSubmatch(block)
		open, inner, end := m[1], m[2], m[3]
		if !thOpenRe.MatchString(inner) || theadRe.MatchString(inner) {
			return block
		}
		header := rowRe.FindStringIndex(inner)
		if header == nil {
			return block
		}
		if row := inner[header[0]:header[1]]; !thOpenRe.MatchString(row) || tdOpenRe.MatchString(row) {
			return block
		}
		body := inner[header[1]:]
		if !tbodyRe.MatchString(body) {
			if rows := rowRe.FindAllStringIndex(body, -1); len(rows) > 0 {
				first, last := rows[0][0], rows[len(rows)-1][1]
				body = body[:first] + "<tbody>" + body[first:last] + "</tbody>" + body[last:]
			}
		}
		return open + inner[:header[0]] + "<thead>" + inner[header[0]:header[1]] + "</thead>" + body + end
	})
}
