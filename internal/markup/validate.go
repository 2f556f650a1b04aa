package markup

import (
	"io"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
)

// Table-family tags must be balanced for a fragment to validate.
var tableFamily = []string{"table", "tr", "th", "td"}

type tagCount struct {
	open, close int
}

// scanTags counts start and end tags per element and reports whether the
// text contains any tag at all.
func scanTags(text string) (map[string]*tagCount, bool) {
	counts := make(map[string]*tagCount)
	sawTag := false
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return counts, sawTag
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			sawTag = true
			if tt == html.SelfClosingTagToken {
				continue
			}
			name, _ := z.TagName()
			c, ok := counts[string(name)]
			if !ok {
				c = &tagCount{}
				counts[string(name)] = c
			}
			if tt == html.StartTagToken {
				c.open++
			} else {
				c.close++
			}
		}
	}
}

func hasTags(text string) bool {
	_, saw := scanTags(text)
	return saw
}

// Validate is a structural sanity check. It rejects blank input, input with
// no tags, and input whose table, row or cell tags are unbalanced. An
// unbalanced div is logged but tolerated.
func Validate(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	counts, saw := scanTags(text)
	if !saw {
		return false
	}
	for _, tag := range tableFamily {
		if c := counts[tag]; c != nil && c.open != c.close {
			return false
		}
	}
	if c := counts["div"]; c != nil && c.open != c.close {
		slog.Warn("Unbalanced div tags in section markup.", "open", c.open, "close", c.close)
	}
	return true
}

// PlainText strips all markup and collapses whitespace.
func PlainText(text string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				slog.Warn("Stopped extracting plain text early.", "error", z.Err())
			}
			break
		}
		if tt == html.TextToken {
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
