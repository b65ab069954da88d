package parser

import (
	"strings"

	"golang.org/x/net/html"
)

// blockElements end a line of text when they open or close.
var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true, "pre": true,
}

// htmlToText extracts the visible text of an HTML document, one line per
// block element, with runs of whitespace inside a line collapsed.
func htmlToText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		lines []string
		line  strings.Builder
		skip  int
	)
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, "\n")
		case html.TextToken:
			if skip == 0 {
				line.Write(z.Text())
				line.WriteByte(' ')
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "head":
				skip++
			case blockElements[tag]:
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "head":
				if skip > 0 {
					skip--
				}
			case blockElements[tag]:
				flush()
			}
		}
	}
}
