package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockElements start and end a line.
var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Details: true, atom.Dialog: true, atom.Div: true,
	atom.Dl: true, atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true,
	atom.Nav: true, atom.Ol: true, atom.Section: true, atom.Summary: true,
	atom.Table: true, atom.Tbody: true, atom.Thead: true, atom.Tfoot: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Caption: true, atom.Ul: true,
	atom.Pre: true,
}

// paragraphElements are surrounded by a blank line.
var paragraphElements = map[atom.Atom]bool{
	atom.P: true,
}

// skippedElements never contribute text.
var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Head: true, atom.Iframe: true, atom.Svg: true,
}

// InnerText renders the visible text of sel line by line, close to what a
// browser's innerText returns: block elements and table cells break lines,
// paragraphs are separated by a blank line, inline whitespace collapses to one
// space, and runs of blank lines collapse to one.
func InnerText(sel *goquery.Selection) string {
	w := &textWriter{}
	for _, n := range sel.Nodes {
		w.node(n)
	}
	return normalizeLines(w.b.String())
}

// textWriter accumulates text with pending line breaks. Adjacent block
// boundaries ask for breaks; only the largest request is written, and only
// once more text follows.
type textWriter struct {
	b       strings.Builder
	pending int
	started bool
}

func (w *textWriter) lineBreaks(n int) {
	if n > w.pending {
		w.pending = n
	}
}

func (w *textWriter) text(s string) {
	if s == "" {
		return
	}
	if w.pending > 0 {
		if strings.TrimSpace(s) == "" {
			return
		}
		if w.started {
			w.b.WriteString(strings.Repeat("\n", w.pending))
		}
		w.pending = 0
	}
	w.b.WriteString(s)
	w.started = true
}

func (w *textWriter) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(collapseSpaces(n.Data))
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] || hidden(n) {
			return
		}
		if n.DataAtom == atom.Br {
			w.text("\n")
			return
		}
	case html.DocumentNode:
	default:
		return
	}

	breaks := 0
	switch {
	case paragraphElements[n.DataAtom]:
		breaks = 2
	case blockElements[n.DataAtom]:
		breaks = 1
	}

	w.lineBreaks(breaks)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
	w.lineBreaks(breaks)
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") {
				return true
			}
		}
	}
	return false
}

func collapseSpaces(s string) string {
	if s == "" {
		return s
	}
	fields := strings.Fields(s)
	out := strings.Join(fields, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if len(fields) > 0 && isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// normalizeLines trims every line, keeps at most one blank line in a row and
// drops leading and trailing blank lines.
func normalizeLines(s string) string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	blank := true
	for _, line := range raw {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\u00a0", " "))
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
