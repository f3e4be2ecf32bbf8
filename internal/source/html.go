package source

import (
	"bytes"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// contentHints are id/class fragments that usually mark the chapter text
// container, most specific first.
var contentHints = []string{
	"chapter-content",
	"chapter-c",
	"chapter_content",
	"chaptercontent",
	"reading-content",
	"entry-content",
	"chapter",
	"content",
}

// noise is stripped before conversion.
var noise = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Aside:    true,
	atom.Button:   true,
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// extracted is the readable part of a chapter page.
type extracted struct {
	Title string
	Body  string
}

// extractChapter locates the chapter text in an HTML document and converts it
// to markdown paragraphs.
func extractChapter(doc []byte) (extracted, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return extracted{}, err
	}

	title := findTitle(root)
	node := findContent(root)
	stripNoise(node)

	var buf bytes.Buffer
	if err := html.Render(&buf, node); err != nil {
		return extracted{}, err
	}
	markdown, err := htmltomarkdown.ConvertString(buf.String())
	if err != nil {
		return extracted{}, err
	}

	body := blankLines.ReplaceAllString(strings.TrimSpace(markdown), "\n\n")
	return extracted{Title: title, Body: body}, nil
}

func findContent(root *html.Node) *html.Node {
	for _, hint := range contentHints {
		if n := findFirst(root, func(n *html.Node) bool { return hasHint(n, hint) }); n != nil {
			return n
		}
	}
	if n := findFirst(root, isElement(atom.Article)); n != nil {
		return n
	}
	if n := findFirst(root, isElement(atom.Main)); n != nil {
		return n
	}
	if n := findFirst(root, isElement(atom.Body)); n != nil {
		return n
	}
	return root
}

func findTitle(root *html.Node) string {
	for _, a := range []atom.Atom{atom.H1, atom.H2, atom.Title} {
		if n := findFirst(root, isElement(a)); n != nil {
			if t := strings.Join(strings.Fields(textOf(n)), " "); t != "" {
				return t
			}
		}
	}
	return ""
}

func hasHint(n *html.Node, hint string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key != "id" && attr.Key != "class" {
			continue
		}
		for field := range strings.FieldsSeq(strings.ToLower(attr.Val)) {
			if field == hint {
				return true
			}
		}
	}
	return false
}

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func stripNoise(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && noise[c.DataAtom]) {
			n.RemoveChild(c)
		} else {
			stripNoise(c)
		}
		c = next
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
