// Package converter turns chapter text into reader items.
package converter

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

var (
	// ![alt](path "title")
	markdownImage = regexp.MustCompile(`^!\[[^\]]*\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)$`)
	// <img src="path" yrel="1.5">, attribute order free.
	htmlImage  = regexp.MustCompile(`(?i)^<img\s[^>]*>$`)
	imgSrc     = regexp.MustCompile(`(?i)\bsrc\s*=\s*"([^"]*)"`)
	imgAspect  = regexp.MustCompile(`(?i)\byrel\s*=\s*"([^"]*)"`)
	strong     = regexp.MustCompile(`(\*\*|__)(\S(?:.*?\S)?)(\*\*|__)`)
	emphasis   = regexp.MustCompile(`(^|[\s(])[*_](\S(?:[^*_]*?\S)?)[*_]`)
	mdEscape   = regexp.MustCompile(`\\([\\` + "`" + `*_{}\[\]()#+\-.!>])`)
	heading    = regexp.MustCompile(`^#{1,6}\s+`)
	blockquote = regexp.MustCompile(`^(>\s?)+`)
	whitespace = regexp.MustCompile(`[ \t\p{Zs}]+`)
	rule       = regexp.MustCompile(`^([-*_]\s*){3,}$`)
)

// Converter splits chapter text into Body and Image items. It is stateless and
// deterministic: the same text always yields the same items.
type Converter struct{}

// New creates a Converter.
func New() *Converter {
	return &Converter{}
}

// Convert implements the reader's chapter converter. Every non-empty line is
// one paragraph; item positions start at startPosition and increase by one.
func (c *Converter) Convert(chapterURL string, chapterIndex, startPosition int, text string) []domain.Item {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var items []domain.Item
	bodies := 0
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || rule.MatchString(line) {
			continue
		}

		pos := domain.Position{
			ChapterIndex:        chapterIndex,
			ChapterItemPosition: startPosition + len(items),
			ChapterURL:          chapterURL,
		}

		if img, ok := parseImage(line); ok {
			img.Position = pos
			items = append(items, img)
			continue
		}

		paragraph := cleanParagraph(line)
		if paragraph == "" {
			continue
		}
		items = append(items, domain.Body{Position: pos, Text: paragraph})
		bodies++
	}

	assignLocations(items, bodies)
	return items
}

func parseImage(line string) (domain.Image, bool) {
	if m := markdownImage.FindStringSubmatch(line); m != nil {
		return domain.Image{Path: m[1]}, true
	}
	if !htmlImage.MatchString(line) {
		return domain.Image{}, false
	}
	src := imgSrc.FindStringSubmatch(line)
	if src == nil || src[1] == "" {
		return domain.Image{}, false
	}
	img := domain.Image{Path: src[1]}
	if m := imgAspect.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			img.Aspect = v
		}
	}
	return img, true
}

// cleanParagraph strips markdown markup that has no meaning for a reader or
// a speech engine.
func cleanParagraph(s string) string {
	s = heading.ReplaceAllString(s, "")
	s = blockquote.ReplaceAllString(s, "")
	s = strong.ReplaceAllString(s, "$2")
	s = emphasis.ReplaceAllString(s, "$1$2")
	s = mdEscape.ReplaceAllString(s, "$1")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// assignLocations marks the first and last Body of the chapter. A chapter with
// a single paragraph marks it LAST so that finishing it completes the chapter.
func assignLocations(items []domain.Item, bodies int) {
	seen := 0
	for i, it := range items {
		b, ok := it.(domain.Body)
		if !ok {
			continue
		}
		seen++
		switch {
		case seen == bodies:
			b.Location = domain.LocationLast
		case seen == 1:
			b.Location = domain.LocationFirst
		default:
			b.Location = domain.LocationMiddle
		}
		items[i] = b
	}
}
