package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"

	"github.com/taylorskalyo/goreader/epub"

	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/reader"
)

// EPUBSource reads chapters out of local EPUB files. Chapter urls have the
// form epub:///path/to/book.epub#OEBPS/chapter1.xhtml.
type EPUBSource struct{}

// NewEPUBSource creates an EPUBSource.
func NewEPUBSource() *EPUBSource {
	return &EPUBSource{}
}

// EPUBURL builds the chapter url of the spine document href inside file.
func EPUBURL(file, href string) string {
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = file
	}
	return (&url.URL{Scheme: "epub", Path: filepath.ToSlash(abs), Fragment: href}).String()
}

// Fetch reads the spine document addressed by chapterURL.
func (EPUBSource) Fetch(ctx context.Context, chapterURL string) (reader.ChapterBody, error) {
	if err := ctx.Err(); err != nil {
		return reader.ChapterBody{}, err
	}
	u, err := url.Parse(chapterURL)
	if err != nil || u.Scheme != "epub" || u.Path == "" || u.Fragment == "" {
		return reader.ChapterBody{}, errors.Unsupportedf("not an epub chapter url: %q", chapterURL)
	}

	rc, err := epub.OpenReader(filepath.FromSlash(u.Path))
	if err != nil {
		return reader.ChapterBody{}, errors.Unreachablef("open epub %s", u.Path).WithCause(err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return reader.ChapterBody{}, errors.Unsupportedf("no rootfiles found in epub %s", u.Path)
	}
	for _, item := range rc.Rootfiles[0].Manifest.Items {
		if item.HREF != u.Fragment {
			continue
		}
		data, err := readItem(item)
		if err != nil {
			return reader.ChapterBody{}, errors.Unreachablef("read %s from %s", item.HREF, u.Path).WithCause(err)
		}
		page, err := extractChapter(data)
		if err != nil {
			return reader.ChapterBody{}, errorf(chapterURL, err)
		}
		return reader.ChapterBody{Body: page.Body, Title: page.Title}, nil
	}
	return reader.ChapterBody{}, errors.Unreachablef("epub %s has no document %s", u.Path, u.Fragment)
}

// EPUBBook is the table of contents of an EPUB file, ready to import.
type EPUBBook struct {
	Title    string
	Author   string
	Chapters []EPUBChapter
}

// EPUBChapter is one spine document with readable text.
type EPUBChapter struct {
	URL   string
	Title string
}

// ReadEPUB lists the spine documents of file that contain text.
func ReadEPUB(file string) (*EPUBBook, error) {
	rc, err := epub.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, errors.Unsupportedf("no rootfiles found in epub %s", file)
	}
	book := rc.Rootfiles[0]

	out := &EPUBBook{
		Title:  book.Metadata.Title,
		Author: book.Metadata.Creator,
	}
	if out.Title == "" {
		out.Title = filepath.Base(file)
	}

	for i, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		data, err := readItem(*ref.Item)
		if err != nil {
			continue
		}
		page, err := extractChapter(data)
		if err != nil || page.Body == "" {
			continue
		}
		title := page.Title
		if title == "" {
			title = fmt.Sprintf("Section %d", i+1)
		}
		out.Chapters = append(out.Chapters, EPUBChapter{
			URL:   EPUBURL(file, ref.Item.HREF),
			Title: title,
		})
	}
	return out, nil
}

func readItem(item epub.Item) ([]byte, error) {
	r, err := item.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
