package source

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/reader"
)

// FileSource reads chapters stored as local files addressed by file:// urls.
// HTML files go through the same extraction as downloaded pages.
type FileSource struct{}

// NewFileSource creates a FileSource.
func NewFileSource() *FileSource {
	return &FileSource{}
}

// Fetch reads the file named by chapterURL.
func (FileSource) Fetch(ctx context.Context, chapterURL string) (reader.ChapterBody, error) {
	if err := ctx.Err(); err != nil {
		return reader.ChapterBody{}, err
	}
	path, err := filePath(chapterURL)
	if err != nil {
		return reader.ChapterBody{}, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reader.ChapterBody{}, errors.Unreachablef("chapter file %s does not exist", path)
	}
	if err != nil {
		return reader.ChapterBody{}, errors.Unreachablef("read chapter file %s", path).WithCause(err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		page, err := extractChapter(data)
		if err != nil {
			return reader.ChapterBody{}, errorf(chapterURL, err)
		}
		return reader.ChapterBody{Body: page.Body, Title: page.Title}, nil
	default:
		return reader.ChapterBody{Body: strings.TrimSpace(string(data))}, nil
	}
}

// FileURL returns the file:// url for path.
func FileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func filePath(chapterURL string) (string, error) {
	u, err := url.Parse(chapterURL)
	if err != nil || u.Scheme != "file" {
		return "", errors.Unsupportedf("not a file url: %q", chapterURL)
	}
	if u.Path == "" {
		return "", errors.Unsupportedf("file url %q has no path", chapterURL)
	}
	return filepath.FromSlash(u.Path), nil
}
