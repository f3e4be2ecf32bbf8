package source

import (
	"archive/zip"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/cache"
	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/reader"
)

const chapterPage = `<!doctype html>
<html><head><title>Site | Chapter 3</title><script>var x = 1;</script></head>
<body>
<nav>Home | Next</nav>
<h1>Chapter 3: The Road</h1>
<div class="chapter-content">
  <p>It was a <strong>dark</strong> night.</p>
  <!-- ad -->
  <script>track()</script>
  <p>The road went on.</p>
</div>
<footer>copyright</footer>
</body></html>`

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestExtractChapter(t *testing.T) {
	page, err := extractChapter([]byte(chapterPage))
	require.NoError(t, err)

	assert.Equal(t, "Chapter 3: The Road", page.Title)
	assert.Contains(t, page.Body, "It was a **dark** night.")
	assert.Contains(t, page.Body, "The road went on.")
	assert.NotContains(t, page.Body, "track()")
	assert.NotContains(t, page.Body, "Home | Next")
	assert.NotContains(t, page.Body, "copyright")
}

func TestExtractChapter_FallsBackToBody(t *testing.T) {
	page, err := extractChapter([]byte(`<html><body><p>Only text.</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Only text.", page.Body)
	assert.Empty(t, page.Title)
}

func TestHTTPSource_Fetch(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/chapter":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(chapterPage))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("  plain text  "))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewHTTPSource(HTTPConfig{UserAgent: "test-agent", Logger: discard()})
	defer s.Close()
	ctx := context.Background()

	body, err := s.Fetch(ctx, srv.URL+"/chapter")
	require.NoError(t, err)
	assert.Equal(t, "Chapter 3: The Road", body.Title)
	assert.Contains(t, body.Body, "The road went on.")
	assert.Equal(t, "test-agent", gotUA.Load())

	body, err = s.Fetch(ctx, srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain text", body.Body)

	_, err = s.Fetch(ctx, srv.URL+"/missing")
	assert.True(t, errors.Is(err, errors.ErrUnreachable))

	_, err = s.Fetch(ctx, srv.URL+"/pdf")
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

func TestHTTPSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	s := NewHTTPSource(HTTPConfig{Logger: discard()})
	defer s.Close()

	_, err := s.Fetch(context.Background(), addr+"/chapter")
	assert.True(t, errors.Is(err, errors.ErrUnreachable))
}

type countingFetcher struct {
	calls atomic.Int32
	body  reader.ChapterBody
	err   error
}

func (f *countingFetcher) Fetch(context.Context, string) (reader.ChapterBody, error) {
	f.calls.Add(1)
	return f.body, f.err
}

func TestRouter_CacheFirst(t *testing.T) {
	c, err := cache.Open(cache.Options{Logger: discard()})
	require.NoError(t, err)
	defer c.Close()

	remote := &countingFetcher{body: reader.ChapterBody{Body: "remote", Title: "T"}}
	local := &countingFetcher{body: reader.ChapterBody{Body: "local"}}
	r := NewRouter(c, discard()).
		Handle(remote, true, "http", "https").
		Handle(local, false, "file")
	ctx := context.Background()

	for range 3 {
		body, err := r.Fetch(ctx, "https://example.com/c1")
		require.NoError(t, err)
		assert.Equal(t, reader.ChapterBody{Body: "remote", Title: "T"}, body)
	}
	assert.Equal(t, int32(1), remote.calls.Load(), "network is hit once")

	for range 2 {
		_, err := r.Fetch(ctx, "file:///tmp/c1.txt")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), local.calls.Load(), "local sources bypass the cache")
}

func TestRouter_FailuresAreNotCached(t *testing.T) {
	c, err := cache.Open(cache.Options{Logger: discard()})
	require.NoError(t, err)
	defer c.Close()

	remote := &countingFetcher{err: errors.Unreachablef("down")}
	r := NewRouter(c, discard()).Handle(remote, true, "https")

	for range 2 {
		_, err := r.Fetch(context.Background(), "https://example.com/c1")
		assert.True(t, errors.Is(err, errors.ErrUnreachable))
	}
	assert.Equal(t, int32(2), remote.calls.Load())
}

func TestRouter_UnsupportedScheme(t *testing.T) {
	r := NewRouter(nil, discard())

	_, err := r.Fetch(context.Background(), "gopher://example.com/c1")
	assert.True(t, errors.Is(err, errors.ErrUnsupported))

	_, err = r.Fetch(context.Background(), "no-scheme")
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "one.txt")
	require.NoError(t, os.WriteFile(txt, []byte("First.\n\nSecond.\n"), 0o644))
	htm := filepath.Join(dir, "two.html")
	require.NoError(t, os.WriteFile(htm, []byte(chapterPage), 0o644))

	s := NewFileSource()
	ctx := context.Background()

	body, err := s.Fetch(ctx, FileURL(txt))
	require.NoError(t, err)
	assert.Equal(t, "First.\n\nSecond.", body.Body)

	body, err = s.Fetch(ctx, FileURL(htm))
	require.NoError(t, err)
	assert.Equal(t, "Chapter 3: The Road", body.Title)

	_, err = s.Fetch(ctx, FileURL(filepath.Join(dir, "missing.txt")))
	assert.True(t, errors.Is(err, errors.ErrUnreachable))

	_, err = s.Fetch(ctx, "https://example.com/x")
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

// writeTestEPUB builds a minimal EPUB 2 file with the given xhtml documents.
func writeTestEPUB(t *testing.T, docs map[string]string, order []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("mimetype", "application/epub+zip")
	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`)

	manifest, spine := "", ""
	for i, name := range order {
		id := "doc" + string(rune('a'+i))
		manifest += `<item id="` + id + `" href="` + name + `" media-type="application/xhtml+xml"/>`
		spine += `<itemref idref="` + id + `"/>`
		write(name, docs[name])
	}
	write("content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
    <dc:creator>Ann Author</dc:creator>
  </metadata>
  <manifest>`+manifest+`</manifest>
  <spine>`+spine+`</spine>
</package>`)

	require.NoError(t, zw.Close())
	return path
}

func TestEPUB(t *testing.T) {
	path := writeTestEPUB(t, map[string]string{
		"cover.xhtml": `<html><body></body></html>`,
		"c1.xhtml":    `<html><body><h1>Prologue</h1><p>Once upon a time.</p></body></html>`,
		"c2.xhtml":    `<html><body><p>No heading here.</p></body></html>`,
	}, []string{"cover.xhtml", "c1.xhtml", "c2.xhtml"})

	book, err := ReadEPUB(path)
	require.NoError(t, err)
	assert.Equal(t, "Test Book", book.Title)
	assert.Equal(t, "Ann Author", book.Author)
	require.Len(t, book.Chapters, 2, "documents without text are skipped")
	assert.Equal(t, "Prologue", book.Chapters[0].Title)
	assert.Equal(t, "Section 3", book.Chapters[1].Title)

	body, err := NewEPUBSource().Fetch(context.Background(), book.Chapters[0].URL)
	require.NoError(t, err)
	assert.Contains(t, body.Body, "Once upon a time.")

	_, err = NewEPUBSource().Fetch(context.Background(), EPUBURL(path, "nope.xhtml"))
	assert.True(t, errors.Is(err, errors.ErrUnreachable))
}
