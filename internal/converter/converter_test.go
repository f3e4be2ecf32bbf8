package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

const url = "https://example.com/c/1"

func TestConvert_Paragraphs(t *testing.T) {
	text := "First line.\n\n  Second   line.  \r\n\nThird line.\n"

	items := New().Convert(url, 3, 1, text)
	require.Len(t, items, 3)

	want := []domain.Body{
		{Position: domain.Position{ChapterIndex: 3, ChapterItemPosition: 1, ChapterURL: url}, Text: "First line.", Location: domain.LocationFirst},
		{Position: domain.Position{ChapterIndex: 3, ChapterItemPosition: 2, ChapterURL: url}, Text: "Second line.", Location: domain.LocationMiddle},
		{Position: domain.Position{ChapterIndex: 3, ChapterItemPosition: 3, ChapterURL: url}, Text: "Third line.", Location: domain.LocationLast},
	}
	for i, w := range want {
		assert.Equal(t, w, items[i])
	}
}

func TestConvert_Images(t *testing.T) {
	text := "Before.\n![map](images/map.png)\n<img yrel=\"1.25\" src=\"img/a.jpg\">\nAfter."

	items := New().Convert(url, 0, 1, text)
	require.Len(t, items, 4)

	img, ok := items[1].(domain.Image)
	require.True(t, ok)
	assert.Equal(t, "images/map.png", img.Path)
	assert.Equal(t, 2, img.ChapterItemPosition)
	assert.Zero(t, img.Aspect)

	img, ok = items[2].(domain.Image)
	require.True(t, ok)
	assert.Equal(t, "img/a.jpg", img.Path)
	assert.InDelta(t, 1.25, img.Aspect, 0.0001)

	// Images do not take part in paragraph locations.
	assert.Equal(t, domain.LocationFirst, items[0].(domain.Body).Location)
	assert.Equal(t, domain.LocationLast, items[3].(domain.Body).Location)
}

func TestConvert_StripsMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strong", "a **bold** word", "a bold word"},
		{"underscore strong", "a __bold__ word", "a bold word"},
		{"emphasis", "the *quick* fox", "the quick fox"},
		{"underscore emphasis", "(_aside_) here", "(aside) here"},
		{"keeps identifiers", "snake_case_name stays", "snake_case_name stays"},
		{"heading", "## Chapter One", "Chapter One"},
		{"blockquote", "> quoted text", "quoted text"},
		{"escapes", `1\. not a list \*really\*`, "1. not a list *really*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := New().Convert(url, 0, 1, tt.in)
			require.Len(t, items, 1)
			assert.Equal(t, tt.want, items[0].(domain.Body).Text)
		})
	}
}

func TestConvert_NormalizesUnicode(t *testing.T) {
	items := New().Convert(url, 0, 1, "cafe\u0301")
	require.Len(t, items, 1)
	assert.Equal(t, "caf\u00e9", items[0].(domain.Body).Text)
}

func TestConvert_SkipsRulesAndBlankLines(t *testing.T) {
	items := New().Convert(url, 0, 1, "One\n\n***\n\n- - -\n\nTwo")
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[1].(domain.Body).ChapterItemPosition)
}

func TestConvert_SingleParagraphIsLast(t *testing.T) {
	items := New().Convert(url, 0, 1, "Only one.")
	require.Len(t, items, 1)
	assert.Equal(t, domain.LocationLast, items[0].(domain.Body).Location)
}

func TestConvert_Empty(t *testing.T) {
	assert.Empty(t, New().Convert(url, 0, 1, "  \n\n "))
}

func TestConvert_Deterministic(t *testing.T) {
	text := "A *b* c.\n![x](y.png)\nD."
	assert.Equal(t, New().Convert(url, 1, 1, text), New().Convert(url, 1, 1, text))
}
