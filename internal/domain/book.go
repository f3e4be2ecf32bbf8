// Package domain contains the core entities of the reader: library rows, renderable
// items, reading positions and speech utterances.
package domain

import "time"

// Book is a library entry whose chapters can be opened in a reader session.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	CoverURL        string    `json:"cover_url,omitempty"`
	LastReadChapter string    `json:"last_read_chapter,omitempty"`
	Completed       bool      `json:"completed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Chapter is one entry of a book's ordered chapter list.
// URL is the chapter identifier handed to chapter body sources.
type Chapter struct {
	URL              string `json:"url"`
	BookID           string `json:"book_id"`
	Index            int    `json:"index"`
	Title            string `json:"title"`
	Read             bool   `json:"read"`
	StartSeen        bool   `json:"start_seen"`
	EndSeen          bool   `json:"end_seen"`
	LastReadPosition int    `json:"last_read_position"`
	LastReadOffset   int    `json:"last_read_offset"`
}

// State returns the chapter's stored reading position.
func (c Chapter) State() ChapterState {
	return ChapterState{
		ChapterURL:          c.URL,
		ChapterItemPosition: c.LastReadPosition,
		Offset:              c.LastReadOffset,
	}
}

// IndexOfChapter returns the position of url in chapters, or -1.
// The first match wins when a url appears more than once.
func IndexOfChapter(chapters []Chapter, url string) int {
	for i, c := range chapters {
		if c.URL == url {
			return i
		}
	}
	return -1
}
