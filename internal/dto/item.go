// Package dto provides the client-facing shapes of reader items and session
// state for API responses and SSE events.
package dto

import "github.com/listenupapp/listenup-reader/internal/domain"

// Item is the JSON form of a domain.Item. Type is the item kind; the other
// fields are set as the kind requires.
type Item struct {
	Type                domain.ItemKind          `json:"type"`
	ChapterIndex        int                      `json:"chapter_index"`
	ChapterItemPosition *int                     `json:"chapter_item_position,omitempty"`
	ChapterURL          string                   `json:"chapter_url,omitempty"`
	Text                string                   `json:"text,omitempty"`
	TextTranslated      string                   `json:"text_translated,omitempty"`
	Location            domain.ParagraphLocation `json:"location,omitempty"`
	Path                string                   `json:"path,omitempty"`
	Aspect              float64                  `json:"aspect,omitempty"`
	Message             string                   `json:"message,omitempty"`
	SourceLanguage      string                   `json:"source_language,omitempty"`
	TargetLanguage      string                   `json:"target_language,omitempty"`
}

// NewItem converts a domain item.
func NewItem(item domain.Item) Item {
	out := Item{Type: item.Kind(), ChapterIndex: item.ChapterIndex()}
	if p, ok := domain.AsPositioned(item); ok {
		pos := p.Pos()
		out.ChapterItemPosition = &pos.ChapterItemPosition
		out.ChapterURL = pos.ChapterURL
	}

	switch v := item.(type) {
	case domain.Title:
		out.Text, out.TextTranslated = v.Text, v.TextTranslated
	case domain.Body:
		out.Text, out.TextTranslated = v.Text, v.TextTranslated
		out.Location = v.Location
	case domain.Image:
		out.Path, out.Aspect = v.Path, v.Aspect
	case domain.ErrorItem:
		out.Message = v.Message
	case domain.Translating:
		out.SourceLanguage, out.TargetLanguage = v.SourceLanguage, v.TargetLanguage
	}
	return out
}

// NewItems converts a snapshot of the live sequence.
func NewItems(items []domain.Item) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = NewItem(item)
	}
	return out
}

// Utterance is the JSON form of the item being spoken.
type Utterance struct {
	ID    string           `json:"id"`
	State domain.PlayState `json:"state"`
	Item  Item             `json:"item"`
}

// NewUtterance converts an utterance.
func NewUtterance(u domain.Utterance) Utterance {
	return Utterance{ID: u.ID, State: u.State, Item: NewItem(u.Item)}
}
