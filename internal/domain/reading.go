package domain

// ChapterState is the durable "last read position" of a book.
type ChapterState struct {
	ChapterURL          string `json:"chapter_url" validate:"required"`
	ChapterItemPosition int    `json:"chapter_item_position" validate:"gte=0"`
	Offset              int    `json:"offset" validate:"gte=0"`
}

// ChapterStats is recorded once a chapter has finished loading.
// ItemsCount is 1 for chapters that failed to load.
type ChapterStats struct {
	Chapter              Chapter `json:"chapter"`
	ItemsCount           int     `json:"items_count"`
	OrderedChaptersIndex int     `json:"ordered_chapters_index"`
}

// InitialPositionChapter is where the reader should land after an initial load.
type InitialPositionChapter struct {
	ChapterIndex        int `json:"chapter_index"`
	ChapterItemPosition int `json:"chapter_item_position"`
	ChapterItemOffset   int `json:"chapter_item_offset"`
}

// ReadingChapterPosStats describes a point of the live sequence in chapter terms.
type ReadingChapterPosStats struct {
	ChapterIndex        int    `json:"chapter_index"`
	ChapterCount        int    `json:"chapter_count"`
	ChapterItemPosition int    `json:"chapter_item_position"`
	ChapterItemsCount   int    `json:"chapter_items_count"`
	ChapterTitle        string `json:"chapter_title"`
	ChapterURL          string `json:"chapter_url"`
}

// ReaderMode selects which position source is authoritative.
type ReaderMode string

// Reader modes.
const (
	ModeReading  ReaderMode = "reading"
	ModeSpeaking ReaderMode = "speaking"
)

// PlayState is the lifecycle of an utterance.
type PlayState string

// Utterance states.
const (
	PlayLoading  PlayState = "loading"
	PlayPlaying  PlayState = "playing"
	PlayFinished PlayState = "finished"
)

// Utterance is an item handed to the speech engine.
// Two utterances refer to the same item when their UtteranceKey is equal.
type Utterance struct {
	ID    string     `json:"id"`
	Item  Positioned `json:"-"`
	State PlayState  `json:"state"`
}

// UtteranceKey identifies an utterance by (chapterItemPosition, chapterIndex).
type UtteranceKey struct {
	ChapterItemPosition int
	ChapterIndex        int
}

// Key returns the identity of the utterance.
func (u Utterance) Key() UtteranceKey {
	p := u.Item.Pos()
	return UtteranceKey{ChapterItemPosition: p.ChapterItemPosition, ChapterIndex: p.ChapterIndex}
}

// StateOf converts a positioned item into a ChapterState with no offset.
func StateOf(item Positioned) ChapterState {
	p := item.Pos()
	return ChapterState{ChapterURL: p.ChapterURL, ChapterItemPosition: p.ChapterItemPosition}
}
