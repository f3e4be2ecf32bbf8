package domain

// ItemKind names an Item variant. It is the "type" discriminator in JSON payloads.
type ItemKind string

// Item variants.
const (
	KindTitle                  ItemKind = "title"
	KindBody                   ItemKind = "body"
	KindImage                  ItemKind = "image"
	KindDivider                ItemKind = "divider"
	KindProgressbar            ItemKind = "progressbar"
	KindError                  ItemKind = "error"
	KindBookStart              ItemKind = "book_start"
	KindBookEnd                ItemKind = "book_end"
	KindTranslating            ItemKind = "translating"
	KindTranslationAttribution ItemKind = "translation_attribution"
)

// Item is one renderable unit of the reader's live sequence.
//
// All implementations are comparable value types, so two items are the same
// item exactly when they compare equal with ==.
type Item interface {
	Kind() ItemKind
	// ChapterIndex is the index in the ordered chapter list the item belongs to.
	// BookStart reports -1 and BookEnd reports the chapter count.
	ChapterIndex() int
}

// Position locates a positioned item inside the book.
type Position struct {
	ChapterIndex        int    `json:"chapter_index"`
	ChapterItemPosition int    `json:"chapter_item_position"`
	ChapterURL          string `json:"chapter_url"`
}

// Less orders positions by chapter index, then by position inside the chapter.
func (p Position) Less(o Position) bool {
	if p.ChapterIndex != o.ChapterIndex {
		return p.ChapterIndex < o.ChapterIndex
	}
	return p.ChapterItemPosition < o.ChapterItemPosition
}

// Positioned is implemented by the items that take part in playback and
// position persistence: Title, Body and Image.
type Positioned interface {
	Item
	Pos() Position
	// SpeakText is the text handed to the speech engine.
	SpeakText() string
}

// ParagraphLocation tells where a body paragraph sits inside its chapter.
type ParagraphLocation string

// Paragraph locations.
const (
	LocationFirst  ParagraphLocation = "FIRST"
	LocationMiddle ParagraphLocation = "MIDDLE"
	LocationLast   ParagraphLocation = "LAST"
)

// Title is the chapter heading; it always sits at chapter item position 0.
type Title struct {
	Position
	Text           string
	TextTranslated string
}

// Body is one paragraph of chapter text.
type Body struct {
	Position
	Text           string
	TextTranslated string
	Location       ParagraphLocation
}

// Image references an image found in the chapter text.
type Image struct {
	Position
	Path string
	// Aspect is the width/height ratio hint, 0 when unknown.
	Aspect float64
}

// Divider separates chapters.
type Divider struct{ Chapter int }

// Progressbar marks a chapter whose body is still being fetched.
type Progressbar struct{ Chapter int }

// ErrorItem replaces a chapter body that could not be loaded.
type ErrorItem struct {
	Chapter int
	Message string
}

// BookStart marks that nothing precedes the first chapter.
type BookStart struct{}

// BookEnd marks that nothing follows the last chapter.
type BookEnd struct{ Chapter int }

// Translating marks a chapter whose body is being translated.
type Translating struct {
	Chapter        int
	SourceLanguage string
	TargetLanguage string
}

// TranslationAttribution credits the translation backend above translated content.
type TranslationAttribution struct{ Chapter int }

func (Title) Kind() ItemKind                  { return KindTitle }
func (Body) Kind() ItemKind                   { return KindBody }
func (Image) Kind() ItemKind                  { return KindImage }
func (Divider) Kind() ItemKind                { return KindDivider }
func (Progressbar) Kind() ItemKind            { return KindProgressbar }
func (ErrorItem) Kind() ItemKind              { return KindError }
func (BookStart) Kind() ItemKind              { return KindBookStart }
func (BookEnd) Kind() ItemKind                { return KindBookEnd }
func (Translating) Kind() ItemKind            { return KindTranslating }
func (TranslationAttribution) Kind() ItemKind { return KindTranslationAttribution }

func (t Title) ChapterIndex() int                  { return t.Position.ChapterIndex }
func (b Body) ChapterIndex() int                   { return b.Position.ChapterIndex }
func (i Image) ChapterIndex() int                  { return i.Position.ChapterIndex }
func (d Divider) ChapterIndex() int                { return d.Chapter }
func (p Progressbar) ChapterIndex() int            { return p.Chapter }
func (e ErrorItem) ChapterIndex() int              { return e.Chapter }
func (BookStart) ChapterIndex() int                { return -1 }
func (b BookEnd) ChapterIndex() int                { return b.Chapter }
func (t Translating) ChapterIndex() int            { return t.Chapter }
func (t TranslationAttribution) ChapterIndex() int { return t.Chapter }

func (t Title) Pos() Position { return t.Position }
func (b Body) Pos() Position  { return b.Position }
func (i Image) Pos() Position { return i.Position }

// SpeakText returns the translated title when present.
func (t Title) SpeakText() string { return preferTranslated(t.Text, t.TextTranslated) }

// SpeakText returns the translated paragraph when present.
func (b Body) SpeakText() string { return preferTranslated(b.Text, b.TextTranslated) }

// SpeakText is empty; images are skipped over by the speech engine.
func (Image) SpeakText() string { return "" }

func preferTranslated(text, translated string) string {
	if translated != "" {
		return translated
	}
	return text
}

// AsPositioned returns item as a Positioned when it carries a position.
func AsPositioned(item Item) (Positioned, bool) {
	p, ok := item.(Positioned)
	return p, ok
}
