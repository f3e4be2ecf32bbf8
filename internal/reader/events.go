package reader

import (
	"errors"
	"fmt"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

var errQueueClosed = errors.New("reader: main queue closed")

// LoadKind is the kind of a load intent. Deduplication is keyed by kind.
type LoadKind int

// Load intent kinds.
const (
	LoadInitial LoadKind = iota
	LoadRestartInitial
	LoadPrevious
	LoadNext
)

func (k LoadKind) String() string {
	switch k {
	case LoadInitial:
		return "initial"
	case LoadRestartInitial:
		return "restart_initial"
	case LoadPrevious:
		return "previous"
	case LoadNext:
		return "next"
	default:
		return fmt.Sprintf("LoadKind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k LoadKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseLoadKind is the inverse of LoadKind.String.
func ParseLoadKind(s string) (LoadKind, bool) {
	for _, k := range []LoadKind{LoadInitial, LoadRestartInitial, LoadPrevious, LoadNext} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// LoadIntent is a queued request to load content.
type LoadIntent struct {
	Kind         LoadKind
	ChapterIndex int                 // Initial only
	State        domain.ChapterState // RestartInitial only
}

// LoaderState is the chapter loader state machine.
type LoaderState string

// Loader states.
const (
	StateInitialLoad LoaderState = "initial_load"
	StateLoading     LoaderState = "loading"
	StateIdle        LoaderState = "idle"
)

// ChapterLoaded is published once the edit that loaded a chapter is visible.
type ChapterLoaded struct {
	ChapterIndex int      `json:"chapter_index"`
	Kind         LoadKind `json:"kind"`
}

// InvalidChapter is published when an initial load targets a chapter that does not exist.
type InvalidChapter struct {
	ChapterIndex int    `json:"chapter_index"`
	ChapterURL   string `json:"chapter_url,omitempty"`
}

// PlaybackEventKind enumerates playback controller events.
type PlaybackEventKind string

// Playback events.
const (
	EventScrolledToTop      PlaybackEventKind = "scrolled_to_top"
	EventScrolledToBottom   PlaybackEventKind = "scrolled_to_bottom"
	EventScrollToItem       PlaybackEventKind = "scroll_to_item"
	EventScrollToChapterTop PlaybackEventKind = "scroll_to_chapter_top"
	EventReachedChapterEnd  PlaybackEventKind = "reached_chapter_end"
)

// PlaybackEvent is emitted by the playback controller.
type PlaybackEvent struct {
	Kind         PlaybackEventKind `json:"kind"`
	ChapterIndex int               `json:"chapter_index"`
	ItemIndex    int               `json:"item_index,omitempty"`
}
