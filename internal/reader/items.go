package reader

import (
	"slices"
	"sync"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/feed"
)

// ChangeKind describes a structural edit of the live sequence.
type ChangeKind string

// Structural edits.
const (
	ChangeInserted ChangeKind = "inserted"
	ChangeRemoved  ChangeKind = "removed"
	ChangeCleared  ChangeKind = "cleared"
)

// ListChange is published after every structural edit of an ItemList.
type ListChange struct {
	Kind  ChangeKind `json:"kind"`
	Index int        `json:"index"`
	Count int        `json:"count"`
	Size  int        `json:"size"`
}

// ItemList is the live item sequence. Readers may use it from any goroutine;
// only the chapter loader mutates it.
type ItemList struct {
	mu      sync.RWMutex
	items   []domain.Item
	changes feed.Feed[ListChange]
}

// Changes returns the structural edit feed.
func (l *ItemList) Changes() *feed.Feed[ListChange] {
	return &l.changes
}

// Len returns the number of items.
func (l *ItemList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// At returns the item at index i.
func (l *ItemList) At(i int) (domain.Item, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.items) {
		return nil, false
	}
	return l.items[i], true
}

// First returns the first item.
func (l *ItemList) First() (domain.Item, bool) {
	return l.At(0)
}

// Last returns the last item.
func (l *ItemList) Last() (domain.Item, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		return nil, false
	}
	return l.items[len(l.items)-1], true
}

// Snapshot returns a copy of the current sequence.
func (l *ItemList) Snapshot() []domain.Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.items)
}

// IndexOf returns the index of item, or -1.
func (l *ItemList) IndexOf(item domain.Item) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Index(l.items, item)
}

// IndexOfPosition returns the index of the positioned item at (chapterIndex, chapterItemPosition), or -1.
func (l *ItemList) IndexOfPosition(chapterIndex, chapterItemPosition int) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.IndexFunc(l.items, func(it domain.Item) bool {
		p, ok := domain.AsPositioned(it)
		if !ok {
			return false
		}
		pos := p.Pos()
		return pos.ChapterIndex == chapterIndex && pos.ChapterItemPosition == chapterItemPosition
	})
}

func (l *ItemList) insertAt(i int, items ...domain.Item) {
	if len(items) == 0 {
		return
	}
	l.mu.Lock()
	i = min(max(i, 0), len(l.items))
	l.items = slices.Insert(l.items, i, items...)
	size := len(l.items)
	l.mu.Unlock()

	l.changes.Publish(ListChange{Kind: ChangeInserted, Index: i, Count: len(items), Size: size})
}

func (l *ItemList) append(items ...domain.Item) {
	l.insertAt(l.Len(), items...)
}

// remove deletes the first occurrence of item and returns its index, or -1.
func (l *ItemList) remove(item domain.Item) int {
	l.mu.Lock()
	i := slices.Index(l.items, item)
	if i < 0 {
		l.mu.Unlock()
		return -1
	}
	l.items = slices.Delete(l.items, i, i+1)
	size := len(l.items)
	l.mu.Unlock()

	l.changes.Publish(ListChange{Kind: ChangeRemoved, Index: i, Count: 1, Size: size})
	return i
}

func (l *ItemList) clear() {
	l.mu.Lock()
	n := len(l.items)
	l.items = nil
	l.mu.Unlock()

	l.changes.Publish(ListChange{Kind: ChangeCleared, Count: n})
}
