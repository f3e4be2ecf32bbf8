package reader

import (
	"sync"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// View is the presentation capability the loader drives. All methods are called
// on the loader's main queue.
//
// The Maintain* scopes capture the scroll anchor, run the edits in fn and then
// restore the anchor, so the visible content does not jump.
type View interface {
	MaintainPosition(fn func())
	MaintainStartPosition(fn func())
	MaintainLastVisiblePosition(fn func())
	SetInitialPosition(pos domain.InitialPositionChapter)
	ShowInvalidChapterDialog()
}

// NopView runs edit scopes directly and ignores signals.
type NopView struct{}

func (NopView) MaintainPosition(fn func())                       { fn() }
func (NopView) MaintainStartPosition(fn func())                  { fn() }
func (NopView) MaintainLastVisiblePosition(fn func())            { fn() }
func (NopView) SetInitialPosition(domain.InitialPositionChapter) {}
func (NopView) ShowInvalidChapterDialog()                        {}

// viewSlot holds the currently attached view.
type viewSlot struct {
	mu   sync.RWMutex
	view View
}

func (s *viewSlot) attach(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

func (s *viewSlot) detach() {
	s.attach(nil)
}

func (s *viewSlot) get() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.view == nil {
		return NopView{}
	}
	return s.view
}
