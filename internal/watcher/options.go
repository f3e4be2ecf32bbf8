package watcher

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Options configures the watcher.
type Options struct {
	// Extensions are the file suffixes reported, matched case-insensitively.
	Extensions []string
	// SettleDelay is how long a file must stay unchanged before it is reported.
	SettleDelay  time.Duration
	IgnoreHidden bool
}

func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 500 * time.Millisecond
	}
	if o.Extensions == nil {
		o.Extensions = []string{".epub"}
		o.IgnoreHidden = true
	}
}

// shouldIgnore reports whether the entry at path is hidden or a partial
// download. Only the base name is checked; hidden directories are skipped
// while walking.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if o.IgnoreHidden && strings.HasPrefix(base, ".") && base != "." && base != ".." {
		return true
	}
	for _, pattern := range []string{"*.tmp", "*.part", "*.crdownload"} {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// matches reports whether a regular file at path should be reported.
func (o *Options) matches(path string) bool {
	if o.shouldIgnore(path) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return slices.ContainsFunc(o.Extensions, func(e string) bool {
		return strings.EqualFold(e, ext)
	})
}
