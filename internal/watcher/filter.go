package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Options configures which files in the share folder get offered.
type Options struct {
	// IgnoreSuffixes skips editor swap files and partial downloads.
	IgnoreSuffixes []string
	IgnoreHidden   bool
	// Debounce is how long a file has to stay quiet before it is offered.
	Debounce time.Duration
}

func DefaultOptions() Options {
	return Options{
		IgnoreSuffixes: []string{".tmp", ".swp", ".part", ".crdownload", "~"},
		IgnoreHidden:   true,
		Debounce:       500 * time.Millisecond,
	}
}

// Allows reports whether path passes the filter.
func (o Options) Allows(path string) bool {
	name := filepath.Base(path)
	if name == "" || name == "." {
		return false
	}
	if o.IgnoreHidden && strings.HasPrefix(name, ".") {
		return false
	}
	for _, suffix := range o.IgnoreSuffixes {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}
