// Package navigation derives a folder-like view from a flat, "/"-delimited
// key space. A Navigator holds the breadcrumb trail and the current prefix;
// it performs no I/O. Callers that need a side effect on every move (reload
// the listing, update a URL) pass an onNavigate callback, which receives the
// new prefix after the state has been updated.
//
// Usage:
//
//	nav := navigation.New()
//	nav.NavigateToFolder("photos/", reload)
//	nav.NavigateToFolder("photos/2024/", reload)
//	nav.NavigateToBreadcrumb(0, reload) // back to the bucket root
//	nav.SetFromPath(r.URL.Query().Get("folder"))
package navigation

import (
	"strings"
	"sync"
)

// RootMarker is the synthetic first breadcrumb. It never appears in a prefix.
const RootMarker = "All Files"

// Navigator is safe for concurrent use. Every operation swaps the whole
// trail, so readers never observe a half-updated one.
type Navigator struct {
	mu          sync.RWMutex
	breadcrumbs []string
	prefix      string
}

// New returns a Navigator positioned at the bucket root.
func New() *Navigator {
	return &Navigator{breadcrumbs: []string{RootMarker}}
}

// Breadcrumbs returns a copy of the trail. The first entry is always RootMarker.
func (n *Navigator) Breadcrumbs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.breadcrumbs))
	copy(out, n.breadcrumbs)
	return out
}

// Prefix returns the current prefix; "" is the bucket root.
func (n *Navigator) Prefix() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.prefix
}

// AtRoot reports whether the navigator is at the bucket root.
func (n *Navigator) AtRoot() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.prefix == ""
}

// NavigateToFolder descends into folderPath, a full prefix such as
// "photos/2024/" as returned by a folder listing. Passing RootMarker resets
// to the root.
func (n *Navigator) NavigateToFolder(folderPath string, onNavigate ...func(prefix string)) {
	if folderPath == RootMarker || folderPath == "" {
		n.ResetToRoot(onNavigate...)
		return
	}

	n.mu.Lock()
	next := make([]string, 0, len(n.breadcrumbs)+1)
	next = append(next, n.breadcrumbs...)
	n.breadcrumbs = append(next, folderPath)
	n.prefix = folderPath
	n.mu.Unlock()

	notify(folderPath, onNavigate)
}

// NavigateToBreadcrumb truncates the trail after index. Index 0 is the root.
// An index outside the trail leaves the state untouched and does not invoke
// onNavigate.
func (n *Navigator) NavigateToBreadcrumb(index int, onNavigate ...func(prefix string)) {
	n.mu.Lock()
	if index < 0 || index >= len(n.breadcrumbs) {
		n.mu.Unlock()
		return
	}

	next := make([]string, index+1)
	copy(next, n.breadcrumbs[:index+1])
	n.breadcrumbs = next
	if index == 0 {
		n.prefix = ""
	} else {
		n.prefix = next[index]
	}
	prefix := n.prefix
	n.mu.Unlock()

	notify(prefix, onNavigate)
}

// ResetToRoot moves back to the bucket root.
func (n *Navigator) ResetToRoot(onNavigate ...func(prefix string)) {
	n.mu.Lock()
	n.breadcrumbs = []string{RootMarker}
	n.prefix = ""
	n.mu.Unlock()

	notify("", onNavigate)
}

// SetFromPath rebuilds the whole trail from an arbitrary prefix, typically
// one restored from a URL. Intermediate entries are cumulative prefixes of
// the non-empty segments, each ending in "/"; the last entry and the prefix
// are path itself. An empty path resets to the root.
func (n *Navigator) SetFromPath(path string, onNavigate ...func(prefix string)) {
	trail, prefix := Trail(path)

	n.mu.Lock()
	n.breadcrumbs = trail
	n.prefix = prefix
	n.mu.Unlock()

	notify(prefix, onNavigate)
}

// Trail computes the breadcrumb trail and prefix for path without touching
// any Navigator state. The prefix is always path unchanged: S3 keys may start
// with "/" or contain "//", and those name different folders.
func Trail(path string) ([]string, string) {
	if path == "" {
		return []string{RootMarker}, ""
	}

	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	trail := make([]string, 0, len(parts)+1)
	trail = append(trail, RootMarker)

	var b strings.Builder
	for i := 0; i < len(parts)-1; i++ {
		b.WriteString(parts[i])
		b.WriteByte('/')
		trail = append(trail, b.String())
	}
	return append(trail, path), path
}

// Join reconstructs the prefix from a trail, ignoring the root marker.
func Join(trail []string) string {
	if len(trail) <= 1 {
		return ""
	}
	return trail[len(trail)-1]
}

// GetParentPath drops the last "/"-delimited segment of key. A key without
// "/" has the root ("") as its parent. A trailing slash is treated as part of
// the last segment, so the parent of "a/b/" is "a/b".
func GetParentPath(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i]
}

// FolderName returns the display name of a folder prefix: its last
// non-empty segment.
func FolderName(prefix string) string {
	trimmed := strings.TrimSuffix(prefix, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func notify(prefix string, callbacks []func(string)) {
	for _, cb := range callbacks {
		if cb != nil {
			cb(prefix)
		}
	}
}
