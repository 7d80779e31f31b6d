// Package selection tracks which items of the current listing are selected.
//
// The model is keyed by opaque strings (folder prefixes and object keys) and
// cannot tell on its own when the listing it refers to has been replaced.
// Whoever publishes a new listing must call Clear; the listing loader does
// this through its publish hook.
package selection

import "sync"

// MasterState is the state of a select-all checkbox.
type MasterState string

const (
	Unchecked     MasterState = "unchecked"
	Checked       MasterState = "checked"
	Indeterminate MasterState = "indeterminate"
)

// Stats summarizes the selection over a set of keys.
type Stats struct {
	SelectedCount int
	TotalCount    int
	MasterState   MasterState
}

// Model is safe for concurrent use. Mutations replace the whole map.
type Model struct {
	mu       sync.RWMutex
	selected map[string]bool
	anchor   string
	anchored bool
}

// New returns an empty selection.
func New() *Model {
	return &Model{selected: map[string]bool{}}
}

// Toggle flips key and makes it the range anchor. With shift held, an anchor
// present, and both keys found in allKeysInOrder, it instead copies the
// anchor's current state onto every key between the two, inclusive. The
// anchor is left where it was in that case.
func (m *Model) Toggle(key string, shift bool, allKeysInOrder []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]bool, len(m.selected)+1)
	for k, v := range m.selected {
		next[k] = v
	}

	if shift && m.anchored {
		from, to := indexOf(allKeysInOrder, m.anchor), indexOf(allKeysInOrder, key)
		if from >= 0 && to >= 0 {
			if from > to {
				from, to = to, from
			}
			state := m.selected[m.anchor]
			for _, k := range allKeysInOrder[from : to+1] {
				next[k] = state
			}
			m.selected = next
			return
		}
	}

	next[key] = !m.selected[key]
	m.selected = next
	m.anchor = key
	m.anchored = true
}

// ToggleAll sets every key in keys to state and drops the anchor. Keys not
// listed are forgotten.
func (m *Model) ToggleAll(keys []string, state bool) {
	next := make(map[string]bool, len(keys))
	for _, k := range keys {
		next[k] = state
	}

	m.mu.Lock()
	m.selected = next
	m.anchor, m.anchored = "", false
	m.mu.Unlock()
}

// Clear empties the selection and drops the anchor.
func (m *Model) Clear() {
	m.mu.Lock()
	m.selected = map[string]bool{}
	m.anchor, m.anchored = "", false
	m.mu.Unlock()
}

// IsSelected reports whether key is selected.
func (m *Model) IsSelected(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected[key]
}

// Anchor returns the range anchor, if any.
func (m *Model) Anchor() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.anchor, m.anchored
}

// GetSelected filters keys down to the selected ones, preserving order.
// Entries left over from an earlier listing are ignored because only keys
// the caller passes in are considered.
func (m *Model) GetSelected(keys []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if m.selected[k] {
			out = append(out, k)
		}
	}
	return out
}

// GetStats counts the selected keys among keys.
func (m *Model) GetStats(keys []string) Stats {
	selected := len(m.GetSelected(keys))
	st := Stats{SelectedCount: selected, TotalCount: len(keys)}

	switch {
	case selected == 0:
		st.MasterState = Unchecked
	case selected == len(keys):
		st.MasterState = Checked
	default:
		st.MasterState = Indeterminate
	}
	return st
}

func indexOf(keys []string, key string) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}
