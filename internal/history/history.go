// Package history keeps the newest-first log of test exchanges and the
// replace-by-key log of model probe outcomes.
package history

import (
	"sync"
)

// Item is one completed or failed test. Duration is nil when no response
// arrived.
type Item struct {
	ID              string `json:"id"`
	Timestamp       int64  `json:"timestamp"`
	Duration        *int64 `json:"duration,omitempty"`
	Model           string `json:"model"`
	RequestContent  string `json:"requestContent"`
	RequestRaw      string `json:"requestRaw"`
	ResponseContent string `json:"responseContent"`
	ResponseRaw     string `json:"responseRaw"`
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

func (s Status) Valid() bool {
	return s == StatusIdle || s == StatusSuccess || s == StatusError
}

// ModelItem is the last known outcome for one provider, model and key.
type ModelItem struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseURL"`
	APIPath   string `json:"apiPath"`
	Status    Status `json:"status"`
	Duration  *int64 `json:"duration"`
}

func (m ModelItem) sameKey(o ModelItem) bool {
	return m.Provider == o.Provider && m.Model == o.Model && m.APIKey == o.APIKey
}

// Log is the in-memory exchange history, newest first.
type Log struct {
	mu    sync.RWMutex
	items []Item
}

func NewLog(items []Item) *Log {
	return &Log{items: append([]Item(nil), items...)}
}

func (l *Log) Prepend(it Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append([]Item{it}, l.items...)
}

// Delete removes the item with id and returns it.
func (l *Log) Delete(id string) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if it.ID == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return it, true
		}
	}
	return Item{}, false
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *Log) Items() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Item(nil), l.items...)
}

func (l *Log) Page(page, size int) Page[Item] {
	return NewPage(l.Items(), page, size)
}

// ModelLog holds at most one entry per (provider, model, apiKey).
type ModelLog struct {
	mu    sync.RWMutex
	items []ModelItem
}

func NewModelLog(items []ModelItem) *ModelLog {
	return &ModelLog{items: append([]ModelItem(nil), items...)}
}

// Upsert drops any entry with the same key and puts it at the front.
func (l *ModelLog) Upsert(it ModelItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]ModelItem, 0, len(l.items)+1)
	next = append(next, it)
	for _, existing := range l.items {
		if !existing.sameKey(it) {
			next = append(next, existing)
		}
	}
	l.items = next
}

func (l *ModelLog) Get(id string) (ModelItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, it := range l.items {
		if it.ID == id {
			return it, true
		}
	}
	return ModelItem{}, false
}

func (l *ModelLog) Delete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if it.ID == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

func (l *ModelLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

func (l *ModelLog) Items() []ModelItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ModelItem(nil), l.items...)
}
