package textsource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Slot names one of the two text sources holding a file handle.
type Slot string

const (
	SlotPrompt       Slot = "promptFileHandle"
	SlotSystemPrompt Slot = "systemPromptFileHandle"
)

// Handle is a retained local file.
type Handle interface {
	Name() string
	Path() string
	// Permission reports whether the file may still be read.
	Permission() error
	// RequestPermission asks again after Permission failed.
	RequestPermission() error
	ReadText() (string, error)
}

// HandleStore persists which file each slot points at.
type HandleStore interface {
	SaveFileHandle(ctx context.Context, slot string, path string) error
	DeleteFileHandle(ctx context.Context, slot string) error
	LoadFileHandles(ctx context.Context) (map[string]string, error)
}

// OSFile is a Handle over a path on the local filesystem.
type OSFile struct {
	path string
}

func OpenFile(path string) *OSFile { return &OSFile{path: path} }

func (f *OSFile) Name() string { return filepath.Base(f.path) }
func (f *OSFile) Path() string { return f.path }

func (f *OSFile) Permission() error {
	file, err := os.Open(f.path)
	if err != nil {
		return classify(err)
	}
	return file.Close()
}

func (f *OSFile) RequestPermission() error {
	return f.Permission()
}

func (f *OSFile) ReadText() (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return "", classify(err)
	}
	return string(b), nil
}

func classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrReadFailed, err)
}

// Handles owns one optional file handle per slot. Setting a slot replaces the
// previous handle.
type Handles struct {
	mu    sync.Mutex
	slots map[Slot]Handle
	store HandleStore
	open  func(path string) Handle
}

func NewHandles(store HandleStore) *Handles {
	return &Handles{
		slots: map[Slot]Handle{},
		store: store,
		open:  func(path string) Handle { return OpenFile(path) },
	}
}

// Restore reopens the handles saved by a previous run.
func (h *Handles) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	saved, err := h.store.LoadFileHandles(ctx)
	if err != nil {
		return fmt.Errorf("load file handles: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for slot, path := range saved {
		h.slots[Slot(slot)] = h.open(path)
	}
	return nil
}

// Pick opens path for slot, reads it once and retains the handle.
func (h *Handles) Pick(ctx context.Context, slot Slot, path string) (Handle, string, error) {
	handle := h.open(path)
	text, err := handle.ReadText()
	if err != nil {
		return nil, "", err
	}
	if err := h.Set(ctx, slot, handle); err != nil {
		return nil, "", err
	}
	return handle, text, nil
}

func (h *Handles) Set(ctx context.Context, slot Slot, handle Handle) error {
	h.mu.Lock()
	h.slots[slot] = handle
	h.mu.Unlock()
	if h.store != nil {
		if err := h.store.SaveFileHandle(ctx, string(slot), handle.Path()); err != nil {
			return fmt.Errorf("save file handle: %w", err)
		}
	}
	return nil
}

func (h *Handles) Get(slot Slot) (Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.slots[slot]
	return handle, ok
}

func (h *Handles) Release(ctx context.Context, slot Slot) error {
	h.mu.Lock()
	delete(h.slots, slot)
	h.mu.Unlock()
	if h.store != nil {
		if err := h.store.DeleteFileHandle(ctx, string(slot)); err != nil {
			return fmt.Errorf("delete file handle: %w", err)
		}
	}
	return nil
}

// Reload re-reads the slot's file after checking permission. A denied or
// unreadable handle is released so the user is asked to pick again.
func (h *Handles) Reload(ctx context.Context, slot Slot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle, ok := h.Get(slot)
	if !ok {
		return "", ErrNoHandle
	}
	if err := handle.Permission(); err != nil {
		if err := handle.RequestPermission(); err != nil {
			_ = h.Release(ctx, slot)
			if errors.Is(err, ErrPermissionDenied) {
				return "", err
			}
			return "", fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	text, err := handle.ReadText()
	if err != nil {
		_ = h.Release(ctx, slot)
		if errors.Is(err, ErrReadFailed) || errors.Is(err, ErrPermissionDenied) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return text, nil
}

// Local adapts Reload to Sources.Local for one slot.
func (h *Handles) Local(slot Slot) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return h.Reload(ctx, slot)
	}
}
