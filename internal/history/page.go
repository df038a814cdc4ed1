package history

// TotalPages is never below 1. A non-positive size means one page.
func TotalPages(total, size int) int {
	if size <= 0 {
		return 1
	}
	pages := (total + size - 1) / size
	if pages < 1 {
		return 1
	}
	return pages
}

// SlicePage returns the 1-based page of items. Pages below 1 are treated as
// page 1; a non-positive size returns everything.
func SlicePage[T any](items []T, page, size int) []T {
	if size <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewPage[T any](items []T, page, size int) Page[T] {
	if page < 1 {
		page = 1
	}
	return Page[T]{
		Items:      SlicePage(items, page, size),
		Page:       page,
		PageSize:   size,
		Total:      len(items),
		TotalPages: TotalPages(len(items), size),
	}
}
