package companion

import (
	"context"
	"sort"
	"strings"
)

// BookmarkManager manages saved links.
type BookmarkManager struct {
	c collection[BookmarkData]
}

// Bookmarks watches every bookmark, ordered by title.
func (m *BookmarkManager) Bookmarks(ctx context.Context) (*Watch[[]Bookmark], error) {
	return watchState(ctx, m.c.eng, m.List)
}

// List returns every bookmark ordered by title.
func (m *BookmarkManager) List(ctx context.Context) ([]Bookmark, error) {
	bookmarks, err := m.c.list(ctx)
	if err != nil {
		return nil, err
	}
	sortBookmarks(bookmarks)
	return bookmarks, nil
}

func sortBookmarks(bookmarks []Bookmark) {
	sort.SliceStable(bookmarks, func(i, j int) bool {
		return strings.ToLower(bookmarks[i].Data.Title) < strings.ToLower(bookmarks[j].Data.Title)
	})
}

// Get returns the bookmark with the given id.
func (m *BookmarkManager) Get(ctx context.Context, id string) (Bookmark, error) {
	return m.c.get(ctx, id)
}

// ByCategory returns the bookmarks of category, ordered by title. Category
// matching ignores case.
func (m *BookmarkManager) ByCategory(ctx context.Context, category string) ([]Bookmark, error) {
	bookmarks, err := m.c.filter(ctx, func(b Bookmark) bool {
		return strings.EqualFold(b.Data.Category, category)
	})
	if err != nil {
		return nil, err
	}
	sortBookmarks(bookmarks)
	return bookmarks, nil
}

// AddBookmark stores a new bookmark.
func (m *BookmarkManager) AddBookmark(ctx context.Context, data BookmarkData) (Bookmark, error) {
	return m.c.create(ctx, data)
}

// UpdateBookmark replaces the bookmark with the given id.
func (m *BookmarkManager) UpdateBookmark(ctx context.Context, id string, data BookmarkData) (Bookmark, error) {
	return m.c.modify(ctx, id, func(b *BookmarkData) error {
		*b = data
		return nil
	})
}

// DeleteBookmark deletes the bookmark with the given id.
func (m *BookmarkManager) DeleteBookmark(ctx context.Context, id string) error {
	return m.c.remove(ctx, id)
}
