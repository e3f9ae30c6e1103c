package companion

import (
	"context"
	"sort"
	"strings"
	"time"
)

// HistoryManager manages the share history.
type HistoryManager struct {
	c collection[HistoryItemData]
	// now stamps items added without a share time.
	now func() time.Time
}

// History watches every history item, newest first.
func (m *HistoryManager) History(ctx context.Context) (*Watch[[]HistoryItem], error) {
	return watchState(ctx, m.c.eng, m.List)
}

// List returns every history item, newest first.
func (m *HistoryManager) List(ctx context.Context) ([]HistoryItem, error) {
	items, err := m.c.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Data.SharedAt.Equal(items[j].Data.SharedAt) {
			return items[i].Data.SharedAt.After(items[j].Data.SharedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

// AddHistoryItem records a share. A zero SharedAt is set to now.
func (m *HistoryManager) AddHistoryItem(ctx context.Context, data HistoryItemData) (HistoryItem, error) {
	if data.SharedAt.IsZero() {
		data.SharedAt = m.now()
	}
	data.SharedAt = data.SharedAt.UTC()
	return m.c.create(ctx, data)
}

// DeleteHistoryItem deletes one history item.
func (m *HistoryManager) DeleteHistoryItem(ctx context.Context, id string) error {
	return m.c.remove(ctx, id)
}

// DeleteHistoryItemsByType deletes every item shared to serviceType and
// returns how many were deleted.
func (m *HistoryManager) DeleteHistoryItemsByType(ctx context.Context, serviceType string) (int, error) {
	return m.c.removeWhere(ctx, func(h HistoryItem) bool {
		return strings.EqualFold(h.Data.ServiceType, serviceType)
	})
}

// ClearHistory deletes every history item and returns how many were deleted.
func (m *HistoryManager) ClearHistory(ctx context.Context) (int, error) {
	return m.c.removeWhere(ctx, func(HistoryItem) bool { return true })
}
