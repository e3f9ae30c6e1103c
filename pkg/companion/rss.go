package companion

import (
	"context"
	"sort"
	"time"

	"github.com/hyperengineering/peersync/internal/domain"
)

// RSSManager manages feed subscriptions.
type RSSManager struct {
	c collection[RSSFeedData]
}

// Feeds watches every feed, ordered by name.
func (m *RSSManager) Feeds(ctx context.Context) (*Watch[[]RSSFeed], error) {
	return watchState(ctx, m.c.eng, m.List)
}

// List returns every feed ordered by name.
func (m *RSSManager) List(ctx context.Context) ([]RSSFeed, error) {
	feeds, err := m.c.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(feeds, func(i, j int) bool { return feeds[i].Data.Name < feeds[j].Data.Name })
	return feeds, nil
}

// Get returns the feed with the given id.
func (m *RSSManager) Get(ctx context.Context, id string) (RSSFeed, error) {
	return m.c.get(ctx, id)
}

// AddFeed stores a new feed. A zero update interval selects the default.
func (m *RSSManager) AddFeed(ctx context.Context, data RSSFeedData) (RSSFeed, error) {
	if data.UpdateIntervalMinutes == 0 {
		data.UpdateIntervalMinutes = domain.DefaultFeedIntervalMinutes
	}
	return m.c.create(ctx, data)
}

// UpdateFeed replaces the feed with the given id. The last check time is
// kept when data has none.
func (m *RSSManager) UpdateFeed(ctx context.Context, id string, data RSSFeedData) (RSSFeed, error) {
	return m.c.modify(ctx, id, func(f *RSSFeedData) error {
		if data.LastChecked == nil {
			data.LastChecked = f.LastChecked
		}
		*f = data
		return nil
	})
}

// SetFeedEnabled turns polling of a feed on or off.
func (m *RSSManager) SetFeedEnabled(ctx context.Context, id string, enabled bool) (RSSFeed, error) {
	return m.c.modify(ctx, id, func(f *RSSFeedData) error {
		f.Enabled = enabled
		return nil
	})
}

// MarkChecked records that the feed was polled at at.
func (m *RSSManager) MarkChecked(ctx context.Context, id string, at time.Time) (RSSFeed, error) {
	at = at.UTC()
	return m.c.modify(ctx, id, func(f *RSSFeedData) error {
		f.LastChecked = &at
		return nil
	})
}

// DeleteFeed deletes the feed with the given id.
func (m *RSSManager) DeleteFeed(ctx context.Context, id string) error {
	return m.c.remove(ctx, id)
}
