package companion

import (
	"context"
	"errors"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/store"
)

// TorrentSharingManager manages how shared torrents are handed to clients.
type TorrentSharingManager struct {
	c collection[TorrentSharingData]
}

// GetOrCreateDefault returns the settings, storing the defaults first if
// none exist yet.
func (m *TorrentSharingManager) GetOrCreateDefault(ctx context.Context) (TorrentSharing, error) {
	return m.c.getOrCreate(ctx, domain.TorrentSharingID, func() (TorrentSharingData, error) {
		return domain.DefaultTorrentSharing(), nil
	})
}

// Update replaces the settings.
func (m *TorrentSharingManager) Update(ctx context.Context, settings TorrentSharingData) (TorrentSharing, error) {
	return m.c.put(ctx, domain.TorrentSharingID, settings)
}

// Current returns the effective settings. When nothing is stored the
// defaults are returned with a zero Meta.
func (m *TorrentSharingManager) Current(ctx context.Context) (TorrentSharing, error) {
	r, err := m.c.get(ctx, domain.TorrentSharingID)
	if errors.Is(err, store.ErrNotFound) {
		return TorrentSharing{Data: domain.DefaultTorrentSharing()}, nil
	}
	return r, err
}

// Changes watches the effective settings, starting with the current ones.
func (m *TorrentSharingManager) Changes(ctx context.Context) (*Watch[TorrentSharing], error) {
	return watchState(ctx, m.c.eng, m.Current)
}
