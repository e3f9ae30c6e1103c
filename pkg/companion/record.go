// Package companion is the application-facing API of peersync. A Host runs
// one sync engine per domain; its managers expose typed, validated reads and
// writes plus live watches over each domain.
package companion

import (
	"errors"
	"time"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/engine"
	"github.com/hyperengineering/peersync/internal/store"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Errors returned by managers. Validation failures also match
// ErrInvalid through errors.Is and carry field details as *ValidationErrors.
var (
	ErrNotFound    = store.ErrNotFound
	ErrInvalid     = validation.ErrInvalid
	ErrPersistence = store.ErrPersistence
	ErrStopped     = engine.ErrStopped
)

// ValidationErrors lists the fields rejected by a write.
type ValidationErrors = validation.Errors

// Payload types of each domain.
type (
	ThemeData          = domain.Theme
	LanguageData       = domain.Language
	ProfileData        = domain.Profile
	HistoryItemData    = domain.HistoryItem
	BookmarkData       = domain.Bookmark
	RSSFeedData        = domain.RSSFeed
	TorrentSharingData = domain.TorrentSharing
)

// Domain names a synchronized domain.
type Domain = types.Domain

// Meta is the sync metadata of a record.
type Meta struct {
	ID           string
	Version      int64
	LastModified time.Time
	SourceApp    string
}

// Record is a live entity of one domain with its decoded payload.
type Record[P any] struct {
	Meta
	Data P
}

// Records of each domain.
type (
	Theme          = Record[ThemeData]
	Language       = Record[LanguageData]
	Profile        = Record[ProfileData]
	HistoryItem    = Record[HistoryItemData]
	Bookmark       = Record[BookmarkData]
	RSSFeed        = Record[RSSFeedData]
	TorrentSharing = Record[TorrentSharingData]
)

func decode[P any](e types.Entity) (Record[P], error) {
	data, err := domain.Decode[P](e.Payload)
	if err != nil {
		return Record[P]{}, err
	}
	return Record[P]{
		Meta: Meta{
			ID:           e.ID,
			Version:      e.Version,
			LastModified: e.LastModified,
			SourceApp:    e.SourceApp,
		},
		Data: data,
	}, nil
}

// pick returns the record of id among written entities.
func pick[P any](written []types.Entity, id string) (Record[P], error) {
	for _, e := range written {
		if e.ID == id {
			return decode[P](e)
		}
	}
	return Record[P]{}, errors.New("companion: write did not return " + id)
}
