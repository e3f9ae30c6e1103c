package domain

import (
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// TorrentSharingID is the id of the singleton torrent-sharing record.
const TorrentSharingID = "torrent_sharing"

// TorrentSharing holds how shared magnet links and torrent files are handed
// to torrent clients.
type TorrentSharing struct {
	DefaultProfileID   string `json:"default_profile_id,omitempty"`
	AutoStart          bool   `json:"auto_start"`
	SequentialDownload bool   `json:"sequential_download"`
	DownloadDirectory  string `json:"download_directory,omitempty"`
	ShareMagnetLinks   bool   `json:"share_magnet_links"`
	ShareTorrentFiles  bool   `json:"share_torrent_files"`
}

// DefaultTorrentSharing is the initial torrent-sharing configuration.
func DefaultTorrentSharing() TorrentSharing {
	return TorrentSharing{
		AutoStart:         true,
		ShareMagnetLinks:  true,
		ShareTorrentFiles: true,
	}
}

// TorrentSharingPolicy returns the policy for the torrent-sharing domain.
func TorrentSharingPolicy() Policy {
	return &typed[TorrentSharing]{
		domain: types.DomainTorrentSharing,
		validate: func(id string, s TorrentSharing) error {
			var c validation.Collector
			if id != TorrentSharingID {
				c.Add(&validation.ValidationError{Field: "id", Message: "must be " + TorrentSharingID})
			}
			c.Add(validation.ValidateMaxLength("download_directory", s.DownloadDirectory, 1024))
			c.Add(validation.ValidateNoNullBytes("download_directory", s.DownloadDirectory))
			return c.Err()
		},
		clientType: func(TorrentSharing) string {
			return ServiceTorrent
		},
	}
}
