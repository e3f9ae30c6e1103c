package domain

import (
	"time"

	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Feed update interval bounds, in minutes.
const (
	MinFeedIntervalMinutes     = 5
	MaxFeedIntervalMinutes     = 1440
	DefaultFeedIntervalMinutes = 60
)

// RSSFeed is a subscribed feed.
type RSSFeed struct {
	URL                   string     `json:"url"`
	Name                  string     `json:"name"`
	ServiceType           string     `json:"service_type,omitempty"`
	Enabled               bool       `json:"enabled"`
	UpdateIntervalMinutes int        `json:"update_interval_minutes"`
	LastChecked           *time.Time `json:"last_checked,omitempty"`
	AutoDownload          bool       `json:"auto_download"`
	IncludeFilter         string     `json:"include_filter,omitempty"`
	ExcludeFilter         string     `json:"exclude_filter,omitempty"`
}

// RSSPolicy returns the policy for the RSS domain.
func RSSPolicy() Policy {
	return &typed[RSSFeed]{
		domain: types.DomainRSS,
		validate: func(_ string, f RSSFeed) error {
			var c validation.Collector
			c.Add(validation.ValidateURL("url", f.URL, "http", "https"))
			c.Add(validation.ValidateRequired("name", f.Name))
			c.Add(validation.ValidateMaxLength("name", f.Name, 128))
			c.Add(validation.ValidateIntRange("update_interval_minutes", f.UpdateIntervalMinutes,
				MinFeedIntervalMinutes, MaxFeedIntervalMinutes))
			if f.ServiceType != "" {
				c.Add(validation.ValidateEnum("service_type", f.ServiceType, ServiceTypes()))
			}
			return c.Err()
		},
		clientType: func(f RSSFeed) string {
			return f.ServiceType
		},
	}
}
