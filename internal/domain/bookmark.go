package domain

import (
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Bookmark is a saved link.
type Bookmark struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Category    string `json:"category,omitempty"`
	ServiceType string `json:"service_type,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// BookmarkPolicy returns the policy for the bookmark domain.
func BookmarkPolicy() Policy {
	return &typed[Bookmark]{
		domain: types.DomainBookmark,
		validate: func(_ string, b Bookmark) error {
			var c validation.Collector
			c.Add(validation.ValidateURL("url", b.URL))
			c.Add(validation.ValidateRequired("title", b.Title))
			c.Add(validation.ValidateMaxLength("title", b.Title, 512))
			c.Add(validation.ValidateMaxLength("category", b.Category, 64))
			if b.ServiceType != "" {
				c.Add(validation.ValidateEnum("service_type", b.ServiceType, ServiceTypes()))
			}
			return c.Err()
		},
		clientType: func(b Bookmark) string {
			return b.ServiceType
		},
	}
}
