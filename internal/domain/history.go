package domain

import (
	"time"

	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// HistoryItem records one share of a link to a service.
type HistoryItem struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	ServiceType  string    `json:"service_type"`
	ServiceName  string    `json:"service_name,omitempty"`
	ProfileID    string    `json:"profile_id,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SharedAt     time.Time `json:"shared_at"`
}

// HistoryPolicy returns the policy for the history domain.
func HistoryPolicy() Policy {
	return &typed[HistoryItem]{
		domain:   types.DomainHistory,
		validate: validateHistoryItem,
		clientType: func(h HistoryItem) string {
			return h.ServiceType
		},
	}
}

func validateHistoryItem(_ string, h HistoryItem) error {
	var c validation.Collector
	c.Add(validation.ValidateRequired("url", h.URL))
	c.Add(validation.ValidateMaxLength("url", h.URL, 8192))
	c.Add(validation.ValidateMaxLength("title", h.Title, 512))
	c.Add(validation.ValidateEnum("service_type", h.ServiceType, ServiceTypes()))
	if h.SharedAt.IsZero() {
		c.Add(&validation.ValidationError{Field: "shared_at", Message: "is required"})
	}
	return c.Err()
}
