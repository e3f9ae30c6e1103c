package domain

import (
	"github.com/goccy/go-json"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Preference is a single key/value setting. The key doubles as entity id.
type Preference struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// PreferencesPolicy returns the policy for the preferences domain.
func PreferencesPolicy() Policy {
	return &typed[Preference]{
		domain: types.DomainPreferences,
		validate: func(id string, p Preference) error {
			var c validation.Collector
			c.Add(validation.ValidateRequired("key", p.Key))
			c.Add(validation.ValidateMaxLength("key", p.Key, 128))
			if p.Key != id {
				c.Add(&validation.ValidationError{Field: "key", Message: "must match entity id"})
			}
			if len(p.Value) == 0 || !json.Valid(p.Value) {
				c.Add(&validation.ValidationError{Field: "value", Message: "must be valid JSON"})
			}
			return c.Err()
		},
	}
}
