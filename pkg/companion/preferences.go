package companion

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/store"
)

// PreferencesManager manages free-form key/value settings. Values are
// stored as JSON.
type PreferencesManager struct {
	c collection[domain.Preference]
}

// Preferences watches every setting as a map of key to JSON value.
func (m *PreferencesManager) Preferences(ctx context.Context) (*Watch[map[string]json.RawMessage], error) {
	return watchState(ctx, m.c.eng, m.All)
}

// All returns every setting as a map of key to JSON value.
func (m *PreferencesManager) All(ctx context.Context) (map[string]json.RawMessage, error) {
	prefs, err := m.c.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(prefs))
	for _, p := range prefs {
		out[p.Data.Key] = json.RawMessage(p.Data.Value)
	}
	return out, nil
}

// Get returns the JSON value of key.
func (m *PreferencesManager) Get(ctx context.Context, key string) (json.RawMessage, error) {
	p, err := m.c.get(ctx, key)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(p.Data.Value), nil
}

// GetString returns the string value of key, or def when it is not set.
func (m *PreferencesManager) GetString(ctx context.Context, key, def string) (string, error) {
	return getAs(ctx, m, key, def)
}

// GetBool returns the boolean value of key, or def when it is not set.
func (m *PreferencesManager) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	return getAs(ctx, m, key, def)
}

// GetInt returns the integer value of key, or def when it is not set.
func (m *PreferencesManager) GetInt(ctx context.Context, key string, def int) (int, error) {
	return getAs(ctx, m, key, def)
}

func getAs[T any](ctx context.Context, m *PreferencesManager, key string, def T) (T, error) {
	raw, err := m.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("preference %q: %w", key, err)
	}
	return v, nil
}

// Set stores value, encoded as JSON, under key.
func (m *PreferencesManager) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("preference %q: encode value: %w", key, err)
	}
	_, err = m.c.put(ctx, key, domain.Preference{Key: key, Value: raw})
	return err
}

// Delete removes key.
func (m *PreferencesManager) Delete(ctx context.Context, key string) error {
	return m.c.remove(ctx, key)
}
