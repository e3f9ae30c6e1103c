package companion

import (
	"context"
	"errors"
	"sort"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/engine"
	"github.com/hyperengineering/peersync/internal/store"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Built-in theme ids.
const (
	BuiltinLightThemeID = domain.BuiltinLightThemeID
	BuiltinDarkThemeID  = domain.BuiltinDarkThemeID
)

// ThemeManager manages color themes. Exactly one theme is the default.
type ThemeManager struct {
	c collection[ThemeData]
}

func isBuiltinTheme(id string) bool {
	_, ok := domain.BuiltinThemes()[id]
	return ok
}

// EnsureBuiltins seeds the built-in themes if they were never stored. Every
// app seeds identical rows, so they need no sync round to converge.
func (m *ThemeManager) EnsureBuiltins(ctx context.Context) error {
	builtins := domain.BuiltinThemes()
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seeds := make([]types.Entity, 0, len(ids))
	for _, id := range ids {
		payload, err := domain.Encode(builtins[id])
		if err != nil {
			return err
		}
		seeds = append(seeds, types.Entity{
			ID:           id,
			Domain:       types.DomainTheme,
			Version:      1,
			LastModified: domain.BuiltinEpoch,
			SourceApp:    domain.BuiltinSourceApp,
			Payload:      payload,
		})
	}
	_, err := m.c.eng.Seed(ctx, seeds...)
	return err
}

// Themes watches every theme, ordered by name.
func (m *ThemeManager) Themes(ctx context.Context) (*Watch[[]Theme], error) {
	return watchState(ctx, m.c.eng, m.List)
}

// List returns every theme ordered by name.
func (m *ThemeManager) List(ctx context.Context) ([]Theme, error) {
	themes, err := m.c.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(themes, func(i, j int) bool { return themes[i].Data.Name < themes[j].Data.Name })
	return themes, nil
}

// Get returns the theme with the given id.
func (m *ThemeManager) Get(ctx context.Context, id string) (Theme, error) {
	return m.c.get(ctx, id)
}

// DefaultTheme returns the default theme. When no theme holds the flag the
// built-in light theme is returned.
func (m *ThemeManager) DefaultTheme(ctx context.Context) (Theme, error) {
	themes, err := m.c.list(ctx)
	if err != nil {
		return Theme{}, err
	}
	for _, t := range themes {
		if t.Data.IsDefault {
			return t, nil
		}
	}
	return m.c.get(ctx, BuiltinLightThemeID)
}

// SetDefaultTheme makes id the default theme and demotes the previous one.
func (m *ThemeManager) SetDefaultTheme(ctx context.Context, id string) (Theme, error) {
	return m.c.modify(ctx, id, func(t *ThemeData) error {
		t.IsDefault = true
		return nil
	})
}

// CreateTheme stores a new custom theme.
func (m *ThemeManager) CreateTheme(ctx context.Context, data ThemeData) (Theme, error) {
	data.IsCustom = true
	return m.c.create(ctx, data)
}

// UpdateTheme replaces the colors and name of a custom theme. The default
// flag is kept unless data sets it.
func (m *ThemeManager) UpdateTheme(ctx context.Context, id string, data ThemeData) (Theme, error) {
	if isBuiltinTheme(id) {
		return Theme{}, validation.New("id", "built-in themes are read-only")
	}
	return m.c.modify(ctx, id, func(t *ThemeData) error {
		data.IsDefault = data.IsDefault || t.IsDefault
		data.IsCustom = true
		*t = data
		return nil
	})
}

// DeleteTheme deletes a custom theme. Deleting the default theme makes the
// built-in light theme the default in the same write.
func (m *ThemeManager) DeleteTheme(ctx context.Context, id string) error {
	if isBuiltinTheme(id) {
		return validation.New("id", "built-in themes cannot be deleted")
	}
	_, err := m.c.eng.Update(ctx, func(tx *engine.Tx) error {
		cur, err := tx.Get(id)
		if err != nil {
			return err
		}
		wasDefault := m.c.eng.Policy().IsDefault(*cur)
		if err := tx.Delete(id); err != nil {
			return err
		}
		if !wasDefault {
			return nil
		}
		light, err := tx.Get(BuiltinLightThemeID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		t, err := domain.Decode[ThemeData](light.Payload)
		if err != nil {
			return err
		}
		t.IsDefault = true
		return engine.PutValue(tx, BuiltinLightThemeID, t)
	})
	return err
}
