package companion

import (
	"context"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/engine"
)

// LanguageManager manages the app language shared by every companion app.
type LanguageManager struct {
	c collection[LanguageData]
}

// GetOrCreateDefault returns the language preference, storing the system
// language first if none exists yet.
func (m *LanguageManager) GetOrCreateDefault(ctx context.Context) (Language, error) {
	return m.c.getOrCreate(ctx, domain.LanguagePreferenceID, func() (LanguageData, error) {
		return systemLanguage(), nil
	})
}

// Current returns the stored language preference.
func (m *LanguageManager) Current(ctx context.Context) (Language, error) {
	return m.c.get(ctx, domain.LanguagePreferenceID)
}

// SetLanguagePreference selects code explicitly. An empty name is replaced
// by the language's own name for itself.
func (m *LanguageManager) SetLanguagePreference(ctx context.Context, code, name string) (Language, error) {
	normalized, err := domain.NormalizeLanguageCode(code)
	if err != nil {
		return Language{}, err
	}
	if name == "" {
		name = domain.DisplayName(normalized)
	}
	return m.c.put(ctx, domain.LanguagePreferenceID, LanguageData{
		LanguageCode: normalized,
		DisplayName:  name,
	})
}

// UseSystemLanguage follows the device language again.
func (m *LanguageManager) UseSystemLanguage(ctx context.Context) (Language, error) {
	return m.c.put(ctx, domain.LanguagePreferenceID, systemLanguage())
}

// LanguageChanges emits the language after every accepted change, local or
// from a peer. No initial value is sent.
func (m *LanguageManager) LanguageChanges(ctx context.Context) (*Watch[Language], error) {
	return watchChanges(ctx, m.c.eng, func(c engine.Change) (Language, bool) {
		if c.Entity.Deleted || c.Entity.ID != domain.LanguagePreferenceID {
			return Language{}, false
		}
		l, err := decode[LanguageData](c.Entity)
		return l, err == nil
	})
}

func systemLanguage() LanguageData {
	code := domain.SystemLanguage()
	return LanguageData{
		LanguageCode:    code,
		DisplayName:     domain.DisplayName(code),
		IsSystemDefault: true,
	}
}
