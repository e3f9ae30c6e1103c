package domain

import (
	"time"

	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Built-in theme identifiers. Every app seeds the same rows so they converge
// without a sync round.
const (
	BuiltinLightThemeID = "builtin_light"
	BuiltinDarkThemeID  = "builtin_dark"

	// BuiltinSourceApp is the SourceApp stamped on seeded rows.
	BuiltinSourceApp = "builtin"
)

// BuiltinEpoch is the LastModified of seeded rows.
var BuiltinEpoch = time.Unix(0, 0).UTC()

// Theme is the payload of the theme domain.
type Theme struct {
	Name            string `json:"name"`
	PrimaryColor    string `json:"primary_color"`
	SecondaryColor  string `json:"secondary_color"`
	BackgroundColor string `json:"background_color"`
	SurfaceColor    string `json:"surface_color"`
	TextColor       string `json:"text_color"`
	AccentColor     string `json:"accent_color"`
	IsDarkMode      bool   `json:"is_dark_mode"`
	IsDefault       bool   `json:"is_default"`
	IsCustom        bool   `json:"is_custom"`
}

// BuiltinThemes returns the seeded themes keyed by id. Light is the default.
func BuiltinThemes() map[string]Theme {
	return map[string]Theme{
		BuiltinLightThemeID: {
			Name:            "Light",
			PrimaryColor:    "#1E88E5",
			SecondaryColor:  "#26A69A",
			BackgroundColor: "#FAFAFA",
			SurfaceColor:    "#FFFFFF",
			TextColor:       "#212121",
			AccentColor:     "#FF7043",
			IsDarkMode:      false,
			IsDefault:       true,
		},
		BuiltinDarkThemeID: {
			Name:            "Dark",
			PrimaryColor:    "#90CAF9",
			SecondaryColor:  "#80CBC4",
			BackgroundColor: "#121212",
			SurfaceColor:    "#1E1E1E",
			TextColor:       "#EEEEEE",
			AccentColor:     "#FFAB91",
			IsDarkMode:      true,
		},
	}
}

// ThemePolicy returns the policy for the theme domain.
func ThemePolicy() Policy {
	return &typed[Theme]{
		domain:   types.DomainTheme,
		validate: validateTheme,
		isDefault: func(_ string, t Theme) bool {
			return t.IsDefault
		},
		demote: func(t *Theme) {
			t.IsDefault = false
		},
	}
}

func validateTheme(_ string, t Theme) error {
	var c validation.Collector
	c.Add(validation.ValidateRequired("name", t.Name))
	c.Add(validation.ValidateMaxLength("name", t.Name, 64))
	c.Add(validation.ValidateUTF8("name", t.Name))
	colors := []struct {
		field string
		value string
	}{
		{"primary_color", t.PrimaryColor},
		{"secondary_color", t.SecondaryColor},
		{"background_color", t.BackgroundColor},
		{"surface_color", t.SurfaceColor},
		{"text_color", t.TextColor},
		{"accent_color", t.AccentColor},
	}
	for _, col := range colors {
		c.Add(validation.ValidateHexColor(col.field, col.value))
	}
	return c.Err()
}
