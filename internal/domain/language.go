package domain

import (
	"os"
	"strings"

	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguagePreferenceID is the id of the singleton language record.
const LanguagePreferenceID = "language_preference"

// FallbackLanguage is used when the environment names no usable locale.
const FallbackLanguage = "en"

// Language is the payload of the language domain.
type Language struct {
	LanguageCode    string `json:"language_code"`
	DisplayName     string `json:"display_name"`
	IsSystemDefault bool   `json:"is_system_default"`
}

// LanguagePolicy returns the policy for the language domain. The domain
// holds a single record, which is by definition the current selection.
func LanguagePolicy() Policy {
	return &typed[Language]{
		domain:   types.DomainLanguage,
		validate: validateLanguage,
		isDefault: func(id string, _ Language) bool {
			return id == LanguagePreferenceID
		},
	}
}

func validateLanguage(id string, l Language) error {
	var c validation.Collector
	if id != LanguagePreferenceID {
		c.Add(&validation.ValidationError{Field: "id", Message: "must be " + LanguagePreferenceID})
	}
	c.Add(validation.ValidateLanguageTag("language_code", l.LanguageCode))
	c.Add(validation.ValidateMaxLength("display_name", l.DisplayName, 64))
	return c.Err()
}

// NormalizeLanguageCode parses code as BCP 47 and returns its canonical form.
func NormalizeLanguageCode(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", validation.New("language_code", "must be a BCP 47 language tag")
	}
	return tag.String(), nil
}

// DisplayName returns the language's name in its own language, title-cased
// with that language's rules, e.g. "Español" for "es". Falls back to the code.
func DisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.Self.Name(tag)
	if name == "" {
		return code
	}
	return cases.Title(tag, cases.NoLower).String(name)
}

// SystemLanguage derives the device language from LC_ALL, LC_MESSAGES and
// LANG, in that order.
func SystemLanguage() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if code, ok := parseLocale(os.Getenv(key)); ok {
			return code
		}
	}
	return FallbackLanguage
}

// parseLocale turns a POSIX locale such as "es_ES.UTF-8@euro" into "es-ES".
func parseLocale(v string) (string, bool) {
	if v == "" || v == "C" || v == "POSIX" {
		return "", false
	}
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	v = strings.ReplaceAll(v, "_", "-")
	tag, err := language.Parse(v)
	if err != nil {
		return "", false
	}
	return tag.String(), true
}
