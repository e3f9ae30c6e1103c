package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

func mustEncode[T any](t *testing.T, v T) json.RawMessage {
	t.Helper()
	raw, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return raw
}

func validTheme() Theme {
	th := BuiltinThemes()[BuiltinDarkThemeID]
	th.Name = "Midnight"
	th.IsCustom = true
	return th
}

func TestThemePolicy_Validate(t *testing.T) {
	p := ThemePolicy()

	// Given: A valid custom theme
	e := types.Entity{ID: "t1", Domain: types.DomainTheme, Payload: mustEncode(t, validTheme())}
	if err := p.Validate(e); err != nil {
		t.Fatalf("Validate(valid) = %v", err)
	}

	// When: The name is empty and a color is malformed
	bad := validTheme()
	bad.Name = ""
	bad.AccentColor = "orange"
	e.Payload = mustEncode(t, bad)

	// Then: Both fields are reported
	err := p.Validate(e)
	if !errors.Is(err, validation.ErrInvalid) {
		t.Fatalf("Validate(bad) = %v, want ErrInvalid", err)
	}
	var verrs *validation.Errors
	if !errors.As(err, &verrs) || len(verrs.Errors) != 2 {
		t.Errorf("got %v, want 2 field errors", err)
	}
}

func TestThemePolicy_TombstoneSkipsValidation(t *testing.T) {
	p := ThemePolicy()
	e := types.Entity{ID: "t1", Deleted: true}
	if err := p.Validate(e); err != nil {
		t.Errorf("Validate(tombstone) = %v, want nil", err)
	}
}

func TestThemePolicy_InvalidPayload(t *testing.T) {
	p := ThemePolicy()
	e := types.Entity{ID: "t1", Payload: json.RawMessage(`{"name": 42}`)}
	if err := p.Validate(e); !errors.Is(err, validation.ErrInvalid) {
		t.Errorf("Validate(bad json) = %v, want ErrInvalid", err)
	}
}

func TestThemePolicy_DefaultAndDemote(t *testing.T) {
	p := ThemePolicy()
	if !p.SingleDefault() {
		t.Fatal("theme domain must be single-default")
	}

	th := validTheme()
	th.IsDefault = true
	e := types.Entity{ID: "t1", Version: 4, Payload: mustEncode(t, th)}

	if !p.IsDefault(e) {
		t.Fatal("IsDefault = false for default theme")
	}

	demoted, err := p.Demote(e)
	if err != nil {
		t.Fatalf("Demote: %v", err)
	}
	if p.IsDefault(demoted) {
		t.Error("demoted theme still default")
	}
	if demoted.Version != 4 {
		t.Errorf("Demote changed version to %d", demoted.Version)
	}
	got, _ := Decode[Theme](demoted.Payload)
	if got.Name != "Midnight" {
		t.Errorf("Demote lost payload fields: %+v", got)
	}

	e.Deleted = true
	if p.IsDefault(e) {
		t.Error("tombstone must never be default")
	}
}

func TestBuiltinThemes_ExactlyOneDefault(t *testing.T) {
	defaults := 0
	p := ThemePolicy()
	for id, th := range BuiltinThemes() {
		e := types.Entity{ID: id, Payload: mustEncode(t, th)}
		if err := p.Validate(e); err != nil {
			t.Errorf("builtin %s invalid: %v", id, err)
		}
		if th.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("builtin defaults = %d, want 1", defaults)
	}
}

func TestLanguagePolicy(t *testing.T) {
	p := LanguagePolicy()

	e := types.Entity{
		ID:      LanguagePreferenceID,
		Payload: mustEncode(t, Language{LanguageCode: "es", DisplayName: "Español"}),
	}
	if err := p.Validate(e); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !p.IsDefault(e) {
		t.Error("singleton language record must be the default")
	}

	e.ID = "other"
	if err := p.Validate(e); err == nil {
		t.Error("expected error for non-singleton id")
	}

	e.ID = LanguagePreferenceID
	e.Payload = mustEncode(t, Language{LanguageCode: ""})
	if err := p.Validate(e); err == nil {
		t.Error("expected error for empty language code")
	}
}

func TestNormalizeLanguageCode(t *testing.T) {
	got, err := NormalizeLanguageCode(" pt-br ")
	if err != nil {
		t.Fatalf("NormalizeLanguageCode: %v", err)
	}
	if got != "pt-BR" {
		t.Errorf("got %q, want pt-BR", got)
	}
	if _, err := NormalizeLanguageCode("e!"); !errors.Is(err, validation.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("es"); got != "Español" {
		t.Errorf("DisplayName(es) = %q, want Español", got)
	}
	if got := DisplayName("e!"); got != "e!" {
		t.Errorf("DisplayName(invalid) = %q, want passthrough", got)
	}
}

func TestParseLocale(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"es_ES.UTF-8", "es-ES", true},
		{"de_DE@euro", "de-DE", true},
		{"fr", "fr", true},
		{"C", "", false},
		{"POSIX", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseLocale(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLocale(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSystemLanguage(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "ja_JP.UTF-8")
	if got := SystemLanguage(); got != "ja-JP" {
		t.Errorf("SystemLanguage() = %q, want ja-JP", got)
	}

	t.Setenv("LANG", "C")
	if got := SystemLanguage(); got != FallbackLanguage {
		t.Errorf("SystemLanguage() = %q, want fallback", got)
	}
}

func TestProfilePolicy_GroupsAndClientType(t *testing.T) {
	p := ProfilePolicy()
	prof := Profile{Name: "Seedbox", Host: "10.0.0.2", Port: 8080, ServiceType: ServiceTorrent, IsDefault: true}
	e := types.Entity{ID: "p1", Payload: mustEncode(t, prof)}

	if err := p.Validate(e); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := p.ClientType(e); got != ServiceTorrent {
		t.Errorf("ClientType = %q, want torrent", got)
	}
	if got := p.DefaultGroup(e); got != ServiceTorrent {
		t.Errorf("DefaultGroup = %q, want torrent", got)
	}

	prof.Port = 0
	prof.ServiceType = "ftp"
	e.Payload = mustEncode(t, prof)
	var verrs *validation.Errors
	if err := p.Validate(e); !errors.As(err, &verrs) || len(verrs.Errors) != 2 {
		t.Errorf("Validate = %v, want port and service_type errors", err)
	}
}

func TestHistoryPolicy_RequiresSharedAt(t *testing.T) {
	p := HistoryPolicy()
	item := HistoryItem{URL: "magnet:?xt=urn:btih:abc", ServiceType: ServiceTorrent}
	e := types.Entity{ID: "h1", Payload: mustEncode(t, item)}
	if err := p.Validate(e); err == nil {
		t.Error("expected error for zero shared_at")
	}

	item.SharedAt = time.Now()
	e.Payload = mustEncode(t, item)
	if err := p.Validate(e); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if p.SingleDefault() {
		t.Error("history must not be single-default")
	}
}

func TestRSSPolicy_IntervalBounds(t *testing.T) {
	p := RSSPolicy()
	feed := RSSFeed{URL: "https://example.com/rss", Name: "News", UpdateIntervalMinutes: 1}
	e := types.Entity{ID: "f1", Payload: mustEncode(t, feed)}
	if err := p.Validate(e); err == nil {
		t.Error("expected error for 1 minute interval")
	}

	feed.UpdateIntervalMinutes = DefaultFeedIntervalMinutes
	e.Payload = mustEncode(t, feed)
	if err := p.Validate(e); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestPreferencesPolicy_KeyMatchesID(t *testing.T) {
	p := PreferencesPolicy()
	pref := Preference{Key: "wifi_only", Value: json.RawMessage(`true`)}
	e := types.Entity{ID: "wifi_only", Payload: mustEncode(t, pref)}
	if err := p.Validate(e); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	e.ID = "other"
	if err := p.Validate(e); err == nil {
		t.Error("expected error for key/id mismatch")
	}
}

func TestTorrentSharingPolicy(t *testing.T) {
	p := TorrentSharingPolicy()
	e := types.Entity{ID: TorrentSharingID, Payload: mustEncode(t, DefaultTorrentSharing())}
	if err := p.Validate(e); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := p.ClientType(e); got != ServiceTorrent {
		t.Errorf("ClientType = %q, want torrent", got)
	}
}

func TestMatchesClientType(t *testing.T) {
	tests := []struct {
		filter, clientType string
		want               bool
	}{
		{"", "torrent", true},
		{"torrent", "", true},
		{"torrent", "torrent", true},
		{"Torrent", "torrent", true},
		{"torrent", "usenet", false},
	}
	for _, tt := range tests {
		if got := MatchesClientType(tt.filter, tt.clientType); got != tt.want {
			t.Errorf("MatchesClientType(%q, %q) = %v, want %v", tt.filter, tt.clientType, got, tt.want)
		}
	}
}

func TestRegistry_Builtins(t *testing.T) {
	r := Builtins()
	for _, d := range types.AllDomains() {
		p, ok := r.Get(d)
		if !ok {
			t.Errorf("no policy for %s", d)
			continue
		}
		if p.Domain() != d {
			t.Errorf("policy for %s reports %s", d, p.Domain())
		}
	}
	if got := len(r.Domains()); got != len(types.AllDomains()) {
		t.Errorf("Domains() = %d, want %d", got, len(types.AllDomains()))
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewRegistry(ThemePolicy(), ThemePolicy())
}

func TestRegistry_MustGetUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown domain")
		}
	}()
	NewRegistry().MustGet(types.DomainTheme)
}
