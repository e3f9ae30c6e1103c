package validation

import (
	"errors"
	"strings"
	"testing"
)

// --- ValidateUTF8 Tests ---

func TestValidateUTF8_Valid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ascii", "hello world"},
		{"empty", ""},
		{"unicode", "Español"},
		{"emoji", "Hello 👋🏻"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUTF8("field", tt.value); err != nil {
				t.Errorf("ValidateUTF8(%q) = %v, want nil", tt.value, err)
			}
		})
	}
}

func TestValidateUTF8_Invalid(t *testing.T) {
	invalidUTF8 := string([]byte{0xff, 0xfe})

	err := ValidateUTF8("name", invalidUTF8)
	if err == nil {
		t.Fatal("ValidateUTF8(invalid) = nil, want error")
	}
	if err.Field != "name" {
		t.Errorf("error.Field = %q, want %q", err.Field, "name")
	}
}

// --- ValidateRequired / ValidateMaxLength ---

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("name", "Dark"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, v := range []string{"", "   ", "\t\n"} {
		if err := ValidateRequired("name", v); err == nil {
			t.Errorf("ValidateRequired(%q) = nil, want error", v)
		}
	}
}

func TestValidateMaxLength_CountsRunes(t *testing.T) {
	// "ñññ" is 3 runes but 6 bytes
	if err := ValidateMaxLength("name", "ñññ", 3); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateMaxLength("name", "ññññ", 3); err == nil {
		t.Error("expected error for 4 runes with max 3")
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("title", "a\x00b"); err == nil {
		t.Error("expected error for null byte")
	}
}

// --- ValidateHexColor ---

func TestValidateHexColor(t *testing.T) {
	valid := []string{"#000000", "#FFaa00", "#80FFFFFF"}
	for _, v := range valid {
		if err := ValidateHexColor("color", v); err != nil {
			t.Errorf("ValidateHexColor(%q) = %v, want nil", v, err)
		}
	}

	invalid := []string{"", "000000", "#fff", "#GGGGGG", "#12345678901"}
	for _, v := range invalid {
		if err := ValidateHexColor("color", v); err == nil {
			t.Errorf("ValidateHexColor(%q) = nil, want error", v)
		}
	}
}

// --- ValidateURL ---

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("url", "https://example.com/feed.xml", "http", "https"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateURL("url", "not a url"); err == nil {
		t.Error("expected error for relative value")
	}
	err := ValidateURL("url", "ftp://example.com/file", "http", "https")
	if err == nil {
		t.Fatal("expected scheme error")
	}
	if !strings.Contains(err.Message, "scheme") {
		t.Errorf("message = %q, want scheme hint", err.Message)
	}
}

// --- ValidateLanguageTag ---

func TestValidateLanguageTag(t *testing.T) {
	for _, v := range []string{"en", "es", "pt-BR", "zh-Hant"} {
		if err := ValidateLanguageTag("language_code", v); err != nil {
			t.Errorf("ValidateLanguageTag(%q) = %v, want nil", v, err)
		}
	}
	for _, v := range []string{"", "  ", "e!", "12345"} {
		if err := ValidateLanguageTag("language_code", v); err == nil {
			t.Errorf("ValidateLanguageTag(%q) = nil, want error", v)
		}
	}
}

// --- ValidatePort / Enum ---

func TestValidatePort(t *testing.T) {
	if err := ValidatePort("port", 8080); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePort("port", 0); err == nil {
		t.Error("expected error for port 0")
	}
	if err := ValidatePort("port", 70000); err == nil {
		t.Error("expected error for port 70000")
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"torrent", "usenet"}
	if err := ValidateEnum("service_type", "usenet", allowed); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateEnum("service_type", "ftp", allowed); err == nil {
		t.Error("expected error for unknown value")
	}
}

// --- Collector / Errors ---

func TestCollector_Err(t *testing.T) {
	var c Collector
	if c.Err() != nil {
		t.Fatal("empty collector should return nil error")
	}

	c.Add(nil)
	c.Add(ValidateRequired("name", ""))
	c.Add(ValidatePort("port", 0))

	err := c.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Error("errors.Is(err, ErrInvalid) = false")
	}

	var verrs *Errors
	if !errors.As(err, &verrs) {
		t.Fatal("errors.As(*Errors) = false")
	}
	if len(verrs.Errors) != 2 {
		t.Errorf("got %d field errors, want 2", len(verrs.Errors))
	}
	if !strings.Contains(err.Error(), "name: is required") {
		t.Errorf("Error() = %q, missing field detail", err.Error())
	}
}

func TestNew(t *testing.T) {
	err := New("id", "is required")
	if !errors.Is(err, ErrInvalid) {
		t.Error("New() error should match ErrInvalid")
	}
}
