package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// ErrInvalid is matched by every Errors value via errors.Is.
var ErrInvalid = errors.New("validation failed")

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Errors collects field failures for one rejected input.
type Errors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface.
func (e *Errors) Error() string {
	if len(e.Errors) == 0 {
		return ErrInvalid.Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalid for errors.Is() compatibility.
func (e *Errors) Unwrap() error {
	return ErrInvalid
}

// New returns an error for a single field failure.
func New(field, message string) error {
	return &Errors{Errors: []ValidationError{{Field: field, Message: message}}}
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Err returns nil when nothing was collected, otherwise an *Errors.
func (c *Collector) Err() error {
	if !c.HasErrors() {
		return nil
	}
	return &Errors{Errors: c.errors}
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateIntRange returns an error if the value is outside [min, max].
func ValidateIntRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}
	return nil
}

// ValidatePort returns an error if the value is not a usable TCP port.
func ValidatePort(field string, value int) *ValidationError {
	return ValidateIntRange(field, value, 1, 65535)
}

// ValidateHexColor accepts #RRGGBB and #AARRGGBB.
func ValidateHexColor(field, value string) *ValidationError {
	if len(value) != 7 && len(value) != 9 || !strings.HasPrefix(value, "#") {
		return &ValidationError{
			Field:   field,
			Message: "must be a hex color (#RRGGBB or #AARRGGBB)",
		}
	}
	for _, r := range value[1:] {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !isHex {
			return &ValidationError{
				Field:   field,
				Message: "must be a hex color (invalid character)",
			}
		}
	}
	return nil
}

// ValidateURL requires an absolute URL with one of the given schemes.
func ValidateURL(field, value string, schemes ...string) *ValidationError {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return &ValidationError{
			Field:   field,
			Message: "must be an absolute URL",
		}
	}
	if len(schemes) == 0 {
		return nil
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("scheme must be one of: %s", strings.Join(schemes, ", ")),
	}
}

// ValidateLanguageTag requires a well-formed BCP 47 language tag.
func ValidateLanguageTag(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	if _, err := language.Parse(value); err != nil {
		return &ValidationError{
			Field:   field,
			Message: "must be a BCP 47 language tag",
		}
	}
	return nil
}
