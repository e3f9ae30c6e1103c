package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// ErrInvalidPayload indicates the payload JSON does not decode into the
// domain's payload type.
var ErrInvalidPayload = errors.New("invalid payload")

// Policy provides domain-specific behavior for one synchronized domain.
// The engine and reconciler stay generic; everything that depends on the
// payload shape goes through a Policy.
type Policy interface {
	// Domain returns the domain this policy handles.
	Domain() types.Domain

	// Validate checks a live entity before it is written locally or
	// accepted from a peer. Tombstones are not validated.
	Validate(e types.Entity) error

	// SingleDefault reports whether the domain keeps at most one default
	// record per default group.
	SingleDefault() bool

	// IsDefault reports whether e currently holds the default selection.
	IsDefault(e types.Entity) bool

	// DefaultGroup scopes the single-default invariant. Records in
	// different groups never demote each other.
	DefaultGroup(e types.Entity) string

	// Demote returns e with its default flag cleared. Sync metadata is
	// left untouched; the caller stamps the new version.
	Demote(e types.Entity) (types.Entity, error)

	// ClientType extracts the client/service type used by client type
	// filters. Empty means the record is not client specific.
	ClientType(e types.Entity) string
}

// Decode unmarshals a payload into the domain type T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}

// Encode marshals a domain value into a payload.
func Encode[T any](v T) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// MatchesClientType reports whether a record of clientType passes filter.
// An empty filter or an empty client type always matches.
func MatchesClientType(filter, clientType string) bool {
	if filter == "" || clientType == "" {
		return true
	}
	return strings.EqualFold(filter, clientType)
}

// typed implements Policy for a payload type T using plain functions.
type typed[T any] struct {
	domain     types.Domain
	validate   func(id string, p T) error
	isDefault  func(id string, p T) bool
	demote     func(p *T)
	group      func(p T) string
	clientType func(p T) string
}

func (t *typed[T]) Domain() types.Domain { return t.domain }

func (t *typed[T]) Validate(e types.Entity) error {
	if e.Deleted {
		return nil
	}
	var c validation.Collector
	c.Add(validation.ValidateRequired("id", e.ID))
	c.Add(validation.ValidateMaxLength("id", e.ID, 128))
	if c.HasErrors() {
		return c.Err()
	}
	p, err := Decode[T](e.Payload)
	if err != nil {
		return validation.New("payload", err.Error())
	}
	if t.validate == nil {
		return nil
	}
	return t.validate(e.ID, p)
}

func (t *typed[T]) SingleDefault() bool { return t.isDefault != nil }

func (t *typed[T]) IsDefault(e types.Entity) bool {
	if t.isDefault == nil || e.Deleted {
		return false
	}
	p, err := Decode[T](e.Payload)
	if err != nil {
		return false
	}
	return t.isDefault(e.ID, p)
}

func (t *typed[T]) DefaultGroup(e types.Entity) string {
	if t.group == nil {
		return ""
	}
	p, err := Decode[T](e.Payload)
	if err != nil {
		return ""
	}
	return t.group(p)
}

func (t *typed[T]) Demote(e types.Entity) (types.Entity, error) {
	if t.demote == nil {
		return e, nil
	}
	p, err := Decode[T](e.Payload)
	if err != nil {
		return e, err
	}
	t.demote(&p)
	payload, err := Encode(p)
	if err != nil {
		return e, err
	}
	e.Payload = payload
	return e, nil
}

func (t *typed[T]) ClientType(e types.Entity) string {
	if t.clientType == nil {
		return ""
	}
	p, err := Decode[T](e.Payload)
	if err != nil {
		return ""
	}
	return t.clientType(p)
}
